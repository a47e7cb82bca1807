// Package types defines the domain model, error taxonomy, and context helpers
// shared across the contracthub service. It has no dependencies on other
// internal packages so that every layer can import it freely.
package types

import "time"

// ApplicantType classifies the account holder on signup and checkout.
type ApplicantType string

const (
	ApplicantIndividual   ApplicantType = "individual"
	ApplicantOrganization ApplicantType = "organization"
)

// ContractStatus is the lifecycle state of a Contract.
type ContractStatus string

const (
	ContractPending   ContractStatus = "pending"
	ContractActive    ContractStatus = "active"
	ContractInactive  ContractStatus = "inactive"
	ContractCancelled ContractStatus = "cancelled"
)

// DefaultStorageTier is the tier every contract starts on. It is included in
// the base plan and carries no additional charge.
const DefaultStorageTier = "5gb"

// User represents an account holder. Users are created either by explicit
// signup or automatically by the reconciliation handler when a checkout
// completes before the customer ever authenticated; in the latter case
// PasswordSetupRequired is true until the customer sets a credential.
type User struct {
	ID                    string        `json:"id"`
	Email                 string        `json:"email"`
	Name                  string        `json:"name"`
	ApplicantType         ApplicantType `json:"applicant_type"`
	CompanyName           string        `json:"company_name,omitempty"`
	PasswordHash          string        `json:"-"`
	PasswordSetupRequired bool          `json:"password_setup_required"`
	CreatedAt             time.Time     `json:"created_at"`
}

// Contract is the internal, durable record of a customer's entitlement.
// Billing amounts are never stored on it; they are recomputed from the
// catalog so the ledger cannot drift from the price book.
type Contract struct {
	ID                     string         `json:"id"`
	UserID                 string         `json:"user_id"`
	PlanID                 string         `json:"plan_id"`
	PlanName               string         `json:"plan_name"`
	Status                 ContractStatus `json:"status"`
	StartDate              time.Time      `json:"start_date"`
	EndDate                *time.Time     `json:"end_date,omitempty"`
	StripeCustomerID       string         `json:"stripe_customer_id"`
	StripeSubscriptionID   string         `json:"stripe_subscription_id,omitempty"`
	SelectedApps           []string       `json:"selected_apps"`
	HasOpenAIProxy         bool           `json:"has_openai_proxy"`
	CurrentStorageTier     string         `json:"current_storage_tier"`
	PendingStorageTier     *string        `json:"pending_storage_tier,omitempty"`
	StorageChangeAppliedAt *time.Time     `json:"storage_change_applied_at,omitempty"`
	CustomerEmail          string         `json:"customer_email"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// HasApp reports whether the contract already includes the given add-on app.
func (c *Contract) HasApp(appID string) bool {
	for _, id := range c.SelectedApps {
		if id == appID {
			return true
		}
	}
	return false
}

// EffectiveStorageTier returns the tier currently in effect, falling back to
// the default tier when the field was never populated.
func (c *Contract) EffectiveStorageTier() string {
	if c.CurrentStorageTier == "" {
		return DefaultStorageTier
	}
	return c.CurrentStorageTier
}

// Selection is the customer's choice gathered at checkout time: the base
// plan, the optional proxy service, and zero or more add-on apps, plus the
// applicant details needed to create the billing customer and the ledger
// records.
type Selection struct {
	PlanID         string        `json:"plan_id"`
	HasOpenAIProxy bool          `json:"has_openai_proxy"`
	SelectedApps   []string      `json:"selected_apps"`
	ApplicantType  ApplicantType `json:"applicant_type"`
	Name           string        `json:"name"`
	CompanyName    string        `json:"company_name,omitempty"`
	Email          string        `json:"email"`
}

// Identity is the authenticated subject performing an operation, as resolved
// by the identity verifier from an opaque credential.
type Identity struct {
	SubjectID string
	Email     string
}

// BatchResult summarizes a maintenance batch run. Failures on individual
// items never abort the batch, so both counters can be non-zero.
type BatchResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// BillingEvent is the durable record of a processed provider notification,
// kept for observability and archival. Payload holds the raw verified body.
type BillingEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Payload     []byte    `json:"payload"`
	ProcessedAt time.Time `json:"processed_at"`
}

// OperatorAlert is an out-of-band signal for conditions that need human
// investigation, such as a billing confirmation arriving for a contract the
// ledger does not know about.
type OperatorAlert struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Clock abstracts time.Now for deterministic tests and manual backfills.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// NextBillingAnchor returns 00:00:00 UTC on the first day of the month after
// now. Recurring subscriptions are anchored there so the one-off initial
// charge covers the remainder of the current period and recurring billing
// starts on a clean boundary.
func NextBillingAnchor(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
