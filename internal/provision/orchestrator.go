// Package provision implements the checkout-to-contract flow: catalog
// validation, billing customer creation, hosted instrument capture, the
// initial off-session charge, recurring subscription setup, and the
// synchronous ledger write.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"contracthub/internal/billing"
	"contracthub/internal/catalog"
	"contracthub/internal/external"
	"contracthub/internal/queue"
	"contracthub/internal/types"
)

// BillingGateway is the subset of the billing provider client used by the
// orchestrator.
type BillingGateway interface {
	EnsureCustomer(ctx context.Context, email string, name string) (string, error)
	CreateSetupSession(ctx context.Context, p external.SetupSessionParams) (url string, sessionID string, err error)
	ListSavedInstruments(ctx context.Context, customerID string) ([]external.PaymentInstrument, error)
	ChargeOffSession(ctx context.Context, p external.ChargeParams) (string, error)
	CreateSubscription(ctx context.Context, p external.SubscriptionParams) (string, error)
}

// ContractStore is the ledger access the orchestrator needs.
type ContractStore interface {
	GetByCustomerRef(ctx context.Context, customerID string) (*types.Contract, error)
	UpsertBySubscriptionRef(ctx context.Context, c *types.Contract) error
}

// AlertPublisher raises out-of-band operator alerts.
type AlertPublisher interface {
	Publish(ctx context.Context, kind string, message string, details map[string]any)
}

// IDGenerator produces new entity identifiers.
type IDGenerator func() string

// Orchestrator drives provisioning end to end.
type Orchestrator struct {
	gateway   BillingGateway
	catalog   *catalog.Catalog
	contracts ContractStore
	alerts    AlertPublisher
	newID     IDGenerator
	clock     types.Clock
	logger    *slog.Logger

	successURL string
	cancelURL  string
}

// Config holds the dependencies for creating an Orchestrator.
type Config struct {
	Gateway    BillingGateway
	Catalog    *catalog.Catalog
	Contracts  ContractStore
	Alerts     AlertPublisher
	NewID      IDGenerator
	Clock      types.Clock
	Logger     *slog.Logger
	SuccessURL string
	CancelURL  string
}

// New creates a provisioning Orchestrator.
// Nil Clock and Logger fall back to production defaults.
func New(cfg Config) *Orchestrator {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gateway:    cfg.Gateway,
		catalog:    cfg.Catalog,
		contracts:  cfg.Contracts,
		alerts:     cfg.Alerts,
		newID:      cfg.NewID,
		clock:      clock,
		logger:     logger,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

// CheckoutStart is the result of StartCheckout.
type CheckoutStart struct {
	CheckoutURL string        `json:"checkout_url"`
	SessionID   string        `json:"session_id"`
	CustomerID  string        `json:"customer_id"`
	Quote       billing.Quote `json:"quote"`
}

// StartCheckout validates the selection, ensures a billing customer exists,
// and opens a hosted setup session that captures a reusable payment
// instrument. The session is capture-only: nothing is paid on the hosted
// page, so the off-session charge in CompleteProvisioning is the only charge
// of the initial interval. The versioned selection metadata rides on the
// session so the reconciliation handler can rebuild the provisioning from
// the completion event alone.
//
// identity may be nil: visitors can start checkout before they ever have an
// account, in which case reconciliation auto-creates the user.
func (o *Orchestrator) StartCheckout(ctx context.Context, identity *types.Identity, sel types.Selection) (CheckoutStart, error) {
	quote, err := billing.PriceSelection(o.catalog, sel)
	if err != nil {
		return CheckoutStart{}, err
	}

	customerID, err := o.gateway.EnsureCustomer(ctx, sel.Email, sel.Name)
	if err != nil {
		return CheckoutStart{}, err
	}

	meta := types.CheckoutMetadata{
		PlanID:        sel.PlanID,
		ApplicantType: sel.ApplicantType,
		CustomerName:  sel.Name,
		CompanyName:   sel.CompanyName,
		CustomerEmail: sel.Email,
		HasProxy:      sel.HasOpenAIProxy,
		SelectedApps:  sel.SelectedApps,
		Total:         quote.Total,
	}
	if identity != nil {
		meta.UserID = identity.SubjectID
	}

	url, sessionID, err := o.gateway.CreateSetupSession(ctx, external.SetupSessionParams{
		CustomerID: customerID,
		Metadata:   meta.Encode(),
		SuccessURL: o.successURL,
		CancelURL:  o.cancelURL,
	})
	if err != nil {
		return CheckoutStart{}, err
	}

	o.logger.InfoContext(ctx, "checkout session created",
		"customer_id", customerID,
		"session_id", sessionID,
		"plan_id", sel.PlanID,
		"app_count", len(sel.SelectedApps),
		"total", quote.Total,
	)

	return CheckoutStart{
		CheckoutURL: url,
		SessionID:   sessionID,
		CustomerID:  customerID,
		Quote:       quote,
	}, nil
}

// Provisioned is the result of CompleteProvisioning.
type Provisioned struct {
	Contract       *types.Contract `json:"contract"`
	ChargeID       string          `json:"charge_id"`
	SubscriptionID string          `json:"subscription_id"`
	ChargedAmount  int64           `json:"charged_amount"`
}

// CompleteProvisioning runs the post-capture stages: off-session charge for
// the full first interval, recurring subscription anchored at the next
// billing boundary with proration off, then the synchronous ledger upsert.
//
// The stages are ordered so that every failure leaves a resumable state:
// a charge failure aborts before any subscription exists, and a ledger
// failure after a successful subscription is reported as a divergence risk
// but does not fail the call, because the webhook reconciler will converge
// the ledger from the provider's completion event.
//
// This call and the webhook reconciler both write the ledger. Before
// creating a subscription, the orchestrator looks up the customer's contract
// and adopts its subscription ref when the reconciler got there first, so
// the two paths key their upserts on the same ref and collapse into one row
// with one subscription.
func (o *Orchestrator) CompleteProvisioning(ctx context.Context, identity *types.Identity, customerID string, sel types.Selection) (Provisioned, error) {
	quote, err := billing.PriceSelection(o.catalog, sel)
	if err != nil {
		return Provisioned{}, err
	}

	instruments, err := o.gateway.ListSavedInstruments(ctx, customerID)
	if err != nil {
		return Provisioned{}, err
	}
	if len(instruments) == 0 {
		return Provisioned{}, types.NewAppError(
			types.ErrCodeValidationNoInstrument,
			"no saved payment instrument; complete checkout first",
			nil,
		)
	}
	instrument := instruments[0]

	meta := types.CheckoutMetadata{
		PlanID:        sel.PlanID,
		ApplicantType: sel.ApplicantType,
		CustomerName:  sel.Name,
		CompanyName:   sel.CompanyName,
		CustomerEmail: sel.Email,
		HasProxy:      sel.HasOpenAIProxy,
		SelectedApps:  sel.SelectedApps,
		Total:         quote.Total,
	}
	if identity != nil {
		meta.UserID = identity.SubjectID
	}

	chargeID, err := o.gateway.ChargeOffSession(ctx, external.ChargeParams{
		CustomerID:   customerID,
		InstrumentID: instrument.ID,
		AmountMinor:  billing.ToMinorUnits(quote.Total),
		Currency:     catalog.Currency,
		Description:  fmt.Sprintf("Initial charge: %s", sel.PlanID),
		Metadata:     meta.Encode(),
	})
	if err != nil {
		return Provisioned{}, err
	}

	var subscriptionID string
	existing, err := o.contracts.GetByCustomerRef(ctx, customerID)
	switch {
	case err == nil && existing.StripeSubscriptionID != "":
		subscriptionID = existing.StripeSubscriptionID
		o.logger.InfoContext(ctx, "reusing subscription written by webhook reconciliation",
			"customer_id", customerID,
			"subscription_id", subscriptionID,
		)
	case err == nil || isNotFoundContract(err):
		anchor := types.NextBillingAnchor(o.clock.Now())
		subscriptionID, err = o.gateway.CreateSubscription(ctx, external.SubscriptionParams{
			CustomerID:   customerID,
			InstrumentID: instrument.ID,
			Items:        o.subscriptionItems(sel),
			AnchorAt:     anchor,
			Metadata:     meta.Encode(),
		})
		if err != nil {
			return Provisioned{}, err
		}
	default:
		return Provisioned{}, err
	}

	contract := o.buildContract(identity, customerID, subscriptionID, sel)
	if err := o.contracts.UpsertBySubscriptionRef(ctx, contract); err != nil {
		// The customer has been charged and the subscription exists; the
		// completion webhook carries everything needed to converge the
		// ledger, so the customer-facing call still succeeds.
		o.logger.ErrorContext(ctx, "ledger write failed after successful billing setup",
			"customer_id", customerID,
			"subscription_id", subscriptionID,
			"error", err,
		)
		if o.alerts != nil {
			o.alerts.Publish(ctx, queue.AlertLedgerWriteFailed,
				"contract write failed after charge and subscription creation",
				map[string]any{
					"customer_id":     customerID,
					"subscription_id": subscriptionID,
				},
			)
		}
	}

	o.logger.InfoContext(ctx, "provisioning completed",
		"customer_id", customerID,
		"subscription_id", subscriptionID,
		"charge_id", chargeID,
		"total", quote.Total,
	)

	return Provisioned{
		Contract:       contract,
		ChargeID:       chargeID,
		SubscriptionID: subscriptionID,
		ChargedAmount:  quote.Total,
	}, nil
}

// subscriptionItems maps the selection onto recurring catalog prices.
// The included storage tier carries no price so it never appears here.
func (o *Orchestrator) subscriptionItems(sel types.Selection) []external.SubscriptionItem {
	plan, _ := o.catalog.Plan(sel.PlanID)
	items := []external.SubscriptionItem{
		{PriceID: plan.StripePriceID, Quantity: 1},
	}
	if n := len(sel.SelectedApps); n > 0 {
		items = append(items, external.SubscriptionItem{
			PriceID:  catalog.AppOptionPriceID,
			Quantity: n,
		})
	}
	if sel.HasOpenAIProxy {
		items = append(items, external.SubscriptionItem{
			PriceID:  o.catalog.Proxy().StripePriceID,
			Quantity: 1,
		})
	}
	return items
}

func isNotFoundContract(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundContract
}

func (o *Orchestrator) buildContract(identity *types.Identity, customerID string, subscriptionID string, sel types.Selection) *types.Contract {
	now := o.clock.Now()
	plan, _ := o.catalog.Plan(sel.PlanID)

	apps := append([]string(nil), sel.SelectedApps...)
	sort.Strings(apps)

	c := &types.Contract{
		ID:                   o.newID(),
		PlanID:               plan.ID,
		PlanName:             plan.Name,
		Status:               types.ContractActive,
		StartDate:            now.Truncate(24 * time.Hour),
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
		SelectedApps:         apps,
		HasOpenAIProxy:       sel.HasOpenAIProxy,
		CurrentStorageTier:   types.DefaultStorageTier,
		CustomerEmail:        sel.Email,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if identity != nil {
		c.UserID = identity.SubjectID
	}
	return c
}
