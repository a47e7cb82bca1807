// Package reconcile processes verified billing provider events and converges
// the contract ledger to what the provider actually charged. Every write it
// performs is idempotent, so redeliveries and races against the synchronous
// orchestrator path are harmless.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"

	"contracthub/internal/catalog"
	"contracthub/internal/external"
	"contracthub/internal/metrics"
	"contracthub/internal/queue"
	"contracthub/internal/types"
)

// Provider event types the handler understands. Everything else is recorded
// and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventPaymentSucceeded    = "payment_intent.succeeded"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// UserRepository is the account access the handler needs to auto-create
// users for checkouts completed before the customer ever signed up.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	Create(ctx context.Context, user *types.User) error
}

// ContractRepository is the ledger access the handler needs.
type ContractRepository interface {
	GetByCustomerRef(ctx context.Context, customerID string) (*types.Contract, error)
	UpsertBySubscriptionRef(ctx context.Context, c *types.Contract) error
	MergeApps(ctx context.Context, contractID string, apps []string) error
}

// EventRecorder persists processed events for dedup and archival.
type EventRecorder interface {
	Record(ctx context.Context, ev *types.BillingEvent) (bool, error)
}

// SubscriptionCreator creates the recurring subscription when a completed
// checkout session does not carry one.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, p external.SubscriptionParams) (string, error)
}

// AlertPublisher raises out-of-band operator alerts.
type AlertPublisher interface {
	Publish(ctx context.Context, kind string, message string, details map[string]any)
}

// EventMetrics counts processed events by type and outcome.
type EventMetrics interface {
	RecordEvent(ctx context.Context, eventType string, result string)
}

// Handler reconciles provider events against the ledger.
type Handler struct {
	users     UserRepository
	contracts ContractRepository
	events    EventRecorder
	gateway   SubscriptionCreator
	catalog   *catalog.Catalog
	alerts    AlertPublisher
	metrics   EventMetrics
	newID     func() string
	clock     types.Clock
	logger    *slog.Logger

	dispatch map[string]func(ctx context.Context, ev *providerEvent) error
}

// HandlerConfig holds the dependencies for creating a Handler.
type HandlerConfig struct {
	Users     UserRepository
	Contracts ContractRepository
	Events    EventRecorder
	Gateway   SubscriptionCreator
	Catalog   *catalog.Catalog
	Alerts    AlertPublisher
	Metrics   EventMetrics
	NewID     func() string
	Clock     types.Clock
	Logger    *slog.Logger
}

// NewHandler creates a reconciliation Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		users:     cfg.Users,
		contracts: cfg.Contracts,
		events:    cfg.Events,
		gateway:   cfg.Gateway,
		catalog:   cfg.Catalog,
		alerts:    cfg.Alerts,
		metrics:   cfg.Metrics,
		newID:     cfg.NewID,
		clock:     clock,
		logger:    logger,
	}
	h.dispatch = map[string]func(ctx context.Context, ev *providerEvent) error{
		EventCheckoutCompleted:   h.handleCheckoutCompleted,
		EventPaymentSucceeded:    h.handlePaymentSucceeded,
		EventSubscriptionCreated: h.logSubscriptionLifecycle,
		EventSubscriptionUpdated: h.logSubscriptionLifecycle,
		EventSubscriptionDeleted: h.logSubscriptionLifecycle,
	}
	return h
}

// providerEvent is the envelope shape of a provider notification. Only the
// fields the handler reads are declared.
type providerEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object eventObject `json:"object"`
	} `json:"data"`
}

// eventObject is the union of the object fields across the event types the
// handler processes.
type eventObject struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
}

// Process reconciles one verified event payload. The caller has already
// checked the provider signature; Process trusts the bytes.
//
// Every event is recorded in the durable event log first. A duplicate
// delivery short-circuits without reprocessing, which makes the provider's
// at-least-once delivery safe end to end.
func (h *Handler) Process(ctx context.Context, payload []byte) error {
	var ev providerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return types.NewAppError(types.ErrCodeValidationBadMetadata, "event payload is not valid JSON", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return types.NewAppError(types.ErrCodeValidationBadMetadata, "event payload lacks id or type", nil)
	}

	inserted, err := h.events.Record(ctx, &types.BillingEvent{
		ID:          ev.ID,
		Type:        ev.Type,
		Payload:     payload,
		ProcessedAt: h.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !inserted {
		h.logger.InfoContext(ctx, "duplicate event delivery skipped", "event_id", ev.ID, "event_type", ev.Type)
		h.record(ctx, ev.Type, metrics.ResultDuplicate)
		return nil
	}

	fn, ok := h.dispatch[ev.Type]
	if !ok {
		h.logger.DebugContext(ctx, "ignoring unhandled event type", "event_id", ev.ID, "event_type", ev.Type)
		h.record(ctx, ev.Type, metrics.ResultIgnored)
		return nil
	}

	if err := fn(ctx, &ev); err != nil {
		h.record(ctx, ev.Type, metrics.ResultFailed)
		return err
	}
	h.record(ctx, ev.Type, metrics.ResultSuccess)
	return nil
}

func (h *Handler) record(ctx context.Context, eventType string, result string) {
	if h.metrics != nil {
		h.metrics.RecordEvent(ctx, eventType, result)
	}
}

// handleCheckoutCompleted dispatches on the tagged purpose of the session
// metadata. Sessions without a recognized purpose belong to some other system
// sharing the provider account and are ignored.
func (h *Handler) handleCheckoutCompleted(ctx context.Context, ev *providerEvent) error {
	switch types.MetadataPurpose(ev.Data.Object.Metadata) {
	case types.PurposeNewSubscription:
		return h.reconcileNewSubscription(ctx, ev)
	case types.PurposeAppAddition:
		return h.reconcileAppAddition(ctx, ev)
	default:
		h.logger.DebugContext(ctx, "checkout session without known purpose", "event_id", ev.ID)
		return nil
	}
}

// handlePaymentSucceeded confirms off-session charges. App addition charges
// re-apply the merge; everything else is informational.
func (h *Handler) handlePaymentSucceeded(ctx context.Context, ev *providerEvent) error {
	if types.MetadataPurpose(ev.Data.Object.Metadata) == types.PurposeAppAddition {
		return h.reconcileAppAddition(ctx, ev)
	}
	h.logger.InfoContext(ctx, "payment confirmed",
		"event_id", ev.ID,
		"payment_intent_id", ev.Data.Object.ID,
		"customer_id", ev.Data.Object.Customer,
	)
	return nil
}

// reconcileNewSubscription rebuilds the full provisioning outcome from the
// session metadata: the account, the recurring subscription when neither the
// session nor the ledger carries one, and the contract row. All derived from
// provider-side data, so it converges the ledger even when the synchronous
// path never ran. It never charges; the initial charge belongs to the
// synchronous path alone.
func (h *Handler) reconcileNewSubscription(ctx context.Context, ev *providerEvent) error {
	meta, err := types.ParseCheckoutMetadata(ev.Data.Object.Metadata)
	if err != nil {
		h.logger.ErrorContext(ctx, "checkout metadata rejected", "event_id", ev.ID, "error", err)
		return err
	}

	plan, ok := h.catalog.Plan(meta.PlanID)
	if !ok {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownPlan,
			"checkout metadata names an unknown plan",
			nil,
			map[string]any{"plan_id": meta.PlanID},
		)
	}

	user, err := h.findOrCreateUser(ctx, meta)
	if err != nil {
		return err
	}

	subscriptionID, err := h.resolveSubscription(ctx, ev, meta)
	if err != nil {
		return err
	}

	now := h.clock.Now()
	apps := append([]string(nil), meta.SelectedApps...)
	sort.Strings(apps)

	contract := &types.Contract{
		ID:                   h.newID(),
		UserID:               user.ID,
		PlanID:               plan.ID,
		PlanName:             plan.Name,
		Status:               types.ContractActive,
		StartDate:            now,
		StripeCustomerID:     ev.Data.Object.Customer,
		StripeSubscriptionID: subscriptionID,
		SelectedApps:         apps,
		HasOpenAIProxy:       meta.HasProxy,
		CurrentStorageTier:   types.DefaultStorageTier,
		CustomerEmail:        meta.CustomerEmail,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := h.contracts.UpsertBySubscriptionRef(ctx, contract); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "subscription reconciled",
		"event_id", ev.ID,
		"subscription_id", subscriptionID,
		"user_id", user.ID,
		"plan_id", plan.ID,
	)
	return nil
}

// resolveSubscription picks the recurring subscription for a completed
// checkout. The event's own ref wins; a ref already on the customer's
// contract row means the synchronous path got there first and is adopted,
// so both writers upsert against the same key. Only when neither exists is
// a subscription created.
func (h *Handler) resolveSubscription(ctx context.Context, ev *providerEvent, meta types.CheckoutMetadata) (string, error) {
	if ev.Data.Object.Subscription != "" {
		return ev.Data.Object.Subscription, nil
	}

	existing, err := h.contracts.GetByCustomerRef(ctx, ev.Data.Object.Customer)
	switch {
	case err == nil && existing.StripeSubscriptionID != "":
		h.logger.InfoContext(ctx, "adopting subscription written by synchronous provisioning",
			"event_id", ev.ID,
			"subscription_id", existing.StripeSubscriptionID,
		)
		return existing.StripeSubscriptionID, nil
	case err != nil && !isNotFoundContract(err):
		return "", err
	}

	subscriptionID, err := h.gateway.CreateSubscription(ctx, external.SubscriptionParams{
		CustomerID: ev.Data.Object.Customer,
		Items:      h.subscriptionItems(meta),
		AnchorAt:   types.NextBillingAnchor(h.clock.Now()),
		Metadata:   ev.Data.Object.Metadata,
	})
	if err != nil {
		return "", err
	}
	h.logger.InfoContext(ctx, "recurring subscription created from checkout event",
		"event_id", ev.ID,
		"subscription_id", subscriptionID,
	)
	return subscriptionID, nil
}

func isNotFoundContract(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundContract
}

// reconcileAppAddition re-applies the app merge carried in the event
// metadata. The synchronous path usually already did this; the set-union
// merge makes the second application a no-op.
func (h *Handler) reconcileAppAddition(ctx context.Context, ev *providerEvent) error {
	meta, err := types.ParseAddonMetadata(ev.Data.Object.Metadata)
	if err != nil {
		h.logger.ErrorContext(ctx, "addon metadata rejected", "event_id", ev.ID, "error", err)
		return err
	}

	err = h.contracts.MergeApps(ctx, meta.ContractID, meta.AddedApps)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundContract {
			// The customer paid for apps on a contract the ledger does not
			// have. That needs a human, not a retry.
			h.logger.ErrorContext(ctx, "app addition confirmed for unknown contract",
				"event_id", ev.ID,
				"contract_id", meta.ContractID,
				"apps", meta.AddedApps,
			)
			if h.alerts != nil {
				h.alerts.Publish(ctx, queue.AlertContractNotFound,
					"billing confirmation references a contract missing from the ledger",
					map[string]any{
						"event_id":    ev.ID,
						"contract_id": meta.ContractID,
						"apps":        meta.AddedApps,
					},
				)
			}
			return err
		}
		return err
	}

	h.logger.InfoContext(ctx, "app addition reconciled",
		"event_id", ev.ID,
		"contract_id", meta.ContractID,
		"apps", meta.AddedApps,
	)
	return nil
}

// logSubscriptionLifecycle records subscription lifecycle notifications.
// Contract status transitions from these events are out of scope for now;
// cancellation flows go through support.
func (h *Handler) logSubscriptionLifecycle(ctx context.Context, ev *providerEvent) error {
	h.logger.InfoContext(ctx, "subscription lifecycle event",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"subscription_id", ev.Data.Object.ID,
		"status", ev.Data.Object.Status,
	)
	return nil
}

// findOrCreateUser resolves the checkout's account. A hit on the metadata
// email wins; otherwise a new account is created with password setup still
// required, so the customer claims it on first login.
func (h *Handler) findOrCreateUser(ctx context.Context, meta types.CheckoutMetadata) (*types.User, error) {
	user, err := h.users.GetByEmail(ctx, meta.CustomerEmail)
	if err == nil {
		return user, nil
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
		return nil, err
	}

	user = &types.User{
		ID:                    h.newID(),
		Email:                 meta.CustomerEmail,
		Name:                  meta.CustomerName,
		ApplicantType:         meta.ApplicantType,
		CompanyName:           meta.CompanyName,
		PasswordSetupRequired: true,
		CreatedAt:             h.clock.Now(),
	}
	if err := h.users.Create(ctx, user); err != nil {
		// Concurrent reconciliation of the same customer can lose the
		// insert race; the winner's row is the account.
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictEmail {
			return h.users.GetByEmail(ctx, meta.CustomerEmail)
		}
		return nil, err
	}

	h.logger.InfoContext(ctx, "user auto-created from checkout",
		"user_id", user.ID,
		"applicant_type", string(user.ApplicantType),
	)
	return user, nil
}

// subscriptionItems maps the checkout selection onto recurring catalog
// prices, mirroring the synchronous provisioning path.
func (h *Handler) subscriptionItems(meta types.CheckoutMetadata) []external.SubscriptionItem {
	plan, _ := h.catalog.Plan(meta.PlanID)
	items := []external.SubscriptionItem{
		{PriceID: plan.StripePriceID, Quantity: 1},
	}
	if n := len(meta.SelectedApps); n > 0 {
		items = append(items, external.SubscriptionItem{
			PriceID:  catalog.AppOptionPriceID,
			Quantity: n,
		})
	}
	if meta.HasProxy {
		items = append(items, external.SubscriptionItem{
			PriceID:  h.catalog.Proxy().StripePriceID,
			Quantity: 1,
		})
	}
	return items
}
