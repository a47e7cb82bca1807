// Package addon handles post-provisioning contract changes: adding app
// subscriptions with an immediate off-session charge, the hosted checkout
// fallback for customers without a saved instrument, and deferred storage
// tier change requests.
package addon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"contracthub/internal/billing"
	"contracthub/internal/catalog"
	"contracthub/internal/external"
	"contracthub/internal/types"
)

// BillingGateway is the subset of the billing provider client used here.
type BillingGateway interface {
	ListSavedInstruments(ctx context.Context, customerID string) ([]external.PaymentInstrument, error)
	ChargeOffSession(ctx context.Context, p external.ChargeParams) (string, error)
	CreateCheckoutSession(ctx context.Context, p external.CheckoutSessionParams) (url string, sessionID string, err error)
}

// ContractRepository is the ledger access the orchestrator needs.
type ContractRepository interface {
	GetByID(ctx context.Context, id string) (*types.Contract, error)
	MergeApps(ctx context.Context, contractID string, apps []string) error
	SetPendingStorageTier(ctx context.Context, contractID string, tier string) (bool, error)
}

// Orchestrator drives contract change operations.
type Orchestrator struct {
	gateway   BillingGateway
	catalog   *catalog.Catalog
	contracts ContractRepository
	logger    *slog.Logger

	successURL string
	cancelURL  string
}

// Config holds the dependencies for creating an Orchestrator.
type Config struct {
	Gateway    BillingGateway
	Catalog    *catalog.Catalog
	Contracts  ContractRepository
	Logger     *slog.Logger
	SuccessURL string
	CancelURL  string
}

// New creates an add-on Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gateway:    cfg.Gateway,
		catalog:    cfg.Catalog,
		contracts:  cfg.Contracts,
		logger:     logger,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

// AppAddition is the result of AddApps.
type AppAddition struct {
	Contract      *types.Contract `json:"contract"`
	AddedApps     []string        `json:"added_apps"`
	ChargedAmount int64           `json:"charged_amount"`
	ChargeID      string          `json:"charge_id"`
}

// AddApps charges the contract's saved instrument for the requested apps and
// merges them into the ledger immediately. The async confirmation event
// performs the same merge, so double application is harmless: the merge is a
// set union.
//
// Already-subscribed apps are dropped from the request rather than rejected,
// so a retried call after a partial failure converges instead of erroring.
func (o *Orchestrator) AddApps(ctx context.Context, identity *types.Identity, contractID string, appIDs []string) (AppAddition, error) {
	contract, err := o.loadOwnedActive(ctx, identity, contractID)
	if err != nil {
		return AppAddition{}, err
	}

	toAdd, err := o.newAppsFor(contract, appIDs)
	if err != nil {
		return AppAddition{}, err
	}

	instruments, err := o.gateway.ListSavedInstruments(ctx, contract.StripeCustomerID)
	if err != nil {
		return AppAddition{}, err
	}
	if len(instruments) == 0 {
		return AppAddition{}, types.NewAppError(
			types.ErrCodeValidationNoInstrument,
			"no saved payment instrument; use hosted checkout to add apps",
			nil,
		)
	}

	amount := billing.PriceApps(len(toAdd))
	meta := types.AddonMetadata{ContractID: contract.ID, AddedApps: toAdd}
	chargeID, err := o.gateway.ChargeOffSession(ctx, external.ChargeParams{
		CustomerID:   contract.StripeCustomerID,
		InstrumentID: instruments[0].ID,
		AmountMinor:  billing.ToMinorUnits(amount),
		Currency:     catalog.Currency,
		Description:  fmt.Sprintf("App addition x%d", len(toAdd)),
		Metadata:     meta.Encode(),
	})
	if err != nil {
		return AppAddition{}, err
	}

	if err := o.contracts.MergeApps(ctx, contract.ID, toAdd); err != nil {
		// The charge went through. The confirmation event carries the same
		// app list, so the reconciler converges the ledger on delivery.
		o.logger.ErrorContext(ctx, "app merge failed after successful charge",
			"contract_id", contract.ID,
			"charge_id", chargeID,
			"apps", toAdd,
			"error", err,
		)
	}

	updated, err := o.contracts.GetByID(ctx, contract.ID)
	if err != nil {
		updated = contract
	}

	o.logger.InfoContext(ctx, "apps added to contract",
		"contract_id", contract.ID,
		"added", toAdd,
		"amount", amount,
	)

	return AppAddition{
		Contract:      updated,
		AddedApps:     toAdd,
		ChargedAmount: amount,
		ChargeID:      chargeID,
	}, nil
}

// StartAppCheckout opens a hosted checkout session for adding apps when the
// customer has no saved instrument. The ledger is only updated when the
// completion event arrives.
func (o *Orchestrator) StartAppCheckout(ctx context.Context, identity *types.Identity, contractID string, appIDs []string) (string, error) {
	contract, err := o.loadOwnedActive(ctx, identity, contractID)
	if err != nil {
		return "", err
	}

	toAdd, err := o.newAppsFor(contract, appIDs)
	if err != nil {
		return "", err
	}

	meta := types.AddonMetadata{ContractID: contract.ID, AddedApps: toAdd}
	url, _, err := o.gateway.CreateCheckoutSession(ctx, external.CheckoutSessionParams{
		CustomerID: contract.StripeCustomerID,
		Currency:   catalog.Currency,
		Lines: []external.CheckoutLine{{
			Name:        "Add-on Application",
			AmountMinor: billing.ToMinorUnits(catalog.AppUnitPrice),
			Quantity:    len(toAdd),
		}},
		Metadata:   meta.Encode(),
		SuccessURL: o.successURL,
		CancelURL:  o.cancelURL,
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// StorageChange is the result of RequestStorageChange.
type StorageChange struct {
	Contract    *types.Contract `json:"contract"`
	PendingTier string          `json:"pending_tier"`
	EffectiveAt string          `json:"effective_at"`
}

// RequestStorageChange records a deferred storage tier change. Nothing
// changes on the billing side and the current tier stays in effect; the
// maintenance batch promotes the pending tier at the billing boundary.
func (o *Orchestrator) RequestStorageChange(ctx context.Context, identity *types.Identity, contractID string, tierID string) (StorageChange, error) {
	contract, err := o.loadOwnedActive(ctx, identity, contractID)
	if err != nil {
		return StorageChange{}, err
	}

	if _, ok := o.catalog.StorageTier(tierID); !ok {
		return StorageChange{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownTier,
			"unknown storage tier",
			nil,
			map[string]any{"tier_id": tierID},
		)
	}

	applied, err := o.contracts.SetPendingStorageTier(ctx, contract.ID, tierID)
	if err != nil {
		return StorageChange{}, err
	}
	if !applied {
		// The conditional write refused: either a change is already queued
		// or the requested tier equals the current one. Re-read to tell
		// the caller which.
		current, readErr := o.contracts.GetByID(ctx, contract.ID)
		if readErr != nil {
			return StorageChange{}, readErr
		}
		if current.PendingStorageTier != nil {
			return StorageChange{}, types.NewAppErrorWithDetails(
				types.ErrCodeValidationChangePending,
				"a storage change is already scheduled",
				nil,
				map[string]any{"pending_tier": *current.PendingStorageTier},
			)
		}
		return StorageChange{}, types.NewAppError(
			types.ErrCodeValidationSameTier,
			"contract already on the requested storage tier",
			nil,
		)
	}

	updated, err := o.contracts.GetByID(ctx, contract.ID)
	if err != nil {
		updated = contract
	}

	o.logger.InfoContext(ctx, "storage change scheduled",
		"contract_id", contract.ID,
		"tier", tierID,
	)

	return StorageChange{
		Contract:    updated,
		PendingTier: tierID,
		EffectiveAt: "next_billing_period",
	}, nil
}

// loadOwnedActive fetches the contract and enforces ownership and the
// active-status precondition shared by every change operation.
func (o *Orchestrator) loadOwnedActive(ctx context.Context, identity *types.Identity, contractID string) (*types.Contract, error) {
	contract, err := o.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if identity == nil || !ownsContract(identity, contract) {
		return nil, types.NewAppError(
			types.ErrCodePermissionContractOwner,
			"contract does not belong to the authenticated user",
			nil,
		)
	}
	if contract.Status != types.ContractActive {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationContractState,
			"contract is not active",
			nil,
			map[string]any{"status": string(contract.Status)},
		)
	}
	return contract, nil
}

// ownsContract matches on user id when the contract has one, falling back to
// the checkout email for contracts created by reconciliation before the
// customer finished account setup.
func ownsContract(identity *types.Identity, c *types.Contract) bool {
	if c.UserID != "" {
		return c.UserID == identity.SubjectID
	}
	return c.CustomerEmail != "" && c.CustomerEmail == identity.Email
}

// newAppsFor validates the requested ids and drops the ones the contract
// already includes, in sorted order.
func (o *Orchestrator) newAppsFor(contract *types.Contract, appIDs []string) ([]string, error) {
	if unknown, ok := o.catalog.ValidateApps(appIDs); !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownApp,
			"unknown app id",
			nil,
			map[string]any{"app_id": unknown},
		)
	}

	seen := make(map[string]struct{}, len(appIDs))
	var toAdd []string
	for _, id := range appIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !contract.HasApp(id) {
			toAdd = append(toAdd, id)
		}
	}
	if len(toAdd) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeValidationNothingToAdd,
			"all requested apps are already on the contract",
			nil,
		)
	}
	sort.Strings(toAdd)
	return toAdd, nil
}
