package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contracthub/internal/addon"
	"contracthub/internal/core"
	"contracthub/internal/types"
)

// AddAppsRequest is the request body for POST /v1/contracts/{contractID}/apps.
type AddAppsRequest struct {
	AppIDs []string `json:"app_ids" validate:"required,min=1,max=20"`
}

// StorageChangeRequest is the request body for
// POST /v1/contracts/{contractID}/storage.
type StorageChangeRequest struct {
	TierID string `json:"tier_id" validate:"required"`
}

// AddAppsResponse reports the outcome of an app addition. Exactly one of
// the two shapes is populated: an immediate charge result, or a hosted
// checkout URL when the contract has no saved payment instrument.
type AddAppsResponse struct {
	Contract      *types.Contract `json:"contract,omitempty"`
	AddedApps     []string        `json:"added_apps,omitempty"`
	ChargedAmount int64           `json:"charged_amount,omitempty"`
	ChargeID      string          `json:"charge_id,omitempty"`
	CheckoutURL   string          `json:"checkout_url,omitempty"`
}

// AddonService is the subset of the add-on orchestrator the handler needs.
type AddonService interface {
	AddApps(ctx context.Context, identity *types.Identity, contractID string, appIDs []string) (addon.AppAddition, error)
	StartAppCheckout(ctx context.Context, identity *types.Identity, contractID string, appIDs []string) (string, error)
	RequestStorageChange(ctx context.Context, identity *types.Identity, contractID string, tierID string) (addon.StorageChange, error)
}

// AddonHandler maps the mid-term contract change endpoints to the add-on
// orchestrator. Both routes require a session.
type AddonHandler struct {
	addons    AddonService
	logger    *slog.Logger
	validator *core.Validator
}

func NewAddonHandler(addons AddonService, logger *slog.Logger, validator *core.Validator) *AddonHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AddonHandler{
		addons:    addons,
		logger:    logger,
		validator: validator,
	}
}

// RegisterRoutes mounts the contract change routes.
func (h *AddonHandler) RegisterRoutes(r chi.Router) {
	r.Post("/contracts/{contractID}/apps", h.HandleAddApps)
	r.Post("/contracts/{contractID}/storage", h.HandleStorageChange)
}

// HandleAddApps processes POST /v1/contracts/{contractID}/apps: charge the
// saved instrument and merge the apps into the ledger immediately. When no
// instrument is saved, it falls back to opening a hosted checkout session
// and returns its URL instead.
func (h *AddonHandler) HandleAddApps(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req AddAppsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	contractID := chi.URLParam(r, "contractID")

	addition, err := h.addons.AddApps(r.Context(), &identity, contractID, req.AppIDs)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeValidationNoInstrument {
			h.logger.InfoContext(r.Context(), "no saved instrument, falling back to hosted checkout",
				"contract_id", contractID,
			)
			checkoutURL, checkoutErr := h.addons.StartAppCheckout(r.Context(), &identity, contractID, req.AppIDs)
			if checkoutErr != nil {
				core.Error(w, r, checkoutErr)
				return
			}
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AddAppsResponse{CheckoutURL: checkoutURL}})
			return
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AddAppsResponse{
		Contract:      addition.Contract,
		AddedApps:     addition.AddedApps,
		ChargedAmount: addition.ChargedAmount,
		ChargeID:      addition.ChargeID,
	}})
}

// HandleStorageChange processes POST /v1/contracts/{contractID}/storage.
// The change is deferred: nothing is charged now and the current tier stays
// in effect until the maintenance batch promotes it at the billing boundary.
func (h *AddonHandler) HandleStorageChange(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req StorageChangeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	change, err := h.addons.RequestStorageChange(r.Context(), &identity, chi.URLParam(r, "contractID"), req.TierID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: change})
}
