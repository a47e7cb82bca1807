package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contracthub/internal/core"
	"contracthub/internal/portal"
	"contracthub/internal/types"
)

// PortalService is the subset of the portal service the handler needs.
type PortalService interface {
	PaymentHistory(ctx context.Context, identity *types.Identity) (portal.History, error)
	PortalSession(ctx context.Context, identity *types.Identity) (string, error)
}

// PortalSessionResponse carries the hosted billing portal URL.
type PortalSessionResponse struct {
	PortalURL string `json:"portal_url"`
}

// BillingHandler serves the billing self-service endpoints. Both routes
// require a session.
type BillingHandler struct {
	portal PortalService
	logger *slog.Logger
}

func NewBillingHandler(portal PortalService, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		portal: portal,
		logger: logger,
	}
}

// RegisterRoutes mounts the billing self-service routes.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/payment-history", h.HandlePaymentHistory)
	r.Post("/portal-session", h.HandlePortalSession)
}

// HandlePaymentHistory processes GET /v1/payment-history, returning the
// caller's one-off charges and paid invoices, newest first.
func (h *BillingHandler) HandlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	history, err := h.portal.PaymentHistory(r.Context(), &identity)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: history})
}

// HandlePortalSession processes POST /v1/portal-session, opening a hosted
// billing portal session for the caller.
func (h *BillingHandler) HandlePortalSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	url, err := h.portal.PortalSession(r.Context(), &identity)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PortalSessionResponse{PortalURL: url}})
}
