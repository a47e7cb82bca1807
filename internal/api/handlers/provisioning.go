package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contracthub/internal/core"
	"contracthub/internal/provision"
	"contracthub/internal/types"
)

// CheckoutRequest is the request body for POST /v1/provisioning/checkout.
type CheckoutRequest struct {
	PlanID         string   `json:"plan_id" validate:"required"`
	SelectedApps   []string `json:"selected_apps" validate:"max=20"`
	HasOpenAIProxy bool     `json:"has_openai_proxy"`
	ApplicantType  string   `json:"applicant_type" validate:"required,oneof=individual organization"`
	Name           string   `json:"name" validate:"required,max=100"`
	CompanyName    string   `json:"company_name" validate:"max=200"`
	Email          string   `json:"email" validate:"required,email"`
}

// CompleteProvisioningRequest is the request body for
// POST /v1/provisioning/complete. The customer ID comes back from the
// checkout step; the selection is resubmitted so the quote is recomputed
// from the catalog rather than trusted from the client's first call.
type CompleteProvisioningRequest struct {
	CustomerID     string   `json:"customer_id" validate:"required"`
	PlanID         string   `json:"plan_id" validate:"required"`
	SelectedApps   []string `json:"selected_apps" validate:"max=20"`
	HasOpenAIProxy bool     `json:"has_openai_proxy"`
	ApplicantType  string   `json:"applicant_type" validate:"required,oneof=individual organization"`
	Name           string   `json:"name" validate:"required,max=100"`
	CompanyName    string   `json:"company_name" validate:"max=200"`
	Email          string   `json:"email" validate:"required,email"`
}

// Provisioner is the subset of the provisioning orchestrator the handler
// needs.
type Provisioner interface {
	StartCheckout(ctx context.Context, identity *types.Identity, sel types.Selection) (provision.CheckoutStart, error)
	CompleteProvisioning(ctx context.Context, identity *types.Identity, customerID string, sel types.Selection) (provision.Provisioned, error)
}

// ProvisioningHandler maps the checkout endpoints to the provisioning
// orchestrator. Both routes are auth-optional: a brand new visitor has no
// session yet, while a logged-in user gets the contract bound to their
// account immediately.
type ProvisioningHandler struct {
	provisioner Provisioner
	logger      *slog.Logger
	validator   *core.Validator
}

func NewProvisioningHandler(p Provisioner, logger *slog.Logger, validator *core.Validator) *ProvisioningHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProvisioningHandler{
		provisioner: p,
		logger:      logger,
		validator:   validator,
	}
}

// RegisterRoutes mounts the provisioning routes.
func (h *ProvisioningHandler) RegisterRoutes(r chi.Router) {
	r.Post("/provisioning/checkout", h.HandleCheckout)
	r.Post("/provisioning/complete", h.HandleComplete)
}

// HandleCheckout processes POST /v1/provisioning/checkout: quote the
// selection and open a hosted checkout session that captures a reusable
// payment instrument.
func (h *ProvisioningHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	start, err := h.provisioner.StartCheckout(r.Context(), requestIdentity(r), types.Selection{
		PlanID:         req.PlanID,
		SelectedApps:   req.SelectedApps,
		HasOpenAIProxy: req.HasOpenAIProxy,
		ApplicantType:  types.ApplicantType(req.ApplicantType),
		Name:           req.Name,
		CompanyName:    req.CompanyName,
		Email:          req.Email,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: start})
}

// HandleComplete processes POST /v1/provisioning/complete: charge the saved
// instrument for the first interval, create the recurring subscription
// anchored at the next billing boundary, and record the contract.
func (h *ProvisioningHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteProvisioningRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	provisioned, err := h.provisioner.CompleteProvisioning(r.Context(), requestIdentity(r), req.CustomerID, types.Selection{
		PlanID:         req.PlanID,
		SelectedApps:   req.SelectedApps,
		HasOpenAIProxy: req.HasOpenAIProxy,
		ApplicantType:  types.ApplicantType(req.ApplicantType),
		Name:           req.Name,
		CompanyName:    req.CompanyName,
		Email:          req.Email,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: provisioned})
}

// requestIdentity returns the authenticated identity, or nil when the
// request arrived without a session.
func requestIdentity(r *http.Request) *types.Identity {
	if id, ok := types.GetIdentity(r.Context()); ok {
		return &id
	}
	return nil
}
