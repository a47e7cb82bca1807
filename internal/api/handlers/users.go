// Package handlers contains the HTTP handler implementations for the
// ContractHub API.
//
// Each handler is responsible for:
//   - Decoding and validating HTTP requests
//   - Delegating to service-layer logic
//   - Encoding responses and managing HTTP-specific concerns
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"contracthub/internal/auth"
	"contracthub/internal/core"
	"contracthub/internal/types"
)

// SignupRequest is the request body for POST /v1/signup.
type SignupRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Name          string `json:"name" validate:"required,max=100"`
	ApplicantType string `json:"applicant_type" validate:"required,oneof=individual organization"`
	CompanyName   string `json:"company_name" validate:"max=200"`
	Password      string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the request body for POST /v1/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CheckEmailRequest is the request body for POST /v1/check-email.
type CheckEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SetupPasswordRequest is the request body for POST /v1/setup-password.
// Used by accounts auto-created during webhook reconciliation, which exist
// without a usable credential until the customer claims them.
type SetupPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// SessionResponse is returned by login and signup. The session credential is
// a Bearer token the client presents on subsequent requests.
type SessionResponse struct {
	Token string      `json:"token"`
	User  *types.User `json:"user"`
}

// AccountService is the subset of the auth service the user handler needs.
type AccountService interface {
	Signup(ctx context.Context, p auth.SignupParams) (*types.User, error)
	Login(ctx context.Context, email string, password string) (string, *types.User, error)
	SetupPassword(ctx context.Context, email string, password string) (*types.User, error)
	CheckEmail(ctx context.Context, email string) (auth.EmailStatus, error)
	Logout(ctx context.Context, credential string) error
}

// UserHandler maps the account endpoints to the auth service.
type UserHandler struct {
	accounts  AccountService
	logger    *slog.Logger
	validator *core.Validator
}

func NewUserHandler(accounts AccountService, logger *slog.Logger, validator *core.Validator) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{
		accounts:  accounts,
		logger:    logger,
		validator: validator,
	}
}

// RegisterRoutes mounts the account routes. All except /logout are listed as
// auth-optional in the core middleware so a visitor can reach them before
// holding a session.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/signup", h.HandleSignup)
	r.Post("/login", h.HandleLogin)
	r.Post("/check-email", h.HandleCheckEmail)
	r.Post("/setup-password", h.HandleSetupPassword)
	r.Post("/logout", h.HandleLogout)
}

// HandleSignup processes POST /v1/signup. On success the new account is
// logged in immediately and the session token is returned.
func (h *UserHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, err := h.accounts.Signup(r.Context(), auth.SignupParams{
		Email:         req.Email,
		Name:          req.Name,
		ApplicantType: types.ApplicantType(req.ApplicantType),
		CompanyName:   req.CompanyName,
		Password:      req.Password,
	})
	if err != nil {
		h.handleAccountError(w, r, err)
		return
	}

	token, _, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// The account exists, the session just could not be issued. The
		// client can log in normally.
		h.logger.WarnContext(r.Context(), "post-signup login failed",
			"user_id", user.ID,
			"error", err,
		)
		core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: SessionResponse{User: user}})
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: SessionResponse{Token: token, User: user}})
}

// HandleLogin processes POST /v1/login.
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	token, user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleAccountError(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SessionResponse{Token: token, User: user}})
}

// HandleCheckEmail processes POST /v1/check-email. The checkout front door
// uses it to route returning customers to login and auto-created accounts to
// password setup.
func (h *UserHandler) HandleCheckEmail(w http.ResponseWriter, r *http.Request) {
	var req CheckEmailRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	status, err := h.accounts.CheckEmail(r.Context(), req.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: status})
}

// HandleSetupPassword processes POST /v1/setup-password, claiming an account
// that reconciliation auto-created. The new credential is usable right away,
// so the response includes a fresh session.
func (h *UserHandler) HandleSetupPassword(w http.ResponseWriter, r *http.Request) {
	var req SetupPasswordRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, err := h.accounts.SetupPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleAccountError(w, r, err)
		return
	}

	token, _, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.WarnContext(r.Context(), "post-setup login failed",
			"user_id", user.ID,
			"error", err,
		)
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SessionResponse{User: user}})
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SessionResponse{Token: token, User: user}})
}

// HandleLogout processes POST /v1/logout. Revoking an already-revoked
// credential still reports success.
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	credential := bearerCredential(r)
	if credential != "" {
		if err := h.accounts.Logout(r.Context(), credential); err != nil {
			h.logger.WarnContext(r.Context(), "failed to revoke session during logout",
				"error", err,
			)
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: map[string]string{"message": "logged out"},
	})
}

// handleAccountError masks credential failures behind a single message so
// the endpoints cannot be used to enumerate registered addresses.
func (h *UserHandler) handleAccountError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		core.Error(w, r, err)
		return
	}

	switch appErr.Code {
	case types.ErrCodeAuthInvalidCreds, types.ErrCodeAuthUserNotFound:
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthInvalidCreds,
			"invalid email or password",
			nil,
		))
	default:
		core.Error(w, r, err)
	}
}

// bearerCredential returns the raw Bearer token from the Authorization
// header, or "" when absent.
func bearerCredential(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
