// Package core provides the API chassis: a chi router usable both as a
// standard HTTP server and behind the AWS Lambda proxy adapter, with the
// cross-cutting middleware (recovery, request IDs, logging, CORS, auth)
// applied before requests reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contracthub/internal/config"
	"contracthub/internal/types"
)

// Authenticator resolves an opaque session credential to an Identity.
// Implementations return AppError codes auth_token_invalid or
// auth_token_expired on failure.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (types.Identity, error)
}

// HealthProbe is a liveness check for one critical dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Server bundles the router with every cross-cutting dependency so tests can
// inject fakes and main can wire production implementations.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// V1RouteRegistrars are invoked under the /v1 route group. Populated by
	// the entry point so core never imports handler packages.
	V1RouteRegistrars []func(r chi.Router)

	// WebhookRegistrar mounts the provider webhook routes, which sit outside
	// /v1 and bypass session auth.
	WebhookRegistrar func(r chi.Router)

	router *chi.Mux
}

// NewServer creates a Server with its router. Routes are mounted separately
// via MountRoutes so tests can customize registration first.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for ListenAndServe and the
// Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}
