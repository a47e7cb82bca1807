package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contracthub/internal/core"
	"contracthub/internal/types"
)

// maxWebhookBodySize caps a billing provider webhook payload at 64 KB.
const maxWebhookBodySize = 64 * 1024

// SignatureVerifier checks the provider's signature header against the
// shared signing secret.
type SignatureVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// EventProcessor reconciles a verified provider event against the ledger.
type EventProcessor interface {
	Process(ctx context.Context, payload []byte) error
}

// StripeWebhookHandler receives asynchronous events from the billing
// provider. It sits outside the session auth group; authentication is the
// Stripe-Signature header.
type StripeWebhookHandler struct {
	verifier  SignatureVerifier
	processor EventProcessor
	secret    string
	logger    *slog.Logger
}

func NewStripeWebhookHandler(verifier SignatureVerifier, processor EventProcessor, secret string, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		processor: processor,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// Handle processes an incoming provider event. Signature failures are
// rejected so the provider retries; once the signature checks out the
// delivery is acknowledged with 200 even when reconciliation fails, since
// the failure is recorded and a retry of the same event would be deduped
// anyway.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	if err := h.processor.Process(r.Context(), payload); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}
