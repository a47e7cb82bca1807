// Package portal serves the billing self-service surface: the customer's
// payment history and hosted billing portal sessions. Both resolve the
// caller's billing customer through the contract ledger, so only customers
// with a provisioned contract can reach the provider account.
package portal

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"contracthub/internal/external"
	"contracthub/internal/types"
)

// historyPageSize bounds each provider list call.
const historyPageSize = 50

// BillingGateway is the subset of the billing provider client the portal
// endpoints need.
type BillingGateway interface {
	ListPaymentIntents(ctx context.Context, customerID string, limit int) ([]external.Payment, error)
	ListPaidInvoices(ctx context.Context, customerID string, limit int) ([]external.Payment, error)
	CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error)
}

// ContractReader is the ledger access used to resolve the caller's billing
// customer.
type ContractReader interface {
	ListByUser(ctx context.Context, userID string) ([]*types.Contract, error)
	ListByEmail(ctx context.Context, email string) ([]*types.Contract, error)
}

// Service exposes payment history and billing portal access.
type Service struct {
	gateway   BillingGateway
	contracts ContractReader
	logger    *slog.Logger
	returnURL string
}

// Config holds the dependencies for creating a Service.
type Config struct {
	Gateway   BillingGateway
	Contracts ContractReader
	Logger    *slog.Logger
	ReturnURL string
}

// NewService creates a portal Service. A nil Logger falls back to the
// default logger.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway:   cfg.Gateway,
		contracts: cfg.Contracts,
		logger:    logger,
		returnURL: cfg.ReturnURL,
	}
}

// History is the merged payment history of one billing customer.
type History struct {
	Payments []external.Payment `json:"payments"`
	Total    int64              `json:"total"`
}

// PaymentHistory returns the caller's one-off charges and paid invoices as
// a single list, newest first. The two provider lists are fetched in
// parallel.
func (s *Service) PaymentHistory(ctx context.Context, identity *types.Identity) (History, error) {
	customerID, err := s.resolveCustomer(ctx, identity)
	if err != nil {
		return History{}, err
	}

	var intents, invoices []external.Payment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		intents, err = s.gateway.ListPaymentIntents(gctx, customerID, historyPageSize)
		return err
	})
	g.Go(func() error {
		var err error
		invoices, err = s.gateway.ListPaidInvoices(gctx, customerID, historyPageSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return History{}, err
	}

	payments := make([]external.Payment, 0, len(intents)+len(invoices))
	payments = append(payments, intents...)
	payments = append(payments, invoices...)
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})

	var total int64
	for _, p := range payments {
		total += p.AmountMinor
	}

	s.logger.InfoContext(ctx, "payment history assembled",
		"customer_id", customerID,
		"payment_count", len(payments),
	)
	return History{Payments: payments, Total: total}, nil
}

// PortalSession opens a hosted billing portal session for the caller and
// returns its URL.
func (s *Service) PortalSession(ctx context.Context, identity *types.Identity) (string, error) {
	customerID, err := s.resolveCustomer(ctx, identity)
	if err != nil {
		return "", err
	}

	url, err := s.gateway.CreatePortalSession(ctx, customerID, s.returnURL)
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "billing portal session created", "customer_id", customerID)
	return url, nil
}

// resolveCustomer finds the caller's billing customer through the contract
// ledger. Contracts provisioned before the account was claimed carry no
// user ID yet, so the lookup falls back to the billing email.
func (s *Service) resolveCustomer(ctx context.Context, identity *types.Identity) (string, error) {
	contracts, err := s.contracts.ListByUser(ctx, identity.SubjectID)
	if err != nil {
		return "", err
	}
	if len(contracts) == 0 && identity.Email != "" {
		contracts, err = s.contracts.ListByEmail(ctx, identity.Email)
		if err != nil {
			return "", err
		}
	}

	for _, c := range contracts {
		if c.StripeCustomerID != "" {
			return c.StripeCustomerID, nil
		}
	}
	return "", types.NewAppError(types.ErrCodeNotFoundCustomer, "no billing customer on record", nil)
}
