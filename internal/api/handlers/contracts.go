package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contracthub/internal/billing"
	"contracthub/internal/catalog"
	"contracthub/internal/core"
	"contracthub/internal/types"
)

// ContractReader is the subset of the contract repository the read-only
// endpoints need.
type ContractReader interface {
	GetByID(ctx context.Context, id string) (*types.Contract, error)
	ListByUser(ctx context.Context, userID string) ([]*types.Contract, error)
	ListByEmail(ctx context.Context, email string) ([]*types.Contract, error)
}

// ContractHandler serves the contract list and detail endpoints plus the
// public price catalog.
type ContractHandler struct {
	contracts ContractReader
	catalog   *catalog.Catalog
	logger    *slog.Logger
}

func NewContractHandler(contracts ContractReader, cat *catalog.Catalog, logger *slog.Logger) *ContractHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContractHandler{
		contracts: contracts,
		catalog:   cat,
		logger:    logger,
	}
}

// RegisterRoutes mounts the contract routes. /catalog is auth-optional so
// the checkout page can render prices before the visitor has an account.
func (h *ContractHandler) RegisterRoutes(r chi.Router) {
	r.Get("/catalog", h.HandleCatalog)
	r.Get("/contracts", h.HandleList)
	r.Get("/contracts/{contractID}", h.HandleGet)
}

// catalogResponse is the public price book. Prices are in major units, the
// same way the quote reports them.
type catalogResponse struct {
	Plans        []catalog.Plan        `json:"plans"`
	Apps         []catalog.App         `json:"apps"`
	Proxy        catalog.ProxyService  `json:"proxy"`
	StorageTiers []catalog.StorageTier `json:"storage_tiers"`
}

// HandleCatalog processes GET /v1/catalog.
func (h *ContractHandler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: catalogResponse{
		Plans:        h.catalog.Plans(),
		Apps:         h.catalog.Apps(),
		Proxy:        h.catalog.Proxy(),
		StorageTiers: h.catalog.StorageTiers(),
	}})
}

// contractView decorates a ledger contract with its recomputed monthly
// price. The amount is never stored; it always reflects the current catalog.
type contractView struct {
	*types.Contract
	MonthlyQuote *billing.Quote `json:"monthly_quote,omitempty"`
}

// HandleList processes GET /v1/contracts, returning the caller's contracts.
// Contracts provisioned before the account was claimed carry no user ID yet,
// so the lookup falls back to the billing email.
func (h *ContractHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	contracts, err := h.contracts.ListByUser(r.Context(), identity.SubjectID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if len(contracts) == 0 && identity.Email != "" {
		contracts, err = h.contracts.ListByEmail(r.Context(), identity.Email)
		if err != nil {
			core.Error(w, r, err)
			return
		}
	}

	views := make([]contractView, 0, len(contracts))
	for _, c := range contracts {
		views = append(views, h.decorate(c))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: views})
}

// HandleGet processes GET /v1/contracts/{contractID}.
func (h *ContractHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := types.GetIdentity(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	contract, err := h.contracts.GetByID(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if !ownedBy(&identity, contract) {
		// Report not-found rather than forbidden so contract IDs cannot be
		// probed for existence.
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundContract, "contract not found", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.decorate(contract)})
}

func (h *ContractHandler) decorate(c *types.Contract) contractView {
	view := contractView{Contract: c}

	quote, err := billing.PriceContract(h.catalog, c)
	if err != nil {
		// A contract referencing a retired plan still renders, just without
		// a recomputed price.
		h.logger.Warn("failed to price contract from catalog",
			"contract_id", c.ID,
			"plan_id", c.PlanID,
			"error", err,
		)
		return view
	}

	view.MonthlyQuote = &quote
	return view
}

// ownedBy reports whether the identity owns the contract, matching by user
// ID when the contract has been claimed and by billing email otherwise.
func ownedBy(identity *types.Identity, c *types.Contract) bool {
	if c.UserID != "" {
		return c.UserID == identity.SubjectID
	}
	return c.CustomerEmail != "" && c.CustomerEmail == identity.Email
}
