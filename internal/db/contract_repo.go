package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"contracthub/internal/types"
)

// ContractRepository provides data access for the contracts table, the
// internal ledger of subscription state. Mutations that participate in the
// dual-write flow (orchestrator plus webhook reconciliation) are written as
// conditional statements so that duplicate or out-of-order deliveries
// converge on the same final row.
type ContractRepository struct {
	db DBTX
}

// NewContractRepository creates a new ContractRepository backed by the given
// database connection (pool or transaction).
func NewContractRepository(db DBTX) *ContractRepository {
	return &ContractRepository{db: db}
}

// contractColumns defines the standard set of columns selected for contract
// queries. Used consistently across all query methods to avoid column drift.
const contractColumns = `c.id, c.user_id, c.plan_id, c.plan_name, c.status,
	c.start_date, c.end_date, c.stripe_customer_id, c.stripe_subscription_id,
	c.selected_apps, c.has_openai_proxy, c.current_storage_tier,
	c.pending_storage_tier, c.storage_change_applied_at, c.customer_email,
	c.created_at, c.updated_at`

// scanContract scans a single contract row into a types.Contract struct.
// The columns must match the order defined in contractColumns.
func scanContract(row pgx.Row) (*types.Contract, error) {
	var c types.Contract
	var stripeSubID *string
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.PlanID,
		&c.PlanName,
		&c.Status,
		&c.StartDate,
		&c.EndDate,
		&c.StripeCustomerID,
		&stripeSubID,
		&c.SelectedApps,
		&c.HasOpenAIProxy,
		&c.CurrentStorageTier,
		&c.PendingStorageTier,
		&c.StorageChangeAppliedAt,
		&c.CustomerEmail,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeSubID != nil {
		c.StripeSubscriptionID = *stripeSubID
	}
	return &c, nil
}

// Create inserts a new contract record.
func (r *ContractRepository) Create(ctx context.Context, c *types.Contract) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO contracts (id, user_id, plan_id, plan_name, status,
		 start_date, end_date, stripe_customer_id, stripe_subscription_id,
		 selected_apps, has_openai_proxy, current_storage_tier,
		 pending_storage_tier, customer_email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		 COALESCE($15, NOW()), COALESCE($15, NOW()))`,
		c.ID,
		c.UserID,
		c.PlanID,
		c.PlanName,
		c.Status,
		c.StartDate,
		c.EndDate,
		c.StripeCustomerID,
		nilIfEmpty(c.StripeSubscriptionID),
		c.SelectedApps,
		c.HasOpenAIProxy,
		c.CurrentStorageTier,
		c.PendingStorageTier,
		c.CustomerEmail,
		nilIfZeroTime(c.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create contract", err)
	}
	return nil
}

// GetByID retrieves a contract by its ID.
// Returns ErrCodeNotFoundContract if no contract exists.
func (r *ContractRepository) GetByID(ctx context.Context, id string) (*types.Contract, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts c WHERE c.id = $1`,
		id,
	)

	c, err := scanContract(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundContract, "contract not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve contract", err)
	}
	return c, nil
}

// GetBySubscriptionRef retrieves a contract by its billing-gateway
// subscription reference. This is the correlation key used by webhook
// reconciliation to locate the row the orchestrator may already have written.
// Returns ErrCodeNotFoundContract if no contract carries the reference.
func (r *ContractRepository) GetBySubscriptionRef(ctx context.Context, subscriptionID string) (*types.Contract, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts c
		 WHERE c.stripe_subscription_id = $1`,
		subscriptionID,
	)

	c, err := scanContract(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundContract, "contract not found for subscription", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve contract by subscription", err)
	}
	return c, nil
}

// GetByCustomerRef retrieves the most recent contract for a billing customer
// reference. The provisioning paths use this existence check to converge on
// one contract per customer instead of each creating their own.
// Returns ErrCodeNotFoundContract when the customer has no contract yet.
func (r *ContractRepository) GetByCustomerRef(ctx context.Context, customerID string) (*types.Contract, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts c
		 WHERE c.stripe_customer_id = $1
		 ORDER BY c.created_at DESC
		 LIMIT 1`,
		customerID,
	)

	c, err := scanContract(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundContract, "contract not found for customer", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve contract by customer", err)
	}
	return c, nil
}

// ListByUser returns all contracts owned by the given user, newest first.
func (r *ContractRepository) ListByUser(ctx context.Context, userID string) ([]*types.Contract, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts c
		 WHERE c.user_id = $1
		 ORDER BY c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list contracts", err)
	}
	defer rows.Close()

	return collectContracts(rows)
}

// ListByEmail returns all contracts associated with the given customer email,
// matched case-insensitively, newest first. This supports lookups for
// customers whose contracts were created by reconciliation before they ever
// signed in.
func (r *ContractRepository) ListByEmail(ctx context.Context, email string) ([]*types.Contract, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts c
		 WHERE lower(c.customer_email) = lower($1)
		 ORDER BY c.created_at DESC`,
		email,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list contracts by email", err)
	}
	defer rows.Close()

	return collectContracts(rows)
}

func collectContracts(rows pgx.Rows) ([]*types.Contract, error) {
	contracts := make([]*types.Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan contract row", err)
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate contract rows", err)
	}
	return contracts, nil
}

// MergeApps adds the given app IDs to a contract's selected set using a
// set-union in SQL. Re-running the statement with the same IDs is a no-op,
// which makes the add-on dual write (orchestrator then webhook) idempotent
// without coordination between the two writers.
func (r *ContractRepository) MergeApps(ctx context.Context, contractID string, apps []string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE contracts SET
		 selected_apps = ARRAY(SELECT DISTINCT a FROM unnest(selected_apps || $1::text[]) AS a ORDER BY a),
		 updated_at = NOW()
		 WHERE id = $2`,
		apps,
		contractID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to merge apps", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundContract, "contract not found", nil)
	}
	return nil
}

// SetPendingStorageTier records a deferred storage-tier change. The WHERE
// clause only matches when no change is already pending and the requested
// tier differs from the current one, so the database acts as the mutex for
// concurrent requests. Zero rows affected means the precondition failed and
// the caller must re-read the contract to report which rule was violated.
func (r *ContractRepository) SetPendingStorageTier(ctx context.Context, contractID string, tier string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE contracts SET pending_storage_tier = $1, updated_at = NOW()
		 WHERE id = $2
		   AND pending_storage_tier IS NULL
		   AND current_storage_tier <> $1`,
		tier,
		contractID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to set pending storage tier", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyPendingStorageTier promotes a contract's pending storage tier to
// current and clears the pending marker. The conditional WHERE makes repeated
// application (a rerun batch, or a concurrent worker) a no-op: only the first
// execution observes a non-NULL pending tier. Returns true when this call
// performed the promotion.
func (r *ContractRepository) ApplyPendingStorageTier(ctx context.Context, contractID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE contracts SET
		 current_storage_tier = pending_storage_tier,
		 pending_storage_tier = NULL,
		 storage_change_applied_at = NOW(),
		 updated_at = NOW()
		 WHERE id = $1 AND pending_storage_tier IS NOT NULL`,
		contractID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply pending storage tier", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPendingStorageChanges returns the active contracts with a deferred
// storage change waiting to be applied at the billing boundary. Contracts
// that left the active state after requesting a change are excluded; their
// pending tier is never promoted.
func (r *ContractRepository) ListPendingStorageChanges(ctx context.Context) ([]*types.Contract, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts c
		 WHERE c.pending_storage_tier IS NOT NULL
		   AND c.status = 'active'
		 ORDER BY c.updated_at ASC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending storage changes", err)
	}
	defer rows.Close()

	return collectContracts(rows)
}

// UpsertBySubscriptionRef writes a contract keyed on its subscription
// reference. The synchronous orchestrator and the asynchronous webhook
// reconciler both call this; whichever arrives second folds into the row the
// first created instead of duplicating it. App IDs are merged as a set union,
// the status is only ever promoted (a row already active is not demoted to
// pending by a late-arriving event), and an empty user_id is backfilled once
// reconciliation has resolved the account, so the final row is the same
// regardless of which path wrote first.
func (r *ContractRepository) UpsertBySubscriptionRef(ctx context.Context, c *types.Contract) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO contracts (id, user_id, plan_id, plan_name, status,
		 start_date, end_date, stripe_customer_id, stripe_subscription_id,
		 selected_apps, has_openai_proxy, current_storage_tier,
		 pending_storage_tier, customer_email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		 ON CONFLICT (stripe_subscription_id) DO UPDATE SET
		   user_id = CASE WHEN contracts.user_id = '' THEN EXCLUDED.user_id ELSE contracts.user_id END,
		   selected_apps = ARRAY(SELECT DISTINCT a FROM unnest(contracts.selected_apps || EXCLUDED.selected_apps) AS a ORDER BY a),
		   has_openai_proxy = contracts.has_openai_proxy OR EXCLUDED.has_openai_proxy,
		   status = CASE WHEN contracts.status = 'pending' THEN EXCLUDED.status ELSE contracts.status END,
		   updated_at = NOW()`,
		c.ID,
		c.UserID,
		c.PlanID,
		c.PlanName,
		c.Status,
		c.StartDate,
		c.EndDate,
		c.StripeCustomerID,
		c.StripeSubscriptionID,
		c.SelectedApps,
		c.HasOpenAIProxy,
		c.CurrentStorageTier,
		c.PendingStorageTier,
		c.CustomerEmail,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert contract", err)
	}
	return nil
}
