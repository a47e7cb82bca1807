package scheduler

import (
	"context"
	"log/slog"
	"time"

	"contracthub/internal/types"
)

// StorageChangeDB defines the ledger operations the storage promotion batch
// needs. Both writes are conditional in SQL, so concurrent or repeated runs
// cannot double-apply a change.
type StorageChangeDB interface {
	// ListPendingStorageChanges returns contracts where pending_storage_tier
	// is set.
	ListPendingStorageChanges(ctx context.Context) ([]*types.Contract, error)

	// ApplyPendingStorageTier promotes the pending tier to current for one
	// contract. Returns false when another run already promoted it.
	ApplyPendingStorageTier(ctx context.Context, contractID string) (bool, error)
}

// BatchMetrics counts batch outcomes.
type BatchMetrics interface {
	RecordBatch(ctx context.Context, task string, success int, failed int)
}

// StorageChangeService promotes deferred storage tier changes. The billing
// side needs no mutation: the tier price difference is settled on the next
// invoice from the ledger's current tier, so promotion is a ledger-only
// transition at the period boundary.
type StorageChangeService struct {
	db      StorageChangeDB
	metrics BatchMetrics
	logger  *slog.Logger
}

// NewStorageChangeService creates a StorageChangeService. metrics may be nil.
func NewStorageChangeService(db StorageChangeDB, metrics BatchMetrics, logger *slog.Logger) *StorageChangeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageChangeService{db: db, metrics: metrics, logger: logger}
}

// ApplyPending promotes every queued storage change. A failure on one
// contract never aborts the batch; the row keeps its pending tier and the
// next run retries it.
func (s *StorageChangeService) ApplyPending(ctx context.Context, now time.Time) (types.BatchResult, error) {
	var result types.BatchResult

	contracts, err := s.db.ListPendingStorageChanges(ctx)
	if err != nil {
		return result, err
	}
	if len(contracts) == 0 {
		s.logger.InfoContext(ctx, "no pending storage changes")
		return result, nil
	}

	s.logger.InfoContext(ctx, "applying pending storage changes",
		"count", len(contracts),
		"reference_time", now.Format(time.RFC3339),
	)

	for _, c := range contracts {
		applied, err := s.db.ApplyPendingStorageTier(ctx, c.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "storage change failed",
				"contract_id", c.ID,
				"error", err,
			)
			result.Failed++
			continue
		}
		if !applied {
			// A concurrent run got there first. Not a failure.
			s.logger.InfoContext(ctx, "storage change already applied", "contract_id", c.ID)
			continue
		}
		if c.PendingStorageTier != nil {
			s.logger.InfoContext(ctx, "storage tier promoted",
				"contract_id", c.ID,
				"from", c.CurrentStorageTier,
				"to", *c.PendingStorageTier,
			)
		}
		result.Success++
	}

	if s.metrics != nil {
		s.metrics.RecordBatch(ctx, string(TaskApplyStorageChanges), result.Success, result.Failed)
	}

	s.logger.InfoContext(ctx, "storage change batch complete",
		"success", result.Success,
		"failed", result.Failed,
	)
	return result, nil
}
