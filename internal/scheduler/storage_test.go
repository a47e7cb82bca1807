package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"contracthub/internal/types"
)

func schedulerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type mockStorageDB struct {
	pending []*types.Contract
	listErr error

	applyErrByID map[string]error
	appliedIDs   []string
	alreadyDone  map[string]bool
}

func (m *mockStorageDB) ListPendingStorageChanges(_ context.Context) ([]*types.Contract, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.pending, nil
}

func (m *mockStorageDB) ApplyPendingStorageTier(_ context.Context, contractID string) (bool, error) {
	if err := m.applyErrByID[contractID]; err != nil {
		return false, err
	}
	if m.alreadyDone[contractID] {
		return false, nil
	}
	m.appliedIDs = append(m.appliedIDs, contractID)
	return true, nil
}

type mockBatchMetrics struct {
	task    string
	success int
	failed  int
	calls   int
}

func (m *mockBatchMetrics) RecordBatch(_ context.Context, task string, success int, failed int) {
	m.calls++
	m.task = task
	m.success = success
	m.failed = failed
}

func pendingContract(id string, tier string) *types.Contract {
	return &types.Contract{
		ID:                 id,
		Status:             types.ContractActive,
		CurrentStorageTier: "5gb",
		PendingStorageTier: &tier,
	}
}

var batchNow = time.Date(2025, 4, 1, 0, 5, 0, 0, time.UTC)

func TestApplyPending_PromotesAllQueuedChanges(t *testing.T) {
	db := &mockStorageDB{pending: []*types.Contract{
		pendingContract("ct-1", "50gb"),
		pendingContract("ct-2", "200gb"),
	}}
	m := &mockBatchMetrics{}
	svc := NewStorageChangeService(db, m, schedulerTestLogger())

	result, err := svc.ApplyPending(context.Background(), batchNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2/0", result)
	}
	if len(db.appliedIDs) != 2 {
		t.Errorf("applied = %v", db.appliedIDs)
	}
	if m.task != string(TaskApplyStorageChanges) || m.success != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestApplyPending_ContinuesPastFailures(t *testing.T) {
	db := &mockStorageDB{
		pending: []*types.Contract{
			pendingContract("ct-1", "50gb"),
			pendingContract("ct-2", "50gb"),
			pendingContract("ct-3", "200gb"),
		},
		applyErrByID: map[string]error{"ct-2": errors.New("deadlock detected")},
	}
	svc := NewStorageChangeService(db, nil, schedulerTestLogger())

	result, err := svc.ApplyPending(context.Background(), batchNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 2/1", result)
	}
}

func TestApplyPending_ConcurrentRunIsNotAFailure(t *testing.T) {
	db := &mockStorageDB{
		pending:     []*types.Contract{pendingContract("ct-1", "50gb")},
		alreadyDone: map[string]bool{"ct-1": true},
	}
	svc := NewStorageChangeService(db, nil, schedulerTestLogger())

	result, err := svc.ApplyPending(context.Background(), batchNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success != 0 || result.Failed != 0 {
		t.Errorf("result = %+v, want 0/0", result)
	}
}

func TestApplyPending_EmptyQueue(t *testing.T) {
	db := &mockStorageDB{}
	m := &mockBatchMetrics{}
	svc := NewStorageChangeService(db, m, schedulerTestLogger())

	result, err := svc.ApplyPending(context.Background(), batchNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success != 0 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}
	if m.calls != 0 {
		t.Errorf("metrics should not be emitted for an empty queue")
	}
}

func TestApplyPending_ListFailureAbortsRun(t *testing.T) {
	db := &mockStorageDB{listErr: errors.New("connection refused")}
	svc := NewStorageChangeService(db, nil, schedulerTestLogger())

	if _, err := svc.ApplyPending(context.Background(), batchNow); err == nil {
		t.Fatal("expected the list error to propagate")
	}
}
