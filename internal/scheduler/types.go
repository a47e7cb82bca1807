// Package scheduler implements the scheduled maintenance jobs: promoting
// deferred storage tier changes at the billing boundary and archiving the
// processed billing event log to cold storage.
//
// Both jobs run behind a single multiplexer keyed by MaintenancePayload.Task
// so one batch binary serves every schedule. They accept a reference time
// rather than calling time.Now directly, which keeps runs deterministic in
// tests and allows manual backfills.
package scheduler

import "time"

// TaskType identifies which maintenance service handles a scheduled event.
type TaskType string

const (
	// TaskApplyStorageChanges promotes pending storage tiers. Scheduled for
	// 00:05 UTC on the 1st of every month, just after the billing anchor.
	TaskApplyStorageChanges TaskType = "apply_storage_changes"
	// TaskArchiveEvents compresses and offloads processed billing events
	// past the retention window.
	TaskArchiveEvents TaskType = "archive_events"
)

// MaintenancePayload is the JSON payload delivered to the batch entrypoint.
// ReferenceTime overrides "now" for manual invocation and backfilling; when
// nil, the wall clock is used.
type MaintenancePayload struct {
	Task          TaskType   `json:"task"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
