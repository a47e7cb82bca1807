// Package main is the entrypoint for the maintenance batch Lambda.
//
// The batch acts as a maintenance multiplexer: EventBridge rules send JSON
// payloads naming the TaskType, and the handler routes execution to the
// matching scheduler service. Consolidating the low-frequency jobs into one
// function keeps cold starts and infrastructure sprawl down.
//
// Tasks:
//   - apply_storage_changes: promote pending storage tiers at the billing
//     boundary (scheduled 00:05 UTC on the 1st of each month)
//   - archive_events: compress processed billing events past retention into
//     gzip JSONL objects and delete the originals
//
// With APP_ENV=local the handler reads one payload from stdin and runs it
// once instead of starting the Lambda runtime.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"contracthub/internal/config"
	"contracthub/internal/db"
	"contracthub/internal/metrics"
	"contracthub/internal/scheduler"
	"contracthub/internal/types"
)

// StorageChangeApplier promotes pending storage tiers.
type StorageChangeApplier interface {
	ApplyPending(ctx context.Context, now time.Time) (types.BatchResult, error)
}

// EventArchiver compresses and removes aged billing events.
type EventArchiver interface {
	Archive(ctx context.Context, now time.Time) (types.BatchResult, error)
}

// Handler routes a MaintenancePayload to the matching service.
type Handler struct {
	StorageChanges StorageChangeApplier
	Archiver       EventArchiver
	Logger         *slog.Logger
}

// Handle processes one maintenance payload. The reference time defaults to
// the wall clock and can be pinned via the payload for backfills.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	logger.InfoContext(ctx, "maintenance handler invoked",
		"task", string(payload.Task),
		"reference_time", now.Format(time.RFC3339),
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	result, err := h.dispatch(ctx, payload.Task, now)
	if err != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", string(payload.Task),
			"error", err,
		)
		return "", fmt.Errorf("task %s failed: %w", payload.Task, err)
	}

	summary := fmt.Sprintf("task %s complete: %d succeeded, %d failed",
		payload.Task, result.Success, result.Failed)
	logger.InfoContext(ctx, summary,
		"task", string(payload.Task),
		"success", result.Success,
		"failed", result.Failed,
	)
	return summary, nil
}

func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (types.BatchResult, error) {
	switch task {
	case scheduler.TaskApplyStorageChanges:
		return h.StorageChanges.ApplyPending(ctx, now)
	case scheduler.TaskArchiveEvents:
		return h.Archiver.Archive(ctx, now)
	default:
		return types.BatchResult{}, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("maintenance batch initializing (cold start)")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	contracts := db.NewContractRepository(pool)
	events := db.NewEventRepository(pool)

	recorder, s3Client := newAWSDeps(ctx, cfg, logger)

	var store scheduler.ArchiveStore
	if cfg.Batch.ArchiveBucket != "" && s3Client != nil {
		store = scheduler.NewS3ArchiveStore(s3Client, cfg.Batch.ArchiveBucket)
	} else {
		logger.Info("no archive bucket configured, archiving to local directory",
			"dir", cfg.Batch.ArchiveDir,
		)
		store = scheduler.NewDirArchiveStore(cfg.Batch.ArchiveDir)
	}

	handler := &Handler{
		StorageChanges: scheduler.NewStorageChangeService(contracts, recorder, logger),
		Archiver:       scheduler.NewEventArchiveService(events, store, cfg.Batch.EventRetention, recorder, logger),
		Logger:         logger,
	}

	logger.Info("maintenance batch initialized",
		"event_retention", cfg.Batch.EventRetention.String(),
		"archive_bucket", cfg.Batch.ArchiveBucket,
	)

	// Local mode: read one JSON payload from stdin and run it, no Lambda
	// runtime needed.
	// Usage: echo '{"task":"apply_storage_changes"}' | go run cmd/storage-batch/main.go
	if cfg.Environment == "local" {
		if err := runLocal(ctx, handler, logger); err != nil {
			logger.Error("local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

func runLocal(ctx context.Context, handler *Handler, logger *slog.Logger) error {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("no payload received on stdin")
	}

	var payload scheduler.MaintenancePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	summary, err := handler.Handle(ctx, payload)
	if err != nil {
		return err
	}
	logger.Info(summary)
	return nil
}

// newAWSDeps builds the CloudWatch recorder and S3 client. Failures degrade
// to no-op metrics and the local directory archive store.
func newAWSDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*metrics.Recorder, *s3.Client) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Warn("failed to load AWS SDK config, metrics and S3 archive disabled",
			"error", err,
		)
		return metrics.NewRecorder(nil, cfg.AWS.MetricNamespace, logger), nil
	}

	recorder := metrics.NewRecorder(cloudwatch.NewFromConfig(awsCfg), cfg.AWS.MetricNamespace, logger)
	return recorder, s3.NewFromConfig(awsCfg)
}
