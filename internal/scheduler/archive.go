package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"contracthub/internal/types"
)

const (
	// archivePageSize bounds one fetch-archive-delete cycle so a single run
	// stays well inside the Lambda timeout.
	archivePageSize = 2000
	// archiveObjectSize is the number of events per archive object.
	archiveObjectSize = 500
	// archiveConcurrency bounds parallel uploads within a page.
	archiveConcurrency = 4
)

// EventArchiveDB defines the event log operations the archive batch needs.
type EventArchiveDB interface {
	ListProcessedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.BillingEvent, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
}

// ArchiveStore is the cold storage destination for event archives.
type ArchiveStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// s3Putter is the slice of the S3 client the store uses.
type s3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ArchiveStore uploads archives to an S3 bucket.
type S3ArchiveStore struct {
	client s3Putter
	bucket string
}

// NewS3ArchiveStore creates an S3-backed archive store.
func NewS3ArchiveStore(client *s3.Client, bucket string) *S3ArchiveStore {
	return &S3ArchiveStore{client: client, bucket: bucket}
}

// Put implements ArchiveStore.
func (s *S3ArchiveStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/jsonl"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("uploading archive %s: %w", key, err)
	}
	return nil
}

// DirArchiveStore writes archives to a local directory. Used in local and
// demo environments where no bucket is configured.
type DirArchiveStore struct {
	dir string
}

// NewDirArchiveStore creates a filesystem-backed archive store.
func NewDirArchiveStore(dir string) *DirArchiveStore {
	return &DirArchiveStore{dir: dir}
}

// Put implements ArchiveStore.
func (d *DirArchiveStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(d.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing archive %s: %w", path, err)
	}
	return nil
}

// EventArchiveService offloads processed billing events past the retention
// window: gzip-compressed JSONL objects go to cold storage, then the archived
// rows are deleted from the online table.
type EventArchiveService struct {
	db        EventArchiveDB
	store     ArchiveStore
	retention time.Duration
	metrics   BatchMetrics
	logger    *slog.Logger
}

// NewEventArchiveService creates an EventArchiveService. metrics may be nil.
func NewEventArchiveService(db EventArchiveDB, store ArchiveStore, retention time.Duration, metrics BatchMetrics, logger *slog.Logger) *EventArchiveService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventArchiveService{
		db:        db,
		store:     store,
		retention: retention,
		metrics:   metrics,
		logger:    logger,
	}
}

// Archive pages through expired events until none remain. Rows are only
// deleted after their archive object uploaded, so a crash mid-run re-archives
// at worst and never loses events.
func (s *EventArchiveService) Archive(ctx context.Context, now time.Time) (types.BatchResult, error) {
	var result types.BatchResult
	cutoff := now.Add(-s.retention)

	for {
		events, err := s.db.ListProcessedBefore(ctx, cutoff, archivePageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			break
		}

		archived, failed := s.archivePage(ctx, now, events)
		result.Success += archived
		result.Failed += failed

		if failed > 0 || len(events) < archivePageSize {
			break
		}
	}

	if s.metrics != nil {
		s.metrics.RecordBatch(ctx, string(TaskArchiveEvents), result.Success, result.Failed)
	}

	s.logger.InfoContext(ctx, "event archive run complete",
		"archived", result.Success,
		"failed", result.Failed,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return result, nil
}

// archivePage uploads one page as a set of bounded-concurrency objects and
// deletes the rows whose objects uploaded.
func (s *EventArchiveService) archivePage(ctx context.Context, now time.Time, events []*types.BillingEvent) (archived int, failed int) {
	var mu sync.Mutex
	var deletable []string

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(archiveConcurrency)

	for start := 0; start < len(events); start += archiveObjectSize {
		chunk := events[start:min(start+archiveObjectSize, len(events))]
		g.Go(func() error {
			data, err := encodeArchive(chunk)
			if err != nil {
				return err
			}
			key := archiveKey(now, chunk[0].ID)
			if err := s.store.Put(gCtx, key, data); err != nil {
				return err
			}
			s.logger.InfoContext(gCtx, "event archive object written",
				"key", key,
				"events", len(chunk),
			)
			mu.Lock()
			for _, ev := range chunk {
				deletable = append(deletable, ev.ID)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "event archive upload failed", "error", err)
	}

	deleted, err := s.db.DeleteByIDs(ctx, deletable)
	if err != nil {
		s.logger.ErrorContext(ctx, "deleting archived events failed", "error", err)
		return 0, len(events)
	}
	return deleted, len(events) - len(deletable)
}

// encodeArchive serializes events as gzip-compressed JSONL.
func encodeArchive(events []*types.BillingEvent) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("encoding event %s: %w", ev.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

// archiveKey names an archive object by run month and its first event ID,
// which makes reruns overwrite their own objects instead of piling up.
func archiveKey(now time.Time, firstEventID string) string {
	safe := strings.ReplaceAll(firstEventID, "/", "_")
	return fmt.Sprintf("billing-events/%d/%02d/batch_%s.jsonl.gz", now.Year(), now.Month(), safe)
}
