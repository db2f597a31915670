package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"
	"github.com/jo-hoe/palettebox/internal/backend/blobstore"
	"github.com/jo-hoe/palettebox/internal/backend/database"
	"github.com/robfig/cron/v3"
)

const DefaultBatchSize = 100

// Result summarises a single sweep.
type Result struct {
	Deleted int
	Failed  int
	// Retained counts queued paths that an image references again; their blobs stay.
	Retained int
	Skipped  bool
}

// Sweeper removes the blobs of deleted characters that are queued for cleanup.
type Sweeper struct {
	db        database.DatabaseService
	blobs     blobstore.BlobStore
	lock      *flock.Flock
	batchSize int

	mu   sync.Mutex
	cron *cron.Cron
}

// New returns a sweeper. An empty lockPath disables cross-process locking.
func New(db database.DatabaseService, blobs blobstore.BlobStore, lockPath string, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	s := &Sweeper{db: db, blobs: blobs, batchSize: batchSize}
	if lockPath != "" {
		s.lock = flock.New(lockPath)
	}
	return s
}

// Sweep processes one batch. When another process holds the lock the sweep is skipped.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			return Result{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			slog.Info("Sweep: another sweeper holds the lock, skipping")
			return Result{Skipped: true}, nil
		}
		defer func() {
			if err := s.lock.Unlock(); err != nil {
				slog.Warn("Sweep: failed to release lock", "error", err)
			}
		}()
	}

	pending, err := s.db.GetPendingBlobDeletions(ctx, s.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("load pending blob deletions: %w", err)
	}

	var result Result
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		referenced, err := s.db.IsFilePathReferenced(ctx, p.FilePath)
		if err != nil {
			return result, fmt.Errorf("check references of %s: %w", p.FilePath, err)
		}
		if referenced {
			slog.Warn("Sweep: queued blob is referenced by an image, keeping it", "path", p.FilePath)
			if err := s.db.CompleteBlobDeletion(ctx, p.ID); err != nil {
				return result, fmt.Errorf("complete deletion %s: %w", p.ID, err)
			}
			result.Retained++
			continue
		}

		err = s.blobs.Delete(ctx, p.FilePath)
		if err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			result.Failed++
			slog.Error("Sweep: failed to delete blob", "path", p.FilePath, "attempts", p.Attempts+1, "error", err)
			if ferr := s.db.FailBlobDeletion(ctx, p.ID, err.Error()); ferr != nil {
				return result, fmt.Errorf("record failed deletion %s: %w", p.ID, ferr)
			}
			continue
		}
		if err := s.db.CompleteBlobDeletion(ctx, p.ID); err != nil {
			return result, fmt.Errorf("complete deletion %s: %w", p.ID, err)
		}
		result.Deleted++
	}

	if len(pending) > 0 {
		slog.Info("Sweep: finished", "deleted", result.Deleted, "failed", result.Failed, "retained", result.Retained)
	}
	return result, nil
}

// Start runs Sweep on the given cron schedule until Stop is called.
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			slog.Error("Sweep: scheduled run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	slog.Info("Start: blob sweeper scheduled", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
