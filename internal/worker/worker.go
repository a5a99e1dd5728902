// Package worker runs the background side of snapshot ingestion: it claims
// queued jobs from the store, fetches the image, runs it through the vision
// pipeline, and books the outcome. Several pools may run against the same
// database; the claim query guarantees each job is handed to exactly one.
//
// There is no lock reaper. A worker killed mid-job leaves its claim in
// place, so the job sits in running with a stale locked_at until an
// operator fails it by hand and re-queues it through the retry endpoint.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coldcrate/fridgevision/internal/cache"
	"github.com/coldcrate/fridgevision/internal/ingest"
	"github.com/coldcrate/fridgevision/internal/storage"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// statusTTL bounds how long mirrored statuses live in the cache.
const statusTTL = 30 * time.Minute

// Config tunes the pool. Zero fields fall back to the package defaults.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	Backoff      store.Backoff
}

// Pool claims process_snapshot jobs and drives them to done or failed.
type Pool struct {
	store    store.Store
	cache    cache.Cache
	blobs    storage.Storage
	pipeline *ingest.Pipeline
	cfg      Config
	logger   *slog.Logger
}

func NewPool(st store.Store, c cache.Cache, blobs storage.Storage, pipeline *ingest.Pipeline, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = Linear(DefaultBackoffBase)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{store: st, cache: c, blobs: blobs, pipeline: pipeline, cfg: cfg, logger: logger}
}

// Run starts the configured number of workers and blocks until ctx is
// cancelled and every in-flight job has been finished.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := "worker-" + uuid.NewString()[:8]
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runLoop(ctx, workerID)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pool) runLoop(ctx context.Context, workerID string) {
	log := p.logger.With("worker_id", workerID)
	log.Info("worker started")
	for {
		if ctx.Err() != nil {
			log.Info("worker stopped")
			return
		}
		job, err := p.store.ClaimNextJob(ctx, models.JobTypeProcessSnapshot, workerID, time.Now().UTC())
		if err != nil {
			if !errors.Is(err, store.ErrNoJobAvailable) && ctx.Err() == nil {
				log.Error("claim job", "error", err)
			}
			p.sleep(ctx)
			continue
		}
		p.handleJob(ctx, log, job)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Pool) handleJob(ctx context.Context, log *slog.Logger, job *models.Job) {
	log = log.With("job_id", job.ID, "snapshot_id", job.SnapshotID, "attempt", job.Attempts+1)
	log.Info("processing snapshot")
	start := time.Now()

	snap, err := p.beginSnapshot(ctx, job)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The snapshot row is gone. Retrying cannot bring it back,
			// so the job fails without consuming attempts.
			log.Warn("snapshot missing, failing job")
			p.finalizeMissing(ctx, log, job)
			return
		}
		log.Error("begin snapshot", "error", err)
		p.finalizeFailure(ctx, log, job, err)
		return
	}
	if snap == nil {
		log.Info("snapshot already complete, acking job")
		if err := p.store.MarkJobDone(context.WithoutCancel(ctx), job.ID); err != nil {
			log.Error("mark job done", "error", err)
		}
		return
	}
	p.mirrorStatus(ctx, snap.ID, models.SnapshotStatusProcessing)
	_ = p.cache.SetJobStatus(ctx, job.ID, models.JobStatusRunning, statusTTL)

	image, err := p.blobs.Get(ctx, snap.Locator())
	if err != nil {
		log.Error("fetch image", "error", err)
		p.finalizeFailure(ctx, log, job, fmt.Errorf("fetch image: %w", err))
		return
	}

	ext, err := p.pipeline.Analyze(ctx, image, "")
	if err != nil {
		// Keep whatever the model said so the failure can be debugged.
		if ext.RawText != "" {
			if rerr := p.store.SetSnapshotRawOutput(context.WithoutCancel(ctx), snap.ID, ext.RawText); rerr != nil {
				log.Error("store raw output", "error", rerr)
			}
		}
		log.Error("analyze image", "error", err)
		p.finalizeFailure(ctx, log, job, err)
		return
	}

	var itemCount int
	err = p.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.SetSnapshotRawOutput(ctx, snap.ID, ext.RawText); err != nil {
			return err
		}
		n, err := p.pipeline.Persist(ctx, tx, snap.ID, ext.Entries)
		if err != nil {
			return err
		}
		itemCount = n
		if err := tx.UpdateSnapshotStatus(ctx, snap.ID, models.SnapshotStatusComplete, nil); err != nil {
			return err
		}
		return tx.MarkJobDone(ctx, job.ID)
	})
	if err != nil {
		log.Error("persist inventory", "error", err)
		p.finalizeFailure(ctx, log, job, err)
		return
	}

	p.mirrorStatus(ctx, snap.ID, models.SnapshotStatusComplete)
	_ = p.cache.SetJobStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusDone, statusTTL)
	_ = p.cache.Delete(context.WithoutCancel(ctx), cache.LatestInventoryKey(snap.UserID))
	log.Info("snapshot processed",
		"items", itemCount,
		"model", ext.Model,
		"duration_ms", time.Since(start).Milliseconds())
}

// beginSnapshot moves the job's snapshot into processing before inference
// starts, so readers polling the status see progress. It returns (nil, nil)
// when the snapshot is already complete: the job is then a duplicate
// delivery and must be acked without work.
func (p *Pool) beginSnapshot(ctx context.Context, job *models.Job) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := p.store.WithTx(ctx, func(tx store.Store) error {
		s, err := tx.GetSnapshotForUpdate(ctx, job.SnapshotID)
		if err != nil {
			return err
		}
		if s.Status == models.SnapshotStatusComplete {
			return nil
		}
		if s.Status != models.SnapshotStatusProcessing {
			if err := tx.UpdateSnapshotStatus(ctx, s.ID, models.SnapshotStatusProcessing, nil); err != nil {
				return err
			}
			s.Status = models.SnapshotStatusProcessing
		}
		snap = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// finalizeFailure books the failed attempt and mirrors the outcome onto the
// snapshot in the same transaction. It runs on a context that survives
// shutdown so a cancelled worker cannot strand a claimed job in running.
func (p *Pool) finalizeFailure(ctx context.Context, log *slog.Logger, job *models.Job, cause error) {
	ctx = context.WithoutCancel(ctx)

	var updated *models.Job
	snapStatus := models.SnapshotStatusPending
	snapUpdated := true
	msg := cause.Error()
	err := p.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		updated, err = tx.RescheduleOrFail(ctx, job.ID, msg, p.cfg.MaxAttempts, p.cfg.Backoff)
		if err != nil {
			return err
		}
		if updated.Status == models.JobStatusFailed {
			snapStatus = models.SnapshotStatusFailed
		}
		// Tolerate a snapshot deleted mid-flight or stuck in a state with
		// no edge to the target (a read failure can leave it pending); the
		// job outcome still counts either way.
		if err := tx.UpdateSnapshotStatus(ctx, job.SnapshotID, snapStatus, &msg); err != nil {
			if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrInvalidTransition) {
				return err
			}
			snapUpdated = false
		}
		return nil
	})
	if err != nil {
		log.Error("finalize failed attempt", "error", err)
		return
	}

	if updated.Status == models.JobStatusFailed {
		log.Error("job failed permanently", "attempts", updated.Attempts, "error", cause)
	} else {
		log.Warn("job requeued", "attempts", updated.Attempts, "run_at", updated.RunAt)
	}
	if snapUpdated {
		p.mirrorStatus(ctx, job.SnapshotID, snapStatus)
	}
	_ = p.cache.SetJobStatus(ctx, job.ID, updated.Status, statusTTL)
}

// finalizeMissing fails the job outright: a missing snapshot is not a
// transient condition, so retries are not consumed.
func (p *Pool) finalizeMissing(ctx context.Context, log *slog.Logger, job *models.Job) {
	ctx = context.WithoutCancel(ctx)
	if err := p.store.FailJob(ctx, job.ID, "snapshot missing"); err != nil {
		log.Error("fail job", "error", err)
		return
	}
	_ = p.cache.SetJobStatus(ctx, job.ID, models.JobStatusFailed, statusTTL)
}

// mirrorStatus copies a snapshot status into the cache. Failures are
// ignored: the cache is an accelerator, the database is the truth.
func (p *Pool) mirrorStatus(ctx context.Context, snapshotID uuid.UUID, status string) {
	_ = p.cache.SetSnapshotStatus(context.WithoutCancel(ctx), snapshotID, status, statusTTL)
}
