package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coldcrate/fridgevision/pkg/models"
)

// --- Jobs ---

const jobColumns = `id, job_type, snapshot_id, status, attempts, last_error, run_at, locked_by, locked_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.JobType, &j.SnapshotID, &j.Status, &j.Attempts, &j.LastError,
		&j.RunAt, &j.LockedBy, &j.LockedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueJob inserts a queued job that is immediately runnable. The unique
// (job_type, snapshot_id) constraint turns a second enqueue for the same
// snapshot into ErrDuplicateJob.
func (s *PostgresStore) EnqueueJob(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:         uuid.New(),
		JobType:    jobType,
		SnapshotID: snapshotID,
		Status:     models.JobStatusQueued,
		RunAt:      now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO jobs (id, job_type, snapshot_id, status, attempts, run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6, $7)`,
		job.ID, job.JobType, job.SnapshotID, job.Status, job.RunAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateJob
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJobForSnapshot(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_type = $1 AND snapshot_id = $2`, jobType, snapshotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job for snapshot: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically takes the oldest claimable job of the given type:
// queued, run_at due, oldest created_at first with id as tie-break. SKIP
// LOCKED makes concurrent claimers pass over rows another transaction holds,
// so no two workers ever receive the same job. Returns ErrNoJobAvailable
// when the queue is empty.
func (s *PostgresStore) ClaimNextJob(ctx context.Context, jobType string, workerID string, now time.Time) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`WITH next_job AS (
		     SELECT id FROM jobs
		     WHERE job_type = $1 AND status = 'queued' AND run_at <= $3
		     ORDER BY created_at, id
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 UPDATE jobs
		 SET status = 'running', locked_by = $2, locked_at = $3, updated_at = $3
		 WHERE id IN (SELECT id FROM next_job)
		 RETURNING `+jobColumns,
		jobType, workerID, now.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// MarkJobDone finishes the job and clears its lock and error. A missing job
// is a no-op: the work it tracked is finished either way.
func (s *PostgresStore) MarkJobDone(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET status = 'done', last_error = NULL, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	return nil
}

// FailJob moves the job straight to failed without consuming retries, used
// when retrying can never help (the snapshot row is gone).
func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET status = 'failed', last_error = $2, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		 WHERE id = $1`, id, cause)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// RescheduleOrFail records a failed attempt: attempts increments, the lock
// clears, and cause lands in last_error. Below maxAttempts the job re-queues
// with run_at pushed out by backoff(attempts); at or past the limit it goes
// to failed with run_at untouched. Runs in its own transaction unless already
// inside one. Returns the updated job.
func (s *PostgresStore) RescheduleOrFail(ctx context.Context, id uuid.UUID, cause string, maxAttempts int, backoff Backoff) (*models.Job, error) {
	var job *models.Job
	err := s.WithTx(ctx, func(txs Store) error {
		tx := txs.(*PostgresStore)

		j, err := scanJob(tx.db.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}

		now := time.Now().UTC()
		j.Attempts++
		j.LastError = &cause
		j.LockedBy = nil
		j.LockedAt = nil
		j.UpdatedAt = now
		if j.Attempts >= maxAttempts {
			j.Status = models.JobStatusFailed
		} else {
			j.Status = models.JobStatusQueued
			j.RunAt = now.Add(backoff(j.Attempts))
		}

		_, err = tx.db.Exec(ctx,
			`UPDATE jobs
			 SET status = $2, attempts = $3, last_error = $4, run_at = $5,
			     locked_by = NULL, locked_at = NULL, updated_at = $6
			 WHERE id = $1`,
			j.ID, j.Status, j.Attempts, cause, j.RunAt, j.UpdatedAt)
		if err != nil {
			return fmt.Errorf("reschedule job: %w", err)
		}

		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RequeueJob resets a terminal job back to queued with a fresh attempt
// budget, immediately runnable. A job that is still queued or running
// returns ErrJobActive.
func (s *PostgresStore) RequeueJob(ctx context.Context, jobType string, snapshotID uuid.UUID) (*models.Job, error) {
	var job *models.Job
	err := s.WithTx(ctx, func(txs Store) error {
		tx := txs.(*PostgresStore)

		j, err := scanJob(tx.db.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE job_type = $1 AND snapshot_id = $2 FOR UPDATE`,
			jobType, snapshotID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}

		if !j.Terminal() {
			return ErrJobActive
		}

		now := time.Now().UTC()
		j.Status = models.JobStatusQueued
		j.Attempts = 0
		j.LastError = nil
		j.RunAt = now
		j.LockedBy = nil
		j.LockedAt = nil
		j.UpdatedAt = now

		_, err = tx.db.Exec(ctx,
			`UPDATE jobs
			 SET status = 'queued', attempts = 0, last_error = NULL, run_at = $2,
			     locked_by = NULL, locked_at = NULL, updated_at = $2
			 WHERE id = $1`,
			j.ID, now)
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}

		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// The full Store interface is spread over postgres.go and this file.
var _ Store = (*PostgresStore)(nil)
