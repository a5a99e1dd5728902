package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// JobTypeProcessSnapshot is the only job type today. The (job_type, snapshot_id)
// pair is unique, so a snapshot can never have two ingestion jobs.
const JobTypeProcessSnapshot = "process_snapshot"

// Job is one unit of queued snapshot work. A job is claimed with
// FOR UPDATE SKIP LOCKED, which sets locked_by and locked_at; both are
// non-null exactly while the job is running. RunAt gates retries: a queued
// job is only claimable once run_at has passed.
type Job struct {
	ID         uuid.UUID  `db:"id"          json:"id"`
	JobType    string     `db:"job_type"    json:"job_type"`
	SnapshotID uuid.UUID  `db:"snapshot_id" json:"snapshot_id"`
	Status     string     `db:"status"      json:"status"`
	Attempts   int        `db:"attempts"    json:"attempts"`
	LastError  *string    `db:"last_error"  json:"last_error,omitempty"`
	RunAt      time.Time  `db:"run_at"      json:"run_at"`
	LockedBy   *string    `db:"locked_by"   json:"locked_by,omitempty"`
	LockedAt   *time.Time `db:"locked_at"   json:"locked_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"  json:"updated_at"`
}

// Terminal reports whether the job has finished for good.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}
