package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SnapshotStatusPending    = "pending"
	SnapshotStatusProcessing = "processing"
	SnapshotStatusComplete   = "complete"
	SnapshotStatusFailed     = "failed"
)

// Snapshot is one uploaded fridge photo and the lifecycle of turning it into
// inventory rows. The image itself lives in object storage; the row only
// carries its locator. RawModelOutput keeps the (truncated) model response
// for debugging failed extractions.
type Snapshot struct {
	ID             uuid.UUID `db:"id"               json:"id"`
	UserID         uuid.UUID `db:"user_id"          json:"user_id"`
	ImageBucket    string    `db:"image_bucket"     json:"image_bucket"`
	ImageKey       string    `db:"image_key"        json:"image_key"`
	ImageFilename  string    `db:"image_filename"   json:"image_filename"`
	RawModelOutput *string   `db:"raw_model_output" json:"raw_model_output,omitempty"`
	Status         string    `db:"status"           json:"status"`
	Error          *string   `db:"error"            json:"error,omitempty"`
	CreatedAt      time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"       json:"updated_at"`
}

// ValidSnapshotTransition reports whether a snapshot may move between the
// two statuses. processing moves back to pending when a retryable failure
// re-queues the work; failed and complete move back to pending on an
// operator re-queue. Same-status updates are allowed so an error message
// can be refreshed without a state change.
func ValidSnapshotTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case SnapshotStatusPending:
		return to == SnapshotStatusProcessing
	case SnapshotStatusProcessing:
		return to == SnapshotStatusComplete || to == SnapshotStatusFailed || to == SnapshotStatusPending
	case SnapshotStatusComplete, SnapshotStatusFailed:
		return to == SnapshotStatusPending
	}
	return false
}

// ImageLocator addresses a stored snapshot image.
type ImageLocator struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

// Locator returns where the snapshot's image is stored.
func (s *Snapshot) Locator() ImageLocator {
	return ImageLocator{Bucket: s.ImageBucket, Key: s.ImageKey, Filename: s.ImageFilename}
}
