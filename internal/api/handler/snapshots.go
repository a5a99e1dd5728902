// Package handler contains the HTTP handlers behind the /api/v1 routes.
// Each constructor takes the stores and services it needs and returns a
// plain http.HandlerFunc; routing and middleware live in the api package.
package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/coldcrate/fridgevision/internal/api/middleware"
	"github.com/coldcrate/fridgevision/internal/api/response"
	"github.com/coldcrate/fridgevision/internal/cache"
	"github.com/coldcrate/fridgevision/internal/storage"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// maxUploadBytes caps snapshot uploads. Phone photos land well under
// this; anything bigger is almost certainly not a fridge.
const maxUploadBytes = 10 << 20

// statusCacheTTL matches the worker's mirror TTL so a status written by
// either side ages out on the same schedule.
const statusCacheTTL = 30 * time.Minute

type uploadResponse struct {
	SnapshotID uuid.UUID `json:"snapshot_id"`
	JobID      uuid.UUID `json:"job_id"`
	Status     string    `json:"status"`
	Bucket     string    `json:"bucket"`
	Key        string    `json:"key"`
	Filename   string    `json:"filename"`
}

// NewUploadSnapshotHandler returns the handler for POST /api/v1/snapshots.
// It stores the image, then creates the snapshot row and its processing
// job in one transaction; a worker picks the job up asynchronously.
func NewUploadSnapshotHandler(st store.Store, blobs storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					"Image exceeds the 10 MiB upload limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Expected a multipart form upload", nil)
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"image file is required", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Failed to read image", nil)
			return
		}
		if len(data) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"image file is empty", nil)
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		// Objects are named by upload time; the original filename only
		// contributes its extension.
		name := time.Now().UTC().Format("20060102T150405Z") + imageExt(header.Filename)

		loc, err := blobs.Put(r.Context(), userID, name, data, contentType)
		if err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				response.Error(w, http.StatusBadGateway, "STORAGE_UNAVAILABLE",
					"Object storage is not available", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store image", nil)
			return
		}

		now := time.Now().UTC()
		snap := &models.Snapshot{
			ID:            uuid.New(),
			UserID:        userID,
			ImageBucket:   loc.Bucket,
			ImageKey:      loc.Key,
			ImageFilename: loc.Filename,
			Status:        models.SnapshotStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		var job *models.Job
		err = st.WithTx(r.Context(), func(tx store.Store) error {
			if err := tx.CreateSnapshot(r.Context(), snap); err != nil {
				return err
			}
			j, err := tx.EnqueueJob(r.Context(), models.JobTypeProcessSnapshot, snap.ID)
			if err != nil {
				return err
			}
			job = j
			return nil
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicateJob) {
				response.Error(w, http.StatusConflict, "DUPLICATE_JOB",
					"A processing job already exists for this snapshot", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to queue snapshot", nil)
			return
		}

		response.Accepted(w, uploadResponse{
			SnapshotID: snap.ID,
			JobID:      job.ID,
			Status:     snap.Status,
			Bucket:     loc.Bucket,
			Key:        loc.Key,
			Filename:   loc.Filename,
		})
	}
}

// NewListSnapshotsHandler returns the handler for GET /api/v1/snapshots.
func NewListSnapshotsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		status := r.URL.Query().Get("status")
		if status != "" && !validSnapshotStatus(status) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, processing, complete, failed", nil)
			return
		}

		page, limit := pageParams(r)
		snaps, total, err := st.ListSnapshots(r.Context(), userID, store.SnapshotFilter{
			Status: status,
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list snapshots", nil)
			return
		}

		response.Collection(w, snaps, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewLatestSnapshotHandler returns the handler for GET /api/v1/snapshots/latest.
func NewLatestSnapshotHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		snap, err := st.LatestSnapshot(r.Context(), userID, "")
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "SNAPSHOT_NOT_FOUND",
					"No snapshots uploaded yet", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load snapshot", nil)
			return
		}

		response.JSON(w, snap)
	}
}

// NewGetSnapshotHandler returns the handler for GET /api/v1/snapshots/{snapshotID}.
// The snapshot carries its error text and raw model output, so this is
// the endpoint to inspect a failed ingestion.
func NewGetSnapshotHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "snapshotID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_SNAPSHOT_ID",
				"Invalid snapshot ID", nil)
			return
		}

		snap, err := st.GetSnapshotForUser(r.Context(), id, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "SNAPSHOT_NOT_FOUND",
					"Snapshot not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load snapshot", nil)
			return
		}

		response.JSON(w, snap)
	}
}

type statusResponse struct {
	SnapshotID uuid.UUID `json:"snapshot_id"`
	Status     string    `json:"status"`
}

// NewSnapshotStatusHandler returns the handler for
// GET /api/v1/snapshots/{snapshotID}/status. The cache answers most
// polls; the database is only consulted on a miss, and its answer is
// written back so the next poll stays cheap.
func NewSnapshotStatusHandler(st store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "snapshotID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_SNAPSHOT_ID",
				"Invalid snapshot ID", nil)
			return
		}

		if status, hit, err := c.GetSnapshotStatus(r.Context(), id); err == nil && hit {
			response.JSON(w, statusResponse{SnapshotID: id, Status: status})
			return
		}

		snap, err := st.GetSnapshotForUser(r.Context(), id, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "SNAPSHOT_NOT_FOUND",
					"Snapshot not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load snapshot", nil)
			return
		}

		_ = c.SetSnapshotStatus(r.Context(), id, snap.Status, statusCacheTTL)
		response.JSON(w, statusResponse{SnapshotID: id, Status: snap.Status})
	}
}

type retryResponse struct {
	SnapshotID uuid.UUID `json:"snapshot_id"`
	JobID      uuid.UUID `json:"job_id"`
	Status     string    `json:"status"`
}

// NewRetrySnapshotHandler returns the handler for
// POST /api/v1/snapshots/{snapshotID}/retry. It puts a terminal job back
// on the queue and resets the snapshot to pending in one transaction; a
// job that is still queued or running is rejected with 409.
func NewRetrySnapshotHandler(st store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "snapshotID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_SNAPSHOT_ID",
				"Invalid snapshot ID", nil)
			return
		}

		var job *models.Job
		err = st.WithTx(r.Context(), func(tx store.Store) error {
			if _, err := tx.GetSnapshotForUser(r.Context(), id, userID); err != nil {
				return err
			}
			j, err := tx.RequeueJob(r.Context(), models.JobTypeProcessSnapshot, id)
			if err != nil {
				return err
			}
			job = j
			return tx.UpdateSnapshotStatus(r.Context(), id, models.SnapshotStatusPending, nil)
		})
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "SNAPSHOT_NOT_FOUND",
					"Snapshot not found", nil)
			case errors.Is(err, store.ErrJobActive):
				response.Error(w, http.StatusConflict, "JOB_ACTIVE",
					"Snapshot is already queued or processing", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to retry snapshot", nil)
			}
			return
		}

		// Refresh the mirror so polls don't keep serving the old terminal
		// status until the worker claims the job.
		_ = c.SetSnapshotStatus(r.Context(), id, models.SnapshotStatusPending, statusCacheTTL)

		response.Accepted(w, retryResponse{
			SnapshotID: id,
			JobID:      job.ID,
			Status:     models.SnapshotStatusPending,
		})
	}
}

type compositionResponse struct {
	SnapshotID  uuid.UUID              `json:"snapshot_id"`
	Composition []models.CategoryCount `json:"composition"`
}

// NewSnapshotCompositionHandler returns the handler for
// GET /api/v1/snapshots/{snapshotID}/composition: the snapshot's item
// quantities summed per product category.
func NewSnapshotCompositionHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "snapshotID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_SNAPSHOT_ID",
				"Invalid snapshot ID", nil)
			return
		}

		if _, err := st.GetSnapshotForUser(r.Context(), id, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "SNAPSHOT_NOT_FOUND",
					"Snapshot not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load snapshot", nil)
			return
		}

		counts, err := st.SnapshotComposition(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to compute composition", nil)
			return
		}

		response.JSON(w, compositionResponse{SnapshotID: id, Composition: counts})
	}
}

func validSnapshotStatus(s string) bool {
	switch s {
	case models.SnapshotStatusPending, models.SnapshotStatusProcessing,
		models.SnapshotStatusComplete, models.SnapshotStatusFailed:
		return true
	}
	return false
}

// pageParams reads page and limit from the query string with the same
// defaults and caps the store applies, so pagination meta stays truthful.
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

// imageExt returns a safe lowercase extension for the stored object.
// Unknown extensions fall back to .jpg rather than trusting the upload.
func imageExt(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp":
		return ext
	default:
		return ".jpg"
	}
}
