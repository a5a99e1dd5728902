package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	mw "github.com/coldcrate/fridgevision/internal/api/middleware"
	"github.com/coldcrate/fridgevision/internal/api/response"
	"github.com/coldcrate/fridgevision/internal/cache"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// inventoryCacheTTL is short because the worker also deletes the key
// whenever a snapshot completes; the TTL only covers missed deletes.
const inventoryCacheTTL = 30 * time.Second

type inventoryResponse struct {
	SnapshotID uuid.UUID               `json:"snapshot_id"`
	TakenAt    time.Time               `json:"taken_at"`
	Items      []models.InventoryEntry `json:"items"`
}

// NewInventoryHandler returns the handler for GET /api/v1/inventory: the
// items of the caller's most recent complete snapshot.
func NewInventoryHandler(st store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		key := cache.LatestInventoryKey(userID)
		if raw, hit, err := c.Get(r.Context(), key); err == nil && hit {
			response.JSON(w, json.RawMessage(raw))
			return
		}

		snap, entries, err := st.LatestInventory(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load inventory", nil)
			return
		}
		if snap == nil {
			response.Error(w, http.StatusNotFound, "NO_INVENTORY",
				"No completed snapshot yet", nil)
			return
		}

		payload := inventoryResponse{
			SnapshotID: snap.ID,
			TakenAt:    snap.CreatedAt,
			Items:      entries,
		}
		if raw, err := json.Marshal(payload); err == nil {
			_ = c.Set(r.Context(), key, raw, inventoryCacheTTL)
		}

		response.JSON(w, payload)
	}
}
