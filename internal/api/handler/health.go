package handler

import (
	"net/http"

	"github.com/coldcrate/fridgevision/internal/api/response"
	"github.com/coldcrate/fridgevision/internal/cache"
	"github.com/coldcrate/fridgevision/internal/store"
)

// NewHealthHandler returns the handler for GET /api/v1/health. It pings
// the database and the cache; either failing makes the service degraded.
func NewHealthHandler(st store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbStatus := "ok"
		if err := st.Ping(r.Context()); err != nil {
			dbStatus = "degraded"
		}
		cacheStatus := "ok"
		if err := c.Ping(r.Context()); err != nil {
			cacheStatus = "degraded"
		}

		if dbStatus != "ok" || cacheStatus != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", map[string]string{
					"database": dbStatus,
					"cache":    cacheStatus,
				})
			return
		}

		response.JSON(w, map[string]string{"status": "ok"})
	}
}
