package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/coldcrate/fridgevision/internal/api/middleware"
	"github.com/coldcrate/fridgevision/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	Health http.HandlerFunc

	UploadSnapshot      http.HandlerFunc
	ListSnapshots       http.HandlerFunc
	LatestSnapshot      http.HandlerFunc
	GetSnapshot         http.HandlerFunc
	SnapshotStatus      http.HandlerFunc
	RetrySnapshot       http.HandlerFunc
	SnapshotComposition http.HandlerFunc

	Inventory http.HandlerFunc
	Recipes   http.HandlerFunc

	ListProducts       http.HandlerFunc
	CategorizeProducts http.HandlerFunc

	CreateKey http.HandlerFunc
	ListKeys  http.HandlerFunc
	RevokeKey http.HandlerFunc
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.Health))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/snapshots", orNotImplemented(deps.UploadSnapshot))
		r.Get("/api/v1/snapshots", orNotImplemented(deps.ListSnapshots))
		r.Get("/api/v1/snapshots/latest", orNotImplemented(deps.LatestSnapshot))
		r.Get("/api/v1/snapshots/{snapshotID}", orNotImplemented(deps.GetSnapshot))
		r.Get("/api/v1/snapshots/{snapshotID}/status", orNotImplemented(deps.SnapshotStatus))
		r.Post("/api/v1/snapshots/{snapshotID}/retry", orNotImplemented(deps.RetrySnapshot))
		r.Get("/api/v1/snapshots/{snapshotID}/composition", orNotImplemented(deps.SnapshotComposition))

		r.Get("/api/v1/inventory", orNotImplemented(deps.Inventory))
		r.Get("/api/v1/recipes", orNotImplemented(deps.Recipes))

		r.Get("/api/v1/products", orNotImplemented(deps.ListProducts))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/products/categorize", orNotImplemented(deps.CategorizeProducts))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKey))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeys))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKey))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
