package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coldcrate/fridgevision/internal/api/response"
	"github.com/coldcrate/fridgevision/internal/catalog"
	"github.com/coldcrate/fridgevision/internal/ingest"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/internal/vision"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// NewListProductsHandler returns the handler for GET /api/v1/products.
// The catalog is shared across users; there is nothing tenant-scoped in
// a product row.
func NewListProductsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := r.URL.Query().Get("category")
		if category != "" && !models.ValidCategory(category) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"unknown product category", nil)
			return
		}

		page, limit := pageParams(r)
		products, total, err := st.ListProducts(r.Context(), store.ProductFilter{
			Category: category,
			Page:     page,
			Limit:    limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list products", nil)
			return
		}

		response.Collection(w, products, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// ProductCategorizer runs one batch of catalog categorization.
type ProductCategorizer interface {
	Run(ctx context.Context, limit int) (*catalog.Result, error)
}

// NewCategorizeHandler returns the handler for
// POST /api/v1/products/categorize (admin). The body is optional; a
// {"limit": n} object trims the batch below the default.
func NewCategorizeHandler(cat ProductCategorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Limit int `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Invalid JSON body", nil)
			return
		}

		res, err := cat.Run(r.Context(), req.Limit)
		if err != nil {
			switch {
			case errors.Is(err, vision.ErrProviderUnreachable):
				response.Error(w, http.StatusBadGateway, "VISION_PROVIDER_UNAVAILABLE",
					"The model provider is not available", nil)
			case errors.Is(err, vision.ErrInferenceTimeout):
				response.Error(w, http.StatusGatewayTimeout, "VISION_INFERENCE_TIMEOUT",
					"Categorization took too long and was cancelled", nil)
			case errors.Is(err, ingest.ErrMalformedModelOutput):
				response.Error(w, http.StatusBadGateway, "INVALID_MODEL_OUTPUT",
					"The model returned no usable categories", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, res)
	}
}
