package handler

import (
	"errors"
	"net/http"
	"strconv"

	mw "github.com/coldcrate/fridgevision/internal/api/middleware"
	"github.com/coldcrate/fridgevision/internal/api/response"
	"github.com/coldcrate/fridgevision/internal/recipes"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/pkg/models"
)

type recipesResponse struct {
	Ingredients []string        `json:"ingredients"`
	Recipes     []models.Recipe `json:"recipes"`
}

// NewRecipesHandler returns the handler for GET /api/v1/recipes: recipe
// suggestions for whatever the caller's latest complete snapshot found.
func NewRecipesHandler(st store.Store, rc recipes.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			limit = n
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

		ingredients := ingredientNames(entries)
		found, err := rc.FindByIngredients(r.Context(), ingredients, limit)
		if err != nil {
			switch {
			case errors.Is(err, recipes.ErrNotConfigured):
				response.Error(w, http.StatusServiceUnavailable, "RECIPES_NOT_CONFIGURED",
					"Recipe lookups are not configured on this server", nil)
			case errors.Is(err, recipes.ErrTimeout):
				response.Error(w, http.StatusGatewayTimeout, "RECIPE_LOOKUP_TIMEOUT",
					"The recipe service took too long to respond", nil)
			case errors.Is(err, recipes.ErrUnreachable), errors.Is(err, recipes.ErrLookupFailed):
				response.Error(w, http.StatusBadGateway, "RECIPE_SERVICE_UNAVAILABLE",
					"The recipe service is not available", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, recipesResponse{Ingredients: ingredients, Recipes: found})
	}
}

// ingredientNames returns the inventory's product names, deduplicated,
// in inventory order.
func ingredientNames(entries []models.InventoryEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		names = append(names, e.Name)
	}
	return names
}
