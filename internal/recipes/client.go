// Package recipes suggests recipes for the ingredients a user has on hand.
// The only backend is Spoonacular's find-by-ingredients API; the client
// trims its generous response down to the fields we serve.
package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// Sentinel errors for recipe lookups.
var (
	ErrNotConfigured = errors.New("recipe service not configured")
	ErrUnreachable   = errors.New("recipe service unreachable")
	ErrLookupFailed  = errors.New("recipe lookup failed")
	ErrTimeout       = errors.New("recipe lookup timeout")
)

const (
	DefaultLimit = 5
	MaxLimit     = 25
)

// Client finds recipes for a list of ingredient names.
type Client interface {
	FindByIngredients(ctx context.Context, ingredients []string, limit int) ([]models.Recipe, error)
	Configured() bool
}

// SpoonacularClient implements Client against Spoonacular's REST API.
type SpoonacularClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSpoonacularClient(cfg config.RecipesConfig) *SpoonacularClient {
	return &SpoonacularClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether an API key is present. Lookups without one
// fail with ErrNotConfigured.
func (c *SpoonacularClient) Configured() bool {
	return c.apiKey != ""
}

// FindByIngredients asks for recipes using the given ingredients. limit
// falls back to DefaultLimit and is capped at MaxLimit.
func (c *SpoonacularClient) FindByIngredients(ctx context.Context, ingredients []string, limit int) ([]models.Recipe, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if len(ingredients) == 0 {
		return []models.Recipe{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	params := url.Values{
		"ingredients": {strings.Join(ingredients, ",")},
		"number":      {strconv.Itoa(limit)},
		"apiKey":      {c.apiKey},
	}
	u := fmt.Sprintf("%s/recipes/findByIngredients?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var found []spoonacularRecipe
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		return nil, fmt.Errorf("decoding recipes response: %w", err)
	}

	recipes := make([]models.Recipe, 0, len(found))
	for _, r := range found {
		recipes = append(recipes, models.Recipe{
			ID:                    r.ID,
			Title:                 r.Title,
			Image:                 r.Image,
			UsedIngredientCount:   r.UsedIngredientCount,
			MissedIngredientCount: r.MissedIngredientCount,
			Likes:                 r.Likes,
		})
	}
	return recipes, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// --- Spoonacular response types ---

type spoonacularRecipe struct {
	ID                    int    `json:"id"`
	Title                 string `json:"title"`
	Image                 string `json:"image"`
	UsedIngredientCount   int    `json:"usedIngredientCount"`
	MissedIngredientCount int    `json:"missedIngredientCount"`
	Likes                 int    `json:"likes"`
}

// Compile-time check that SpoonacularClient implements Client.
var _ Client = (*SpoonacularClient)(nil)
