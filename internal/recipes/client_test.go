package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coldcrate/fridgevision/internal/config"
)

// --- helpers ---

func recipeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func newTestClient(t *testing.T, baseURL string) *SpoonacularClient {
	t.Helper()
	return NewSpoonacularClient(config.RecipesConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	})
}

// --- FindByIngredients tests ---

func TestFindByIngredients_ValidResponse(t *testing.T) {
	ts := recipeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recipes/findByIngredients" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}

		q := r.URL.Query()
		if q.Get("ingredients") != "milk,egg,lime" {
			t.Errorf("unexpected ingredients: %s", q.Get("ingredients"))
		}
		if q.Get("number") != "2" {
			t.Errorf("unexpected number: %s", q.Get("number"))
		}
		if q.Get("apiKey") != "test-key" {
			t.Errorf("unexpected apiKey: %s", q.Get("apiKey"))
		}

		resp := []spoonacularRecipe{
			{
				ID:                    641803,
				Title:                 "Key Lime Pie",
				Image:                 "https://img.example/641803.jpg",
				UsedIngredientCount:   2,
				MissedIngredientCount: 4,
				Likes:                 12,
			},
			{
				ID:                  715538,
				Title:               "Omelette",
				UsedIngredientCount: 2,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	got, err := c.FindByIngredients(context.Background(), []string{"milk", "egg", "lime"}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 recipes, got %d", len(got))
	}
	if got[0].ID != 641803 {
		t.Errorf("unexpected id: %d", got[0].ID)
	}
	if got[0].Title != "Key Lime Pie" {
		t.Errorf("unexpected title: %s", got[0].Title)
	}
	if got[0].UsedIngredientCount != 2 || got[0].MissedIngredientCount != 4 {
		t.Errorf("unexpected ingredient counts: %d used, %d missed",
			got[0].UsedIngredientCount, got[0].MissedIngredientCount)
	}
	if got[0].Likes != 12 {
		t.Errorf("unexpected likes: %d", got[0].Likes)
	}
	if got[1].Title != "Omelette" {
		t.Errorf("unexpected title: %s", got[1].Title)
	}
}

func TestFindByIngredients_LimitDefaultsAndCaps(t *testing.T) {
	var numbers []string
	ts := recipeServer(t, func(w http.ResponseWriter, r *http.Request) {
		numbers = append(numbers, r.URL.Query().Get("number"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	if _, err := c.FindByIngredients(context.Background(), []string{"milk"}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.FindByIngredients(context.Background(), []string{"milk"}, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(numbers) != 2 || numbers[0] != "5" || numbers[1] != "25" {
		t.Errorf("expected number params [5 25], got %v", numbers)
	}
}

func TestFindByIngredients_NotConfigured(t *testing.T) {
	c := NewSpoonacularClient(config.RecipesConfig{BaseURL: "http://unused", Timeout: time.Second})

	if c.Configured() {
		t.Error("client without an API key reports configured")
	}
	_, err := c.FindByIngredients(context.Background(), []string{"milk"}, 5)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestFindByIngredients_EmptyIngredients(t *testing.T) {
	ts := recipeServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty ingredient list")
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	got, err := c.FindByIngredients(context.Background(), nil, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no recipes, got %d", len(got))
	}
}

func TestFindByIngredients_QuotaExceeded(t *testing.T) {
	ts := recipeServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Spoonacular signals an exhausted plan with 402.
		w.WriteHeader(http.StatusPaymentRequired)
	})
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	_, err := c.FindByIngredients(context.Background(), []string{"milk"}, 5)
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("expected ErrLookupFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "402") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestFindByIngredients_ConnectionRefused(t *testing.T) {
	ts := recipeServer(t, func(w http.ResponseWriter, r *http.Request) {})
	url := ts.URL
	ts.Close()

	c := newTestClient(t, url)
	_, err := c.FindByIngredients(context.Background(), []string{"milk"}, 5)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestFindByIngredients_Timeout(t *testing.T) {
	ts := recipeServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`[]`))
	})
	defer ts.Close()

	c := NewSpoonacularClient(config.RecipesConfig{
		APIKey:  "test-key",
		BaseURL: ts.URL,
		Timeout: 50 * time.Millisecond,
	})
	_, err := c.FindByIngredients(context.Background(), []string{"milk"}, 5)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
