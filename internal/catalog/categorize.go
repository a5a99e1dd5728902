// Package catalog maintains the product catalog that snapshot ingestion
// fills. Products enter the catalog with no category; the categorizer
// batches them through the text model and stores every answer that names
// one of the known categories.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coldcrate/fridgevision/internal/ingest"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/pkg/models"
	"github.com/coldcrate/fridgevision/pkg/normalize"
)

// MaxBatchSize caps how many products one run sends to the model. Small
// batches keep the answer well inside every provider's output window.
const MaxBatchSize = 20

// Result reports one categorization run. Skipped lists the products the
// model missed or labeled with something outside the known categories.
type Result struct {
	Requested   int      `json:"requested"`
	Categorized int      `json:"categorized"`
	Skipped     []string `json:"skipped,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// Categorizer assigns categories to products that are still uncategorized.
type Categorizer struct {
	store    store.Store
	provider models.VisionProvider
	logger   *slog.Logger
}

func NewCategorizer(st store.Store, provider models.VisionProvider, logger *slog.Logger) *Categorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Categorizer{store: st, provider: provider, logger: logger}
}

// Run sends up to limit uncategorized products through the text model and
// stores the categories it assigned. A product whose answer is missing,
// not a string, or not a known category stays uncategorized for a later
// run; the categorizer never guesses.
func (c *Categorizer) Run(ctx context.Context, limit int) (*Result, error) {
	if limit <= 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}
	products, err := c.store.ListUncategorizedProducts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list uncategorized products: %w", err)
	}

	res := &Result{Requested: len(products)}
	if len(products) == 0 {
		return res, nil
	}

	answer, err := c.provider.CompleteText(ctx, buildPrompt(products))
	if err != nil {
		return nil, fmt.Errorf("categorize products: %w", err)
	}
	res.Model = answer.Model

	assignments, err := parseAnswer(answer.Text)
	if err != nil {
		return nil, err
	}

	for _, p := range products {
		category, ok := assignments[p.Name]
		if !ok {
			c.logger.Warn("model skipped product", "product", p.Name)
			res.Skipped = append(res.Skipped, p.Name)
			continue
		}
		if !models.ValidCategory(category) {
			c.logger.Warn("model invented a category", "product", p.Name, "category", category)
			res.Skipped = append(res.Skipped, p.Name)
			continue
		}
		if err := c.store.UpdateProductCategory(ctx, p.ID, category); err != nil {
			return nil, fmt.Errorf("update category for %q: %w", p.Name, err)
		}
		res.Categorized++
	}
	return res, nil
}

func buildPrompt(products []*models.Product) string {
	var b strings.Builder
	b.WriteString("Categorize each grocery product below into exactly one of these categories: ")
	b.WriteString(strings.Join(models.ProductCategories, ", "))
	b.WriteString(".\nRespond with a single JSON object mapping every product name to its category, ")
	b.WriteString(`like {"milk": "dairy", "lime": "produce"}. Only output JSON. NO ADDITIONAL TEXT!`)
	b.WriteString("\n\nProducts:\n")
	for _, p := range products {
		b.WriteString("- ")
		b.WriteString(p.Name)
		b.WriteByte('\n')
	}
	return b.String()
}

// parseAnswer pulls the name-to-category object out of the model's reply.
// Keys are normalized the same way product names are, so a re-pluralized
// or re-cased name still matches its product. Values that are not strings
// are dropped, which surfaces as a skip for their product.
func parseAnswer(text string) (map[string]string, error) {
	obj, err := ingest.ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ingest.ErrMalformedModelOutput, err)
	}

	assignments := make(map[string]string, len(raw))
	for name, value := range raw {
		var category string
		if err := json.Unmarshal(value, &category); err != nil {
			continue
		}
		assignments[normalize.ProductName(name)] = strings.ToLower(strings.TrimSpace(category))
	}
	return assignments, nil
}
