package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/internal/store"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// Extraction is the outcome of one inference pass: the (truncated) raw text
// the model produced and the entries parsed from it.
type Extraction struct {
	RawText string
	Model   string
	Entries []Entry
}

// Pipeline runs fridge images through a vision provider and writes the
// parsed inventory to the store.
type Pipeline struct {
	provider models.VisionProvider
	prompt   string
	rawLimit int
}

func NewPipeline(provider models.VisionProvider, prompt string, rawLimit int) *Pipeline {
	if prompt == "" {
		prompt = config.DefaultPrompt
	}
	if rawLimit <= 0 {
		rawLimit = DefaultRawOutputLimit
	}
	return &Pipeline{provider: provider, prompt: prompt, rawLimit: rawLimit}
}

// Analyze sends the image to the provider and parses the answer. When the
// provider responds but the answer cannot be parsed, the returned Extraction
// still carries the raw text so callers can persist it next to the failure.
func (p *Pipeline) Analyze(ctx context.Context, image []byte, mimeType string) (Extraction, error) {
	result, err := p.provider.AnalyzeImage(ctx, models.VisionRequest{
		Image:    image,
		Prompt:   p.prompt,
		MIMEType: mimeType,
	})
	if err != nil {
		return Extraction{}, err
	}

	ext := Extraction{
		RawText: TruncateRawOutput(result.Text, p.rawLimit),
		Model:   result.Model,
	}
	entries, err := ParseInventory(result.Text)
	if err != nil {
		return ext, err
	}
	ext.Entries = entries
	return ext, nil
}

// Persist writes the entries as items of the snapshot, creating catalog
// products as needed, and returns how many items were written. Any items a
// previous run left behind are cleared first: a retried snapshot gets a
// fresh inventory, not a merge with the old one. Meant to run inside the
// caller's transaction so a failure rolls back the whole batch.
func (p *Pipeline) Persist(ctx context.Context, tx store.Store, snapshotID uuid.UUID, entries []Entry) (int, error) {
	if err := tx.DeleteItemsForSnapshot(ctx, snapshotID); err != nil {
		return 0, fmt.Errorf("%w: clear previous items: %v", ErrPersistence, err)
	}
	now := time.Now().UTC()
	for i, e := range entries {
		product, err := tx.GetOrCreateProduct(ctx, e.Name)
		if err != nil {
			return i, fmt.Errorf("%w: resolve product %q: %v", ErrPersistence, e.Name, err)
		}
		item := &models.Item{
			ID:         uuid.New(),
			SnapshotID: snapshotID,
			ProductID:  product.ID,
			Quantity:   e.Quantity,
			RawPayload: e.Payload,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertItem(ctx, item); err != nil {
			return i, fmt.Errorf("%w: insert item %q: %v", ErrPersistence, e.Name, err)
		}
	}
	return len(entries), nil
}
