// Package vision talks to image-capable language models. Providers take a
// fridge photo plus a prompt and return the model's raw text, which the
// ingest pipeline then parses into inventory rows.
package vision

import (
	"fmt"

	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// New constructs the vision provider named by config.
// Called once at startup by the server and the worker.
func New(cfg config.VisionConfig) (models.VisionProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaProvider(cfg), nil
	case "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q: must be one of ollama, openai", cfg.Provider)
	}
}
