// Package models contains shared data models used across the FridgeVision codebase.
package models

import "context"

// VisionProvider is the core interface that all model integrations must implement.
// Never call specific providers directly - always inject this interface.
type VisionProvider interface {
	// AnalyzeImage runs vision inference over a single image.
	AnalyzeImage(ctx context.Context, req VisionRequest) (VisionResult, error)
	// CompleteText runs a plain text prompt, used for product categorization.
	CompleteText(ctx context.Context, prompt string) (VisionResult, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// VisionRequest is the input to a vision inference call.
type VisionRequest struct {
	Image    []byte
	Prompt   string
	MIMEType string // detected from the image bytes when empty
}

// VisionResult is the raw text a provider returned, before any parsing.
type VisionResult struct {
	Text  string
	Model string
}
