package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coldcrate/fridgevision/internal/config"
	"github.com/coldcrate/fridgevision/pkg/models"
)

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaProvider implements models.VisionProvider against a local Ollama
// server running a multimodal model such as llava.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(cfg config.VisionConfig) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimRight(cfg.Ollama.BaseURL, "/"),
		model:   cfg.Ollama.Model,
		client:  &http.Client{Timeout: cfg.InferenceTimeout},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) AnalyzeImage(ctx context.Context, req models.VisionRequest) (models.VisionResult, error) {
	return p.generate(ctx, ollamaGenerateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		Images: []string{base64.StdEncoding.EncodeToString(req.Image)},
	})
}

func (p *OllamaProvider) CompleteText(ctx context.Context, prompt string) (models.VisionResult, error) {
	return p.generate(ctx, ollamaGenerateRequest{Model: p.model, Prompt: prompt})
}

func (p *OllamaProvider) generate(ctx context.Context, body ollamaGenerateRequest) (models.VisionResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.VisionResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.VisionResult{}, fmt.Errorf("%w: ollama returned status %d", ErrInvalidResponse, resp.StatusCode)
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.VisionResult{}, fmt.Errorf("%w: decode ollama response: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return models.VisionResult{}, fmt.Errorf("%w: empty response from ollama", ErrInvalidResponse)
	}

	model := out.Model
	if model == "" {
		model = p.model
	}
	return models.VisionResult{Text: out.Response, Model: model}, nil
}

var _ models.VisionProvider = (*OllamaProvider)(nil)
