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

type openAIChatRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string          `json:"role"`
	Content []openAIContent `json:"content"`
}

type openAIContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OpenAIProvider implements models.VisionProvider using the OpenAI chat
// completions API. Images are sent inline as base64 data URIs.
type OpenAIProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

func NewOpenAIProvider(cfg config.VisionConfig) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:    cfg.OpenAI.APIKey,
		baseURL:   strings.TrimRight(cfg.OpenAI.BaseURL, "/"),
		model:     cfg.OpenAI.Model,
		maxTokens: cfg.OpenAI.MaxTokens,
		client:    &http.Client{Timeout: cfg.InferenceTimeout},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) AnalyzeImage(ctx context.Context, req models.VisionRequest) (models.VisionResult, error) {
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(req.Image)
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(req.Image))

	return p.chat(ctx, []openAIContent{
		{Type: "text", Text: req.Prompt},
		{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURI}},
	})
}

func (p *OpenAIProvider) CompleteText(ctx context.Context, prompt string) (models.VisionResult, error) {
	return p.chat(ctx, []openAIContent{{Type: "text", Text: prompt}})
}

func (p *OpenAIProvider) chat(ctx context.Context, content []openAIContent) (models.VisionResult, error) {
	body := openAIChatRequest{
		Model:     p.model,
		Messages:  []openAIMessage{{Role: "user", Content: content}},
		MaxTokens: p.maxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return models.VisionResult{}, fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.VisionResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.VisionResult{}, fmt.Errorf("%w: openai returned status %d", ErrInvalidResponse, resp.StatusCode)
	}

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.VisionResult{}, fmt.Errorf("%w: decode openai response: %v", ErrInvalidResponse, err)
	}
	if len(out.Choices) == 0 {
		return models.VisionResult{}, fmt.Errorf("%w: no choices in openai response", ErrInvalidResponse)
	}
	text := out.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return models.VisionResult{}, fmt.Errorf("%w: empty completion from openai", ErrInvalidResponse)
	}

	model := out.Model
	if model == "" {
		model = p.model
	}
	return models.VisionResult{Text: text, Model: model}, nil
}

var _ models.VisionProvider = (*OpenAIProvider)(nil)
