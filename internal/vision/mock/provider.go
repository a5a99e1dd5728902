package mock

import (
	"context"

	"github.com/coldcrate/fridgevision/internal/vision"
	"github.com/coldcrate/fridgevision/pkg/models"
)

// MockProvider satisfies models.VisionProvider for testing.
type MockProvider struct {
	Name_            string
	AnalyzeImageFunc func(ctx context.Context, req models.VisionRequest) (models.VisionResult, error)
	CompleteTextFunc func(ctx context.Context, prompt string) (models.VisionResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) AnalyzeImage(ctx context.Context, req models.VisionRequest) (models.VisionResult, error) {
	if m.AnalyzeImageFunc != nil {
		return m.AnalyzeImageFunc(ctx, req)
	}
	return models.VisionResult{}, nil
}

func (m *MockProvider) CompleteText(ctx context.Context, prompt string) (models.VisionResult, error) {
	if m.CompleteTextFunc != nil {
		return m.CompleteTextFunc(ctx, prompt)
	}
	return models.VisionResult{}, nil
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		AnalyzeImageFunc: func(_ context.Context, _ models.VisionRequest) (models.VisionResult, error) {
			return models.VisionResult{
				Text:  `{"milk": 1, "egg": 6, "butter": 1}`,
				Model: "mock-v1",
			}, nil
		},
		CompleteTextFunc: func(_ context.Context, _ string) (models.VisionResult, error) {
			return models.VisionResult{Text: "Mock completion for testing", Model: "mock-v1"}, nil
		},
	}
}

// NewStaticProvider returns a MockProvider that always answers with the given text.
func NewStaticProvider(text string) *MockProvider {
	return &MockProvider{
		Name_: "mock-static",
		AnalyzeImageFunc: func(_ context.Context, _ models.VisionRequest) (models.VisionResult, error) {
			return models.VisionResult{Text: text, Model: "mock-v1"}, nil
		},
		CompleteTextFunc: func(_ context.Context, _ string) (models.VisionResult, error) {
			return models.VisionResult{Text: text, Model: "mock-v1"}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		AnalyzeImageFunc: func(_ context.Context, _ models.VisionRequest) (models.VisionResult, error) {
			return models.VisionResult{}, err
		},
		CompleteTextFunc: func(_ context.Context, _ string) (models.VisionResult, error) {
			return models.VisionResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		AnalyzeImageFunc: func(ctx context.Context, _ models.VisionRequest) (models.VisionResult, error) {
			<-ctx.Done()
			return models.VisionResult{}, vision.ErrInferenceTimeout
		},
		CompleteTextFunc: func(ctx context.Context, _ string) (models.VisionResult, error) {
			<-ctx.Done()
			return models.VisionResult{}, vision.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements VisionProvider.
var _ models.VisionProvider = (*MockProvider)(nil)
