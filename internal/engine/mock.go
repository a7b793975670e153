package engine

import (
	"context"

	"github.com/audioscribe/api/internal/model"
)

// MockEngine is the fallback when no real backend is configured. It keeps the
// pipeline exercisable in development and tests; silence in, silence out.
type MockEngine struct{}

// NewMockEngine creates the fallback engine.
func NewMockEngine() *MockEngine { return &MockEngine{} }

func (e *MockEngine) Name() string { return "mock" }

func (e *MockEngine) Transcribe(ctx context.Context, audioPath string, params model.Params) (*model.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lang := params.Language
	if lang == "" || lang == model.LanguageAuto {
		lang = "en"
	}
	return finalize(&model.Transcript{Language: lang}), nil
}
