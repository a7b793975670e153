// Package engine defines the pluggable transcription capability: it consumes
// a canonical audio stream and returns ordered, timestamped text segments.
// Concrete variants are selected at startup configuration time.
package engine

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/audioscribe/api/internal/model"
)

// ErrEngine wraps failures of the transcription capability.
var ErrEngine = errors.New("transcription engine failure")

// Engine is the interface transcription backends implement. The audio at
// audioPath is always canonical PCM produced by the normalizer; the engine is
// invoked under the owning job's timeout budget.
type Engine interface {
	// Name identifies the backend in logs and the health endpoint.
	Name() string

	// Transcribe runs the capability and returns the transcript.
	Transcribe(ctx context.Context, audioPath string, params model.Params) (*model.Transcript, error)
}

// finalize orders segments, trims their text, and fills the full-text field
// so every backend returns the same shape.
func finalize(t *model.Transcript) *model.Transcript {
	sort.SliceStable(t.Segments, func(i, j int) bool {
		return t.Segments[i].Start < t.Segments[j].Start
	})

	parts := make([]string, 0, len(t.Segments))
	for i := range t.Segments {
		t.Segments[i].Text = strings.TrimSpace(t.Segments[i].Text)
		if t.Segments[i].Text != "" {
			parts = append(parts, t.Segments[i].Text)
		}
	}
	if t.Text == "" {
		t.Text = strings.Join(parts, " ")
	}
	t.Text = strings.TrimSpace(t.Text)
	if t.Segments == nil {
		t.Segments = []model.Segment{}
	}
	return t
}
