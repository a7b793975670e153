package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/audioscribe/api/internal/model"
)

// WhisperEngine shells out to a local whisper CLI (whisper or faster-whisper
// wrappers) that writes segment JSON next to the input file.
type WhisperEngine struct {
	binPath string
	run     func(ctx context.Context, name string, args ...string) error
}

// NewWhisperEngine creates a local CLI engine. binPath defaults to "whisper".
func NewWhisperEngine(binPath string) *WhisperEngine {
	if binPath == "" {
		binPath = "whisper"
	}
	return &WhisperEngine{
		binPath: binPath,
		run: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
			}
			return nil
		},
	}
}

func (e *WhisperEngine) Name() string { return "whisper:" + e.binPath }

// whisperOutput matches the JSON the whisper CLI writes with
// --output_format json.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (e *WhisperEngine) Transcribe(ctx context.Context, audioPath string, params model.Params) (*model.Transcript, error) {
	outDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", ErrEngine, err)
	}
	defer os.RemoveAll(outDir)

	args := []string{
		audioPath,
		"--model", string(params.Model),
		"--output_format", "json",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if params.Language != "" && params.Language != model.LanguageAuto {
		args = append(args, "--language", params.Language)
	}

	if err := e.run(ctx, e.binPath, args...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	base := filepath.Base(audioPath)
	jsonPath := filepath.Join(outDir, base[:len(base)-len(filepath.Ext(base))]+".json")
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrEngine, err)
	}

	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: parse output: %v", ErrEngine, err)
	}

	t := &model.Transcript{Text: out.Text, Language: out.Language}
	for _, s := range out.Segments {
		t.Segments = append(t.Segments, model.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	if n := len(t.Segments); n > 0 {
		t.Duration = t.Segments[n-1].End
	}
	return finalize(t), nil
}
