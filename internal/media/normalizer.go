// Package media turns arbitrary input audio into the canonical stream the
// transcription engine consumes: mono 16-bit PCM WAV at a fixed sample rate.
// The decode tool itself (ffmpeg) is an external black box invoked per job.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

var (
	// ErrTooLarge is returned before ffmpeg runs when the input exceeds
	// the configured duration or byte limits.
	ErrTooLarge = errors.New("input exceeds configured limit")

	// ErrDecode wraps failures of the external decode tool.
	ErrDecode = errors.New("could not decode input audio")
)

// runCommand executes an external tool and returns its stdout. Stderr is
// folded into the error, the way the decode tools report diagnostics.
type runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out.Bytes(), nil
}

// Normalizer converts input audio to canonical PCM via ffmpeg, with an
// ffprobe duration gate in front of it.
type Normalizer struct {
	ffmpegPath  string
	ffprobePath string
	sampleRate  int
	maxBytes    int64
	maxDuration time.Duration
	tmpDir      string
	run         runCommand
}

// NormalizerConfig carries the external-tool settings for a Normalizer.
type NormalizerConfig struct {
	FFmpegPath  string
	FFprobePath string
	SampleRate  int
	MaxBytes    int64
	MaxDuration time.Duration
	TmpDir      string
}

// NewNormalizer creates a Normalizer. Zero-value paths fall back to the
// binaries on PATH.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	n := &Normalizer{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		sampleRate:  cfg.SampleRate,
		maxBytes:    cfg.MaxBytes,
		maxDuration: cfg.MaxDuration,
		tmpDir:      cfg.TmpDir,
		run:         execRunner,
	}
	if n.ffmpegPath == "" {
		n.ffmpegPath = "ffmpeg"
	}
	if n.ffprobePath == "" {
		n.ffprobePath = "ffprobe"
	}
	if n.sampleRate == 0 {
		n.sampleRate = 16000
	}
	return n
}

// Normalize converts the file at inputPath to mono 16 kHz s16 WAV in a fresh
// temp dir. The returned cleanup removes that dir and must be called on every
// exit path; it is safe to call after errors.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, func(), error) {
	noop := func() {}

	if n.maxBytes > 0 {
		if fi, err := os.Stat(inputPath); err == nil && fi.Size() > n.maxBytes {
			return "", noop, fmt.Errorf("%w: %d bytes", ErrTooLarge, fi.Size())
		}
	}

	// Fail fast on pathological inputs before spending ffmpeg time on them.
	if n.maxDuration > 0 {
		dur, err := n.Probe(ctx, inputPath)
		if err != nil {
			return "", noop, err
		}
		if dur > n.maxDuration {
			return "", noop, fmt.Errorf("%w: duration %s", ErrTooLarge, dur)
		}
	}

	dir, err := os.MkdirTemp(n.tmpDir, "normalize-*")
	if err != nil {
		return "", noop, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	out := filepath.Join(dir, "audio.wav")
	_, err = n.run(ctx, n.ffmpegPath,
		"-y", "-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(n.sampleRate),
		"-sample_fmt", "s16",
		"-f", "wav",
		out,
	)
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, cleanup, nil
}

// Probe returns the container duration reported by ffprobe.
func (n *Normalizer) Probe(ctx context.Context, inputPath string) (time.Duration, error) {
	out, err := n.run(ctx, n.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputPath,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("%w: parse ffprobe output: %v", ErrDecode, err)
	}
	secs, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrDecode, probe.Format.Duration)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
