package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/audioscribe/api/internal/model"
)

// RemoteEngine talks to an OpenAI-compatible transcription endpoint
// (POST {base}/audio/transcriptions, multipart, verbose_json response).
type RemoteEngine struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// RemoteConfig carries the settings for a RemoteEngine.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewRemoteEngine creates an HTTP engine client.
func NewRemoteEngine(cfg RemoteConfig) *RemoteEngine {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	mdl := cfg.Model
	if mdl == "" {
		mdl = "whisper-1"
	}
	return &RemoteEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      mdl,
	}
}

func (e *RemoteEngine) Name() string { return "remote:" + e.baseURL }

// IsConfigured reports whether a base URL was provided.
func (e *RemoteEngine) IsConfigured() bool { return e.baseURL != "" }

type remoteResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (e *RemoteEngine) Transcribe(ctx context.Context, audioPath string, params model.Params) (*model.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open audio: %v", ErrEngine, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	mw.WriteField("model", e.model)
	mw.WriteField("response_format", "verbose_json")
	if params.Language != "" && params.Language != model.LanguageAuto {
		mw.WriteField("language", params.Language)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	url := e.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngine, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEngine, err)
	}

	t := &model.Transcript{Text: out.Text, Language: out.Language, Duration: out.Duration}
	for _, s := range out.Segments {
		t.Segments = append(t.Segments, model.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return finalize(t), nil
}
