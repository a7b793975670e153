package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/audioscribe/api/internal/model"
)

// directMediaExts are URL suffixes fetched with a plain HTTP GET. Anything
// else is assumed to be a media page and goes through yt-dlp when available.
var directMediaExts = map[string]bool{
	".aac": true, ".flac": true, ".m4a": true, ".mp3": true, ".mp4": true,
	".mkv": true, ".mov": true, ".ogg": true, ".opus": true, ".wav": true,
	".webm": true, ".wma": true,
}

// Fetcher resolves a job source to a local file for the normalizer.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	ytDlpPath string
	tmpDir    string
	run       runCommand
}

// FetcherConfig carries download settings for a Fetcher.
type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	YtDlpPath string
	TmpDir    string
}

// NewFetcher creates a Fetcher. YtDlpPath is optional; without it only
// direct media URLs and uploads are supported.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  cfg.MaxBytes,
		ytDlpPath: cfg.YtDlpPath,
		tmpDir:    cfg.TmpDir,
		run:       execRunner,
	}
}

// Fetch returns a local path for the source plus a cleanup for anything it
// downloaded. Uploaded sources are already spooled locally and pass through.
func (f *Fetcher) Fetch(ctx context.Context, src model.Source) (string, func(), error) {
	noop := func() {}

	switch src.Type {
	case model.SourceTypeUpload:
		if src.Path != "" {
			return src.Path, noop, nil
		}
		// Uploads persisted to object storage come back as plain URLs
		// (often extensionless); they are always a direct download.
		if src.URL != "" {
			return f.download(ctx, src.URL)
		}
		return "", noop, fmt.Errorf("upload source has no spooled file or url")
	case model.SourceTypeURL:
		if isDirectMediaURL(src.URL) || f.ytDlpPath == "" {
			return f.download(ctx, src.URL)
		}
		return f.extract(ctx, src.URL)
	default:
		return "", noop, fmt.Errorf("unknown source type %q", src.Type)
	}
}

func isDirectMediaURL(raw string) bool {
	trimmed := raw
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return directMediaExts[strings.ToLower(path.Ext(trimmed))]
}

// download fetches a direct media URL into a temp file, capped at maxBytes.
func (f *Fetcher) download(ctx context.Context, url string) (string, func(), error) {
	noop := func() {}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", noop, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", noop, fmt.Errorf("download audio: unexpected status %s", resp.Status)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return "", noop, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	tmp, err := os.CreateTemp(f.tmpDir, "fetch-*"+path.Ext(url))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	written, err := io.Copy(tmp, reader)
	tmp.Close()
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("download audio: %w", err)
	}
	if f.maxBytes > 0 && written > f.maxBytes {
		cleanup()
		return "", noop, fmt.Errorf("%w: body over %d bytes", ErrTooLarge, f.maxBytes)
	}
	return tmp.Name(), cleanup, nil
}

// extract pulls the best audio track out of a media page via yt-dlp.
func (f *Fetcher) extract(ctx context.Context, url string) (string, func(), error) {
	noop := func() {}

	dir, err := os.MkdirTemp(f.tmpDir, "ytdlp-*")
	if err != nil {
		return "", noop, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	outTmpl := filepath.Join(dir, "media.%(ext)s")
	_, err = f.run(ctx, f.ytDlpPath,
		"-f", "bestaudio/best",
		"--no-playlist",
		"--no-warnings",
		"-o", outTmpl,
		url,
	)
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("yt-dlp: %w", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "media.*"))
	if err != nil || len(matches) == 0 {
		cleanup()
		return "", noop, fmt.Errorf("yt-dlp produced no output for %s", url)
	}
	return matches[0], cleanup, nil
}

// SpoolUpload writes inline upload bytes to the local spool directory and
// returns the file path. The worker removes the file once the job is terminal.
func SpoolUpload(tmpDir string, jobID string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(tmpDir, "upload-"+jobID+"-*")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return tmp.Name(), nil
}
