package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/engine"
	"github.com/audioscribe/api/internal/handler"
	"github.com/audioscribe/api/internal/middleware"
	"github.com/audioscribe/api/internal/model"
	"github.com/audioscribe/api/internal/queue"
	"github.com/audioscribe/api/internal/service"
	"github.com/audioscribe/api/internal/store"
	"github.com/audioscribe/api/internal/worker"
)

// fakeFetcher stands in for network fetches so the pipeline runs without I/O.
type fakeFetcher struct{}

func (f *fakeFetcher) Fetch(ctx context.Context, src model.Source) (string, func(), error) {
	return "/tmp/input.mp3", func() {}, nil
}

type fakeNormalizer struct{}

func (n *fakeNormalizer) Normalize(ctx context.Context, inputPath string) (string, func(), error) {
	return "/tmp/audio.wav", func() {}, nil
}

// fakeEngine returns a canned transcript, honoring context cancellation when
// a delay is set.
type fakeEngine struct {
	result *model.Transcript
	delay  time.Duration
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Transcribe(ctx context.Context, audioPath string, params model.Params) (*model.Transcript, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.result != nil {
		return e.result, nil
	}
	return &model.Transcript{Language: "en", Segments: []model.Segment{}}, nil
}

// testConfig tunes the app under test. The zero value gives a 16-slot queue
// drained by two executors running the mock engine.
type testConfig struct {
	QueueCapacity  int
	Workers        int
	MaxUploadBytes int64
	Engine         engine.Engine
	NoPool         bool // leave the queue undrained to observe backpressure
}

type testApp struct {
	app   *fiber.App
	store *store.MemoryStore
	queue *queue.Queue
}

// setupApp builds the same route surface as main.go on top of the in-memory
// store, with the media pipeline faked out.
func setupApp(t *testing.T, cfg testConfig) *testApp {
	t.Helper()

	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 16
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 * 1024 * 1024
	}
	if cfg.Engine == nil {
		cfg.Engine = engine.NewMockEngine()
	}

	st := store.NewMemoryStore()
	q := queue.New(cfg.QueueCapacity)

	svc := service.NewJobService(st, q, service.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		SpoolDir:       t.TempDir(),
	}, zerolog.Nop())

	validate := validator.New()
	jobHandler := handler.NewJobHandler(svc, validate)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"engine": cfg.Engine.Name(),
				"store":  "memory",
				"queue": fiber.Map{
					"depth":    q.Len(),
					"capacity": q.Cap(),
				},
			},
		})
	})

	jobs := app.Group("/jobs")
	jobs.Post("/", jobHandler.Submit)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)
	jobs.Delete("/:jobId", jobHandler.Cancel)

	if !cfg.NoPool {
		pool := worker.NewPool(worker.PoolConfig{
			Store:      st,
			Queue:      q,
			Fetcher:    &fakeFetcher{},
			Normalizer: &fakeNormalizer{},
			Engine:     cfg.Engine,
			JobTimeout: 30 * time.Second,
			Size:       cfg.Workers,
		}, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		pool.Start(ctx)
		t.Cleanup(func() {
			q.Close()
			cancel()
			pool.Wait()
		})
	} else {
		t.Cleanup(q.Close)
	}

	return &testApp{app: app, store: st, queue: q}
}

// doRequest performs an HTTP request against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

// doRequestWithAuth performs a request carrying a bearer token.
func doRequestWithAuth(app *fiber.App, method, path, token string) (*http.Response, error) {
	req, err := http.NewRequest(method, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return app.Test(req, -1)
}

// submitURL submits a URL job and returns its id.
func submitURL(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp, err := doRequest(app, "POST", "/jobs", `{"url":"https://example.com/talk.mp3"}`)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	assertStatus(t, resp, fiber.StatusAccepted)
	result := parseJSON(t, resp)
	id, _ := result["id"].(string)
	if id == "" {
		t.Fatalf("submit response missing id: %v", result)
	}
	return id
}

// waitStatus polls GET /jobs/:id until the job reaches want.
func waitStatus(t *testing.T, app *fiber.App, id, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := doRequest(app, "GET", "/jobs/"+id, "")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		last = parseJSON(t, resp)
		if last["status"] == want {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s (last: %v)", id, want, last)
	return nil
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode digs the error code out of an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	detail, _ := body["error"].(map[string]interface{})
	code, _ := detail["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// authApp builds a minimal app with bearer auth enabled.
func authApp(secret string) (*fiber.App, *middleware.AuthMiddleware) {
	m := middleware.NewAuthMiddleware(secret)
	app := fiber.New()
	app.Get("/jobs", m.Authenticate(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userId": middleware.GetUserID(c)})
	})
	return app, m
}
