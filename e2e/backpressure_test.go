package e2e

import (
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestSubmitBurstHitsQueueCapacity(t *testing.T) {
	// No executors: every accepted job occupies a queue slot.
	const capacity = 4
	ta := setupApp(t, testConfig{QueueCapacity: capacity, NoPool: true})

	accepted := 0
	rejected := 0
	for i := 0; i < capacity*3; i++ {
		resp, err := doRequest(ta.app, "POST", "/jobs", `{"url":"https://example.com/talk.mp3"}`)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		switch resp.StatusCode {
		case fiber.StatusAccepted:
			accepted++
		case fiber.StatusTooManyRequests:
			rejected++
			if code := errorCode(t, resp); code != "BUSY" {
				t.Errorf("error code = %s, want BUSY", code)
			}
			if resp.Header.Get("Retry-After") == "" {
				t.Error("busy response missing Retry-After")
			}
		default:
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
	}

	if accepted != capacity {
		t.Errorf("accepted = %d, want exactly %d", accepted, capacity)
	}
	if rejected != capacity*2 {
		t.Errorf("rejected = %d, want %d", rejected, capacity*2)
	}

	// Rejected submissions leave no state behind.
	resp, err := doRequest(ta.app, "GET", "/jobs", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if count := parseJSON(t, resp)["count"]; count != float64(capacity) {
		t.Errorf("stored jobs = %v, want %d", count, capacity)
	}
}
