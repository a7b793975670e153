package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/model"
)

func newTestHub() *Hub {
	h := NewHub(zerolog.Nop())
	go h.Run()
	return h
}

func waitSubscribed(t *testing.T, h *Hub, jobID string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		n := len(h.clients[jobID])
		h.mu.RUnlock()
		if n == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %s never reached %d subscribers", jobID, want)
}

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestHubDeliversToJobSubscribersOnly(t *testing.T) {
	h := newTestHub()

	sub := &Client{JobID: "job-1", Send: make(chan []byte, 8)}
	other := &Client{JobID: "job-2", Send: make(chan []byte, 8)}
	h.Register(sub)
	h.Register(other)
	waitSubscribed(t, h, "job-1", 1)
	waitSubscribed(t, h, "job-2", 1)

	h.BroadcastStatus("job-1", model.JobStatusRunning)

	var status model.WSStatusMessage
	if err := json.Unmarshal(recv(t, sub.Send), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Type != model.WSMessageTypeStatus || status.JobID != "job-1" || status.Status != model.JobStatusRunning {
		t.Errorf("status message = %+v", status)
	}

	select {
	case msg := <-other.Send:
		t.Fatalf("unrelated subscriber received %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDeliversResultAndError(t *testing.T) {
	h := newTestHub()

	sub := &Client{JobID: "job-1", Send: make(chan []byte, 8)}
	h.Register(sub)
	waitSubscribed(t, h, "job-1", 1)

	h.BroadcastResult("job-1", &model.Transcript{
		Text:     "hello",
		Segments: []model.Segment{{Start: 0, End: 1, Text: "hello"}},
	})
	var result model.WSResultMessage
	if err := json.Unmarshal(recv(t, sub.Send), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Type != model.WSMessageTypeResult || result.Result == nil || result.Result.Text != "hello" {
		t.Errorf("result message = %+v", result)
	}

	h.BroadcastError("job-1", &model.JobError{Code: model.FailureEngineError, Message: "model crashed"})
	var jobErr model.WSErrorMessage
	if err := json.Unmarshal(recv(t, sub.Send), &jobErr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if jobErr.Type != model.WSMessageTypeError || jobErr.Error == nil || jobErr.Error.Code != model.FailureEngineError {
		t.Errorf("error message = %+v", jobErr)
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	h := newTestHub()

	sub := &Client{JobID: "job-1", Send: make(chan []byte, 8)}
	h.Register(sub)
	waitSubscribed(t, h, "job-1", 1)

	h.Unregister(sub)
	waitSubscribed(t, h, "job-1", 0)

	select {
	case _, ok := <-sub.Send:
		if ok {
			t.Fatal("expected closed channel, got a message")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after unregister")
	}
}

func TestHubEvictsSlowClientWithoutClosingChannel(t *testing.T) {
	h := newTestHub()

	// A one-slot buffer fills on the first broadcast; the second evicts.
	slow := &Client{JobID: "job-1", Send: make(chan []byte, 1)}
	h.Register(slow)
	waitSubscribed(t, h, "job-1", 1)

	h.BroadcastStatus("job-1", model.JobStatusRunning)
	h.BroadcastStatus("job-1", model.JobStatusSucceeded)
	waitSubscribed(t, h, "job-1", 0)

	// The channel must stay writable after eviction: the connection handler
	// may still push a pong reply before it unregisters.
	select {
	case slow.Send <- []byte(`{"type":"pong"}`):
		t.Fatal("expected the buffer to still hold the undelivered message")
	default:
	}

	h.Unregister(slow)
	if msg := recv(t, slow.Send); msg == nil {
		t.Fatal("buffered message lost")
	}
	if _, ok := <-slow.Send; ok {
		t.Fatal("send channel not closed after unregister")
	}
}
