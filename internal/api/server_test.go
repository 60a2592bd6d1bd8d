package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agrilink/fieldsync/internal/queue"
)

type stubMonitor struct {
	mu      sync.Mutex
	online  bool
	checked int
}

func (m *stubMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *stubMonitor) Check(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked++
	return m.online
}

type okExecutor struct{}

func (okExecutor) Execute(context.Context, *queue.ActionRecord) error { return nil }

func newTestServer(t *testing.T, online bool) (*Server, *queue.Manager, *stubMonitor) {
	t.Helper()
	store, err := queue.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	manager := queue.NewManager(store, nil)
	notifier := queue.NewNotifier()
	monitor := &stubMonitor{online: online}
	processor := queue.NewProcessor(manager, okExecutor{}, nil, monitor, notifier, nil)
	return NewServer(0, manager, processor, notifier, monitor, nil), manager, monitor
}

func TestStatusEndpoint(t *testing.T) {
	srv, manager, _ := newTestServer(t, true)
	manager.Enqueue("send-message", "/messages", "POST", nil, "")

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Online  bool `json:"online"`
		Pending int  `json:"pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Online || body.Pending != 1 {
		t.Fatalf("body = %+v", body)
	}
}

func TestQueueSnapshotEndpoint(t *testing.T) {
	srv, manager, _ := newTestServer(t, true)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Empty queue serves an empty array, not null.
	resp, err := http.Get(ts.URL + "/api/queue")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw := make([]byte, 16)
	n, _ := resp.Body.Read(raw)
	resp.Body.Close()
	if !strings.HasPrefix(strings.TrimSpace(string(raw[:n])), "[") {
		t.Fatalf("expected JSON array, got %q", raw[:n])
	}

	id, _ := manager.Enqueue("make-offer", "/offers", "POST", json.RawMessage(`{"amount":120}`), "offer on maize")

	resp, err = http.Get(ts.URL + "/api/queue")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var records []*queue.ActionRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Description != "offer on maize" {
		t.Fatalf("description = %q", records[0].Description)
	}
}

func TestQueueEnqueueEndpoint(t *testing.T) {
	srv, manager, _ := newTestServer(t, true)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"type":"send-message","endpoint":"/messages","method":"POST","payload":{"text":"hi"},"description":"message to seller"}`
	resp, err := http.Post(ts.URL+"/api/queue", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected non-empty id")
	}

	snap := manager.Snapshot()
	if len(snap) != 1 || snap[0].ID != created.ID {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[0].Type != "send-message" || snap[0].Endpoint != "/messages" || snap[0].Method != "POST" {
		t.Fatalf("record fields lost: %+v", snap[0])
	}
	if string(snap[0].Payload) != `{"text":"hi"}` {
		t.Fatalf("payload = %s", snap[0].Payload)
	}
}

func TestQueueEnqueueEndpointRejectsBadRequests(t *testing.T) {
	srv, manager, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, body := range []string{
		"{not json",
		`{"type":"send-message","method":"POST"}`,
		`{"type":"send-message","endpoint":"/messages"}`,
	} {
		resp, err := http.Post(ts.URL+"/api/queue", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, resp.StatusCode)
		}
	}
	if manager.PendingCount() != 0 {
		t.Fatalf("rejected requests enqueued records: %d", manager.PendingCount())
	}
}

func TestQueueClearEndpoint(t *testing.T) {
	srv, manager, _ := newTestServer(t, true)
	manager.Enqueue("send-message", "/messages", "POST", nil, "")

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/queue", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if manager.PendingCount() != 0 {
		t.Fatal("queue not cleared")
	}
}

func TestQueueRemoveEndpoint(t *testing.T) {
	srv, manager, _ := newTestServer(t, true)
	id, _ := manager.Enqueue("send-message", "/messages", "POST", nil, "")

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/queue/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// Removing again is a 404.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d", resp.StatusCode)
	}
}

func TestProcessEndpoint(t *testing.T) {
	srv, _, monitor := newTestServer(t, true)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/queue/process", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	monitor.mu.Lock()
	checked := monitor.checked
	monitor.mu.Unlock()
	if checked != 1 {
		t.Fatalf("expected a forced connectivity check, got %d", checked)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/queue", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestEventStream(t *testing.T) {
	srv, manager, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Give the handler a moment to register its subscription.
	time.Sleep(50 * time.Millisecond)

	// A processing pass publishes one event to every connected stream.
	manager.Enqueue("send-message", "/messages", "POST", nil, "")
	resp, err := http.Post(ts.URL+"/api/queue/process", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	// The pass runs in the background.
	deadline := time.After(2 * time.Second)
	for manager.PendingCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("queue never drained")
		case <-time.After(10 * time.Millisecond):
		}
	}

	var ev queue.ProcessedEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Completed != 1 || ev.Remaining != 0 {
		t.Fatalf("event = %+v", ev)
	}
}
