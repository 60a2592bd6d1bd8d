package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// flakyServer answers probes only while up.
type flakyServer struct {
	mu sync.Mutex
	up bool
	ts *httptest.Server
}

func newFlakyServer(up bool) *flakyServer {
	s := &flakyServer{up: up}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		up := s.up
		s.mu.Unlock()
		if !up {
			// Kill the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				panic("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	return s
}

func (s *flakyServer) set(up bool) {
	s.mu.Lock()
	s.up = up
	s.mu.Unlock()
}

func TestMonitorSeedsStateOnStart(t *testing.T) {
	srv := newFlakyServer(true)
	defer srv.ts.Close()

	m := NewMonitor(srv.ts.URL, time.Hour, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if !m.Online() {
		t.Fatal("expected online after initial probe")
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}
}

func TestMonitorStartsOffline(t *testing.T) {
	srv := newFlakyServer(false)
	defer srv.ts.Close()

	m := NewMonitor(srv.ts.URL, time.Hour, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if m.Online() {
		t.Fatal("expected offline when the backend drops connections")
	}
}

func TestMonitorErrorResponseStillOnline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	m := NewMonitor(ts.URL, time.Hour, nil)
	if !m.Check(context.Background()) {
		t.Fatal("an HTTP error response still means the network path is up")
	}
}

func TestMonitorEdgeTriggeredCallbacks(t *testing.T) {
	srv := newFlakyServer(false)
	defer srv.ts.Close()

	m := NewMonitor(srv.ts.URL, time.Hour, nil)

	var mu sync.Mutex
	var onlines, offlines int
	m.OnOnline(func() { mu.Lock(); onlines++; mu.Unlock() })
	m.OnOffline(func() { mu.Lock(); offlines++; mu.Unlock() })

	ctx := context.Background()

	// Repeated offline probes must not re-fire callbacks.
	m.Check(ctx)
	m.Check(ctx)

	srv.set(true)
	m.Check(ctx)
	m.Check(ctx)

	srv.set(false)
	m.Check(ctx)

	mu.Lock()
	defer mu.Unlock()
	if onlines != 1 {
		t.Fatalf("expected 1 online transition, got %d", onlines)
	}
	if offlines != 1 {
		t.Fatalf("expected 1 offline transition, got %d", offlines)
	}
}

func TestMonitorCheckReturnsNewState(t *testing.T) {
	srv := newFlakyServer(true)
	defer srv.ts.Close()

	m := NewMonitor(srv.ts.URL, time.Hour, nil)
	if !m.Check(context.Background()) {
		t.Fatal("expected online")
	}

	srv.set(false)
	if m.Check(context.Background()) {
		t.Fatal("expected offline after backend drop")
	}
	if m.Online() {
		t.Fatal("state not updated by Check")
	}
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	srv := newFlakyServer(true)
	defer srv.ts.Close()

	m := NewMonitor(srv.ts.URL, 10*time.Millisecond, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()
	m.Stop()
}
