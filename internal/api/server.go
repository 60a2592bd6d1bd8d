// Package api exposes the queue to UI collaborators: enqueue and queue
// management over HTTP, manual sync triggers, and a WebSocket stream of
// queueProcessed events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agrilink/fieldsync/internal/queue"
)

// Connectivity is the slice of the monitor the API needs.
type Connectivity interface {
	Online() bool
	Check(ctx context.Context) bool
}

// Server is the HTTP status API.
type Server struct {
	port       int
	manager    *queue.Manager
	processor  *queue.Processor
	notifier   *queue.Notifier
	monitor    Connectivity
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the status API server.
func NewServer(port int, manager *queue.Manager, processor *queue.Processor, notifier *queue.Notifier, monitor Connectivity, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:      port,
		manager:   manager,
		processor: processor,
		notifier:  notifier,
		monitor:   monitor,
		logger:    logger.With("component", "api"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/queue", s.handleQueue)
	mux.HandleFunc("/api/queue/", s.handleQueueAction)
	mux.HandleFunc("/ws/events", s.handleEvents)
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.port),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("status API starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down status API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleStatus returns the aggregate queue and connectivity state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondJSON(w, map[string]any{
		"online":  s.monitor.Online(),
		"pending": s.manager.PendingCount(),
	})
}

// enqueueRequest is the body of POST /api/queue.
type enqueueRequest struct {
	Type        string          `json:"type"`
	Endpoint    string          `json:"endpoint"`
	Method      string          `json:"method"`
	Payload     json.RawMessage `json:"payload"`
	Description string          `json:"description"`
}

// handleQueue serves the collection: GET snapshot, POST enqueue, DELETE wipe.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records := s.manager.Snapshot()
		if records == nil {
			records = []*queue.ActionRecord{}
		}
		s.respondJSON(w, records)
	case http.MethodPost:
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Endpoint == "" || req.Method == "" {
			http.Error(w, "endpoint and method are required", http.StatusBadRequest)
			return
		}
		id, _ := s.manager.Enqueue(req.Type, req.Endpoint, req.Method, req.Payload, req.Description)
		s.respondStatus(w, http.StatusCreated, map[string]string{"id": id})
	case http.MethodDelete:
		s.manager.Clear()
		s.respondJSON(w, map[string]string{"status": "cleared"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleQueueAction serves per-record and trigger routes under /api/queue/.
func (s *Server) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")

	switch {
	case rest == "process" && r.Method == http.MethodPost:
		// Manual "Sync Now". The pass runs in the background; the
		// outcome arrives on the event stream.
		s.monitor.Check(r.Context())
		s.processor.Trigger()
		s.respondStatus(w, http.StatusAccepted, map[string]string{"status": "processing"})

	case rest != "" && r.Method == http.MethodDelete:
		if !s.manager.Remove(rest) {
			http.Error(w, "not found or already executing", http.StatusNotFound)
			return
		}
		s.respondJSON(w, map[string]string{"status": "removed"})

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleEvents upgrades to WebSocket and streams ProcessedEvents until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // UI collaborators may serve from any origin
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	s.logger.Debug("event stream connected", "remote", r.RemoteAddr)

	events := make(chan queue.ProcessedEvent, 16)
	cancel := s.notifier.Subscribe(func(ev queue.ProcessedEvent) {
		select {
		case events <- ev:
		default:
			// Slow consumer; drop rather than stall the pass.
		}
	})
	defer cancel()

	ctx := r.Context()
	readDone := make(chan struct{})
	go func() {
		// Drain client frames so pings and the close handshake are handled.
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case ev := <-events:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, v any) {
	s.respondStatus(w, http.StatusOK, v)
}

// respondStatus writes v as JSON with an explicit status code. The header
// must be set before the status line is written.
func (s *Server) respondStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response failed", "error", err)
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
