// Package client issues the HTTP calls described by queued action records
// against the AgriLink marketplace backend. It is a thin adapter: the queue
// hands it a fully formed method, endpoint, and payload.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/agrilink/fieldsync/internal/queue"
)

// TokenProvider supplies the current bearer token at execution time. Tokens
// are never captured at enqueue time: one obtained while queuing may have
// expired by the time of replay.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a structured rejection from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// StatusCode satisfies the queue's failure classifier.
func (e *APIError) StatusCode() int {
	return e.Status
}

// Config holds client settings.
type Config struct {
	BaseURL     string
	Timeout     time.Duration // per-request timeout (default 30s)
	MaxTries    uint          // transport-level attempts per execution (default 3)
	InitialWait time.Duration // first backoff delay (default 100ms)
}

// Client replays action records over HTTP with transport-level retry.
// Backend rejections surface as *APIError; the queue's retry policy decides
// what to do with them.
type Client struct {
	cfg        Config
	tokens     TokenProvider
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for the backend at cfg.BaseURL.
func New(cfg Config, tokens TokenProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = 100 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "client"),
	}
}

// Execute satisfies queue.Executor. Network failures and 5xx responses are
// retried with exponential backoff inside this single execution attempt;
// 4xx rejections return immediately.
func (c *Client) Execute(ctx context.Context, rec *queue.ActionRecord) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := c.do(ctx, rec, token)
		if err == nil {
			return struct{}{}, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			// Semantic rejection; the transport retry cannot help.
			return struct{}{}, backoff.Permanent(err)
		}

		c.logger.Debug("request failed, backing off",
			"id", rec.ID,
			"attempt", attempt,
			"error", err)
		return struct{}{}, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.InitialWait

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.cfg.MaxTries))
	return err
}

func (c *Client) do(ctx context.Context, rec *queue.ActionRecord, token string) error {
	var body io.Reader
	if len(rec.Payload) > 0 {
		body = bytes.NewReader(rec.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, rec.Method, c.cfg.BaseURL+rec.Endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
}
