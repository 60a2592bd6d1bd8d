// Package queue implements the offline-first action queue for the AgriLink
// marketplace client. Write operations performed while the backend is
// unreachable are captured as action records, persisted durably, and replayed
// in FIFO order once connectivity returns.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an action record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transitions occur from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// ActionRecord is one deferred write queued for replay against the backend.
// The queue is payload-agnostic: Type and Description exist only for display,
// never for dispatch.
type ActionRecord struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Endpoint    string          `json:"endpoint"`
	Method      string          `json:"method"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Status      Status          `json:"status"`
	RetryCount  int             `json:"retryCount"`
	LastError   string          `json:"lastError,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// NewActionRecord creates a pending record for one enqueue call.
func NewActionRecord(actionType, endpoint, method string, payload json.RawMessage, description string) *ActionRecord {
	return &ActionRecord{
		ID:          uuid.New().String(),
		Type:        actionType,
		Endpoint:    endpoint,
		Method:      method,
		Payload:     payload,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Status:      StatusPending,
	}
}

// Before reports whether r precedes other in replay order: ascending
// createdAt, with the id as a stable tiebreaker.
func (r *ActionRecord) Before(other *ActionRecord) bool {
	if r.CreatedAt.Equal(other.CreatedAt) {
		return r.ID < other.ID
	}
	return r.CreatedAt.Before(other.CreatedAt)
}

// Clone returns a copy safe to hand to callers.
func (r *ActionRecord) Clone() *ActionRecord {
	out := *r
	if r.Payload != nil {
		out.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
