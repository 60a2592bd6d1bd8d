package queue

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrRemoved resolves the completion channel of an action that was cancelled
// or cleared before it executed.
var ErrRemoved = errors.New("queue: action removed before execution")

// Result is delivered on the completion channel returned by Enqueue when the
// record reaches a terminal state. Err is nil for a completed action and the
// last execution error for an abandoned one.
type Result struct {
	ID     string
	Status Status
	Err    error
}

// Manager owns the in-memory action collection and is its sole mutator. Every
// mutation is mirrored to the store before it is considered committed; store
// failures are logged and the in-memory queue stays authoritative for the
// session.
type Manager struct {
	mu       sync.Mutex
	records  []*ActionRecord
	inflight map[string]bool
	waiters  map[string]chan Result
	hooks    []func()
	store    Store
	logger   *slog.Logger
}

// NewManager creates a manager backed by store, restoring any persisted
// records. A store that fails to load yields an empty queue rather than an
// error: a damaged queue must never block application startup.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		inflight: make(map[string]bool),
		waiters:  make(map[string]chan Result),
		store:    store,
		logger:   logger.With("component", "queue"),
	}

	records, err := store.Load()
	if err != nil {
		m.logger.Warn("queue restore failed, starting empty", "error", err)
		records = nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Before(records[j]) })
	m.records = records

	if len(records) > 0 {
		m.logger.Info("queue restored", "records", len(records))
	}
	return m
}

// OnEnqueue registers a trigger invoked after every successful enqueue, used
// to kick a processing pass when the client is online. Triggers run outside
// the manager lock and must not block.
func (m *Manager) OnEnqueue(fn func()) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Enqueue appends one pending record and persists the queue. It is
// fire-and-forget: execution errors never surface here. The returned channel
// receives exactly one Result when the record reaches a terminal state or is
// removed.
func (m *Manager) Enqueue(actionType, endpoint, method string, payload json.RawMessage, description string) (string, <-chan Result) {
	rec := NewActionRecord(actionType, endpoint, method, payload, description)
	done := make(chan Result, 1)

	m.mu.Lock()
	m.records = append(m.records, rec)
	m.waiters[rec.ID] = done
	m.persistLocked()
	hooks := append([]func(){}, m.hooks...)
	m.mu.Unlock()

	m.logger.Debug("action enqueued", "id", rec.ID, "type", rec.Type, "endpoint", rec.Endpoint)

	for _, fn := range hooks {
		fn()
	}
	return rec.ID, done
}

// Remove cancels a still-pending record, e.g. a discarded draft. It is a
// no-op for records that are already executing or unknown.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight[id] {
		return false
	}
	idx := m.indexLocked(id)
	if idx < 0 {
		return false
	}

	m.records = append(m.records[:idx], m.records[idx+1:]...)
	m.persistLocked()
	m.resolveLocked(id, Result{ID: id, Err: ErrRemoved})
	m.logger.Debug("action removed", "id", id)
	return true
}

// Clear discards every record regardless of status without executing it.
// Used for logout and account switches.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		m.resolveLocked(rec.ID, Result{ID: rec.ID, Err: ErrRemoved})
	}
	dropped := len(m.records)
	m.records = nil
	m.persistLocked()

	if dropped > 0 {
		m.logger.Info("queue cleared", "dropped", dropped)
	}
}

// PendingCount returns the number of records still awaiting execution.
// Failed records in the collection are always retry-eligible: exhausted ones
// transition to abandoned immediately.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingCountLocked()
}

// Snapshot returns a read-only copy of the queue in replay order.
func (m *Manager) Snapshot() []*ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*ActionRecord, len(m.records))
	for i, rec := range m.records {
		out[i] = rec.Clone()
	}
	return out
}

// eligible returns copies of the records the next pass should attempt, in
// replay order.
func (m *Manager) eligible() []*ActionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ActionRecord
	for _, rec := range m.records {
		if rec.Status == StatusPending || rec.Status == StatusFailed {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// beginExecution marks a record as in flight so Remove becomes a no-op for
// it. Returns false if the record vanished or reached a terminal state since
// the pass started.
func (m *Manager) beginExecution(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 || m.records[idx].Status.Terminal() {
		return false
	}
	m.inflight[id] = true
	return true
}

// markCompleted records a successful execution.
func (m *Manager) markCompleted(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inflight, id)
	idx := m.indexLocked(id)
	if idx < 0 {
		// Cleared while executing; the waiter is already resolved.
		return
	}

	rec := m.records[idx]
	now := time.Now().UTC()
	rec.Status = StatusCompleted
	rec.CompletedAt = &now
	m.persistLocked()
	m.resolveLocked(id, Result{ID: id, Status: StatusCompleted})
	m.logger.Debug("action completed", "id", id, "type", rec.Type)
}

// markFailed records a failed execution attempt. The record is abandoned when
// the failure is classified permanent or the retry budget is exhausted;
// otherwise it stays retry-eligible for the next pass.
func (m *Manager) markFailed(id string, execErr error, retryable bool, maxAttempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inflight, id)
	idx := m.indexLocked(id)
	if idx < 0 {
		return
	}

	rec := m.records[idx]
	rec.RetryCount++
	rec.LastError = execErr.Error()

	if !retryable || rec.RetryCount >= maxAttempts {
		rec.Status = StatusAbandoned
		m.persistLocked()
		m.resolveLocked(id, Result{ID: id, Status: StatusAbandoned, Err: execErr})
		m.logger.Warn("action abandoned",
			"id", id,
			"type", rec.Type,
			"attempts", rec.RetryCount,
			"retryable", retryable,
			"error", execErr)
		return
	}

	rec.Status = StatusFailed
	m.persistLocked()
	m.logger.Debug("action failed, will retry",
		"id", id,
		"attempt", rec.RetryCount,
		"error", execErr)
}

// pruneTerminal drops completed and abandoned records, persists the pruned
// collection, and returns the aggregate event for this pass.
func (m *Manager) pruneTerminal() ProcessedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := ProcessedEvent{At: time.Now().UTC()}
	kept := m.records[:0]
	for _, rec := range m.records {
		switch rec.Status {
		case StatusCompleted:
			ev.Completed++
		case StatusAbandoned:
			ev.Abandoned++
		default:
			kept = append(kept, rec)
		}
	}
	m.records = kept
	m.persistLocked()
	ev.Remaining = m.pendingCountLocked()
	return ev
}

func (m *Manager) pendingCountLocked() int {
	count := 0
	for _, rec := range m.records {
		if rec.Status == StatusPending || rec.Status == StatusFailed {
			count++
		}
	}
	return count
}

func (m *Manager) indexLocked(id string) int {
	for i, rec := range m.records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) resolveLocked(id string, res Result) {
	ch, ok := m.waiters[id]
	if !ok {
		return
	}
	delete(m.waiters, id)
	ch <- res
}

// persistLocked mirrors the collection to the store. Failures are swallowed
// and logged: the in-memory queue remains authoritative even when persistence
// intermittently fails.
func (m *Manager) persistLocked() {
	if err := m.store.Save(m.records); err != nil {
		m.logger.Warn("queue persist failed, in-memory state remains authoritative", "error", err)
	}
}
