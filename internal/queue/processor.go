package queue

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Executor replays one action against the backend. The current auth
// credential is fetched by the implementation at execution time, never at
// enqueue time.
type Executor interface {
	Execute(ctx context.Context, rec *ActionRecord) error
}

// ConnectivitySource reports the current online state.
type ConnectivitySource interface {
	Online() bool
}

// Processor drains retry-eligible records sequentially in replay order.
// Actions often carry implicit causal dependency (create listing, then offer
// on it), so record n must finish before record n+1 starts; parallel
// draining is disallowed.
type Processor struct {
	manager  *Manager
	executor Executor
	policy   Policy
	online   ConnectivitySource
	notifier *Notifier
	group    singleflight.Group
	logger   *slog.Logger
}

// NewProcessor creates a processor. A nil policy falls back to DefaultPolicy.
func NewProcessor(manager *Manager, executor Executor, policy Policy, online ConnectivitySource, notifier *Notifier, logger *slog.Logger) *Processor {
	if policy == nil {
		policy = DefaultPolicy{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		manager:  manager,
		executor: executor,
		policy:   policy,
		online:   online,
		notifier: notifier,
		logger:   logger.With("component", "processor"),
	}
}

// Process runs one drain of the queue. It is a no-op while offline or when
// nothing is eligible. Concurrent invocations collapse into a single pass:
// independent triggers (enqueue, connectivity, timer, manual sync) may all
// call this without ever executing the same record twice.
func (p *Processor) Process(ctx context.Context) error {
	if !p.online.Online() {
		p.logger.Debug("offline, skipping processing pass")
		return nil
	}

	_, err, _ := p.group.Do("drain", func() (any, error) {
		return nil, p.drain(ctx)
	})
	return err
}

// Trigger requests a pass without blocking the caller. Used by the enqueue
// hook and the connectivity-online transition.
func (p *Processor) Trigger() {
	go func() {
		if err := p.Process(context.Background()); err != nil {
			p.logger.Warn("processing pass failed", "error", err)
		}
	}()
}

func (p *Processor) drain(ctx context.Context) error {
	batch := p.manager.eligible()
	if len(batch) == 0 {
		return nil
	}
	p.logger.Debug("processing pass started", "eligible", len(batch))

	for _, rec := range batch {
		if ctx.Err() != nil {
			break
		}
		if !p.online.Online() {
			p.logger.Debug("went offline mid-pass, stopping")
			break
		}
		if !p.manager.beginExecution(rec.ID) {
			// Removed or already terminal since the batch was taken.
			continue
		}

		if err := p.executor.Execute(ctx, rec); err != nil {
			p.manager.markFailed(rec.ID, err, p.policy.Retryable(err), p.policy.MaxAttempts())
			continue
		}
		p.manager.markCompleted(rec.ID)
	}

	ev := p.manager.pruneTerminal()
	p.notifier.Notify(ev)
	p.logger.Info("processing pass finished",
		"completed", ev.Completed,
		"abandoned", ev.Abandoned,
		"remaining", ev.Remaining)
	return nil
}
