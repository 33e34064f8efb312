package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Sink persists audit events.
type Sink interface {
	AppendAudit(ctx context.Context, e Event) error
}

// SinkLogger records synchronously into a Sink.
type SinkLogger struct {
	sink Sink
}

func NewSinkLogger(s Sink) *SinkLogger {
	return &SinkLogger{sink: s}
}

func (l *SinkLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	if l.sink == nil {
		return errors.New("fail-closed: audit sink not configured")
	}
	return l.sink.AppendAudit(ctx, NewEvent(ctx, eventType, action, resource, metadata))
}

// AsyncLogger hands each event to a background goroutine so the caller never
// waits on, or fails because of, the audit write. The event is stamped on
// the caller's goroutine; the write runs on a context detached from the
// caller's cancellation.
type AsyncLogger struct {
	sink   Sink
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewAsyncLogger(s Sink, logger *slog.Logger) *AsyncLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncLogger{sink: s, logger: logger.With("component", "audit")}
}

// Record always returns nil. Failures are logged.
func (l *AsyncLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	e := NewEvent(ctx, eventType, action, resource, metadata)
	detached := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.sink.AppendAudit(detached, e); err != nil {
			l.logger.ErrorContext(detached, "audit write failed", "event_id", e.ID, "action", e.Action, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every pending write has finished.
func (l *AsyncLogger) Wait() {
	l.wg.Wait()
}
