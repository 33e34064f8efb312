// Package audit records privileged activity. Events are written either as
// JSON lines or into a durable sink, optionally off the request path.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buildcoprojects/signalhub/pkg/auth"
)

// EventType is the category of an audit event.
type EventType string

const (
	EventAccess   EventType = "ACCESS"
	EventMutation EventType = "MUTATION"
	EventSystem   EventType = "SYSTEM"
	EventCommand  EventType = "COMMAND"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error
}

// NewEvent stamps an event with a fresh id, the context's actor and the
// current time.
func NewEvent(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		ActorID:   auth.ActorID(ctx),
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// logger writes structured JSON lines to a Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLoggerWithWriter creates a Logger writing to w.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	bytes, err := json.Marshal(NewEvent(ctx, eventType, action, resource, metadata))
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Prefixed for easy filtering in mixed log streams.
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}
