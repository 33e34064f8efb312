// Package chat streams model replies to a caller and keeps per-session
// history in the object store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/llm"
)

const systemPrompt = `You are the assistant for a signal intake desk. Answer questions about
submitted signals, artefacts and the intake process concisely. If you are
unsure, say so.`

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Message is one turn of a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Option func(*Service)

// WithHistoryWindow bounds how many earlier turns are sent to the model.
func WithHistoryWindow(n int) Option { return func(s *Service) { s.window = n } }

func WithModel(m string) Option { return func(s *Service) { s.model = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service streams chat completions.
type Service struct {
	store  artifacts.Store
	client llm.Client
	model  string
	window int
	logger *slog.Logger
	now    func() time.Time

	locks sync.Map // session -> *sync.Mutex
}

func NewService(store artifacts.Store, client llm.Client, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		client: client,
		window: 20,
		logger: logger.With("component", "chat"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func historyKey(session string) string { return session + ".json" }

func validSession(session string) error {
	if !sessionPattern.MatchString(session) {
		return contracts.NewValidationError("sessionId", "must be 1-64 letters, digits, '-' or '_'")
	}
	return nil
}

func (s *Service) lock(session string) func() {
	m, _ := s.locks.LoadOrStore(session, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// History returns the stored turns of session, oldest first.
func (s *Service) History(ctx context.Context, session string) ([]Message, error) {
	if err := validSession(session); err != nil {
		return nil, err
	}
	var msgs []Message
	err := artifacts.GetJSON(ctx, s.store, artifacts.NamespaceChat, historyKey(session), &msgs)
	if errors.Is(err, artifacts.ErrNotFound) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	return msgs, nil
}

func (s *Service) appendTurn(ctx context.Context, session string, m Message) error {
	unlock := s.lock(session)
	defer unlock()
	msgs, err := s.History(ctx, session)
	if err != nil {
		return err
	}
	return artifacts.SetJSON(ctx, s.store, artifacts.NamespaceChat, historyKey(session), append(msgs, m))
}

// Stream records the user message, streams the reply through relay and
// records the accumulated reply once the provider's channel has closed. A
// relay error stops consumption and cancels the provider.
func (s *Service) Stream(ctx context.Context, session, message string, relay func(delta string) error) (Message, error) {
	if err := validSession(session); err != nil {
		return Message{}, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Message{}, contracts.NewValidationError("message", "is required")
	}

	history, err := s.History(ctx, session)
	if err != nil {
		return Message{}, &contracts.DependencyError{Dependency: "chat history", Err: err}
	}
	user := Message{Role: llm.RoleUser, Content: message, Timestamp: s.now()}
	if err := s.appendTurn(ctx, session, user); err != nil {
		return Message{}, &contracts.DependencyError{Dependency: "chat history", Err: err}
	}

	if len(history) > s.window {
		history = history[len(history)-s.window:]
	}
	prompt := make([]llm.Message, 0, len(history)+2)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		prompt = append(prompt, llm.Message{Role: m.Role, Content: m.Content})
	}
	prompt = append(prompt, llm.Message{Role: llm.RoleUser, Content: message})

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chunks, err := s.client.Stream(sctx, prompt, &llm.Options{Model: s.model})
	if err != nil {
		return Message{}, &contracts.DependencyError{Dependency: "llm", Err: err}
	}

	var (
		acc       strings.Builder
		streamErr error
		relayErr  error
	)
	for c := range chunks {
		if c.Err != nil {
			streamErr = c.Err
			break
		}
		acc.WriteString(c.Delta)
		if relayErr = relay(c.Delta); relayErr != nil {
			break
		}
	}
	cancel()
	for range chunks {
		// drain until the producer closes
	}

	reply := Message{Role: llm.RoleAssistant, Content: acc.String(), Timestamp: s.now()}
	if reply.Content != "" {
		if err := s.appendTurn(context.WithoutCancel(ctx), session, reply); err != nil {
			s.logger.ErrorContext(ctx, "chat reply not saved", "session", session, "error", err)
		}
	}

	switch {
	case relayErr != nil:
		return reply, fmt.Errorf("relay: %w", relayErr)
	case streamErr != nil:
		return reply, &contracts.DependencyError{Dependency: "llm", Err: streamErr}
	}
	return reply, nil
}
