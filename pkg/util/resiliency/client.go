// Package resiliency wraps outbound HTTP calls to third-party APIs with
// retries, jitter and a circuit breaker.
package resiliency

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Doer is the subset of *http.Client used by API clients.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient adapts d for SDKs that only accept an *http.Client. Requests
// the SDK sends are handed to d, so its retries and breaker still apply.
func HTTPClient(d Doer) *http.Client {
	if hc, ok := d.(*http.Client); ok {
		return hc
	}
	return &http.Client{Transport: doerTransport{d}}
}

type doerTransport struct{ d Doer }

func (t doerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.d.Do(req.Clone(req.Context()))
}

// EnhancedClient wraps http.Client with:
// - exponential backoff and jitter on transport errors and 5xx
// - a circuit breaker per client
// - W3C traceparent propagation
type EnhancedClient struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	breaker    *CircuitBreaker
}

// Option configures an EnhancedClient.
type Option func(*EnhancedClient)

func WithHTTPClient(c *http.Client) Option { return func(e *EnhancedClient) { e.client = c } }
func WithMaxRetries(n int) Option          { return func(e *EnhancedClient) { e.maxRetries = n } }
func WithBaseDelay(d time.Duration) Option { return func(e *EnhancedClient) { e.baseDelay = d } }
func WithBreaker(b *CircuitBreaker) Option { return func(e *EnhancedClient) { e.breaker = b } }

func NewEnhancedClient(name string, opts ...Option) *EnhancedClient {
	c := &EnhancedClient{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		breaker:    NewCircuitBreaker(name, 5, 10*time.Second),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func traceparent(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return fmt.Sprintf("00-%s-%s-%s", sc.TraceID(), sc.SpanID(), sc.TraceFlags())
	}
	var b [16]byte
	traceID := ""
	if _, err := rand.Read(b[:]); err == nil {
		traceID = hex.EncodeToString(b[:])
	} else {
		traceID = fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return fmt.Sprintf("00-%s-0000000000000001-01", traceID)
}

// Do executes req with resiliency patterns. Requests with a body are only
// retried when GetBody is set (http.NewRequest sets it for in-memory bodies).
func (c *EnhancedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	req.Header.Set("traceparent", traceparent(ctx))

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("circuit breaker open for %s", c.breaker.name)
	}

	var (
		resp *http.Response
		err  error
	)
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 && req.Body != nil {
			if req.GetBody == nil {
				break
			}
			body, gerr := req.GetBody()
			if gerr != nil {
				err = gerr
				break
			}
			req.Body = body
		}

		resp, err = c.client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}
		if i == c.maxRetries {
			break
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		backoff := c.baseDelay << i
		if n, rerr := rand.Int(rand.Reader, big.NewInt(50)); rerr == nil {
			backoff += time.Duration(n.Int64()) * time.Millisecond
		}
		select {
		case <-ctx.Done():
			c.breaker.Failure()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	c.breaker.Failure()
	return resp, err
}

// Breaker states.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// CircuitBreaker implements a simple state machine for failure detection.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        StateClosed,
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold || cb.state == StateHalfOpen {
		cb.state = StateOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
