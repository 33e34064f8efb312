package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Strategy is one way of accomplishing an operation. Attempts below 1 mean
// a single attempt.
type Strategy struct {
	Name     string
	Attempts int
	Run      func(ctx context.Context) error
}

// TierError records why one strategy gave up.
type TierError struct {
	Strategy string
	Err      error
}

func (e *TierError) Error() string { return fmt.Sprintf("%s: %v", e.Strategy, e.Err) }
func (e *TierError) Unwrap() error { return e.Err }

// Permanent marks an error that must not be retried within its strategy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// sleep is replaced in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FirstSuccess runs strategies in order and returns the name of the first
// one that succeeds. Each strategy is retried up to its Attempts with
// ComputeBackoff between tries. When every strategy fails the returned
// error joins one *TierError per strategy.
func FirstSuccess(ctx context.Context, policy BackoffPolicy, operationID string, strategies ...Strategy) (string, error) {
	var errs []error
	for _, s := range strategies {
		attempts := s.Attempts
		if attempts < 1 {
			attempts = 1
		}
		var err error
		for i := 0; i < attempts; i++ {
			if err = s.Run(ctx); err == nil {
				return s.Name, nil
			}
			var perm *permanentError
			if errors.As(err, &perm) || i == attempts-1 {
				break
			}
			delay := ComputeBackoff(BackoffParams{
				PolicyID:     policy.PolicyID,
				Strategy:     s.Name,
				OperationID:  operationID,
				AttemptIndex: i,
			}, policy)
			if serr := sleep(ctx, delay); serr != nil {
				err = serr
				break
			}
		}
		errs = append(errs, &TierError{Strategy: s.Name, Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no strategies configured")
	}
	return "", errors.Join(errs...)
}
