package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

// Simulated is an in-process provider for lite mode and tests. It keeps the
// intents it created so Retrieve can find them.
type Simulated struct {
	mu      sync.Mutex
	intents map[string]contracts.PaymentHandle
}

func NewSimulated() *Simulated {
	return &Simulated{intents: make(map[string]contracts.PaymentHandle)}
}

func (s *Simulated) CreateIntent(ctx context.Context, amount float64, _ Customer) (contracts.PaymentHandle, error) {
	if !validAmount(amount) {
		return contracts.PaymentHandle{}, ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return contracts.PaymentHandle{}, err
	}
	h := contracts.PaymentHandle{
		IntentID: "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		Amount:   float64(minorUnits(amount)) / 100,
		Status:   "requires_payment_method",
	}
	s.mu.Lock()
	s.intents[h.IntentID] = h
	s.mu.Unlock()
	return h, nil
}

func (s *Simulated) Retrieve(_ context.Context, intentID string) (contracts.PaymentHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.intents[intentID]
	if !ok {
		return contracts.PaymentHandle{}, fmt.Errorf("payment: unknown intent %q", intentID)
	}
	return h, nil
}

// CreateCheckoutSession returns a local session whose URL points at the
// simulated checkout path.
func (s *Simulated) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if !validAmount(req.Amount) {
		return CheckoutSession{}, ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return CheckoutSession{}, err
	}
	id := "cs_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return CheckoutSession{
		ID:       id,
		URL:      "/checkout/simulated/" + id,
		Metadata: checkoutMetadata(req, "chk_"+uuid.NewString()),
	}, nil
}
