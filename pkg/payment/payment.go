// Package payment creates payment intents for signals that opted into card
// payment, and hosted checkout sessions for direct orders. Provider
// responses are normalized into package types so no SDK shape leaks past
// this package.
package payment

import (
	"context"
	"errors"
	"math"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

// ErrInvalidAmount is returned for non-positive amounts before any network
// call is made.
var ErrInvalidAmount = errors.New("payment: amount must be greater than zero")

// Customer identifies who the intent is for.
type Customer struct {
	Email         string
	Name          string
	LeadType      contracts.LeadType
	NodeReference string
}

// Provider creates and retrieves payment intents.
type Provider interface {
	CreateIntent(ctx context.Context, amount float64, c Customer) (contracts.PaymentHandle, error)
	Retrieve(ctx context.Context, intentID string) (contracts.PaymentHandle, error)
}

// CheckoutRequest describes a hosted checkout page for one order. An empty
// Currency selects the provider default.
type CheckoutRequest struct {
	Amount      float64
	Currency    string
	ProductName string
	Customer    Customer
}

// CheckoutSession is a created hosted checkout page.
type CheckoutSession struct {
	ID       string            `json:"sessionId"`
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Checkout creates hosted checkout sessions.
type Checkout interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

const (
	defaultProduct = "Signal order"
	directNode     = "DIRECT"
)

// checkoutMetadata is attached to every session, whichever provider
// creates it.
func checkoutMetadata(req CheckoutRequest, trace string) map[string]string {
	node := req.Customer.NodeReference
	if node == "" {
		node = directNode
	}
	md := map[string]string{
		"nodeReference": node,
		"signalSource":  signalSource,
		"signalTrace":   trace,
	}
	if req.Customer.Name != "" {
		md["customerName"] = req.Customer.Name
	}
	return md
}

// minorUnits converts a major-unit amount into cents.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func validAmount(amount float64) bool {
	return amount > 0 && !math.IsInf(amount, 0) && !math.IsNaN(amount)
}
