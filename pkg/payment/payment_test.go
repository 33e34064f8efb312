package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildcoprojects/signalhub/pkg/config"
)

func stripeConfig(url string) config.StripeConfig {
	return config.StripeConfig{
		SecretKey:  "sk_test",
		BaseURL:    url,
		SuccessURL: "https://signals.example/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://signals.example/checkout/cancel",
	}
}

func TestStripe_InvalidAmountMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := NewStripeClient(stripeConfig(srv.URL), srv.Client(), nil)
	for _, amt := range []float64{0, -5} {
		_, err := c.CreateIntent(context.Background(), amt, Customer{Email: "a@b.co"})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestStripe_CreatesCustomerThenIntent(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
			assert.Equal(t, "buyer@acme.io", r.URL.Query().Get("email"))
			_, _ = w.Write([]byte(`{"data":[]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "Acme", r.PostForm.Get("name"))
			_, _ = w.Write([]byte(`{"id":"cus_1"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "1250", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, "cus_1", r.PostForm.Get("customer"))
			assert.Equal(t, "Buyer", r.PostForm.Get("metadata[leadType]"))
			assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"id":"pi_123","amount":1250,"status":"requires_payment_method"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := stripeConfig(srv.URL)
	cfg.Currency = "USD"
	c := NewStripeClient(cfg, srv.Client(), nil)
	h, err := c.CreateIntent(context.Background(), 12.5, Customer{Email: "buyer@acme.io", Name: "Acme", LeadType: "Buyer"})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", h.IntentID)
	assert.Equal(t, 12.5, h.Amount)
	assert.Equal(t, "requires_payment_method", h.Status)
	assert.Equal(t, []string{"GET /v1/customers", "POST /v1/customers", "POST /v1/payment_intents"}, paths)
}

func TestStripe_ReusesExistingCustomer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/customers":
			require.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"data":[{"id":"cus_existing"}]}`))
		case "/v1/payment_intents":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "cus_existing", r.PostForm.Get("customer"))
			_, _ = w.Write([]byte(`{"id":"pi_9","amount":100,"status":"requires_payment_method"}`))
		}
	}))
	defer srv.Close()

	h, err := NewStripeClient(stripeConfig(srv.URL), srv.Client(), nil).CreateIntent(context.Background(), 1, Customer{Email: "x@y.z"})
	require.NoError(t, err)
	assert.Equal(t, "pi_9", h.IntentID)
}

func TestStripe_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","message":"declined"}}`))
	}))
	defer srv.Close()

	_, err := NewStripeClient(stripeConfig(srv.URL), srv.Client(), nil).CreateIntent(context.Background(), 10, Customer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declined")
}

func TestStripe_Retrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_abc", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pi_abc","amount":500,"status":"succeeded"}`))
	}))
	defer srv.Close()

	c := NewStripeClient(stripeConfig(srv.URL), srv.Client(), nil)
	h, err := c.Retrieve(context.Background(), "pi_abc")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", h.Status)
	assert.Equal(t, 5.0, h.Amount)

	_, err = c.Retrieve(context.Background(), "ch_abc")
	assert.Error(t, err)
}

func TestStripe_CheckoutSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST /v1/checkout/sessions", r.Method+" "+r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "1250", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "eur", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "DIRECT", r.PostForm.Get("line_items[0][price_data][product_data][metadata][nodeRef]"))
		assert.Equal(t, "DIRECT", r.PostForm.Get("metadata[nodeReference]"))
		assert.Equal(t, "Acme", r.PostForm.Get("metadata[customerName]"))
		assert.Equal(t, "buyer@acme.io", r.PostForm.Get("customer_email"))
		assert.Contains(t, r.PostForm.Get("success_url"), "{CHECKOUT_SESSION_ID}")
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://checkout.stripe.com/c/cs_1","metadata":{"nodeReference":"DIRECT"}}`))
	}))
	defer srv.Close()

	c := NewStripeClient(stripeConfig(srv.URL), srv.Client(), nil)
	sess, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Amount:   12.5,
		Currency: "EUR",
		Customer: Customer{Email: "buyer@acme.io", Name: "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", sess.URL)
	assert.Equal(t, "DIRECT", sess.Metadata["nodeReference"])

	_, err = c.CreateCheckoutSession(context.Background(), CheckoutRequest{Amount: -1})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSimulated(t *testing.T) {
	s := NewSimulated()
	ctx := context.Background()

	_, err := s.CreateIntent(ctx, 0, Customer{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	h, err := s.CreateIntent(ctx, 99.999, Customer{})
	require.NoError(t, err)
	assert.Regexp(t, `^pi_[0-9a-f]{24}$`, h.IntentID)
	assert.Equal(t, 100.0, h.Amount)

	got, err := s.Retrieve(ctx, h.IntentID)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestSimulated_CheckoutSession(t *testing.T) {
	s := NewSimulated()
	sess, err := s.CreateCheckoutSession(context.Background(), CheckoutRequest{
		Amount:   40,
		Customer: Customer{NodeReference: "node-3"},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^cs_test_[0-9a-f]{32}$`, sess.ID)
	assert.Equal(t, "node-3", sess.Metadata["nodeReference"])
	assert.Equal(t, "signalhub", sess.Metadata["signalSource"])

	_, err = s.CreateCheckoutSession(context.Background(), CheckoutRequest{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
