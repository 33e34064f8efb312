package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/buildcoprojects/signalhub/pkg/config"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/util/resiliency"
)

const signalSource = "signalhub"

// StripeClient creates payment intents and checkout sessions with
// stripe-go. Requests go through httpClient, so the SDK's own retries are
// switched off.
type StripeClient struct {
	api        *client.API
	currency   string
	successURL string
	cancelURL  string
	logger     *slog.Logger
}

// NewStripeClient builds a client. httpClient defaults to a resiliency
// client.
func NewStripeClient(cfg config.StripeConfig, httpClient resiliency.Doer, logger *slog.Logger) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripe.APIURL
	}
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "usd"
	}
	if httpClient == nil {
		httpClient = resiliency.NewEnhancedClient("stripe")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stripe")

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        resiliency.HTTPClient(httpClient),
		URL:               stripe.String(strings.TrimRight(baseURL, "/")),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     sdkLogger{logger},
	})
	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &StripeClient{
		api:        api,
		currency:   currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger,
	}
}

// CreateIntent looks up or creates the customer by email and then creates a
// payment intent for amount in the configured currency.
func (c *StripeClient) CreateIntent(ctx context.Context, amount float64, cust Customer) (contracts.PaymentHandle, error) {
	if !validAmount(amount) {
		return contracts.PaymentHandle{}, ErrInvalidAmount
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(amount)),
		Currency: stripe.String(c.currency),
	}
	params.Context = ctx
	if cust.Email != "" {
		id, err := c.ensureCustomer(ctx, cust)
		if err != nil {
			return contracts.PaymentHandle{}, err
		}
		params.Customer = stripe.String(id)
	}
	params.AddMetadata("orderSize", strconv.FormatFloat(amount, 'f', -1, 64))
	params.AddMetadata("signalSource", signalSource)
	params.AddMetadata("contactEmail", cust.Email)
	params.AddMetadata("companyName", cust.Name)
	params.AddMetadata("leadType", string(cust.LeadType))
	params.AddMetadata("nodeReference", cust.NodeReference)
	// One key per submission; the resiliency client's retries reuse it.
	params.SetIdempotencyKey("intent_" + uuid.NewString())

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return contracts.PaymentHandle{}, stripeError("create payment intent", err)
	}
	c.logger.InfoContext(ctx, "payment intent created", "intent_id", pi.ID, "status", pi.Status)
	return intentHandle(pi), nil
}

// Retrieve fetches an existing intent.
func (c *StripeClient) Retrieve(ctx context.Context, intentID string) (contracts.PaymentHandle, error) {
	if !strings.HasPrefix(intentID, "pi_") {
		return contracts.PaymentHandle{}, fmt.Errorf("payment: invalid intent id %q", intentID)
	}
	pi, err := c.api.PaymentIntents.Get(intentID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return contracts.PaymentHandle{}, stripeError("retrieve payment intent", err)
	}
	return intentHandle(pi), nil
}

// CreateCheckoutSession opens a hosted card checkout for a single line item.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if !validAmount(req.Amount) {
		return CheckoutSession{}, ErrInvalidAmount
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = c.currency
	}
	product := req.ProductName
	if product == "" {
		product = defaultProduct
	}
	md := checkoutMetadata(req, "chk_"+uuid.NewString())

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(c.successURL),
		CancelURL:          stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(minorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(product),
					Metadata: map[string]string{"nodeRef": md["nodeReference"]},
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(md["signalTrace"])

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, stripeError("create checkout session", err)
	}
	c.logger.InfoContext(ctx, "checkout session created", "session_id", sess.ID)
	return CheckoutSession{ID: sess.ID, URL: sess.URL, Metadata: sess.Metadata}, nil
}

func (c *StripeClient) ensureCustomer(ctx context.Context, cust Customer) (string, error) {
	list := &stripe.CustomerListParams{Email: stripe.String(cust.Email)}
	list.Context = ctx
	list.Limit = stripe.Int64(1)
	list.Single = true
	it := c.api.Customers.List(list)
	if it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", stripeError("lookup customer", err)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(cust.Email),
		Name:  stripe.String(cust.Name),
	}
	params.Context = ctx
	params.AddMetadata("leadType", string(cust.LeadType))
	params.AddMetadata("nodeReference", cust.NodeReference)
	created, err := c.api.Customers.New(params)
	if err != nil {
		return "", stripeError("create customer", err)
	}
	return created.ID, nil
}

func intentHandle(pi *stripe.PaymentIntent) contracts.PaymentHandle {
	return contracts.PaymentHandle{
		IntentID: pi.ID,
		Amount:   float64(pi.Amount) / 100,
		Status:   string(pi.Status),
	}
}

// stripeError flattens SDK errors into status and message.
func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return fmt.Errorf("%s: stripe %d: %s", op, se.HTTPStatusCode, se.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// sdkLogger routes stripe-go's leveled logging into slog.
type sdkLogger struct{ l *slog.Logger }

func (s sdkLogger) Debugf(format string, v ...interface{}) { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s sdkLogger) Infof(format string, v ...interface{})  { s.l.Debug(fmt.Sprintf(format, v...)) }
func (s sdkLogger) Warnf(format string, v ...interface{})  { s.l.Warn(fmt.Sprintf(format, v...)) }
func (s sdkLogger) Errorf(format string, v ...interface{}) { s.l.Error(fmt.Sprintf(format, v...)) }
