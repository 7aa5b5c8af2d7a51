package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Metadata key carrying the booking id on every PaymentIntent
const stripeBookingMetadataKey = "booking_id"

// Webhook outcomes
const (
	WebhookSucceeded = "succeeded"
	WebhookFailed    = "failed"
	WebhookRefunded  = "refunded"
	WebhookIgnored   = "ignored"
)

// StripeConfig configures the international card gateway
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currencies    []string
}

// stripeAPI is the part of the Stripe client used by the strategy
type stripeAPI interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	FindPaymentIntent(ctx context.Context, reference string) (*stripe.PaymentIntent, error)
}

type stripeClient struct {
	sc *stripe.Client
}

func (c *stripeClient) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Create(ctx, params)
}

func (c *stripeClient) CapturePaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Capture(ctx, id, params)
}

func (c *stripeClient) CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	return c.sc.V1Refunds.Create(ctx, params)
}

func (c *stripeClient) RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	return c.sc.V1PaymentIntents.Retrieve(ctx, id, nil)
}

// FindPaymentIntent returns the intent created for a booking, or nil if none exists.
// Stripe's search index lags writes by up to a minute.
func (c *stripeClient) FindPaymentIntent(ctx context.Context, reference string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", stripeBookingMetadataKey, reference)
	params.Limit = stripe.Int64(1)

	for pi, err := range c.sc.V1PaymentIntents.Search(ctx, params) {
		if err != nil {
			return nil, err
		}
		return pi, nil
	}
	return nil, nil
}

// StripeStrategy pre-authorises then captures card payments through Stripe
type StripeStrategy struct {
	api           stripeAPI
	webhookSecret string
	currencies    []string
}

// WebhookOutcome is the normalised content of a verified Stripe event
type WebhookOutcome struct {
	EventID       string
	EventType     string
	Outcome       string
	Reference     string // booking id from metadata, when present
	TransactionID string // PaymentIntent id
	Amount        float64
	Currency      string
	Message       string
}

// NewStripeStrategy creates the Stripe strategy
func NewStripeStrategy(cfg StripeConfig) *StripeStrategy {
	return newStripeStrategy(cfg, &stripeClient{sc: stripe.NewClient(cfg.SecretKey)})
}

func newStripeStrategy(cfg StripeConfig, api stripeAPI) *StripeStrategy {
	return &StripeStrategy{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		currencies:    cfg.Currencies,
	}
}

func (s *StripeStrategy) Name() string { return MethodStripe }

func (s *StripeStrategy) Description() string { return "International card payment" }

func (s *StripeStrategy) RequiresOnline() bool { return true }

func (s *StripeStrategy) SupportsRecurring() bool { return true }

func (s *StripeStrategy) SupportedCurrencies() []string { return s.currencies }

// Process authorises the amount on the payment method, then captures it
func (s *StripeStrategy) Process(ctx context.Context, data PaymentData) (*Result, error) {
	if res := checkAmount(data.Amount, data.Currency, s.currencies); res != nil {
		return res, nil
	}
	if data.PaymentMethodID == "" {
		return failure(CodePaymentMethodRequired, "a Stripe payment method is required", data.Amount, data.Currency), nil
	}

	currency := strings.ToLower(data.Currency)
	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(ToMinorUnits(data.Amount, data.Currency)),
		Currency:           stripe.String(currency),
		PaymentMethod:      stripe.String(data.PaymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:            stripe.Bool(true),
	}
	if data.Description != "" {
		params.Description = stripe.String(data.Description)
	}
	if data.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(data.CustomerEmail)
	}
	if data.Recurring {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
	params.SetIdempotencyKey("booking-" + data.Reference)
	params.AddMetadata(stripeBookingMetadataKey, data.Reference)
	params.AddMetadata("passenger_id", data.PassengerID)
	for k, v := range data.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.CreatePaymentIntent(ctx, params)
	if err != nil {
		if res := stripeCardFailure(err, data.Amount, data.Currency); res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
	case stripe.PaymentIntentStatusSucceeded:
		return s.succeeded(pi, data), nil
	case stripe.PaymentIntentStatusRequiresAction:
		// Bookings have no client step to complete 3-D Secure, so this is a decline
		res := failure(CodeAuthenticationNeeded, "card requires additional authentication", data.Amount, data.Currency)
		res.Status = StatusRequiresAction
		res.TransactionID = pi.ID
		return res, nil
	default:
		res := declined(CodeCardDeclined, fmt.Sprintf("payment intent is %s", pi.Status), data.Amount, data.Currency)
		res.TransactionID = pi.ID
		return res, nil
	}

	return s.capture(ctx, pi.ID, data.Reference, data.Amount, data.Currency)
}

// capture settles an authorised intent. The idempotency key is per booking, so a
// capture retried by reconciliation cannot charge twice.
func (s *StripeStrategy) capture(ctx context.Context, intentID, reference string, amount float64, currency string) (*Result, error) {
	captureParams := &stripe.PaymentIntentCaptureParams{}
	captureParams.SetIdempotencyKey("capture-" + reference)

	captured, err := s.api.CapturePaymentIntent(ctx, intentID, captureParams)
	if err != nil {
		if res := stripeCardFailure(err, amount, currency); res != nil {
			res.TransactionID = intentID
			return res, nil
		}
		return nil, fmt.Errorf("failed to capture payment intent %s: %w", intentID, err)
	}
	if captured.Status != stripe.PaymentIntentStatusSucceeded {
		res := declined(CodeCardDeclined, fmt.Sprintf("capture left payment intent %s", captured.Status), amount, currency)
		res.TransactionID = intentID
		return res, nil
	}

	return &Result{
		Success:       true,
		TransactionID: captured.ID,
		Amount:        amount,
		Currency:      currency,
		Status:        StatusSucceeded,
	}, nil
}

// CheckStatus resolves a payment whose caller went away. An intent left authorised
// but uncaptured is captured now, finishing what Process started.
func (s *StripeStrategy) CheckStatus(ctx context.Context, query StatusQuery) (*Result, error) {
	var (
		pi  *stripe.PaymentIntent
		err error
	)
	if query.TransactionID != "" {
		pi, err = s.api.RetrievePaymentIntent(ctx, query.TransactionID)
	} else {
		pi, err = s.api.FindPaymentIntent(ctx, query.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment intent: %w", err)
	}
	if pi == nil {
		// The create call never reached Stripe
		return failure(CodePaymentNotFound, "no payment intent exists for this booking", 0, ""), nil
	}

	currency := strings.ToUpper(string(pi.Currency))
	amount := FromMinorUnits(pi.Amount, currency)

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &Result{
			Success:       true,
			TransactionID: pi.ID,
			Amount:        amount,
			Currency:      currency,
			Status:        StatusSucceeded,
		}, nil
	case stripe.PaymentIntentStatusRequiresCapture:
		return s.capture(ctx, pi.ID, query.Reference, amount, currency)
	case stripe.PaymentIntentStatusProcessing:
		return &Result{TransactionID: pi.ID, Amount: amount, Currency: currency, Status: StatusPending}, nil
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		res := failure(CodeAuthenticationNeeded, "card requires additional authentication", amount, currency)
		res.TransactionID = pi.ID
		return res, nil
	default:
		res := declined(CodeCardDeclined, fmt.Sprintf("payment intent is %s", pi.Status), amount, currency)
		res.TransactionID = pi.ID
		return res, nil
	}
}

func (s *StripeStrategy) succeeded(pi *stripe.PaymentIntent, data PaymentData) *Result {
	return &Result{
		Success:       true,
		TransactionID: pi.ID,
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        StatusSucceeded,
	}
}

// Refund refunds a captured PaymentIntent
func (s *StripeStrategy) Refund(ctx context.Context, data RefundData) (*Result, error) {
	if data.TransactionID == "" {
		return failure(CodeRefundFailed, "payment intent id is required", data.Amount, data.Currency), nil
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(data.TransactionID),
	}
	if data.Amount > 0 {
		params.Amount = stripe.Int64(ToMinorUnits(data.Amount, data.Currency))
	}
	params.SetIdempotencyKey("refund-" + data.TransactionID)
	params.AddMetadata(stripeBookingMetadataKey, data.Reference)
	if data.Reason != "" {
		params.AddMetadata("reason", data.Reason)
	}

	refund, err := s.api.CreateRefund(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
			return failure(CodeRefundFailed, stripeErr.Msg, data.Amount, data.Currency), nil
		}
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		return failure(CodeRefundFailed, fmt.Sprintf("refund is %s", refund.Status), data.Amount, data.Currency), nil
	}

	return &Result{
		Success:       true,
		TransactionID: refund.ID,
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        StatusRefunded,
	}, nil
}

// HandleWebhook verifies the Stripe signature and normalises the event
func (s *StripeStrategy) HandleWebhook(payload []byte, signature string) (*WebhookOutcome, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}

	outcome := &WebhookOutcome{
		EventID:   event.ID,
		EventType: string(event.Type),
		Outcome:   WebhookIgnored,
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to parse payment intent: %w", err)
		}
		outcome.TransactionID = pi.ID
		outcome.Reference = pi.Metadata[stripeBookingMetadataKey]
		outcome.Currency = strings.ToUpper(string(pi.Currency))
		outcome.Amount = FromMinorUnits(pi.Amount, outcome.Currency)
		if event.Type == "payment_intent.succeeded" {
			outcome.Outcome = WebhookSucceeded
		} else {
			outcome.Outcome = WebhookFailed
			if pi.LastPaymentError != nil {
				outcome.Message = pi.LastPaymentError.Msg
			}
		}
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("failed to parse charge: %w", err)
		}
		if ch.PaymentIntent != nil {
			outcome.TransactionID = ch.PaymentIntent.ID
		}
		outcome.Reference = ch.Metadata[stripeBookingMetadataKey]
		outcome.Currency = strings.ToUpper(string(ch.Currency))
		outcome.Amount = FromMinorUnits(ch.AmountRefunded, outcome.Currency)
		outcome.Outcome = WebhookRefunded
	}

	return outcome, nil
}

// stripeCardFailure turns a card error into a declined result. Other errors return nil.
func stripeCardFailure(err error, amount float64, currency string) *Result {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || stripeErr.Type != stripe.ErrorTypeCard {
		return nil
	}
	res := declined(CodeCardDeclined, stripeErr.Msg, amount, currency)
	if stripeErr.DeclineCode != "" {
		res.Raw = map[string]interface{}{"decline_code": string(stripeErr.DeclineCode)}
	}
	return res
}
