package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// PayPalEnvironmentURLs maps environment names to REST API base URLs
var PayPalEnvironmentURLs = map[string]string{
	"sandbox": "https://api-m.sandbox.paypal.com",
	"live":    "https://api-m.paypal.com",
}

// PayPalConfig configures the international wallet gateway
type PayPalConfig struct {
	Environment  string
	BaseURL      string // overrides Environment when set
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
	Currencies   []string
	Timeout      time.Duration
}

// PayPalStrategy captures payer-approved PayPal orders
type PayPalStrategy struct {
	baseURL      string
	clientID     string
	clientSecret string
	returnURL    string
	cancelURL    string
	currencies   []string
	client       *http.Client

	// Token management
	token       string
	tokenMutex  sync.RWMutex
	tokenExpiry time.Time
}

// PayPalOrder is a created order awaiting payer approval
type PayPalOrder struct {
	ID          string
	Status      string
	ApprovalURL string
}

// paypalAPIError is a non-2xx PayPal response
type paypalAPIError struct {
	StatusCode int
	Issue      string
	Message    string
}

func (e *paypalAPIError) Error() string {
	return fmt.Sprintf("paypal returned status %d: %s %s", e.StatusCode, e.Issue, e.Message)
}

// NewPayPalStrategy creates the PayPal strategy
func NewPayPalStrategy(cfg PayPalConfig) *PayPalStrategy {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		var ok bool
		baseURL, ok = PayPalEnvironmentURLs[cfg.Environment]
		if !ok {
			baseURL = PayPalEnvironmentURLs["sandbox"]
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PayPalStrategy{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		returnURL:    cfg.ReturnURL,
		cancelURL:    cfg.CancelURL,
		currencies:   cfg.Currencies,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *PayPalStrategy) Name() string { return MethodPayPal }

func (s *PayPalStrategy) Description() string { return "PayPal wallet" }

func (s *PayPalStrategy) RequiresOnline() bool { return true }

func (s *PayPalStrategy) SupportsRecurring() bool { return false }

func (s *PayPalStrategy) SupportedCurrencies() []string { return s.currencies }

// CreateOrder creates an order the payer approves before booking
func (s *PayPalStrategy) CreateOrder(ctx context.Context, amount float64, currency, reference string) (*PayPalOrder, error) {
	if res := checkAmount(amount, currency, s.currencies); res != nil {
		return nil, fmt.Errorf("%s: %s", res.Code, res.Error)
	}

	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": reference,
				"custom_id":    reference,
				"amount": map[string]string{
					"currency_code": strings.ToUpper(currency),
					"value":         FormatAmount(amount),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": s.returnURL,
			"cancel_url": s.cancelURL,
		},
	}

	resp, err := s.do(ctx, http.MethodPost, "/v2/checkout/orders", body, "order-"+reference)
	if err != nil {
		return nil, err
	}

	order := &PayPalOrder{
		ID:     gjson.GetBytes(resp, "id").String(),
		Status: gjson.GetBytes(resp, "status").String(),
	}
	for _, link := range gjson.GetBytes(resp, "links").Array() {
		rel := link.Get("rel").String()
		if rel == "approve" || rel == "payer-action" {
			order.ApprovalURL = link.Get("href").String()
			break
		}
	}
	if order.ID == "" {
		return nil, fmt.Errorf("paypal returned no order id")
	}
	return order, nil
}

// Process captures an order the payer has already approved
func (s *PayPalStrategy) Process(ctx context.Context, data PaymentData) (*Result, error) {
	if res := checkAmount(data.Amount, data.Currency, s.currencies); res != nil {
		return res, nil
	}
	if data.OrderID == "" {
		return failure(CodeOrderIDRequired, "an approved PayPal order id is required", data.Amount, data.Currency), nil
	}

	resp, err := s.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(data.OrderID)+"/capture", nil, "capture-"+data.Reference)
	if err != nil {
		if res := paypalRejection(err, data.Amount, data.Currency); res != nil {
			return res, nil
		}
		return nil, err
	}

	return s.captureResult(resp, data.OrderID, data.Amount, data.Currency), nil
}

// Refund refunds a completed capture
func (s *PayPalStrategy) Refund(ctx context.Context, data RefundData) (*Result, error) {
	if data.TransactionID == "" {
		return failure(CodeRefundFailed, "capture id is required", data.Amount, data.Currency), nil
	}

	var body interface{}
	if data.Amount > 0 {
		body = map[string]interface{}{
			"amount": map[string]string{
				"currency_code": strings.ToUpper(data.Currency),
				"value":         FormatAmount(data.Amount),
			},
			"note_to_payer": data.Reason,
		}
	}

	resp, err := s.do(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(data.TransactionID)+"/refund", body, "refund-"+data.TransactionID)
	if err != nil {
		if res := paypalRejection(err, data.Amount, data.Currency); res != nil {
			res.Code = CodeRefundFailed
			return res, nil
		}
		return nil, err
	}

	status := gjson.GetBytes(resp, "status").String()
	if status != "COMPLETED" && status != "PENDING" {
		return failure(CodeRefundFailed, fmt.Sprintf("refund is %s", status), data.Amount, data.Currency), nil
	}

	return &Result{
		Success:       true,
		TransactionID: gjson.GetBytes(resp, "id").String(),
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        StatusRefunded,
	}, nil
}

// CheckStatus reads the order identified by query.TransactionID
func (s *PayPalStrategy) CheckStatus(ctx context.Context, query StatusQuery) (*Result, error) {
	if query.TransactionID == "" {
		return &Result{Status: StatusPending, Code: CodeStatusUnavailable}, nil
	}

	resp, err := s.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(query.TransactionID), nil, "")
	if err != nil {
		return nil, err
	}

	switch gjson.GetBytes(resp, "status").String() {
	case "COMPLETED":
		amount := gjson.GetBytes(resp, "purchase_units.0.payments.captures.0.amount.value").Float()
		currency := gjson.GetBytes(resp, "purchase_units.0.payments.captures.0.amount.currency_code").String()
		return s.captureResult(resp, query.TransactionID, amount, currency), nil
	case "VOIDED":
		return declined(CodeCardDeclined, "order was voided", 0, ""), nil
	default:
		return &Result{Status: StatusPending, TransactionID: query.TransactionID}, nil
	}
}

func (s *PayPalStrategy) captureResult(resp []byte, orderID string, amount float64, currency string) *Result {
	orderStatus := gjson.GetBytes(resp, "status").String()
	capture := gjson.GetBytes(resp, "purchase_units.0.payments.captures.0")
	captureStatus := capture.Get("status").String()

	if orderStatus != "COMPLETED" || captureStatus != "COMPLETED" {
		res := declined(CodeCardDeclined, fmt.Sprintf("order %s, capture %s", orderStatus, captureStatus), amount, currency)
		res.Raw = map[string]interface{}{"order_id": orderID}
		return res
	}

	return &Result{
		Success:       true,
		TransactionID: capture.Get("id").String(),
		Amount:        amount,
		Currency:      currency,
		Status:        StatusSucceeded,
		Raw:           map[string]interface{}{"order_id": orderID},
	}
}

// paypalRejection maps 4xx business errors to a declined result. Other errors return nil.
func paypalRejection(err error, amount float64, currency string) *Result {
	var apiErr *paypalAPIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode < 400 || apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusUnauthorized {
		return nil
	}
	code := apiErr.Issue
	if code == "" {
		code = CodeCardDeclined
	}
	return declined(code, apiErr.Message, amount, currency)
}

// getAccessToken obtains an OAuth2 client-credentials token
func (s *PayPalStrategy) getAccessToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("paypal token request returned status %d", resp.StatusCode)
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return fmt.Errorf("paypal token response has no access_token")
	}

	s.tokenMutex.Lock()
	s.token = token
	s.tokenExpiry = time.Now().Add(time.Duration(gjson.GetBytes(body, "expires_in").Int()) * time.Second)
	s.tokenMutex.Unlock()

	return nil
}

// currentToken returns the cached token if it is still valid
func (s *PayPalStrategy) currentToken() (string, bool) {
	s.tokenMutex.RLock()
	defer s.tokenMutex.RUnlock()

	if s.token == "" {
		return "", false
	}

	// Consider token invalid 5 minutes before actual expiry
	return s.token, time.Now().Before(s.tokenExpiry.Add(-5 * time.Minute))
}

func (s *PayPalStrategy) ensureValidToken(ctx context.Context) (string, error) {
	if token, ok := s.currentToken(); ok {
		return token, nil
	}
	if err := s.getAccessToken(ctx); err != nil {
		return "", err
	}
	token, _ := s.currentToken()
	return token, nil
}

func (s *PayPalStrategy) do(ctx context.Context, method, path string, payload interface{}, requestID string) ([]byte, error) {
	token, err := s.ensureValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call paypal: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			s.tokenMutex.Lock()
			s.token = ""
			s.tokenMutex.Unlock()
		}
		return nil, &paypalAPIError{
			StatusCode: resp.StatusCode,
			Issue:      gjson.GetBytes(body, "details.0.issue").String(),
			Message:    gjson.GetBytes(body, "message").String(),
		}
	}

	return body, nil
}
