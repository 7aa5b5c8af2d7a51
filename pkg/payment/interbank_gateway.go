package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Interbank switch response statuses
const (
	InterbankApproved = "APPROVED"
	InterbankDeclined = "DECLINED"
	InterbankPending  = "PENDING"
	InterbankRefunded = "REFUNDED"
	InterbankError    = "ERROR"
)

// InterbankClient is the subset of the interbank switch API used by card strategies
type InterbankClient interface {
	Register(ctx context.Context, req *InterbankPaymentRequest) (*InterbankResponse, error)
	Refund(ctx context.Context, req *InterbankRefundRequest) (*InterbankResponse, error)
	Status(ctx context.Context, orderNumber string) (*InterbankResponse, error)
}

// InterbankGatewayConfig holds credentials for one merchant terminal
type InterbankGatewayConfig struct {
	BaseURL        string
	TerminalID     string
	TerminalSecret string
	Timeout        time.Duration
}

// InterbankGateway talks to the domestic interbank switch over HTTP/JSON
type InterbankGateway struct {
	baseURL        string
	terminalID     string
	terminalSecret string
	client         *http.Client
}

// InterbankPaymentRequest registers and authorises one card payment.
// terminalSecret is never sent; it only feeds the check value.
type InterbankPaymentRequest struct {
	TerminalID   string `json:"terminalId"`
	OrderNumber  string `json:"orderNumber"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
	Description  string `json:"description,omitempty"`

	CardNumber string `json:"pan"`
	Expiry     string `json:"expiry"` // MMYY
	CVV        string `json:"cvv2"`
	HolderName string `json:"cardholderName,omitempty"`

	CheckValue string `json:"checkValue"`
}

// InterbankRefundRequest reverses a settled payment
type InterbankRefundRequest struct {
	TerminalID    string `json:"terminalId"`
	OrderNumber   string `json:"orderNumber"`
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	CheckValue    string `json:"checkValue"`
}

type interbankStatusRequest struct {
	TerminalID  string `json:"terminalId"`
	OrderNumber string `json:"orderNumber"`
	CheckValue  string `json:"checkValue"`
}

// InterbankResponse is returned by every switch endpoint
type InterbankResponse struct {
	Status        string `json:"status"`
	OrderNumber   string `json:"orderNumber"`
	TransactionID string `json:"transactionId,omitempty"`
	ResponseCode  string `json:"responseCode,omitempty"`
	Message       string `json:"message,omitempty"`
}

// NewInterbankGateway creates a new interbank switch client
func NewInterbankGateway(cfg InterbankGatewayConfig) *InterbankGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InterbankGateway{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		terminalID:     cfg.TerminalID,
		terminalSecret: cfg.TerminalSecret,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateCheckValue creates the SHA-512 check value for a request
// Step 1: hash1 = SHA512(terminalSecret) uppercase hex
// Step 2: hash2 = SHA512("terminalId|orderNumber|amount|currencyCode|hash1") uppercase hex
func (g *InterbankGateway) GenerateCheckValue(orderNumber, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(g.terminalSecret))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		g.terminalID,
		orderNumber,
		amount,
		currencyCode,
		hash1Hex,
	)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// Register authorises and captures a card payment
func (g *InterbankGateway) Register(ctx context.Context, req *InterbankPaymentRequest) (*InterbankResponse, error) {
	req.TerminalID = g.terminalID
	req.CheckValue = g.GenerateCheckValue(req.OrderNumber, req.Amount, req.CurrencyCode)
	return g.post(ctx, "/payments/register", req)
}

// Refund reverses a captured payment
func (g *InterbankGateway) Refund(ctx context.Context, req *InterbankRefundRequest) (*InterbankResponse, error) {
	req.TerminalID = g.terminalID
	req.CheckValue = g.GenerateCheckValue(req.OrderNumber, req.Amount, req.CurrencyCode)
	return g.post(ctx, "/payments/refund", req)
}

// Status queries the outcome of an order
func (g *InterbankGateway) Status(ctx context.Context, orderNumber string) (*InterbankResponse, error) {
	return g.post(ctx, "/payments/status", &interbankStatusRequest{
		TerminalID:  g.terminalID,
		OrderNumber: orderNumber,
		CheckValue:  g.GenerateCheckValue(orderNumber, "", ""),
	})
}

// IsConfigured returns true if the terminal credentials are present
func (g *InterbankGateway) IsConfigured() bool {
	return g.baseURL != "" && g.terminalID != "" && g.terminalSecret != ""
}

func (g *InterbankGateway) post(ctx context.Context, path string, payload interface{}) (*InterbankResponse, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("interbank gateway not configured: missing terminal credentials")
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call interbank gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Declines come back as 200 with status DECLINED; anything else is a transport problem
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("interbank gateway returned status %d", resp.StatusCode)
	}

	var out InterbankResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Status == "" {
		return nil, fmt.Errorf("interbank gateway returned no status")
	}

	return &out, nil
}
