package payment

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/smarttransit/rideshare-core/pkg/validator"
)

// Registered method identifiers
const (
	MethodCash     = "cash"
	MethodCIB      = "cib"
	MethodEdahabia = "edahabia"
	MethodStripe   = "stripe"
	MethodPayPal   = "paypal"
)

// Result status tags
const (
	StatusSucceeded            = "succeeded"
	StatusCompleted            = "completed"
	StatusPending              = "pending"
	StatusPendingCash          = "pending_cash_payment"
	StatusDeclined             = "declined"
	StatusFailed               = "failed"
	StatusRefunded             = "refunded"
	StatusManualRefundRequired = "manual_refund_required"
	StatusRequiresAction       = "requires_action"
)

// Result failure codes. Card validation codes come from pkg/validator.
const (
	CodeCardDeclined          = "CARD_DECLINED"
	CodeGatewayError          = "GATEWAY_ERROR"
	CodePaymentTimeout        = "PAYMENT_TIMEOUT"
	CodeManualRefundRequired  = "MANUAL_REFUND_REQUIRED"
	CodeOrderIDRequired       = "ORDER_ID_REQUIRED"
	CodePaymentMethodRequired = "PAYMENT_METHOD_REQUIRED"
	CodeAuthenticationNeeded  = "AUTHENTICATION_REQUIRED"
	CodeUnsupportedCurrency   = "UNSUPPORTED_CURRENCY"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeRefundFailed          = "REFUND_FAILED"
	CodeStatusUnavailable     = "STATUS_UNAVAILABLE"
	CodePaymentNotFound       = "PAYMENT_NOT_FOUND"
)

// PaymentData is everything a strategy may need to settle one booking
type PaymentData struct {
	Reference   string // booking id, used as order number and idempotency key
	Amount      float64
	Currency    string
	PassengerID string
	Description string

	Card            *validator.CardDetails // cib, edahabia
	PaymentMethodID string                 // stripe payment method (pm_...)
	OrderID         string                 // paypal order approved by the payer
	CustomerEmail   string
	Recurring       bool

	Metadata map[string]string
}

// RefundData identifies a settled payment to reverse
type RefundData struct {
	Reference     string // booking id
	TransactionID string
	Amount        float64
	Currency      string
	Reason        string
}

// StatusQuery identifies an in-flight payment whose outcome is unknown
type StatusQuery struct {
	Reference     string // booking id
	TransactionID string // gateway reference known before settlement, if any
}

// Result is the normalised outcome of a payment operation
type Result struct {
	Success       bool                   `json:"success"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Amount        float64                `json:"amount"`
	Currency      string                 `json:"currency"`
	Status        string                 `json:"status"`
	Code          string                 `json:"code,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Instructions  string                 `json:"instructions,omitempty"`
	ApprovalURL   string                 `json:"approval_url,omitempty"`
	Raw           map[string]interface{} `json:"raw,omitempty"`
}

// IsPending reports whether the outcome is still undecided
func (r *Result) IsPending() bool {
	return r != nil && !r.Success && r.Status == StatusPending
}

// Strategy settles and refunds payments for one method
type Strategy interface {
	Process(ctx context.Context, data PaymentData) (*Result, error)
	Refund(ctx context.Context, data RefundData) (*Result, error)
	Name() string
	Description() string
	RequiresOnline() bool
	SupportsRecurring() bool
	SupportedCurrencies() []string
}

// StatusChecker is implemented by strategies that can report the outcome of an
// abandoned payment
type StatusChecker interface {
	CheckStatus(ctx context.Context, query StatusQuery) (*Result, error)
}

// MethodInfo describes a registered method to clients
type MethodInfo struct {
	Method            string   `json:"method"`
	Description       string   `json:"description"`
	RequiresOnline    bool     `json:"requires_online"`
	SupportsRecurring bool     `json:"supports_recurring"`
	Currencies        []string `json:"currencies"`
}

// UnsupportedMethodError is returned when no strategy is registered under a method id
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("unsupported payment method: %s", e.Method)
}

func failure(code, message string, amount float64, currency string) *Result {
	return &Result{
		Success:  false,
		Amount:   amount,
		Currency: currency,
		Status:   StatusFailed,
		Code:     code,
		Error:    message,
	}
}

func declined(code, message string, amount float64, currency string) *Result {
	r := failure(code, message, amount, currency)
	r.Status = StatusDeclined
	return r
}

// checkAmount applies the checks every strategy shares
func checkAmount(amount float64, currency string, supported []string) *Result {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return failure(CodeInvalidAmount, "amount must be positive", amount, currency)
	}
	if !supportsCurrency(supported, currency) {
		return failure(CodeUnsupportedCurrency, fmt.Sprintf("currency %s is not supported", currency), amount, currency)
	}
	return nil
}

func supportsCurrency(supported []string, currency string) bool {
	if len(supported) == 0 {
		return true
	}
	for _, c := range supported {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// FormatAmount renders an amount with two decimals, as gateways expect
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// ToMinorUnits converts an amount to the smallest currency unit
func ToMinorUnits(amount float64, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts the smallest currency unit back to an amount
func FromMinorUnits(minor int64, currency string) float64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return float64(minor)
	}
	return float64(minor) / 100
}
