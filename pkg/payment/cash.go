package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CashStrategy records a promise to pay the driver at pickup.
// It never contacts a remote system.
type CashStrategy struct {
	currencies []string
}

// NewCashStrategy creates the cash strategy
func NewCashStrategy(currencies []string) *CashStrategy {
	return &CashStrategy{currencies: currencies}
}

func (s *CashStrategy) Name() string { return MethodCash }

func (s *CashStrategy) Description() string { return "Pay the driver in cash at pickup" }

func (s *CashStrategy) RequiresOnline() bool { return false }

func (s *CashStrategy) SupportsRecurring() bool { return false }

func (s *CashStrategy) SupportedCurrencies() []string { return s.currencies }

// Process always accepts; the booking stays awaiting collection
func (s *CashStrategy) Process(ctx context.Context, data PaymentData) (*Result, error) {
	if res := checkAmount(data.Amount, data.Currency, s.currencies); res != nil {
		return res, nil
	}

	return &Result{
		Success:       true,
		TransactionID: "CASH-" + uuid.New().String(),
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        StatusPendingCash,
		Instructions:  fmt.Sprintf("Pay %s %s to the driver at pickup", FormatAmount(data.Amount), data.Currency),
	}, nil
}

// ConfirmPayment marks a cash payment as collected by the driver
func (s *CashStrategy) ConfirmPayment(ctx context.Context, transactionID string, amount float64) (*Result, error) {
	if transactionID == "" {
		return failure(CodeGatewayError, "transaction id is required", amount, ""), nil
	}
	return &Result{
		Success:       true,
		TransactionID: transactionID,
		Amount:        amount,
		Status:        StatusCompleted,
	}, nil
}

// Refund cannot move cash; the refund must be handled by hand
func (s *CashStrategy) Refund(ctx context.Context, data RefundData) (*Result, error) {
	return &Result{
		Success:       false,
		TransactionID: data.TransactionID,
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        StatusManualRefundRequired,
		Code:          CodeManualRefundRequired,
		Error:         "cash payments must be refunded manually",
	}, nil
}
