package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a settlement or refund call when none is configured
const DefaultTimeout = 30 * time.Second

// Router dispatches payment operations to the strategy registered for a method.
// The registry is built once and never modified, so the router is safe for concurrent use.
type Router struct {
	strategies map[string]Strategy
	timeout    time.Duration
	logger     *logrus.Logger
}

// NewRouter builds the registry from strategies. Ids are matched case-insensitively.
func NewRouter(timeout time.Duration, logger *logrus.Logger, strategies ...Strategy) (*Router, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}

	registry := make(map[string]Strategy, len(strategies))
	for _, strategy := range strategies {
		if strategy == nil {
			continue
		}
		id := normaliseMethod(strategy.Name())
		if id == "" {
			return nil, fmt.Errorf("payment strategy has an empty name")
		}
		if _, exists := registry[id]; exists {
			return nil, fmt.Errorf("payment method %s registered twice", id)
		}
		registry[id] = strategy
	}

	return &Router{
		strategies: registry,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func normaliseMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}

// Strategy returns the strategy registered for method
func (r *Router) Strategy(method string) (Strategy, error) {
	strategy, ok := r.strategies[normaliseMethod(method)]
	if !ok {
		return nil, &UnsupportedMethodError{Method: method}
	}
	return strategy, nil
}

// IsRegistered reports whether method has a strategy
func (r *Router) IsRegistered(method string) bool {
	_, ok := r.strategies[normaliseMethod(method)]
	return ok
}

// Timeout returns the per-call timeout
func (r *Router) Timeout() time.Duration {
	return r.timeout
}

// AvailableMethods lists the registered methods sorted by id
func (r *Router) AvailableMethods() []MethodInfo {
	methods := make([]MethodInfo, 0, len(r.strategies))
	for id, strategy := range r.strategies {
		methods = append(methods, MethodInfo{
			Method:            id,
			Description:       strategy.Description(),
			RequiresOnline:    strategy.RequiresOnline(),
			SupportsRecurring: strategy.SupportsRecurring(),
			Currencies:        strategy.SupportedCurrencies(),
		})
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i].Method < methods[j].Method })
	return methods
}

// ProcessPayment settles a payment. The only error is UnsupportedMethodError;
// every other failure is reported in the result.
func (r *Router) ProcessPayment(ctx context.Context, method string, data PaymentData) (*Result, error) {
	strategy, err := r.Strategy(method)
	if err != nil {
		return nil, err
	}

	return r.run(ctx, strategy.Name(), "process", data.Reference, data.Amount, data.Currency, func(ctx context.Context) (*Result, error) {
		return strategy.Process(ctx, data)
	}), nil
}

// RefundPayment reverses a settled payment
func (r *Router) RefundPayment(ctx context.Context, method string, data RefundData) (*Result, error) {
	strategy, err := r.Strategy(method)
	if err != nil {
		return nil, err
	}

	return r.run(ctx, strategy.Name(), "refund", data.Reference, data.Amount, data.Currency, func(ctx context.Context) (*Result, error) {
		return strategy.Refund(ctx, data)
	}), nil
}

// CheckStatus asks the strategy for the outcome of an abandoned payment.
// Methods that cannot report one return a pending result.
func (r *Router) CheckStatus(ctx context.Context, method string, query StatusQuery) (*Result, error) {
	strategy, err := r.Strategy(method)
	if err != nil {
		return nil, err
	}

	checker, ok := strategy.(StatusChecker)
	if !ok {
		return &Result{Status: StatusPending, Code: CodeStatusUnavailable}, nil
	}

	res := r.run(ctx, strategy.Name(), "status", query.Reference, 0, "", func(ctx context.Context) (*Result, error) {
		return checker.CheckStatus(ctx, query)
	})
	// A status call that could not complete says nothing about the payment
	if res.Code == CodeGatewayError || res.Code == CodePaymentTimeout {
		res.Status = StatusPending
	}
	return res, nil
}

// ConfirmCashPayment records that the driver collected a cash payment
func (r *Router) ConfirmCashPayment(ctx context.Context, transactionID string, amount float64) (*Result, error) {
	strategy, err := r.Strategy(MethodCash)
	if err != nil {
		return nil, err
	}
	cash, ok := strategy.(*CashStrategy)
	if !ok {
		return nil, &UnsupportedMethodError{Method: MethodCash}
	}

	return r.run(ctx, MethodCash, "confirm", transactionID, amount, "", func(ctx context.Context) (*Result, error) {
		return cash.ConfirmPayment(ctx, transactionID, amount)
	}), nil
}

type callOutcome struct {
	result *Result
	err    error
}

// run executes fn under the router timeout and normalises transport errors
func (r *Router) run(ctx context.Context, method, op, reference string, amount float64, currency string, fn func(ctx context.Context) (*Result, error)) *Result {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan callOutcome, 1)
	go func() {
		res, err := fn(callCtx)
		done <- callOutcome{result: res, err: err}
	}()

	var outcome callOutcome
	select {
	case outcome = <-done:
	case <-callCtx.Done():
		outcome = callOutcome{err: callCtx.Err()}
	}

	fields := logrus.Fields{
		"method":      method,
		"operation":   op,
		"reference":   reference,
		"duration_ms": time.Since(start).Milliseconds(),
	}

	if outcome.err != nil {
		if errors.Is(outcome.err, context.DeadlineExceeded) {
			r.logger.WithFields(fields).Warn("Payment call timed out")
			return failure(CodePaymentTimeout, fmt.Sprintf("payment provider did not answer within %s", r.timeout), amount, currency)
		}
		r.logger.WithFields(fields).WithError(outcome.err).Warn("Payment call failed")
		return failure(CodeGatewayError, outcome.err.Error(), amount, currency)
	}

	if outcome.result == nil {
		r.logger.WithFields(fields).Warn("Payment provider returned no result")
		return failure(CodeGatewayError, "payment provider returned no result", amount, currency)
	}

	fields["success"] = outcome.result.Success
	fields["status"] = outcome.result.Status
	if outcome.result.Code != "" {
		fields["code"] = outcome.result.Code
	}
	r.logger.WithFields(fields).Info("Payment call completed")

	return outcome.result
}
