package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smarttransit/rideshare-core/pkg/validator"
)

// DomesticCardConfig configures one domestic interbank card network
type DomesticCardConfig struct {
	Network         string // registry id, e.g. "cib" or "edahabia"
	DisplayName     string
	Offline         bool // deterministic decisions, no network call
	IssuerPrefixes  []string
	DeclinePrefixes []string // offline mode only
	Currencies      []string
}

// DomesticCardStrategy settles payments on a domestic interbank card network.
// CIB and Edahabia share this implementation with their own prefixes and terminal.
type DomesticCardStrategy struct {
	network         string
	displayName     string
	offline         bool
	declinePrefixes []string
	currencies      []string
	validator       *validator.CardValidator
	gateway         InterbankClient
}

// NewDomesticCardStrategy creates a card strategy. gateway may be nil in offline mode.
func NewDomesticCardStrategy(cfg DomesticCardConfig, gateway InterbankClient) *DomesticCardStrategy {
	return &DomesticCardStrategy{
		network:         cfg.Network,
		displayName:     cfg.DisplayName,
		offline:         cfg.Offline,
		declinePrefixes: cfg.DeclinePrefixes,
		currencies:      cfg.Currencies,
		validator:       validator.NewCardValidator(cfg.IssuerPrefixes),
		gateway:         gateway,
	}
}

func (s *DomesticCardStrategy) Name() string { return s.network }

func (s *DomesticCardStrategy) Description() string {
	return fmt.Sprintf("%s interbank card", s.displayName)
}

// RequiresOnline is false in offline mode, where no network is contacted
func (s *DomesticCardStrategy) RequiresOnline() bool { return !s.offline }

func (s *DomesticCardStrategy) SupportsRecurring() bool { return false }

func (s *DomesticCardStrategy) SupportedCurrencies() []string { return s.currencies }

// Offline reports whether the strategy runs without the interbank network
func (s *DomesticCardStrategy) Offline() bool { return s.offline }

// Process validates the card locally, then settles through the switch
func (s *DomesticCardStrategy) Process(ctx context.Context, data PaymentData) (*Result, error) {
	if res := checkAmount(data.Amount, data.Currency, s.currencies); res != nil {
		return res, nil
	}
	if data.Card == nil {
		return failure(validator.CodeCardValidationFailed, "card details are required", data.Amount, data.Currency), nil
	}

	number, err := s.validator.Validate(*data.Card)
	if err != nil {
		var cardErr *validator.CardValidationError
		if errors.As(err, &cardErr) {
			return failure(cardErr.Code, cardErr.Message, data.Amount, data.Currency), nil
		}
		return nil, err
	}

	if s.offline {
		return s.processOffline(number, data), nil
	}

	if s.gateway == nil {
		return nil, fmt.Errorf("%s gateway is not configured", s.network)
	}

	resp, err := s.gateway.Register(ctx, &InterbankPaymentRequest{
		OrderNumber:  data.Reference,
		Amount:       FormatAmount(data.Amount),
		CurrencyCode: data.Currency,
		Description:  data.Description,
		CardNumber:   number,
		Expiry:       fmt.Sprintf("%02d%02d", data.Card.ExpiryMonth, data.Card.ExpiryYear%100),
		CVV:          data.Card.CVV,
		HolderName:   data.Card.HolderName,
	})
	if err != nil {
		return nil, err
	}

	return s.mapResponse(resp, data.Amount, data.Currency), nil
}

func (s *DomesticCardStrategy) processOffline(number string, data PaymentData) *Result {
	if validator.HasAnyPrefix(number, s.declinePrefixes) {
		return declined(CodeCardDeclined, "card declined by issuer", data.Amount, data.Currency)
	}
	return &Result{
		Success:       true,
		TransactionID: "OFFLINE-" + uuid.New().String(),
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        StatusSucceeded,
		Raw:           map[string]interface{}{"card_last4": number[len(number)-4:]},
	}
}

// Refund reverses a settled card payment
func (s *DomesticCardStrategy) Refund(ctx context.Context, data RefundData) (*Result, error) {
	if data.TransactionID == "" {
		return failure(CodeRefundFailed, "transaction id is required", data.Amount, data.Currency), nil
	}

	if s.offline {
		return &Result{
			Success:       true,
			TransactionID: "OFFLINE-REFUND-" + uuid.New().String(),
			Amount:        data.Amount,
			Currency:      data.Currency,
			Status:        StatusRefunded,
		}, nil
	}

	if s.gateway == nil {
		return nil, fmt.Errorf("%s gateway is not configured", s.network)
	}

	resp, err := s.gateway.Refund(ctx, &InterbankRefundRequest{
		OrderNumber:   data.Reference,
		TransactionID: data.TransactionID,
		Amount:        FormatAmount(data.Amount),
		CurrencyCode:  data.Currency,
	})
	if err != nil {
		return nil, err
	}

	if resp.Status != InterbankRefunded && resp.Status != InterbankApproved {
		return failure(CodeRefundFailed, resp.Message, data.Amount, data.Currency), nil
	}
	return &Result{
		Success:       true,
		TransactionID: resp.TransactionID,
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        StatusRefunded,
	}, nil
}

// CheckStatus asks the switch for the outcome of an order numbered by booking id
func (s *DomesticCardStrategy) CheckStatus(ctx context.Context, query StatusQuery) (*Result, error) {
	if s.offline || s.gateway == nil {
		// Offline decisions are never persisted anywhere but the booking row
		return &Result{Status: StatusPending, Code: CodeStatusUnavailable}, nil
	}

	resp, err := s.gateway.Status(ctx, query.Reference)
	if err != nil {
		return nil, err
	}
	return s.mapResponse(resp, 0, ""), nil
}

func (s *DomesticCardStrategy) mapResponse(resp *InterbankResponse, amount float64, currency string) *Result {
	switch resp.Status {
	case InterbankApproved:
		return &Result{
			Success:       true,
			TransactionID: resp.TransactionID,
			Amount:        amount,
			Currency:      currency,
			Status:        StatusSucceeded,
		}
	case InterbankPending:
		return &Result{
			TransactionID: resp.TransactionID,
			Amount:        amount,
			Currency:      currency,
			Status:        StatusPending,
		}
	case InterbankDeclined:
		res := declined(CodeCardDeclined, resp.Message, amount, currency)
		if resp.ResponseCode != "" {
			res.Raw = map[string]interface{}{"response_code": resp.ResponseCode}
		}
		return res
	default:
		return failure(CodeGatewayError, resp.Message, amount, currency)
	}
}
