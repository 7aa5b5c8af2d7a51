package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smarttransit/rideshare-core/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cibConfig(offline bool) DomesticCardConfig {
	return DomesticCardConfig{
		Network:         MethodCIB,
		DisplayName:     "CIB",
		Offline:         offline,
		IssuerPrefixes:  []string{"6394", "6395", "6396"},
		DeclinePrefixes: []string{"63949999"},
		Currencies:      []string{"DZD"},
	}
}

func cardData(number string) PaymentData {
	return PaymentData{
		Reference: "7b1e4c52-8d0e-4b8f-a3a7-51f1a0e2d9c1",
		Amount:    2400,
		Currency:  "DZD",
		Card: &validator.CardDetails{
			Number:      number,
			ExpiryMonth: 12,
			ExpiryYear:  time.Now().Year() + 2,
			CVV:         "123",
			HolderName:  "Amina Benali",
		},
	}
}

func TestDomesticCard_OfflineAccepts(t *testing.T) {
	strategy := NewDomesticCardStrategy(cibConfig(true), nil)

	res, err := strategy.Process(context.Background(), cardData("6394000012345675"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.TransactionID, "OFFLINE-"))
	assert.Equal(t, "5675", res.Raw["card_last4"])
}

func TestDomesticCard_OfflineDeclinesByPrefix(t *testing.T) {
	strategy := NewDomesticCardStrategy(cibConfig(true), nil)

	res, err := strategy.Process(context.Background(), cardData("6394999900000013"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, StatusDeclined, res.Status)
	assert.Equal(t, CodeCardDeclined, res.Code)
}

func TestDomesticCard_ValidationNeverReachesNetwork(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gateway := NewInterbankGateway(InterbankGatewayConfig{BaseURL: server.URL, TerminalID: "T1", TerminalSecret: "s"})
	strategy := NewDomesticCardStrategy(cibConfig(false), gateway)

	tests := []struct {
		data PaymentData
		code string
		name string
	}{
		{PaymentData{Reference: "b", Amount: 10, Currency: "DZD"}, validator.CodeCardValidationFailed, "No card"},
		{cardData("6394000012345676"), validator.CodeInvalidCard, "Luhn failure"},
		{cardData("6280000011112222"), validator.CodeInvalidIssuer, "Other network"},
		{func() PaymentData { d := cardData("6394000012345675"); d.Card.CVV = "1"; return d }(), validator.CodeInvalidCVV, "Bad CVV"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := strategy.Process(context.Background(), tc.data)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tc.code, res.Code)
		})
	}
	assert.Equal(t, 0, calls)
}

func TestDomesticCard_LiveApproved(t *testing.T) {
	var received InterbankPaymentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/register", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(InterbankResponse{Status: InterbankApproved, OrderNumber: received.OrderNumber, TransactionID: "IB-123"})
	}))
	defer server.Close()

	gateway := NewInterbankGateway(InterbankGatewayConfig{BaseURL: server.URL, TerminalID: "T1", TerminalSecret: "terminal-secret"})
	strategy := NewDomesticCardStrategy(cibConfig(false), gateway)

	data := cardData("6394 0000 1234 5675")
	res, err := strategy.Process(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "IB-123", res.TransactionID)

	assert.Equal(t, "T1", received.TerminalID)
	assert.Equal(t, data.Reference, received.OrderNumber)
	assert.Equal(t, "2400.00", received.Amount)
	assert.Equal(t, "6394000012345675", received.CardNumber)
	assert.Equal(t, gateway.GenerateCheckValue(data.Reference, "2400.00", "DZD"), received.CheckValue)
	assert.Len(t, received.Expiry, 4)
}

func TestDomesticCard_LiveDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(InterbankResponse{Status: InterbankDeclined, ResponseCode: "51", Message: "insufficient funds"})
	}))
	defer server.Close()

	gateway := NewInterbankGateway(InterbankGatewayConfig{BaseURL: server.URL, TerminalID: "T1", TerminalSecret: "s"})
	strategy := NewDomesticCardStrategy(cibConfig(false), gateway)

	res, err := strategy.Process(context.Background(), cardData("6394000012345675"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, CodeCardDeclined, res.Code)
	assert.Equal(t, "51", res.Raw["response_code"])
}

func TestDomesticCard_LiveServerErrorIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gateway := NewInterbankGateway(InterbankGatewayConfig{BaseURL: server.URL, TerminalID: "T1", TerminalSecret: "s"})
	strategy := NewDomesticCardStrategy(cibConfig(false), gateway)

	res, err := strategy.Process(context.Background(), cardData("6394000012345675"))
	assert.Nil(t, res)
	assert.Error(t, err)

	// Through the router the same failure is a GATEWAY_ERROR result
	router, err := NewRouter(time.Second, testLogger(), strategy)
	require.NoError(t, err)
	res, err = router.ProcessPayment(context.Background(), MethodCIB, cardData("6394000012345675"))
	require.NoError(t, err)
	assert.Equal(t, CodeGatewayError, res.Code)
}

func TestDomesticCard_RefundAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/refund":
			json.NewEncoder(w).Encode(InterbankResponse{Status: InterbankRefunded, TransactionID: "IB-R-1"})
		case "/payments/status":
			json.NewEncoder(w).Encode(InterbankResponse{Status: InterbankApproved, TransactionID: "IB-123"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	gateway := NewInterbankGateway(InterbankGatewayConfig{BaseURL: server.URL, TerminalID: "T1", TerminalSecret: "s"})
	strategy := NewDomesticCardStrategy(cibConfig(false), gateway)

	refund, err := strategy.Refund(context.Background(), RefundData{Reference: "b-1", TransactionID: "IB-123", Amount: 2400, Currency: "DZD"})
	require.NoError(t, err)
	assert.True(t, refund.Success)
	assert.Equal(t, StatusRefunded, refund.Status)

	status, err := strategy.CheckStatus(context.Background(), StatusQuery{Reference: "b-1"})
	require.NoError(t, err)
	assert.True(t, status.Success)
	assert.Equal(t, "IB-123", status.TransactionID)
}

func TestDomesticCard_OfflineStatusIsUnknown(t *testing.T) {
	strategy := NewDomesticCardStrategy(cibConfig(true), nil)

	res, err := strategy.CheckStatus(context.Background(), StatusQuery{Reference: "b-1"})
	require.NoError(t, err)
	assert.True(t, res.IsPending())
}

func TestInterbankGateway_CheckValue(t *testing.T) {
	gateway := NewInterbankGateway(InterbankGatewayConfig{BaseURL: "http://x", TerminalID: "T1", TerminalSecret: "secret"})

	first := gateway.GenerateCheckValue("order-1", "100.00", "DZD")
	assert.Len(t, first, 128)
	assert.Equal(t, strings.ToUpper(first), first)
	assert.Equal(t, first, gateway.GenerateCheckValue("order-1", "100.00", "DZD"))
	assert.NotEqual(t, first, gateway.GenerateCheckValue("order-1", "100.01", "DZD"))
}

func TestInterbankGateway_NotConfigured(t *testing.T) {
	gateway := NewInterbankGateway(InterbankGatewayConfig{})
	assert.False(t, gateway.IsConfigured())

	_, err := gateway.Status(context.Background(), "order-1")
	assert.Error(t, err)
}
