package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Card validation failure codes. They travel unchanged into payment results.
const (
	CodeCardValidationFailed = "CARD_VALIDATION_FAILED"
	CodeInvalidCard          = "INVALID_CARD"
	CodeInvalidIssuer        = "INVALID_ISSUER"
	CodeCardExpired          = "CARD_EXPIRED"
	CodeInvalidCVV           = "INVALID_CVV"
)

const (
	MinCardLength = 16
	MaxCardLength = 19
)

// CardValidationError describes why card details were rejected
type CardValidationError struct {
	Code    string
	Message string
}

func (e *CardValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// digitsRegex matches digits only
var digitsRegex = regexp.MustCompile(`^\d+$`)

// cvvRegex matches 3 or 4 digit security codes
var cvvRegex = regexp.MustCompile(`^\d{3,4}$`)

// CardDetails holds the card fields supplied by the passenger
type CardDetails struct {
	Number      string
	ExpiryMonth int
	ExpiryYear  int // four digits, or two digits meaning 20xx
	CVV         string
	HolderName  string
}

// CardValidator validates card numbers for a single issuing network
type CardValidator struct {
	issuerPrefixes []string
	now            func() time.Time
}

// NewCardValidator creates a validator accepting cards that start with one of issuerPrefixes.
// An empty prefix list accepts any issuer.
func NewCardValidator(issuerPrefixes []string) *CardValidator {
	return &CardValidator{
		issuerPrefixes: issuerPrefixes,
		now:            time.Now,
	}
}

// Validate checks the card and returns the sanitized card number.
// Order: presence, format, Luhn, issuer, expiry, CVV.
func (v *CardValidator) Validate(card CardDetails) (string, error) {
	if strings.TrimSpace(card.Number) == "" || card.CVV == "" || card.ExpiryMonth == 0 || card.ExpiryYear == 0 {
		return "", &CardValidationError{Code: CodeCardValidationFailed, Message: "card number, expiry and CVV are required"}
	}

	number := v.Sanitize(card.Number)

	if !digitsRegex.MatchString(number) {
		return "", &CardValidationError{Code: CodeInvalidCard, Message: "card number can only contain digits"}
	}

	if len(number) < MinCardLength || len(number) > MaxCardLength {
		return "", &CardValidationError{Code: CodeInvalidCard, Message: fmt.Sprintf("card number must be %d to %d digits", MinCardLength, MaxCardLength)}
	}

	if !LuhnValid(number) {
		return "", &CardValidationError{Code: CodeInvalidCard, Message: "card number failed checksum"}
	}

	if !v.IsValidIssuer(number) {
		return "", &CardValidationError{Code: CodeInvalidIssuer, Message: "card is not issued by a supported network"}
	}

	if err := v.validateExpiry(card.ExpiryMonth, card.ExpiryYear); err != nil {
		return "", err
	}

	if !cvvRegex.MatchString(card.CVV) {
		return "", &CardValidationError{Code: CodeInvalidCVV, Message: "CVV must be 3 or 4 digits"}
	}

	return number, nil
}

// Sanitize removes spaces and dashes from a card number
func (v *CardValidator) Sanitize(number string) string {
	number = strings.ReplaceAll(number, " ", "")
	number = strings.ReplaceAll(number, "-", "")
	return number
}

// IsValidIssuer checks the card number against the configured issuer prefixes
func (v *CardValidator) IsValidIssuer(number string) bool {
	if len(v.issuerPrefixes) == 0 {
		return true
	}
	return HasAnyPrefix(number, v.issuerPrefixes)
}

func (v *CardValidator) validateExpiry(month, year int) error {
	if month < 1 || month > 12 {
		return &CardValidationError{Code: CodeCardValidationFailed, Message: "expiry month must be between 1 and 12"}
	}
	if year < 100 {
		year += 2000
	}

	now := v.now()
	// A card is valid through the last day of its expiry month
	if year < now.Year() || (year == now.Year() && month < int(now.Month())) {
		return &CardValidationError{Code: CodeCardExpired, Message: "card has expired"}
	}
	return nil
}

// LuhnValid reports whether a digit string passes the Luhn checksum
func LuhnValid(number string) bool {
	if number == "" {
		return false
	}

	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		digit := int(c - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	return sum%10 == 0
}

// HasAnyPrefix reports whether number starts with one of prefixes
func HasAnyPrefix(number string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(number, prefix) {
			return true
		}
	}
	return false
}

// MaskCardNumber keeps only the last four digits, for logs and receipts
func MaskCardNumber(number string) string {
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
