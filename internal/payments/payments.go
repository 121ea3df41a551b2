// Package payments prepares checkout requests for the hosted payment page.
// Rendering the redirect is an external surface; this package only builds
// the request values so callers can hand them off.
package payments

import (
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
)

// DefaultCurrency is used when the profile config leaves the currency empty.
const DefaultCurrency = "GHS"

// CheckoutRequest carries everything the hosted payment page needs to start
// a transaction. Amount is in currency subunits.
type CheckoutRequest struct {
	PublicKey string `json:"publicKey"`
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

// Builder assembles checkout requests with a fixed key and currency.
type Builder struct {
	publicKey string
	currency  string
}

// NewBuilder creates a Builder. An empty currency falls back to DefaultCurrency.
func NewBuilder(publicKey, currency string) *Builder {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Builder{publicKey: publicKey, currency: currency}
}

// Subunits converts a major-unit amount to integer subunits, rounding
// half away from zero. Payment processors reject fractional subunits.
func Subunits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// NewReference returns a unique payment reference. References must be
// unique per transaction or the processor rejects the retry.
func NewReference() string {
	return "nido_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Checkout builds a request for the given payer and major-unit amount.
func (b *Builder) Checkout(email string, amount float64) (CheckoutRequest, error) {
	if b.publicKey == "" {
		return CheckoutRequest{}, errors.New("payments: public key not configured")
	}
	if email == "" {
		return CheckoutRequest{}, errors.New("payments: payer email required")
	}
	if amount <= 0 {
		return CheckoutRequest{}, errors.New("payments: amount must be positive")
	}
	return CheckoutRequest{
		PublicKey: b.publicKey,
		Email:     email,
		Amount:    Subunits(amount),
		Currency:  b.currency,
		Reference: NewReference(),
	}, nil
}
