package models

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"ms-flashpromo/internal/apperr"
)

const DefaultCurrency = "USD"

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

var hundred = decimal.NewFromInt(100)

// Price is an immutable non-negative amount in a currency.
type Price struct {
	Amount   decimal.Decimal `bun:"amount,type:numeric(10,2),notnull" json:"amount"`
	Currency string          `bun:"currency,notnull" json:"currency"`
}

func NewPrice(amount decimal.Decimal, currency string) (Price, error) {
	p := Price{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if err := p.Validate(); err != nil {
		return Price{}, err
	}
	return p, nil
}

func (p Price) Validate() error {
	if p.Amount.IsNegative() {
		return apperr.Validation("price amount must be non-negative, got %s", p.Amount)
	}
	if !currencyCode.MatchString(p.Currency) {
		return apperr.Validation("invalid currency code %q", p.Currency)
	}
	return nil
}

// DiscountPercentage returns how much cheaper p is than reference, in percent.
// A zero reference yields zero.
func (p Price) DiscountPercentage(reference Price) (decimal.Decimal, error) {
	if p.Currency != reference.Currency {
		return decimal.Zero, apperr.Validation("currency mismatch: %s vs %s", p.Currency, reference.Currency)
	}
	if reference.Amount.IsZero() {
		return decimal.Zero, nil
	}
	return reference.Amount.Sub(p.Amount).Div(reference.Amount).Mul(hundred).Round(2), nil
}

func (p Price) String() string {
	return p.Amount.StringFixed(2) + " " + p.Currency
}
