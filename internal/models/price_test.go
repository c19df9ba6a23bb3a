package models

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-flashpromo/internal/apperr"
)

func TestNewPrice(t *testing.T) {
	p, err := NewPrice(decimal.RequireFromString("19.99"), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, p.Currency)
	assert.Equal(t, "19.99 USD", p.String())

	p, err = NewPrice(decimal.Zero, "eur")
	require.NoError(t, err)
	assert.Equal(t, "EUR", p.Currency)

	_, err = NewPrice(decimal.RequireFromString("-0.01"), "USD")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = NewPrice(decimal.NewFromInt(1), "DOLLARS")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestDiscountPercentage(t *testing.T) {
	promo := Price{Amount: decimal.NewFromInt(75), Currency: "USD"}
	original := Price{Amount: decimal.NewFromInt(100), Currency: "USD"}

	pct, err := promo.DiscountPercentage(original)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(pct), "got %s", pct)

	pct, err = promo.DiscountPercentage(Price{Amount: decimal.Zero, Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, pct.IsZero())

	_, err = promo.DiscountPercentage(Price{Amount: decimal.NewFromInt(100), Currency: "EUR"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
