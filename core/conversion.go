package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const cryptoPrecision int32 = 8 // on-chain amounts are rounded to 8 decimal places

// Quote is the price of one unit of each supported crypto currency in a fiat currency.
type Quote struct {
	Fiat Currency        `json:"fiat"`
	AVAX decimal.Decimal `json:"AVAX"`
	USDT decimal.Decimal `json:"USDT"`
}

// Price returns the fiat price of one unit of the given crypto currency.
func (q Quote) Price(crypto Currency) (decimal.Decimal, error) {
	switch crypto {
	case CurrencyAVAX:
		return q.AVAX, nil
	case CurrencyUSDT:
		return q.USDT, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is not a crypto currency", ErrValidation, crypto)
	}
}

// ConvertToCrypto converts a fiat amount into units of the given crypto currency.
// Uses decimal arithmetic for precise calculation.
func ConvertToCrypto(amount decimal.Decimal, crypto Currency, quote Quote) (decimal.Decimal, error) {
	price, err := quote.Price(crypto)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive %s price %s in %s", ErrRateUnavailable, crypto, price, quote.Fiat)
	}
	return amount.DivRound(price, cryptoPrecision), nil
}
