package models

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// SplitFee returns the creator payout and platform fee for amount at pct percent.
// The fee is floor(amount * pct / 100); the payout is the remainder, so
// payout + fee == amount exactly.
func SplitFee(amount decimal.Decimal, pct int) (payout, fee decimal.Decimal) {
	fee, _ = amount.Mul(decimal.NewFromInt(int64(pct))).QuoRem(hundred, 0)
	return amount.Sub(fee), fee
}
