package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	dErrors "crowdledger/pkg/domain-errors"
)

// maxAmountDigits is the digit count of MaxAmount. Exponents outside
// ±maxAmountDigits are rejected before any arithmetic, since rescaling such a
// value materializes every digit.
const maxAmountDigits = 78

// MaxAmount is the largest representable amount, 2^256-1 base units.
var MaxAmount = decimal.NewFromBigInt(
	new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)

// ParseAmount parses a decimal amount expressed in base units (wei).
// Sign and scale are left to the caller; magnitude is bounded by MaxAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "amount required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "invalid amount")
	}
	if err := CheckAmountRange(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckAmountRange rejects amounts whose magnitude exceeds MaxAmount or whose
// exponent is too far from zero to rescale cheaply.
func CheckAmountRange(d decimal.Decimal) error {
	exp := int64(d.Exponent())
	if exp > maxAmountDigits || exp < -maxAmountDigits {
		return dErrors.New(dErrors.CodeInvalidInput, "amount out of range")
	}
	if d.Abs().GreaterThan(MaxAmount) {
		return dErrors.New(dErrors.CodeInvalidInput, "amount out of range")
	}
	return nil
}

// IsWholeUnits reports whether d carries no fractional base units.
func IsWholeUnits(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}
