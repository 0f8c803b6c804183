package payment

import "github.com/shopspring/decimal"

// ToMinor converts a provider decimal amount into integer minor units,
// rounding half away from zero. digits is the currency's fraction digits.
func ToMinor(d decimal.Decimal, digits int32) int64 {
	return d.Shift(digits).Round(0).IntPart()
}

// FromMinor converts integer minor units into a provider decimal amount.
func FromMinor(amount int64, digits int32) decimal.Decimal {
	return decimal.New(amount, -digits)
}

// FractionDigits returns the ISO 4217 minor-unit digits for the currencies this shop sells in.
func FractionDigits(currency string) int32 {
	switch currency {
	case "CLP", "PYG", "JPY", "KRW":
		return 0
	default:
		return 2
	}
}
