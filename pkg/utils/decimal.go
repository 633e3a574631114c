package utils

import (
	"github.com/shopspring/decimal"
)

// Safe float64 to decimal conversion
func FloatToDecimal(val float64) decimal.Decimal {
	return decimal.NewFromFloat(val)
}

// Safe decimal to float64 conversion (may lose precision!)
func DecimalToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// Parse string, fallback to zero on error
func ParseDecimalSafe(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundDownTo truncates toward zero at the given number of decimal places.
// Order quantities must never be rounded up past the lot precision.
func RoundDownTo(val decimal.Decimal, places int) decimal.Decimal {
	return val.RoundFloor(int32(places))
}

// DecimalsIn counts the significant decimal places of an exchange step
// string such as "0.0100" (returns 2) or "1" (returns 0).
func DecimalsIn(step string) int {
	for i := 0; i < len(step); i++ {
		if step[i] == '.' {
			frac := step[i+1:]
			for len(frac) > 0 && frac[len(frac)-1] == '0' {
				frac = frac[:len(frac)-1]
			}
			return len(frac)
		}
	}
	return 0
}
