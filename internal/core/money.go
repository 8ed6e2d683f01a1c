package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Round2 quantizes to two decimal places, half away from zero (half-up for
// the non-negative amounts the ledger carries).
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// QuantityScale is the number of decimal places stored for quantities and
// unit prices.
const QuantityScale = 4

// Quantize rounds a quantity or unit price to the stored scale, so amounts
// derived in memory match amounts derived from the stored columns.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

// Percent returns part/whole × 100 rounded to 2 dp, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return zero
	}
	return Round2(part.Div(whole).Mul(hundred))
}

// ParseDecimal reads a spreadsheet or API number. Blank strings are zero.
// Spaces (including non-breaking ones) are dropped; a lone comma is read as
// the decimal separator, and commas next to a dot are thousands separators.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "").Replace(s)
	if s == "" {
		return zero, nil
	}
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return zero, invalidf("%q is not a number", s)
	}
	return d, nil
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
