package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxRetentionRate is the upper bound of a PO retention percentage.
var MaxRetentionRate = decimal.NewFromInt(10)

// ValidateRetention rejects rates outside [0, 10] and a missing cause when the
// rate is positive.
func ValidateRetention(rate decimal.Decimal, cause string) error {
	if rate.IsNegative() || rate.GreaterThan(MaxRetentionRate) {
		return invariantf("retention rate %s is outside [0, 10]", rate)
	}
	if rate.IsPositive() && strings.TrimSpace(cause) == "" {
		return invariantf("retention cause is required when the retention rate is %s", rate)
	}
	return nil
}

// RetentionAmount is total × rate/100 rounded to 2 dp.
func RetentionAmount(total, rate decimal.Decimal) decimal.Decimal {
	return Round2(total.Mul(rate).Div(hundred))
}
