package core

import "github.com/shopspring/decimal"

// TargetAllocation is the quantity added to one line to reach a target rate.
type TargetAllocation struct {
	BusinessID   string          `json:"business_id"`
	Addition     decimal.Decimal `json:"addition"`
	NewDelivered decimal.Decimal `json:"new_delivered"`
}

// PlanTargetRate spreads the monetary gap between the current received amount
// and targetRate% of the PO total across lines, in proportion to each line's
// remaining monetary capacity. Additions are rounded to 4 dp and never push a
// line past its ordered quantity. Zero additions are omitted.
func PlanTargetRate(totals POTotals, targetRate decimal.Decimal, lines []Reception) ([]TargetAllocation, error) {
	if targetRate.IsNegative() || targetRate.GreaterThan(hundred) {
		return nil, invalidf("target rate %s is outside [0, 100]", targetRate)
	}
	if targetRate.LessThanOrEqual(totals.ProgressRate) {
		return nil, invariantf("target rate %s must exceed the current rate %s", targetRate, totals.ProgressRate)
	}
	if len(lines) == 0 {
		return nil, invalidf("at least one line is required")
	}

	needed := totals.TotalAmount.Mul(targetRate).Div(hundred).Sub(totals.ReceivedAmount)
	if !needed.IsPositive() {
		return nil, invariantf("target rate %s is already met by the received amount %s", targetRate, totals.ReceivedAmount)
	}

	capacity := zero
	for _, l := range lines {
		capacity = capacity.Add(remainingQuantity(l).Mul(l.UnitPrice))
	}
	if !capacity.IsPositive() {
		return nil, invariantf("selected lines have no remaining monetary capacity")
	}

	fillAll := needed.GreaterThanOrEqual(capacity)
	ratio := zero
	if !fillAll {
		ratio = needed.Div(capacity)
	}

	out := make([]TargetAllocation, 0, len(lines))
	for _, l := range lines {
		remaining := remainingQuantity(l)
		add := remaining
		if !fillAll {
			add = minDecimal(Quantize(remaining.Mul(ratio)), remaining)
		}
		if !add.IsPositive() {
			continue
		}
		out = append(out, TargetAllocation{
			BusinessID:   l.BusinessID,
			Addition:     add,
			NewDelivered: l.QuantityDelivered.Add(add),
		})
	}
	return out, nil
}

func remainingQuantity(r Reception) decimal.Decimal {
	return maxDecimal(zero, r.OrderedQuantity.Sub(r.QuantityDelivered))
}
