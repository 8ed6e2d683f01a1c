package core

import "github.com/shopspring/decimal"

// POTotals are the three aggregates cached on a purchase order.
type POTotals struct {
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	ProgressRate   decimal.Decimal `json:"progress_rate"`
}

// LineAmounts is the slice of a reception the aggregates depend on.
type LineAmounts struct {
	OrderedQuantity   decimal.Decimal
	QuantityDelivered decimal.Decimal
	UnitPrice         decimal.Decimal
}

// ComputePOTotals is the recomputation oracle for the PO cache. Each product
// is rounded to 2 dp before summing.
func ComputePOTotals(lines []LineAmounts) POTotals {
	total, received := zero, zero
	for _, l := range lines {
		total = total.Add(Round2(l.OrderedQuantity.Mul(l.UnitPrice)))
		received = received.Add(Round2(l.QuantityDelivered.Mul(l.UnitPrice)))
	}
	return POTotals{
		TotalAmount:    total,
		ReceivedAmount: received,
		ProgressRate:   Percent(received, total),
	}
}

// Equal reports whether two totals agree to the cent.
func (t POTotals) Equal(o POTotals) bool {
	return t.TotalAmount.Equal(o.TotalAmount) &&
		t.ReceivedAmount.Equal(o.ReceivedAmount) &&
		t.ProgressRate.Equal(o.ProgressRate)
}

func lineAmountsOf(rs []Reception) []LineAmounts {
	out := make([]LineAmounts, len(rs))
	for i, r := range rs {
		out[i] = LineAmounts{OrderedQuantity: r.OrderedQuantity, QuantityDelivered: r.QuantityDelivered, UnitPrice: r.UnitPrice}
	}
	return out
}
