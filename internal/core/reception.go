package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reception is the current delivery state of one business line.
//
// QuantityDelivered is the cumulative ledger counter; ReceivedQuantity is the
// value seen in the most recent imported file. The four derived fields are
// functions of QuantityDelivered, UnitPrice and the PO retention rate.
type Reception struct {
	ID                   int64           `json:"id"`
	POID                 int64           `json:"po_id"`
	PONumber             string          `json:"po_number"`
	FileID               *int64          `json:"file_id,omitempty"`
	BusinessID           string          `json:"business_id"`
	OrderedQuantity      decimal.Decimal `json:"ordered_quantity"`
	ReceivedQuantity     decimal.Decimal `json:"received_quantity"`
	QuantityDelivered    decimal.Decimal `json:"quantity_delivered"`
	QuantityNotDelivered decimal.Decimal `json:"quantity_not_delivered"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	AmountDelivered      decimal.Decimal `json:"amount_delivered"`
	QuantityPayable      decimal.Decimal `json:"quantity_payable"`
	AmountPayable        decimal.Decimal `json:"amount_payable"`
	User                 string          `json:"user"`
	ModifiedAt           time.Time       `json:"modified_at"`
}

// PayableQuantity is delivered × (1 − rate/100), rounded to 2 dp.
func PayableQuantity(delivered, retentionRate decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(retentionRate.Div(hundred))
	return Round2(delivered.Mul(factor))
}

// Recompute refreshes the derived fields from QuantityDelivered, UnitPrice,
// OrderedQuantity and the given PO retention rate. The inputs are first
// quantized to QuantityScale.
func (r *Reception) Recompute(retentionRate decimal.Decimal) {
	r.OrderedQuantity = Quantize(r.OrderedQuantity)
	r.QuantityDelivered = Quantize(r.QuantityDelivered)
	r.UnitPrice = Quantize(r.UnitPrice)
	r.QuantityNotDelivered = maxDecimal(zero, r.OrderedQuantity.Sub(r.QuantityDelivered))
	r.AmountDelivered = Round2(r.QuantityDelivered.Mul(r.UnitPrice))
	r.QuantityPayable = PayableQuantity(r.QuantityDelivered, retentionRate)
	r.AmountPayable = Round2(r.QuantityPayable.Mul(r.UnitPrice))
}

// CheckInvariants reports the first broken reception invariant, if any.
func (r Reception) CheckInvariants(retentionRate decimal.Decimal) error {
	if r.QuantityDelivered.IsNegative() {
		return invariantf("%s: delivered quantity %s is negative", r.BusinessID, r.QuantityDelivered)
	}
	if r.QuantityDelivered.GreaterThan(r.OrderedQuantity) {
		return invariantf("%s: delivered quantity %s exceeds ordered quantity %s",
			r.BusinessID, r.QuantityDelivered, r.OrderedQuantity)
	}
	want := r
	want.Recompute(retentionRate)
	switch {
	case !want.QuantityNotDelivered.Equal(r.QuantityNotDelivered):
		return invariantf("%s: quantity_not_delivered %s, expected %s", r.BusinessID, r.QuantityNotDelivered, want.QuantityNotDelivered)
	case !want.AmountDelivered.Equal(r.AmountDelivered):
		return invariantf("%s: amount_delivered %s, expected %s", r.BusinessID, r.AmountDelivered, want.AmountDelivered)
	case !want.QuantityPayable.Equal(r.QuantityPayable):
		return invariantf("%s: quantity_payable %s, expected %s", r.BusinessID, r.QuantityPayable, want.QuantityPayable)
	case !want.AmountPayable.Equal(r.AmountPayable):
		return invariantf("%s: amount_payable %s, expected %s", r.BusinessID, r.AmountPayable, want.AmountPayable)
	}
	return nil
}

// DeliveryPlan is the outcome of validating one delivery delta.
type DeliveryPlan struct {
	Before Reception
	After  Reception
	Delta  decimal.Decimal
}

// PlanDelivery validates applying delta to existing with the declared ordered
// quantity and returns the resulting reception. existing may be a zero
// reception for a line that has never been delivered; in that case delta must
// not be negative.
func PlanDelivery(existing Reception, isNew bool, delta, declaredOrdered, retentionRate decimal.Decimal) (DeliveryPlan, error) {
	delta, declaredOrdered = Quantize(delta), Quantize(declaredOrdered)
	if delta.IsZero() {
		return DeliveryPlan{}, invalidf("%s: delivery delta must be non-zero", existing.BusinessID)
	}
	if declaredOrdered.IsNegative() {
		return DeliveryPlan{}, invalidf("%s: ordered quantity %s is negative", existing.BusinessID, declaredOrdered)
	}
	if isNew && delta.IsNegative() {
		return DeliveryPlan{}, invariantf("%s: cannot apply negative delta %s to a line with no deliveries", existing.BusinessID, delta)
	}

	newTotal := existing.QuantityDelivered.Add(delta)
	if newTotal.GreaterThan(declaredOrdered) {
		return DeliveryPlan{}, invariantf("%s: over-delivery, %s + %s = %s exceeds ordered quantity %s",
			existing.BusinessID, existing.QuantityDelivered, delta, newTotal, declaredOrdered)
	}
	if newTotal.IsNegative() {
		return DeliveryPlan{}, invariantf("%s: over-correction, %s + %s = %s is below zero",
			existing.BusinessID, existing.QuantityDelivered, delta, newTotal)
	}

	after := existing
	after.OrderedQuantity = declaredOrdered
	after.QuantityDelivered = newTotal
	after.Recompute(retentionRate)
	return DeliveryPlan{Before: existing, After: after, Delta: delta}, nil
}
