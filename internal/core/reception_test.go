package core_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"po-ledger/internal/core"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

const s1BusinessID = "ORDER:PO-1|LINE:10|ITEM:A|SCHEDULE:1"

// s1Reception is the reception of the S1 record after ingest.
func s1Reception() core.Reception {
	r := core.Reception{
		POID:              1,
		PONumber:          "PO-1",
		BusinessID:        s1BusinessID,
		OrderedQuantity:   dec("100"),
		ReceivedQuantity:  dec("40"),
		QuantityDelivered: dec("40"),
		UnitPrice:         dec("5.00"),
	}
	r.Recompute(decimal.Zero)
	return r
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestReception_RecomputeInitialDerive(t *testing.T) {
	r := s1Reception()
	assertDecimal(t, "quantity_not_delivered", r.QuantityNotDelivered, "60")
	assertDecimal(t, "amount_delivered", r.AmountDelivered, "200.00")
	assertDecimal(t, "quantity_payable", r.QuantityPayable, "40")
	assertDecimal(t, "amount_payable", r.AmountPayable, "200.00")
	if err := r.CheckInvariants(decimal.Zero); err != nil {
		t.Errorf("CheckInvariants: %v", err)
	}
}

// Derived amounts must agree with what the NUMERIC(20,4) columns give back.
func TestReception_RecomputeQuantizesInputs(t *testing.T) {
	r := core.Reception{
		BusinessID:        "L1",
		OrderedQuantity:   dec("1000"),
		QuantityDelivered: dec("1000"),
		UnitPrice:         dec("12.34567"),
	}
	r.Recompute(decimal.Zero)
	assertDecimal(t, "unit_price", r.UnitPrice, "12.3457")
	assertDecimal(t, "amount_delivered", r.AmountDelivered, "12345.70")

	stored := r
	stored.UnitPrice = dec("12.3457")
	if err := stored.CheckInvariants(decimal.Zero); err != nil {
		t.Errorf("CheckInvariants on stored columns: %v", err)
	}

	plan, err := core.PlanDelivery(core.Reception{BusinessID: "L2", UnitPrice: dec("2")}, true, dec("1.00004"), dec("10.00001"), decimal.Zero)
	if err != nil {
		t.Fatalf("PlanDelivery: %v", err)
	}
	assertDecimal(t, "delta", plan.Delta, "1")
	assertDecimal(t, "ordered", plan.After.OrderedQuantity, "10")
	assertDecimal(t, "amount_delivered", plan.After.AmountDelivered, "2.00")
}

func TestPlanDelivery_AppliesDelta(t *testing.T) {
	plan, err := core.PlanDelivery(s1Reception(), false, dec("30"), dec("100"), decimal.Zero)
	if err != nil {
		t.Fatalf("PlanDelivery: %v", err)
	}
	assertDecimal(t, "delivered", plan.After.QuantityDelivered, "70")
	assertDecimal(t, "not_delivered", plan.After.QuantityNotDelivered, "30")
	assertDecimal(t, "amount_delivered", plan.After.AmountDelivered, "350.00")
	assertDecimal(t, "delta", plan.Delta, "30")
	assertDecimal(t, "before", plan.Before.QuantityDelivered, "40")
}

func TestPlanDelivery_Rejections(t *testing.T) {
	s2, err := core.PlanDelivery(s1Reception(), false, dec("30"), dec("100"), decimal.Zero)
	if err != nil {
		t.Fatalf("PlanDelivery: %v", err)
	}

	tests := []struct {
		name     string
		existing core.Reception
		isNew    bool
		delta    string
		ordered  string
		wantKind error
	}{
		{"over-delivery", s2.After, false, "40", "100", core.ErrInvariantViolation},
		{"over-correction", s2.After, false, "-71", "100", core.ErrInvariantViolation},
		{"ordered lowered below delivered", s2.After, false, "1", "60", core.ErrInvariantViolation},
		{"negative delta on a new line", core.Reception{BusinessID: "ORDER:PO-1|LINE:2"}, true, "-1", "10", core.ErrInvariantViolation},
		{"zero delta", s2.After, false, "0", "100", core.ErrInvalidInput},
		{"negative ordered", s2.After, false, "1", "-5", core.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.PlanDelivery(tt.existing, tt.isNew, dec(tt.delta), dec(tt.ordered), decimal.Zero)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("err = %v, want %v", err, tt.wantKind)
			}
		})
	}
}

func TestPlanDelivery_ExactBoundsAccepted(t *testing.T) {
	r := s1Reception()
	full, err := core.PlanDelivery(r, false, dec("60"), dec("100"), decimal.Zero)
	if err != nil {
		t.Fatalf("deliver to ordered: %v", err)
	}
	assertDecimal(t, "not_delivered", full.After.QuantityNotDelivered, "0")

	empty, err := core.PlanDelivery(r, false, dec("-40"), dec("100"), decimal.Zero)
	if err != nil {
		t.Fatalf("reverse to zero: %v", err)
	}
	assertDecimal(t, "delivered", empty.After.QuantityDelivered, "0")
}

func TestPlanDelivery_RoundTrip(t *testing.T) {
	rate := dec("8")
	start := s1Reception()
	start.Recompute(rate)

	fwd, err := core.PlanDelivery(start, false, dec("12.5"), dec("100"), rate)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	back, err := core.PlanDelivery(fwd.After, false, dec("-12.5"), dec("100"), rate)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	got, want := back.After, start
	if !got.QuantityDelivered.Equal(want.QuantityDelivered) ||
		!got.QuantityNotDelivered.Equal(want.QuantityNotDelivered) ||
		!got.AmountDelivered.Equal(want.AmountDelivered) ||
		!got.QuantityPayable.Equal(want.QuantityPayable) ||
		!got.AmountPayable.Equal(want.AmountPayable) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}

	before := core.ComputePOTotals([]core.LineAmounts{{OrderedQuantity: start.OrderedQuantity, QuantityDelivered: start.QuantityDelivered, UnitPrice: start.UnitPrice}})
	after := core.ComputePOTotals([]core.LineAmounts{{OrderedQuantity: got.OrderedQuantity, QuantityDelivered: got.QuantityDelivered, UnitPrice: got.UnitPrice}})
	if !after.Equal(before) {
		t.Errorf("PO totals after round trip = %+v, want %+v", after, before)
	}
}

func TestReception_RetentionPropagation(t *testing.T) {
	s2, err := core.PlanDelivery(s1Reception(), false, dec("30"), dec("100"), decimal.Zero)
	if err != nil {
		t.Fatalf("PlanDelivery: %v", err)
	}
	r := s2.After
	r.Recompute(dec("8.0"))
	assertDecimal(t, "quantity_payable", r.QuantityPayable, "64.40")
	assertDecimal(t, "amount_payable", r.AmountPayable, "322.00")
	if err := r.CheckInvariants(dec("8.0")); err != nil {
		t.Errorf("CheckInvariants: %v", err)
	}
	if err := r.CheckInvariants(decimal.Zero); !errors.Is(err, core.ErrInvariantViolation) {
		t.Errorf("CheckInvariants with a stale rate = %v, want invariant violation", err)
	}
}

func TestReception_RetentionRoundTrip(t *testing.T) {
	r := s1Reception()
	r.QuantityDelivered = dec("33.33")
	r.UnitPrice = dec("7.19")
	r.Recompute(dec("5"))
	want := r

	r.Recompute(dec("7"))
	if r.QuantityPayable.Equal(want.QuantityPayable) {
		t.Fatalf("rate change did not affect payable quantity")
	}
	r.Recompute(dec("5"))
	if !r.QuantityPayable.Equal(want.QuantityPayable) || !r.AmountPayable.Equal(want.AmountPayable) {
		t.Errorf("5%%→7%%→5%% gave payable %s/%s, want %s/%s",
			r.QuantityPayable, r.AmountPayable, want.QuantityPayable, want.AmountPayable)
	}
}

func TestValidateRetention(t *testing.T) {
	tests := []struct {
		rate    string
		cause   string
		wantErr bool
	}{
		{"0", "", false},
		{"8", "held", false},
		{"10", "late", false},
		{"10.01", "late", true},
		{"-1", "x", true},
		{"5", "  ", true},
	}
	for _, tt := range tests {
		err := core.ValidateRetention(dec(tt.rate), tt.cause)
		if tt.wantErr && !errors.Is(err, core.ErrInvariantViolation) {
			t.Errorf("ValidateRetention(%s, %q) = %v, want invariant violation", tt.rate, tt.cause, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("ValidateRetention(%s, %q): %v", tt.rate, tt.cause, err)
		}
	}
}

func TestComputePOTotals(t *testing.T) {
	tests := []struct {
		name  string
		lines []core.LineAmounts
		want  core.POTotals
	}{
		{
			name:  "single ingested line",
			lines: []core.LineAmounts{{OrderedQuantity: dec("100"), QuantityDelivered: dec("40"), UnitPrice: dec("5.00")}},
			want:  core.POTotals{TotalAmount: dec("500.00"), ReceivedAmount: dec("200.00"), ProgressRate: dec("40.00")},
		},
		{
			name: "each product is rounded before summing",
			lines: []core.LineAmounts{
				{OrderedQuantity: dec("3"), QuantityDelivered: dec("3"), UnitPrice: dec("0.335")},
				{OrderedQuantity: dec("3"), QuantityDelivered: dec("3"), UnitPrice: dec("0.335")},
			},
			want: core.POTotals{TotalAmount: dec("2.02"), ReceivedAmount: dec("2.02"), ProgressRate: dec("100")},
		},
		{
			name: "progress rounded to two places",
			lines: []core.LineAmounts{
				{OrderedQuantity: dec("3"), QuantityDelivered: dec("1"), UnitPrice: dec("1")},
			},
			want: core.POTotals{TotalAmount: dec("3"), ReceivedAmount: dec("1"), ProgressRate: dec("33.33")},
		},
		{
			name:  "zero total",
			lines: []core.LineAmounts{{OrderedQuantity: dec("0"), QuantityDelivered: dec("0"), UnitPrice: dec("9")}},
			want:  core.POTotals{TotalAmount: dec("0"), ReceivedAmount: dec("0"), ProgressRate: dec("0")},
		},
		{"no lines", nil, core.POTotals{TotalAmount: dec("0"), ReceivedAmount: dec("0"), ProgressRate: dec("0")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := core.ComputePOTotals(tt.lines); !got.Equal(tt.want) {
				t.Errorf("ComputePOTotals = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPlanTargetRate_Proportional(t *testing.T) {
	var lines []core.Reception
	for _, l := range []string{"1", "2", "3"} {
		lines = append(lines, core.Reception{
			BusinessID:      "ORDER:PO-6|LINE:" + l,
			OrderedQuantity: dec("100"),
			UnitPrice:       dec("10.00"),
		})
	}
	totals := core.POTotals{TotalAmount: dec("3000"), ReceivedAmount: dec("0"), ProgressRate: dec("0")}

	allocs, err := core.PlanTargetRate(totals, dec("50"), lines)
	if err != nil {
		t.Fatalf("PlanTargetRate: %v", err)
	}
	if len(allocs) != 3 {
		t.Fatalf("got %d allocations, want 3", len(allocs))
	}
	after := make([]core.LineAmounts, len(lines))
	for i, a := range allocs {
		assertDecimal(t, a.BusinessID+" addition", a.Addition, "50")
		assertDecimal(t, a.BusinessID+" new delivered", a.NewDelivered, "50")
		after[i] = core.LineAmounts{OrderedQuantity: dec("100"), QuantityDelivered: a.NewDelivered, UnitPrice: dec("10.00")}
	}
	got := core.ComputePOTotals(after)
	assertDecimal(t, "received", got.ReceivedAmount, "1500")
	assertDecimal(t, "progress", got.ProgressRate, "50.00")
}

func TestPlanTargetRate_FillsWhenCapacityShort(t *testing.T) {
	lines := []core.Reception{{
		BusinessID:        "ORDER:PO-6|LINE:1",
		OrderedQuantity:   dec("100"),
		QuantityDelivered: dec("90"),
		UnitPrice:         dec("10"),
	}}
	totals := core.POTotals{TotalAmount: dec("3000"), ReceivedAmount: dec("2000"), ProgressRate: dec("66.67")}
	allocs, err := core.PlanTargetRate(totals, dec("100"), lines)
	if err != nil {
		t.Fatalf("PlanTargetRate: %v", err)
	}
	if len(allocs) != 1 {
		t.Fatalf("got %d allocations, want 1", len(allocs))
	}
	assertDecimal(t, "addition", allocs[0].Addition, "10")
	assertDecimal(t, "new delivered", allocs[0].NewDelivered, "100")
}

func TestPlanTargetRate_Rejections(t *testing.T) {
	line := []core.Reception{{BusinessID: "L1", OrderedQuantity: dec("10"), UnitPrice: dec("1")}}
	full := []core.Reception{{BusinessID: "L1", OrderedQuantity: dec("10"), QuantityDelivered: dec("10"), UnitPrice: dec("1")}}
	totals := core.POTotals{TotalAmount: dec("20"), ReceivedAmount: dec("10"), ProgressRate: dec("50")}

	tests := []struct {
		name     string
		rate     string
		lines    []core.Reception
		wantKind error
	}{
		{"not above current rate", "50", line, core.ErrInvariantViolation},
		{"above 100", "101", line, core.ErrInvalidInput},
		{"no lines", "80", nil, core.ErrInvalidInput},
		{"no capacity", "80", full, core.ErrInvariantViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := core.PlanTargetRate(totals, dec(tt.rate), tt.lines); !errors.Is(err, tt.wantKind) {
				t.Fatalf("err = %v, want %v", err, tt.wantKind)
			}
		})
	}
}

func TestBalanceToBeCertified(t *testing.T) {
	assertDecimal(t, "positive", core.BalanceToBeCertified(dec("350"), dec("200")), "150")
	assertDecimal(t, "negative", core.BalanceToBeCertified(dec("100"), dec("120.5")), "-20.50")
}

func TestNewInitialReception(t *testing.T) {
	v := core.NewInitialReception(s1BusinessID, "PO-1", dec("100"), dec("40"), dec("5.00"))
	assertDecimal(t, "initial_total_amount", v.InitialTotalAmount, "500")
	assertDecimal(t, "initial_received_amount", v.InitialReceivedAmount, "200")
	assertDecimal(t, "initial_progress_rate", v.InitialProgressRate, "40")
}
