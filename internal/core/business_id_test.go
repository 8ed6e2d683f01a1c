package core_test

import (
	"testing"

	"po-ledger/internal/core"
)

func s1Record() core.Record {
	return core.RecordFromPairs(
		"Order", "PO-1",
		"Line", "10.0",
		"Item", "A",
		"Schedule", "1",
		"Ordered Quantity", "100",
		"Received Quantity", "40",
		"Price", "5.00",
	)
}

func TestDeriveBusinessID(t *testing.T) {
	tests := []struct {
		name string
		rec  core.Record
		want string
	}{
		{"full record", s1Record(), "ORDER:PO-1|LINE:10|ITEM:A|SCHEDULE:1"},
		{
			name: "missing segments are omitted",
			rec:  core.RecordFromPairs("PO Number", "4500", "Schedule", "2"),
			want: "ORDER:4500|SCHEDULE:2",
		},
		{
			name: "order quantity and description columns do not feed ORDER",
			rec:  core.RecordFromPairs("Order Description", "Poles", "Ordered Quantity", "5", "Order", "PO-9", "Line", "1"),
			want: "ORDER:PO-9|LINE:1",
		},
		{
			name: "line description does not feed LINE",
			rec:  core.RecordFromPairs("Order", "PO-9", "Line Description", "Poles", "Line Num", "3.0"),
			want: "ORDER:PO-9|LINE:3",
		},
		{
			name: "order falls back to the tolerant order field",
			rec:  core.RecordFromPairs("BC", "4500123.0", "Item", "X1"),
			want: "ORDER:4500123|ITEM:X1",
		},
		{
			name: "one header feeds every segment it names",
			rec:  core.RecordFromPairs("Order", "PO-9", "Line Item", "4", "Schedule", "1"),
			want: "ORDER:PO-9|LINE:4|ITEM:4|SCHEDULE:1",
		},
		{
			name: "first matching header wins per segment",
			rec:  core.RecordFromPairs("Order", "PO-9", "Line Type", "Goods", "Line", "2"),
			want: "ORDER:PO-9|LINE:Goods",
		},
		{
			name: "blank values are skipped",
			rec:  core.RecordFromPairs("Order", "PO-1", "Line", " ", "Item", "B"),
			want: "ORDER:PO-1|ITEM:B",
		},
		{"no identifying columns", core.RecordFromPairs("Price", "3"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := core.DeriveBusinessID(tt.rec); got != tt.want {
				t.Errorf("DeriveBusinessID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeriveBusinessID_Idempotent(t *testing.T) {
	rec := s1Record()
	first := core.DeriveBusinessID(rec)
	if second := core.DeriveBusinessID(rec); second != first {
		t.Fatalf("second derivation %q differs from %q", second, first)
	}

	normalized := make(core.Record, len(rec))
	for i, f := range rec {
		normalized[i] = core.Field{Header: f.Header, Value: core.NumericNormalize(f.Value)}
	}
	if got := core.DeriveBusinessID(normalized); got != first {
		t.Errorf("derivation after normalization %q differs from %q", got, first)
	}
	if got := core.CanonicalBusinessID(first); got != first {
		t.Errorf("CanonicalBusinessID(%q) = %q", first, got)
	}
}

func TestCanonicalBusinessID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ORDER:PO-1|LINE:10.0|ITEM:A|SCHEDULE:1.0", "ORDER:PO-1|LINE:10|ITEM:A|SCHEDULE:1"},
		{"order:PO-1|line:2", "ORDER:PO-1|LINE:2"},
		{"ORDER:PO-1|LINE:", "ORDER:PO-1"},
		{" ORDER: PO-1 | LINE: 3.0 ", "ORDER:PO-1|LINE:3"},
		{" L1 ", "L1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := core.CanonicalBusinessID(tt.in); got != tt.want {
			t.Errorf("CanonicalBusinessID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNumericNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"43.0", "43"},
		{" 7 ", "7"},
		{"10", "10"},
		{"1.5", "1.5"},
		{"-2.00", "-2"},
		{"PO-1", "PO-1"},
		{"1e20", "1e20"},
		{"NaN", "NaN"},
	}
	for _, tt := range tests {
		if got := core.NumericNormalize(tt.in); got != tt.want {
			t.Errorf("NumericNormalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBusinessIDSegment(t *testing.T) {
	id := "ORDER:PO-1|LINE:10|SCHEDULE:1"
	if got := core.BusinessIDSegment(id, "LINE"); got != "10" {
		t.Errorf("LINE = %q", got)
	}
	if got := core.BusinessIDSegment(id, "ITEM"); got != "" {
		t.Errorf("ITEM = %q, want empty", got)
	}
}

func TestIsSentinelOrderNumber(t *testing.T) {
	for _, v := range []string{"", "false", "TRUE", "None", "null", "NaN", "0", "0.0", " 0 "} {
		if !core.IsSentinelOrderNumber(v) {
			t.Errorf("IsSentinelOrderNumber(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"PO-1", "4500", "00012"} {
		if core.IsSentinelOrderNumber(v) {
			t.Errorf("IsSentinelOrderNumber(%q) = true, want false", v)
		}
	}
}
