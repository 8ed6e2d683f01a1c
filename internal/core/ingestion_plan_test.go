package core

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPlanChunk(t *testing.T) {
	records := []Record{
		RecordFromPairs("Order", "PO-1", "Line", "1", "Ordered Quantity", "10", "Received Quantity", "2", "Price", "3.5"),
		RecordFromPairs("Description", "subtotal", "Price", "99"),
		RecordFromPairs("Order", "0", "Line", "2", "Ordered Quantity", "5", "Received Quantity", "0", "Price", "1"),
		RecordFromPairs("Order", "PO-1", "Line", "3", "Ordered Quantity", "abc", "Received Quantity", "0", "Price", "1"),
		RecordFromPairs("Order", "PO-1", "Line", "4", "Ordered Quantity", "5", "Received Quantity", "-1", "Price", "1"),
		RecordFromPairs("Order", "PO-1", "Line", "1.0", "Ordered Quantity", "12", "Received Quantity", "6", "Price", "3.5"),
	}

	p, err := planChunk(10, records)
	if err != nil {
		t.Fatalf("planChunk: %v", err)
	}
	if len(p.lines) != len(records) {
		t.Fatalf("stored %d line records, want every row (%d)", len(p.lines), len(records))
	}
	if p.lines[0].rowNumber != 10 || p.lines[5].rowNumber != 15 {
		t.Errorf("row numbers = %d..%d, want 10..15", p.lines[0].rowNumber, p.lines[5].rowNumber)
	}
	if p.lines[1].businessID != "" {
		t.Errorf("subtotal row keyed as %q", p.lines[1].businessID)
	}
	if p.unkeyed != 1 {
		t.Errorf("unkeyed = %d, want 1", p.unkeyed)
	}

	if len(p.skipped) != 3 {
		t.Fatalf("skipped = %+v, want 3 entries", p.skipped)
	}
	wantReasons := []struct {
		row    int
		prefix string
	}{
		{12, "invalid order number"},
		{13, "ordered quantity"},
		{14, "negative received quantity"},
	}
	for i, w := range wantReasons {
		if p.skipped[i].RowNumber != w.row || !strings.HasPrefix(p.skipped[i].Reason, w.prefix) {
			t.Errorf("skip %d = %+v, want row %d reason %q…", i, p.skipped[i], w.row, w.prefix)
		}
	}

	if len(p.inputs) != 1 {
		t.Fatalf("inputs = %+v, want one deduplicated line", p.inputs)
	}
	in := p.inputs[0]
	if in.businessID != "ORDER:PO-1|LINE:1" || in.orderNumber != "PO-1" {
		t.Errorf("input key = %q / %q", in.businessID, in.orderNumber)
	}
	if in.rowNumber != 15 || !in.ordered.Equal(decimal.NewFromInt(12)) || !in.received.Equal(decimal.NewFromInt(6)) {
		t.Errorf("last duplicate did not win: %+v", in)
	}
}

func TestPlanChunk_KeepsContentOrder(t *testing.T) {
	p, err := planChunk(1, []Record{RecordFromPairs("Zeta", "1", "Order", "PO-1")})
	if err != nil {
		t.Fatalf("planChunk: %v", err)
	}
	if got := string(p.lines[0].content); got != `{"Zeta":"1","Order":"PO-1"}` {
		t.Errorf("content = %s", got)
	}
}

func TestClampChunkSize(t *testing.T) {
	tests := map[int]int{0: DefaultChunkSize, -3: DefaultChunkSize, 100: MinChunkSize, 2500: 2500, 9000: MaxChunkSize}
	for in, want := range tests {
		if got := ClampChunkSize(in); got != want {
			t.Errorf("ClampChunkSize(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCPUTracker_FirstValueWins(t *testing.T) {
	c := cpuTracker{}
	c.observe(RecordFromPairs("Order", "PO-1", "CPU", ""))
	c.observe(RecordFromPairs("Order", "PO-1", "CPU", "DEPT - RADIO"))
	c.observe(RecordFromPairs("Order", "PO-1", "CPU", "DEPT - CORE"))
	c.observe(RecordFromPairs("Order", "none", "CPU", "DEPT - X"))
	c.observe(RecordFromPairs("Order", "4500.0", "CPU", "IT"))

	if c["PO-1"] != "RADIO" {
		t.Errorf("PO-1 cpu = %q, want RADIO", c["PO-1"])
	}
	if _, ok := c["none"]; ok {
		t.Errorf("sentinel order number tracked")
	}
	if c["4500"] != "IT" {
		t.Errorf("4500 cpu = %q", c["4500"])
	}
}

func TestPlanChunk_SentinelOrderIsNotDenormalized(t *testing.T) {
	p, err := planChunk(1, []Record{RecordFromPairs("Order", "None", "Line", "1")})
	if err != nil {
		t.Fatalf("planChunk: %v", err)
	}
	if p.lines[0].orderNumber != "" {
		t.Errorf("order number = %q, want empty", p.lines[0].orderNumber)
	}
	if len(p.skipped) != 1 {
		t.Errorf("skipped = %+v", p.skipped)
	}
}
