package spreadsheet

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"po-ledger/internal/core"

	"github.com/xuri/excelize/v2"
)

func readAll(t *testing.T, r *Reader) []core.Record {
	t.Helper()
	var out []core.Record
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, rec)
	}
}

func cell(rec core.Record, h string) string {
	v, _ := rec.Get(h)
	return v
}

func TestNewCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma", "Order,Line,Price\nPO-1,1,3.5\n,,\nPO-1,2\n"},
		{"semicolon", "Order;Line;Price\nPO-1;1;3,5\n;;\nPO-1;2\n"},
		{"bom and leading blank", "\ufeff\n\nOrder,Line,Price\r\nPO-1,1,3.5\r\nPO-1,2\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("NewCSV: %v", err)
			}
			if h := r.Headers(); len(h) != 3 || h[0] != "Order" {
				t.Fatalf("headers = %q", h)
			}
			recs := readAll(t, r)
			if len(recs) != 2 {
				t.Fatalf("records = %v, want 2 (blank row dropped)", recs)
			}
			if cell(recs[0], "Line") != "1" {
				t.Errorf("first record = %v", recs[0])
			}
			if len(recs[1]) != 3 || cell(recs[1], "Price") != "" {
				t.Errorf("short row not padded: %v", recs[1])
			}
		})
	}
}

func TestNewCSV_DuplicateHeadersKeepOrder(t *testing.T) {
	r, err := NewCSV(strings.NewReader("Order,Comment,Comment\nPO-1,a,b\n"))
	if err != nil {
		t.Fatalf("NewCSV: %v", err)
	}
	recs := readAll(t, r)
	if len(recs) != 1 || len(recs[0]) != 3 || recs[0][1].Value != "a" || recs[0][2].Value != "b" {
		t.Errorf("records = %v", recs)
	}
}

func TestNewXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Order", "Line", "Ordered Quantity"},
		{"PO-1", "10", "100"},
		{},
		{"PO-1", "20"},
	}
	for i, row := range rows {
		axis, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, axis, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	r, err := Open("receptions.XLSX", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if h := r.Headers(); len(h) != 3 || h[2] != "Ordered Quantity" {
		t.Fatalf("headers = %q (first non-empty row should be the header)", h)
	}
	recs := readAll(t, r)
	if len(recs) != 2 {
		t.Fatalf("records = %v", recs)
	}
	if cell(recs[0], "Ordered Quantity") != "100" || cell(recs[1], "Line") != "20" || cell(recs[1], "Ordered Quantity") != "" {
		t.Errorf("records = %v", recs)
	}
}

func TestNewXLSX_DateCells(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	header := []any{"Order", "PIP End Date", "Actual End Date"}
	row := []any{"PO-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("SetSheetRow: %v", err)
	}
	if err := f.SetSheetRow(sheet, "A2", &row); err != nil {
		t.Fatalf("SetSheetRow: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	r, err := NewXLSX(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewXLSX: %v", err)
	}
	defer r.Close()
	recs := readAll(t, r)
	if len(recs) != 1 {
		t.Fatalf("records = %v", recs)
	}
	pip, actual := cell(recs[0], "PIP End Date"), cell(recs[0], "Actual End Date")
	if !strings.HasPrefix(pip, "2024-01-01") || !strings.HasPrefix(actual, "2024-02-10") {
		t.Errorf("dates = %q, %q", pip, actual)
	}
	if days := core.TotalPenaltyDays(pip, actual); days != 40 {
		t.Errorf("TotalPenaltyDays(%q, %q) = %d, want 40", pip, actual, days)
	}
}

func TestOpen_Rejects(t *testing.T) {
	if _, err := Open("report.pdf", strings.NewReader("x")); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("pdf: %v", err)
	}
	if _, err := Open("empty.csv", strings.NewReader("\n\n")); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("empty csv: %v", err)
	}
	if _, err := Open("broken.xlsx", strings.NewReader("not a zip")); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("broken xlsx: %v", err)
	}
}
