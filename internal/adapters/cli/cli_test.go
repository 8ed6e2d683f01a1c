package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"po-ledger/internal/app"
	"po-ledger/internal/core"

	"github.com/shopspring/decimal"
)

type stubService struct {
	app.ApplicationService

	delivery  app.DeliveryRequest
	target    app.TargetRateRequest
	activity  app.ActivityQuery
	report    app.ReportRequest
	recompute bool
	verify    *core.VerifyReport
}

func (s *stubService) ListPOs(context.Context) ([]string, error) { return []string{"PO-1"}, nil }
func (s *stubService) ListPOsWithActivity(context.Context) ([]string, error) {
	return []string{"PO-ACT"}, nil
}

func (s *stubService) GetPO(_ context.Context, n string, recompute bool) (*core.PurchaseOrder, error) {
	s.recompute = recompute
	return &core.PurchaseOrder{Number: n, TotalAmount: decimal.NewFromInt(500)}, nil
}

func (s *stubService) ApplyDelivery(_ context.Context, req app.DeliveryRequest) (*core.DeliveryResult, error) {
	s.delivery = req
	return &core.DeliveryResult{}, nil
}

func (s *stubService) ApplyTargetRate(_ context.Context, req app.TargetRateRequest) (*core.TargetRateResult, error) {
	s.target = req
	return &core.TargetRateResult{}, nil
}

func (s *stubService) ListActivity(_ context.Context, q app.ActivityQuery) (*core.ActivityPage, error) {
	s.activity = q
	return &core.ActivityPage{Page: q.Page, PageSize: q.PageSize}, nil
}

func (s *stubService) Report(_ context.Context, req app.ReportRequest) (*app.ReportResult, error) {
	s.report = req
	return &app.ReportResult{Kind: core.ReportKind(req.Kind)}, nil
}

func (s *stubService) Verify(context.Context, bool) (*core.VerifyReport, error) {
	return s.verify, nil
}

func TestRun_Usage(t *testing.T) {
	svc := &stubService{}
	for _, args := range [][]string{
		nil,
		{"launch"},
		{"po"},
		{"deliver", "PO-1", "L1", "3"},
		{"deliver", "PO-1", "L1", "three", "10"},
		{"reset", "PO-1", "x"},
		{"activity", "-from", "01/02/2025"},
		{"-bogus", "pos"},
	} {
		err := Run(context.Background(), svc, args, &bytes.Buffer{})
		if !errors.Is(err, ErrUsage) {
			t.Errorf("Run(%q) = %v, want usage error", args, err)
		}
	}
}

func TestRun_Deliver(t *testing.T) {
	svc := &stubService{}
	err := Run(context.Background(), svc,
		[]string{"-user", "alice", "deliver", "-file", "7", "PO-1", "ORDER:PO-1|LINE:10", "2,5", "10"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	d := svc.delivery
	if d.User != "alice" || d.PONumber != "PO-1" || d.BusinessID != "ORDER:PO-1|LINE:10" {
		t.Errorf("request = %+v", d)
	}
	if !d.Delta.Equal(decimal.RequireFromString("2.5")) || d.FileID == nil || *d.FileID != 7 {
		t.Errorf("delta %s file %v", d.Delta, d.FileID)
	}

	if err := Run(context.Background(), svc, []string{"deliver", "PO-1", "L1", "1", "10"}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if svc.delivery.FileID != nil || svc.delivery.User != app.DefaultUser {
		t.Errorf("defaults = %+v", svc.delivery)
	}
}

func TestRun_Commands(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	ctx := context.Background()

	if err := Run(ctx, svc, []string{"pos", "-activity"}, &out); err != nil || strings.TrimSpace(out.String()) != "PO-ACT" {
		t.Errorf("pos -activity = %q, %v", out.String(), err)
	}

	out.Reset()
	if err := Run(ctx, svc, []string{"po", "-recompute", "PO-9"}, &out); err != nil {
		t.Fatal(err)
	}
	if !svc.recompute || !strings.Contains(out.String(), "PURCHASE ORDER PO-9") || !strings.Contains(out.String(), "500.00") {
		t.Errorf("po output = %q", out.String())
	}

	if err := Run(ctx, svc, []string{"target-rate", "PO-1", "80", "A", "B"}, &out); err != nil {
		t.Fatal(err)
	}
	if !svc.target.TargetRate.Equal(decimal.NewFromInt(80)) || len(svc.target.BusinessIDs) != 2 {
		t.Errorf("target = %+v", svc.target)
	}

	if err := Run(ctx, svc, []string{"report", "-draft", "penalty", "PO-1"}, &out); err != nil {
		t.Fatal(err)
	}
	if svc.report.Kind != "penalty" || !svc.report.DraftObservation {
		t.Errorf("report = %+v", svc.report)
	}

	if err := Run(ctx, svc, []string{"activity", "-po", "PO-1", "-from", "2025-03-01", "-page", "3"}, &out); err != nil {
		t.Fatal(err)
	}
	if q := svc.activity; q.PONumber != "PO-1" || q.Page != 3 || q.PageSize != core.DefaultActivityPageSize || q.From.Day() != 1 {
		t.Errorf("activity = %+v", q)
	}
}

func TestRun_VerifyFailsOnViolations(t *testing.T) {
	svc := &stubService{verify: &core.VerifyReport{
		PurchaseOrders: 1,
		Violations:     []core.Violation{{Check: "po_cache", PONumber: "PO-1", Detail: "stale"}},
	}}
	var out bytes.Buffer
	err := Run(context.Background(), svc, []string{"verify"}, &out)
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "PO-1") {
		t.Errorf("output = %q", out.String())
	}

	svc.verify = &core.VerifyReport{}
	if err := Run(context.Background(), svc, []string{"verify", "-refresh"}, &out); err != nil {
		t.Errorf("clean verify = %v", err)
	}
}

func TestRun_IngestMissingFile(t *testing.T) {
	err := Run(context.Background(), &stubService{}, []string{"ingest", filepath.Join(t.TempDir(), "nope.csv")}, &bytes.Buffer{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}
