package core_test

import (
	"errors"
	"testing"
	"time"

	"po-ledger/internal/core"
)

func penaltyLines() []core.Record {
	return []core.Record{
		core.RecordFromPairs("Order", "PO-7", "Supplier", "", "Currency", ""),
		core.RecordFromPairs(
			"Order", "PO-7",
			"Supplier", "ACME Telecom",
			"Currency", "XAF",
			"PO Amount", "1 000 000",
			"PIP END DATE", "2024-01-01",
			"ACTUAL END DATE", "2024-02-10",
			"Project Coordinator", "J. Doe",
			"Order Description", "Fibre rollout",
		),
	}
}

func TestBuildPOContext(t *testing.T) {
	cpu := "NETWORKS"
	po := core.PurchaseOrder{Number: "PO-7", TotalAmount: dec("800000"), CPU: &cpu}
	c := core.BuildPOContext(po, penaltyLines())

	if c.Supplier != "ACME Telecom" || c.Currency != "XAF" {
		t.Errorf("supplier/currency = %q/%q", c.Supplier, c.Currency)
	}
	assertDecimal(t, "po_amount", c.POAmount, "1000000")
	assertDecimal(t, "total_amount", c.TotalAmount, "800000")
	if c.ProjectManager != core.NotAvailable {
		t.Errorf("project manager = %q, want N/A", c.ProjectManager)
	}
	if c.CPU != "NETWORKS" {
		t.Errorf("cpu = %q", c.CPU)
	}

	bare := core.BuildPOContext(core.PurchaseOrder{Number: "PO-8", TotalAmount: dec("12.345")}, nil)
	if bare.Supplier != core.NotAvailable || bare.PaymentTerms != core.NotAvailable || bare.CPU != core.NotAvailable {
		t.Errorf("missing text fields not defaulted: %+v", bare)
	}
	assertDecimal(t, "fallback po_amount", bare.POAmount, "12.35")
}

func TestBuildPenaltyContext(t *testing.T) {
	base := core.BuildPOContext(core.PurchaseOrder{Number: "PO-7"}, penaltyLines())
	timeline := core.TimelineDelay{DelayMTN: 10, DelayVendor: 25, DelayForceMajeure: 5, QuotiteRealisee: dec("80")}

	p := core.BuildPenaltyContext(base, timeline)
	if p.TotalPenaltyDays != 40 {
		t.Errorf("total_penalty_days = %d, want 40", p.TotalPenaltyDays)
	}
	if p.DelayPartMTN != 10 || p.DelayPartVendor != 25 || p.DelayPartForce != 5 {
		t.Errorf("delay parts = %d/%d/%d", p.DelayPartMTN, p.DelayPartVendor, p.DelayPartForce)
	}
	assertDecimal(t, "quotite_factor", p.QuotiteFactor, "0.20")
	assertDecimal(t, "quotite_non_realisee", p.QuotiteNonRealisee, "20")
	assertDecimal(t, "penalties_calculated", p.PenaltiesCalculated, "15000.00")
	assertDecimal(t, "penalty_cap", p.PenaltyCap, "100000.00")
	assertDecimal(t, "penalties_due", p.PenaltiesDue, "15000.00")
	if p.Observation != core.NotAvailable {
		t.Errorf("observation = %q", p.Observation)
	}

	noDates := core.BuildPenaltyContext(core.BuildPOContext(core.PurchaseOrder{Number: "PO-8"}, nil), timeline)
	if noDates.TotalPenaltyDays != 0 {
		t.Errorf("days without dates = %d", noDates.TotalPenaltyDays)
	}
}

func TestBuildAmendmentContext(t *testing.T) {
	base := core.BuildPOContext(core.PurchaseOrder{Number: "PO-7"}, penaltyLines())
	p := core.BuildPenaltyContext(base, core.TimelineDelay{DelayVendor: 25, QuotiteRealisee: dec("80")})

	c := core.BuildAmendmentContext(p, core.PenaltyAmendment{
		SupplierPlea:  "customs hold",
		PenaltyStatus: core.PenaltyStatusReduite,
		ReducedAmount: dec("4000"),
	})
	assertDecimal(t, "new_penalty_due", c.NewPenaltyDue, "4000")
	if c.SupplierPlea != "customs hold" || c.PMProposal != core.NotAvailable {
		t.Errorf("plea/proposal = %q/%q", c.SupplierPlea, c.PMProposal)
	}
}

// A reduction saved against a larger penalty stays renderable after the
// timeline lowers penalties due.
func TestBuildContexts_ReductionAboveLoweredDue(t *testing.T) {
	base := core.BuildPOContext(core.PurchaseOrder{Number: "PO-7"}, penaltyLines())
	reduced := core.PenaltyAmendment{PenaltyStatus: core.PenaltyStatusReduite, ReducedAmount: dec("10000")}

	before := core.BuildPenaltyContext(base, core.TimelineDelay{DelayVendor: 25, QuotiteRealisee: dec("80")})
	if err := reduced.CheckReduction(before.PenaltiesDue); err != nil {
		t.Fatalf("reduction at save time: %v", err)
	}

	after := core.BuildPenaltyContext(base, core.TimelineDelay{DelayVendor: 10, QuotiteRealisee: dec("80")})
	if !after.PenaltiesDue.LessThan(reduced.ReducedAmount) {
		t.Fatalf("penalties due %s should drop below the reduction", after.PenaltiesDue)
	}
	a := core.BuildAmendmentContext(after, reduced)
	assertDecimal(t, "new_penalty_due", a.NewPenaltyDue, after.PenaltiesDue.String())

	c := core.BuildCompensationContext(after, &reduced, time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC))
	assertDecimal(t, "compensation_amount", c.CompensationAmount, after.PenaltiesDue.String())
}

func TestBuildDelayEvaluationContext(t *testing.T) {
	base := core.BuildPOContext(core.PurchaseOrder{Number: "PO-7"}, penaltyLines())
	timeline := core.TimelineDelay{DelayVendor: 25, QuotiteRealisee: dec("80"), CommentVendor: "late shipment"}
	p := core.BuildPenaltyContext(base, timeline)

	c := core.BuildDelayEvaluationContext(p, timeline, core.VendorEvaluation{Quality: 10, Timeliness: 2, Responsiveness: 6, Compliance: 7, Documentation: 5})
	if c.CompositeScore != 30 {
		t.Errorf("composite = %d", c.CompositeScore)
	}
	assertDecimal(t, "final_rating", c.FinalRating, "6.00")
	if c.CommentVendor != "late shipment" || c.CommentMTN != core.NotAvailable {
		t.Errorf("comments = %q/%q", c.CommentVendor, c.CommentMTN)
	}
	if len(c.Criteria) != 5 || c.Criteria["timeliness"] != 2 {
		t.Errorf("criteria = %v", c.Criteria)
	}
}

func TestBuildCompensationContext(t *testing.T) {
	base := core.BuildPOContext(core.PurchaseOrder{Number: "PO-7"}, penaltyLines())
	p := core.BuildPenaltyContext(base, core.TimelineDelay{DelayVendor: 25, QuotiteRealisee: dec("80")})
	now := time.Date(2025, time.March, 7, 15, 4, 0, 0, time.UTC)

	c := core.BuildCompensationContext(p, nil, now)
	assertDecimal(t, "compensation_amount", c.CompensationAmount, "15000")
	if c.Reference != "COMP-PO-7-20250307" {
		t.Errorf("reference = %q", c.Reference)
	}
	if c.LetterDate != "07/03/2025" {
		t.Errorf("letter date = %q", c.LetterDate)
	}

	cancelled := core.PenaltyAmendment{PenaltyStatus: core.PenaltyStatusAnnulee}
	c = core.BuildCompensationContext(p, &cancelled, now)
	assertDecimal(t, "cancelled compensation", c.CompensationAmount, "0")
}

func TestBuildMSRNContext(t *testing.T) {
	po, r := s3State(t)
	snap := core.BuildSnapshot(po, []core.Reception{r}, nil, "", "alice")
	snap.ReportNumber = "MSRN250001"
	snap.PONumber = "PO-1"
	base := core.BuildPOContext(po, []core.Record{core.RecordFromPairs("Supplier", "ACME", "Payment Terms", "60 days")})

	c := core.BuildMSRNContext(snap, base, dec("200"))
	assertDecimal(t, "po_amount", c.POAmount, "500")
	assertDecimal(t, "total_delivered", c.TotalDelivered, "350")
	assertDecimal(t, "retention_amount", c.RetentionAmount, "40")
	assertDecimal(t, "payable_amount", c.PayableAmount, "310")
	assertDecimal(t, "balance_to_be_certified", c.BalanceToBeCertified, "150")
	if c.PaymentTerms != "60 days" {
		t.Errorf("payment terms fallback = %q", c.PaymentTerms)
	}
	if c.RetentionCause != "held" || c.Supplier != "ACME" {
		t.Errorf("cause/supplier = %q/%q", c.RetentionCause, c.Supplier)
	}
	if len(c.Receptions) != 1 {
		t.Errorf("receptions = %d", len(c.Receptions))
	}
}

func TestParseReportKind(t *testing.T) {
	if k, err := core.ParseReportKind(" Penalty-Amendment "); err != nil || k != core.ReportPenaltyAmend {
		t.Errorf("ParseReportKind = %q, %v", k, err)
	}
	if _, err := core.ParseReportKind("invoice"); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("unknown kind: %v", err)
	}
}
