package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NotAvailable is the value of a missing optional text field in a report.
const NotAvailable = "N/A"

// ReportKind is the closed set of report flavors.
type ReportKind string

const (
	ReportMSRN            ReportKind = "msrn"
	ReportPenalty         ReportKind = "penalty"
	ReportPenaltyAmend    ReportKind = "penalty-amendment"
	ReportDelayEvaluation ReportKind = "delay-evaluation"
	ReportCompensation    ReportKind = "compensation"
)

// ParseReportKind validates a report kind name.
func ParseReportKind(s string) (ReportKind, error) {
	switch k := ReportKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ReportMSRN, ReportPenalty, ReportPenaltyAmend, ReportDelayEvaluation, ReportCompensation:
		return k, nil
	}
	return "", invalidf("unknown report kind %q", s)
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return NotAvailable
	}
	return s
}

// POContext is the part shared by every report flavor. Text comes from the
// PO's line records; amounts come from the live PO.
type POContext struct {
	PONumber           string          `json:"po_number"`
	Supplier           string          `json:"supplier"`
	Currency           string          `json:"currency"`
	POAmount           decimal.Decimal `json:"po_amount"`
	CreationDate       string          `json:"creation_date"`
	PIPEndDate         string          `json:"pip_end_date"`
	ActualEndDate      string          `json:"actual_end_date"`
	ProjectCoordinator string          `json:"project_coordinator"`
	ProjectManager     string          `json:"project_manager"`
	OrderDescription   string          `json:"order_description"`
	PaymentTerms       string          `json:"payment_terms"`
	CPU                string          `json:"cpu"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	ReceivedAmount     decimal.Decimal `json:"received_amount"`
	ProgressRate       decimal.Decimal `json:"progress_rate"`
	RetentionRate      decimal.Decimal `json:"retention_rate"`
}

// BuildPOContext reads PO-level columns from the first line record that has
// them.
func BuildPOContext(po PurchaseOrder, lines []Record) POContext {
	return POContext{
		PONumber:           po.Number,
		Supplier:           orNA(firstValue(lines, FieldSupplier)),
		Currency:           orNA(firstValue(lines, FieldCurrency)),
		POAmount:           Round2(resolvePOAmount(lines, po.TotalAmount)),
		CreationDate:       orNA(firstValue(lines, FieldCreationDate)),
		PIPEndDate:         orNA(firstValue(lines, FieldPIPEndDate)),
		ActualEndDate:      orNA(firstValue(lines, FieldActualEndDate)),
		ProjectCoordinator: orNA(firstValue(lines, FieldProjectCoordinator)),
		ProjectManager:     orNA(firstValue(lines, FieldProjectManager)),
		OrderDescription:   orNA(firstValue(lines, FieldOrderDescription)),
		PaymentTerms:       orNA(firstValue(lines, FieldPaymentTerms)),
		CPU:                orNA(derefString(po.CPU)),
		TotalAmount:        Round2(po.TotalAmount),
		ReceivedAmount:     Round2(po.ReceivedAmount),
		ProgressRate:       Round2(po.ProgressRate),
		RetentionRate:      Round2(po.RetentionRate),
	}
}

// MSRNContext renders a receipt note. Every amount comes from the snapshot;
// only the descriptive PO fields and the initial amounts are live.
type MSRNContext struct {
	ReportNumber          string          `json:"report_number"`
	PONumber              string          `json:"po_number"`
	Supplier              string          `json:"supplier"`
	Currency              string          `json:"currency"`
	POAmount              decimal.Decimal `json:"po_amount"`
	TotalDelivered        decimal.Decimal `json:"total_delivered"`
	ProgressRate          decimal.Decimal `json:"progress_rate"`
	RetentionRate         decimal.Decimal `json:"retention_rate"`
	RetentionCause        string          `json:"retention_cause"`
	RetentionAmount       decimal.Decimal `json:"retention_amount"`
	PayableAmount         decimal.Decimal `json:"payable_amount"`
	PaymentTerms          string          `json:"payment_terms"`
	Receptions            []SnapshotLine  `json:"receptions"`
	InitialReceivedAmount decimal.Decimal `json:"initial_received_amount"`
	BalanceToBeCertified  decimal.Decimal `json:"balance_to_be_certified"`
	CreatedAt             time.Time       `json:"created_at"`
	CreatedBy             string          `json:"created_by"`
}

func BuildMSRNContext(snap ReportSnapshot, base POContext, initialReceived decimal.Decimal) MSRNContext {
	terms := snap.PaymentTerms
	if terms == "" {
		terms = base.PaymentTerms
	}
	return MSRNContext{
		ReportNumber:          snap.ReportNumber,
		PONumber:              snap.PONumber,
		Supplier:              base.Supplier,
		Currency:              base.Currency,
		POAmount:              Round2(snap.TotalAmount),
		TotalDelivered:        Round2(snap.ReceivedAmount),
		ProgressRate:          Round2(snap.ProgressRate),
		RetentionRate:         Round2(snap.RetentionRate),
		RetentionCause:        orNA(derefString(snap.RetentionCause)),
		RetentionAmount:       Round2(snap.RetentionAmount),
		PayableAmount:         Round2(snap.PayableAmount),
		PaymentTerms:          orNA(terms),
		Receptions:            snap.Receptions,
		InitialReceivedAmount: Round2(initialReceived),
		BalanceToBeCertified:  BalanceToBeCertified(snap.ReceivedAmount, initialReceived),
		CreatedAt:             snap.CreatedAt,
		CreatedBy:             snap.CreatedBy,
	}
}

// PenaltyContext renders a penalty sheet from live PO state and the timeline.
type PenaltyContext struct {
	POContext
	TotalPenaltyDays    int             `json:"total_penalty_days"`
	DelayPartMTN        int             `json:"delay_part_mtn"`
	DelayPartVendor     int             `json:"delay_part_vendor"`
	DelayPartForce      int             `json:"delay_part_force_majeure"`
	PenaltyRate         decimal.Decimal `json:"penalty_rate"`
	QuotiteRealisee     decimal.Decimal `json:"quotite_realisee"`
	QuotiteNonRealisee  decimal.Decimal `json:"quotite_non_realisee"`
	QuotiteFactor       decimal.Decimal `json:"quotite_factor"`
	PenaltiesCalculated decimal.Decimal `json:"penalties_calculated"`
	PenaltyCap          decimal.Decimal `json:"penalty_cap"`
	PenaltiesDue        decimal.Decimal `json:"penalties_due"`
	Observation         string          `json:"observation"`
}

func BuildPenaltyContext(base POContext, t TimelineDelay) PenaltyContext {
	b := ComputePenalty(base.POAmount, t.DelayVendor, t.QuotiteRealisee)
	days := 0
	if base.PIPEndDate != NotAvailable && base.ActualEndDate != NotAvailable {
		days = TotalPenaltyDays(base.PIPEndDate, base.ActualEndDate)
	}
	return PenaltyContext{
		POContext:           base,
		TotalPenaltyDays:    days,
		DelayPartMTN:        t.DelayMTN,
		DelayPartVendor:     t.DelayVendor,
		DelayPartForce:      t.DelayForceMajeure,
		PenaltyRate:         Round2(b.PenaltyRate),
		QuotiteRealisee:     Round2(b.QuotiteRealisee),
		QuotiteNonRealisee:  Round2(b.QuotiteNonRealisee),
		QuotiteFactor:       Round2(b.QuotiteFactor),
		PenaltiesCalculated: b.PenaltiesCalculated,
		PenaltyCap:          b.PenaltyCap,
		PenaltiesDue:        b.PenaltiesDue,
		Observation:         orNA(t.Observation),
	}
}

// AmendmentContext renders a penalty amendment sheet.
type AmendmentContext struct {
	PenaltyContext
	SupplierPlea  string          `json:"supplier_plea"`
	PMProposal    string          `json:"pm_proposal"`
	PenaltyStatus PenaltyStatus   `json:"penalty_status"`
	NewPenaltyDue decimal.Decimal `json:"new_penalty_due"`
}

func BuildAmendmentContext(p PenaltyContext, a PenaltyAmendment) AmendmentContext {
	return AmendmentContext{
		PenaltyContext: p,
		SupplierPlea:   orNA(a.SupplierPlea),
		PMProposal:     orNA(a.PMProposal),
		PenaltyStatus:  a.PenaltyStatus,
		NewPenaltyDue:  Round2(a.NewPenaltyDue(p.PenaltiesDue)),
	}
}

// DelayEvaluationContext renders a delivery-delay evaluation.
type DelayEvaluationContext struct {
	PenaltyContext
	Criteria            map[string]int  `json:"criteria"`
	FinalRating         decimal.Decimal `json:"final_rating"`
	CompositeScore      int             `json:"composite_score"`
	EvaluationComment   string          `json:"evaluation_comment"`
	CommentMTN          string          `json:"comment_mtn"`
	CommentVendor       string          `json:"comment_vendor"`
	CommentForceMajeure string          `json:"comment_force_majeure"`
}

func BuildDelayEvaluationContext(p PenaltyContext, t TimelineDelay, e VendorEvaluation) DelayEvaluationContext {
	return DelayEvaluationContext{
		PenaltyContext:      p,
		Criteria:            e.Criteria(),
		FinalRating:         e.FinalRating(),
		CompositeScore:      e.CompositeScore(),
		EvaluationComment:   orNA(e.Comment),
		CommentMTN:          orNA(t.CommentMTN),
		CommentVendor:       orNA(t.CommentVendor),
		CommentForceMajeure: orNA(t.CommentForceMajeure),
	}
}

// CompensationContext renders a compensation letter.
type CompensationContext struct {
	PenaltyContext
	CompensationAmount decimal.Decimal `json:"compensation_amount"`
	LetterDate         string          `json:"letter_date"`
	Reference          string          `json:"reference"`
}

// BuildCompensationContext claims the amended penalty when an amendment is
// given, otherwise the penalties due.
func BuildCompensationContext(p PenaltyContext, amendment *PenaltyAmendment, now time.Time) CompensationContext {
	amount := p.PenaltiesDue
	if amendment != nil {
		amount = amendment.NewPenaltyDue(p.PenaltiesDue)
	}
	return CompensationContext{
		PenaltyContext:     p,
		CompensationAmount: Round2(amount),
		LetterDate:         now.Format("02/01/2006"),
		Reference:          fmt.Sprintf("COMP-%s-%s", p.PONumber, now.Format("20060102")),
	}
}
