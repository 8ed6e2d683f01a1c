package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	reportPrefix          = "MSRN"
	maxLineDescriptionLen = 50
)

var reportNumberPattern = regexp.MustCompile(`^MSRN\d{2}\d{4}$`)

// ValidReportNumber reports whether s has the MSRN<YY><NNNN> form.
func ValidReportNumber(s string) bool {
	return reportNumberPattern.MatchString(s)
}

// ReportPrefix returns MSRN followed by the last two digits of year.
func ReportPrefix(year int) string {
	return fmt.Sprintf("%s%02d", reportPrefix, year%100)
}

// NextReportNumber increments the tail of the largest existing number of the
// year. maxExisting may be empty or belong to another year; the sequence
// then starts at 0001.
func NextReportNumber(year int, maxExisting string) (string, error) {
	prefix := ReportPrefix(year)
	next := 1
	if strings.HasPrefix(maxExisting, prefix) && ValidReportNumber(maxExisting) {
		n, err := strconv.Atoi(maxExisting[len(prefix):])
		if err != nil {
			return "", fmt.Errorf("parse report number %q: %w", maxExisting, err)
		}
		next = n + 1
	}
	if next > 9999 {
		return "", invariantf("report sequence %s exhausted", prefix)
	}
	return fmt.Sprintf("%s%04d", prefix, next), nil
}

// SnapshotLine is the frozen state of one delivered line.
type SnapshotLine struct {
	BusinessID           string          `json:"business_id"`
	LineDescription      string          `json:"line_description"`
	Line                 string          `json:"line"`
	Schedule             string          `json:"schedule"`
	OrderedQuantity      decimal.Decimal `json:"ordered_quantity"`
	ReceivedQuantity     decimal.Decimal `json:"received_quantity"`
	QuantityDelivered    decimal.Decimal `json:"quantity_delivered"`
	QuantityNotDelivered decimal.Decimal `json:"quantity_not_delivered"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	AmountDelivered      decimal.Decimal `json:"amount_delivered"`
	QuantityPayable      decimal.Decimal `json:"quantity_payable"`
	AmountPayable        decimal.Decimal `json:"amount_payable"`
}

// ReportSnapshot freezes a PO at MSRN creation. Only RetentionRate (with its
// cause) changes afterwards.
type ReportSnapshot struct {
	ID              int64           `json:"id"`
	ReportNumber    string          `json:"report_number"`
	POID            int64           `json:"po_id"`
	PONumber        string          `json:"po_number"`
	CreatedAt       time.Time       `json:"created_at"`
	CreatedBy       string          `json:"created_by"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ReceivedAmount  decimal.Decimal `json:"received_amount"`
	ProgressRate    decimal.Decimal `json:"progress_rate"`
	RetentionRate   decimal.Decimal `json:"retention_rate"`
	RetentionCause  *string         `json:"retention_cause,omitempty"`
	RetentionAmount decimal.Decimal `json:"retention_amount"`
	PayableAmount   decimal.Decimal `json:"payable_amount"`
	PaymentTerms    string          `json:"payment_terms"`
	Receptions      []SnapshotLine  `json:"receptions"`
}

// TruncateDescription cuts s to at most 50 runes.
func TruncateDescription(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxLineDescriptionLen {
		return s
	}
	return string([]rune(s)[:maxLineDescriptionLen])
}

// BuildSnapshot freezes the PO scalars and every reception with a positive
// delivered quantity. lines maps business ids to their line record content.
func BuildSnapshot(po PurchaseOrder, receptions []Reception, lines map[string]Record, paymentTerms, user string) ReportSnapshot {
	snap := ReportSnapshot{
		POID:           po.ID,
		PONumber:       po.Number,
		CreatedBy:      user,
		TotalAmount:    po.TotalAmount,
		ReceivedAmount: po.ReceivedAmount,
		ProgressRate:   po.ProgressRate,
		RetentionRate:  po.RetentionRate,
		RetentionCause: po.RetentionCause,
		PaymentTerms:   strings.TrimSpace(paymentTerms),
		Receptions:     []SnapshotLine{},
	}
	for _, r := range receptions {
		if !r.QuantityDelivered.IsPositive() {
			continue
		}
		rec := lines[r.BusinessID]
		line := FieldLineNumber.Value(rec)
		if line == "" {
			line = BusinessIDSegment(r.BusinessID, segLine)
		}
		schedule := FieldSchedule.Value(rec)
		if schedule == "" {
			schedule = BusinessIDSegment(r.BusinessID, segSchedule)
		}
		snap.Receptions = append(snap.Receptions, SnapshotLine{
			BusinessID:           r.BusinessID,
			LineDescription:      TruncateDescription(FieldLineDescription.Value(rec)),
			Line:                 line,
			Schedule:             schedule,
			OrderedQuantity:      r.OrderedQuantity,
			ReceivedQuantity:     r.ReceivedQuantity,
			QuantityDelivered:    r.QuantityDelivered,
			QuantityNotDelivered: r.QuantityNotDelivered,
			UnitPrice:            r.UnitPrice,
			AmountDelivered:      r.AmountDelivered,
		})
	}
	snap.recomputePayables()
	return snap
}

// ApplyRetention sets the snapshot's own retention and recomputes its
// payables from the frozen values only.
func (s *ReportSnapshot) ApplyRetention(rate decimal.Decimal, cause string) error {
	cause = strings.TrimSpace(cause)
	if err := ValidateRetention(rate, cause); err != nil {
		return err
	}
	s.RetentionRate = rate
	s.RetentionCause = nullableString(cause)
	s.recomputePayables()
	return nil
}

func (s *ReportSnapshot) recomputePayables() {
	for i := range s.Receptions {
		l := &s.Receptions[i]
		l.QuantityPayable = PayableQuantity(l.QuantityDelivered, s.RetentionRate)
		l.AmountPayable = Round2(l.QuantityPayable.Mul(l.UnitPrice))
	}
	s.RetentionAmount = RetentionAmount(s.TotalAmount, s.RetentionRate)
	s.PayableAmount = Round2(s.ReceivedAmount.Sub(s.RetentionAmount))
}
