package app

import (
	"time"

	"po-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// DefaultUser acts when the caller does not name one.
const DefaultUser = "system"

// UploadRequest names an uploaded spreadsheet.
type UploadRequest struct {
	Filename string `json:"filename" validate:"required,max=255"`
	User     string `json:"user" validate:"max=100"`
}

// RetentionRequest sets the live retention of a PO.
type RetentionRequest struct {
	PONumber string          `json:"po_number" validate:"required"`
	Rate     decimal.Decimal `json:"rate"`
	Cause    string          `json:"cause" validate:"max=500"`
	User     string          `json:"user" validate:"max=100"`
}

// DeliveryRequest is one signed delivery against a line.
type DeliveryRequest struct {
	PONumber        string          `json:"po_number" validate:"required"`
	BusinessID      string          `json:"business_id" validate:"required"`
	Delta           decimal.Decimal `json:"delta"`
	DeclaredOrdered decimal.Decimal `json:"declared_ordered"`
	FileID          *int64          `json:"file_id,omitempty" validate:"omitempty,gt=0"`
	User            string          `json:"user" validate:"max=100"`
}

// BulkDeliveryRequest applies many deliveries atomically.
type BulkDeliveryRequest struct {
	PONumber string              `json:"po_number" validate:"required"`
	Lines    []core.DeliveryLine `json:"lines" validate:"required,min=1"`
	User     string              `json:"user" validate:"max=100"`
}

// ResetRequest removes the receptions of a PO that came from one file.
type ResetRequest struct {
	PONumber string `json:"po_number" validate:"required"`
	FileID   int64  `json:"file_id" validate:"required,gt=0"`
	User     string `json:"user" validate:"max=100"`
}

// TargetRateRequest tops a PO up to a progress rate. An empty BusinessIDs
// selects every line.
type TargetRateRequest struct {
	PONumber    string          `json:"po_number" validate:"required"`
	TargetRate  decimal.Decimal `json:"target_rate"`
	BusinessIDs []string        `json:"business_ids" validate:"dive,required"`
	User        string          `json:"user" validate:"max=100"`
}

// ActivityQuery filters and pages the journal.
type ActivityQuery struct {
	PONumber string    `json:"po" validate:"max=100"`
	User     string    `json:"user" validate:"max=100"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Page     int       `json:"page" validate:"gte=0"`
	PageSize int       `json:"page_size" validate:"gte=0"`
}

// SnapshotRetentionRequest changes the retention frozen in a report.
type SnapshotRetentionRequest struct {
	ReportNumber string          `json:"report_number" validate:"required"`
	Rate         decimal.Decimal `json:"rate"`
	Cause        string          `json:"cause" validate:"max=500"`
	User         string          `json:"user" validate:"max=100"`
}

// TimelineRequest records the delay analysis of a PO. A zero TotalDelay
// defaults to the sum of the buckets.
type TimelineRequest struct {
	PONumber            string          `json:"po_number" validate:"required"`
	TotalDelay          int             `json:"total_delay" validate:"gte=0"`
	DelayMTN            int             `json:"delay_mtn" validate:"gte=0"`
	DelayVendor         int             `json:"delay_vendor" validate:"gte=0"`
	DelayForceMajeure   int             `json:"delay_force_majeure" validate:"gte=0"`
	CommentMTN          string          `json:"comment_mtn"`
	CommentVendor       string          `json:"comment_vendor"`
	CommentForceMajeure string          `json:"comment_force_majeure"`
	QuotiteRealisee     decimal.Decimal `json:"quotite_realisee"`
	Observation         string          `json:"observation"`
	User                string          `json:"user" validate:"max=100"`
}

// EvaluationRequest scores the vendor on five criteria out of ten.
type EvaluationRequest struct {
	PONumber       string `json:"po_number" validate:"required"`
	Quality        int    `json:"quality" validate:"min=0,max=10"`
	Timeliness     int    `json:"timeliness" validate:"min=0,max=10"`
	Responsiveness int    `json:"responsiveness" validate:"min=0,max=10"`
	Compliance     int    `json:"compliance" validate:"min=0,max=10"`
	Documentation  int    `json:"documentation" validate:"min=0,max=10"`
	Comment        string `json:"comment"`
	User           string `json:"user" validate:"max=100"`
}

// AmendmentRequest records the outcome of a penalty appeal.
type AmendmentRequest struct {
	PONumber      string          `json:"po_number" validate:"required"`
	SupplierPlea  string          `json:"supplier_plea"`
	PMProposal    string          `json:"pm_proposal"`
	PenaltyStatus string          `json:"penalty_status" validate:"omitempty,oneof=annulee reduite reconduite"`
	ReducedAmount decimal.Decimal `json:"reduced_amount"`
	User          string          `json:"user" validate:"max=100"`
}

// ReportRequest asks for a report context. DraftObservation fills an empty
// penalty observation with a generated draft.
type ReportRequest struct {
	Kind             string `json:"kind" validate:"required"`
	Ref              string `json:"ref" validate:"required"`
	DraftObservation bool   `json:"draft_observation"`
}
