package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

// ImportedFile is a source spreadsheet. It owns its LineRecords.
type ImportedFile struct {
	ID           int64      `json:"id"`
	Filename     string     `json:"filename"`
	Extension    string     `json:"extension"`
	ImportedAt   time.Time  `json:"imported_at"`
	ImportedBy   string     `json:"imported_by"`
	RowCount     int        `json:"row_count"`
	SkippedCount int        `json:"skipped_count"`
	Status       FileStatus `json:"status"`
	Error        *string    `json:"error,omitempty"`
}

// LineRecord is one stored data row of an imported file.
type LineRecord struct {
	ID          int64   `json:"id"`
	FileID      int64   `json:"file_id"`
	RowNumber   int     `json:"row_number"`
	Content     Record  `json:"content"`
	BusinessID  *string `json:"business_id,omitempty"`
	OrderNumber *string `json:"order_number,omitempty"`
}

// PurchaseOrder carries the cached aggregates of its receptions.
type PurchaseOrder struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	ProgressRate   decimal.Decimal `json:"progress_rate"`
	RetentionRate  decimal.Decimal `json:"retention_rate"`
	RetentionCause *string         `json:"retention_cause,omitempty"`
	CPU            *string         `json:"cpu,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Totals returns the cached aggregates as a POTotals value.
func (po PurchaseOrder) Totals() POTotals {
	return POTotals{TotalAmount: po.TotalAmount, ReceivedAmount: po.ReceivedAmount, ProgressRate: po.ProgressRate}
}

// ActivityLog is one append-only delivery event. QuantityDelivered is the
// signed delta applied; CumulativeRecipe is the post-state cumulative.
type ActivityLog struct {
	ID                   int64           `json:"id"`
	PONumber             string          `json:"po_number"`
	FileID               *int64          `json:"file_id,omitempty"`
	BusinessID           string          `json:"business_id"`
	OrderedQuantity      decimal.Decimal `json:"ordered_quantity"`
	QuantityDelivered    decimal.Decimal `json:"quantity_delivered"`
	QuantityNotDelivered decimal.Decimal `json:"quantity_not_delivered"`
	CumulativeRecipe     decimal.Decimal `json:"cumulative_recipe"`
	User                 string          `json:"user"`
	ActionDate           time.Time       `json:"action_date"`
	ProgressRate         decimal.Decimal `json:"progress_rate"`
}

// ResetBusinessID marks the sentinel journal entry written by ResetDeliveries.
const ResetBusinessID = "RESET_ALL"

// InitialReceptionBusiness holds a line's values as of its most recent ingest.
type InitialReceptionBusiness struct {
	BusinessID            string          `json:"business_id"`
	PONumber              string          `json:"po_number"`
	ReceivedQuantity      decimal.Decimal `json:"received_quantity"`
	InitialTotalAmount    decimal.Decimal `json:"initial_total_amount"`
	InitialReceivedAmount decimal.Decimal `json:"initial_received_amount"`
	InitialProgressRate   decimal.Decimal `json:"initial_progress_rate"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// NewInitialReception derives the first-seen values of a line.
func NewInitialReception(businessID, poNumber string, ordered, received, price decimal.Decimal) InitialReceptionBusiness {
	total := Round2(ordered.Mul(price))
	recv := Round2(received.Mul(price))
	return InitialReceptionBusiness{
		BusinessID:            businessID,
		PONumber:              poNumber,
		ReceivedQuantity:      received,
		InitialTotalAmount:    total,
		InitialReceivedAmount: recv,
		InitialProgressRate:   Percent(recv, total),
	}
}
