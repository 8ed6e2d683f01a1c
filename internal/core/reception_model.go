package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// DeliveryInput is one cumulative delivery update against a business line.
type DeliveryInput struct {
	PONumber        string
	BusinessID      string
	Delta           decimal.Decimal
	DeclaredOrdered decimal.Decimal
	User            string
	// FileID is attached to a reception created by this delivery. Existing
	// receptions keep their file pointer.
	FileID *int64
}

// DeliveryLine is one row of a bulk delivery.
type DeliveryLine struct {
	BusinessID      string          `json:"business_id"`
	Delta           decimal.Decimal `json:"delta"`
	DeclaredOrdered decimal.Decimal `json:"declared_ordered"`
}

// DeliveryResult is the committed state after one delivery.
type DeliveryResult struct {
	Reception Reception   `json:"reception"`
	Activity  ActivityLog `json:"activity"`
	Totals    POTotals    `json:"totals"`
}

// TargetRateResult reports the lines topped up by ApplyTargetRate.
type TargetRateResult struct {
	Allocations []TargetAllocation `json:"allocations"`
	Deliveries  []DeliveryResult   `json:"deliveries"`
	Totals      POTotals           `json:"totals"`
}

// ReceptionService mutates the delivery ledger. Every mutation updates the
// reception, refreshes the PO cache and journals the event in one transaction.
type ReceptionService interface {
	ApplyDelivery(ctx context.Context, in DeliveryInput) (*DeliveryResult, error)

	// BulkApply validates every line before writing anything; one invalid
	// line rejects the whole batch. Lines are applied in order.
	BulkApply(ctx context.Context, poNumber string, lines []DeliveryLine, user string) ([]DeliveryResult, error)

	// ResetDeliveries deletes the receptions of a PO that point at fileID and
	// journals a single RESET_ALL event. It returns the number deleted.
	ResetDeliveries(ctx context.Context, poNumber string, fileID int64, user string) (int64, error)

	// ApplyTargetRate tops up the given lines so the PO progress rate reaches
	// targetRate. An empty businessIDs selects every line of the PO.
	ApplyTargetRate(ctx context.Context, poNumber string, targetRate decimal.Decimal, businessIDs []string, user string) (*TargetRateResult, error)
}
