package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// PurchaseOrderService reads purchase orders, maintains their cached
// aggregates and propagates retention changes to their receptions.
type PurchaseOrderService interface {
	// GetPO returns the PO by number. With recompute set, the aggregates are
	// recomputed from the receptions and written back before returning.
	GetPO(ctx context.Context, number string, recompute bool) (*PurchaseOrder, error)

	// ListReceptions returns the receptions of a PO ordered by business id.
	ListReceptions(ctx context.Context, number string) ([]Reception, error)

	// SetRetention validates and stores the PO retention, then recomputes
	// quantity_payable and amount_payable of every reception. Report
	// snapshots are left untouched.
	SetRetention(ctx context.Context, number string, rate decimal.Decimal, cause, user string) (*PurchaseOrder, error)
}
