package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceToBeCertified is the ledger's received amount minus the amount
// acknowledged at ingest. It is negative when the imported value overstated
// deliveries.
func BalanceToBeCertified(receivedAmount, initialReceivedAmount decimal.Decimal) decimal.Decimal {
	return Round2(receivedAmount.Sub(initialReceivedAmount))
}

// upsertInitialReceptions overwrites the initial values of each business id
// with the values seen in the current ingest.
func upsertInitialReceptions(ctx context.Context, tx pgx.Tx, values []InitialReceptionBusiness) error {
	if len(values) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range values {
		batch.Queue(`
			INSERT INTO initial_reception_business (business_id, po_number, received_quantity,
			                                        initial_total_amount, initial_received_amount,
			                                        initial_progress_rate)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (business_id) DO UPDATE
			SET po_number               = EXCLUDED.po_number,
			    received_quantity       = EXCLUDED.received_quantity,
			    initial_total_amount    = EXCLUDED.initial_total_amount,
			    initial_received_amount = EXCLUDED.initial_received_amount,
			    initial_progress_rate   = EXCLUDED.initial_progress_rate,
			    updated_at              = now()`,
			v.BusinessID, v.PONumber, v.ReceivedQuantity,
			v.InitialTotalAmount, v.InitialReceivedAmount, v.InitialProgressRate,
		)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range values {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert initial reception values: %w", err)
		}
	}
	return nil
}

// initialReceivedAmount sums the ingest-time received amounts of a PO.
func initialReceivedAmount(ctx context.Context, q querier, poNumber string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(initial_received_amount), 0)
		FROM initial_reception_business
		WHERE po_number = $1`,
		poNumber,
	).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum initial received amount of PO %s: %w", poNumber, err)
	}
	return sum, nil
}

// listInitialValues returns the initial values of a PO by business id.
func listInitialValues(ctx context.Context, q querier, poNumber string) ([]InitialReceptionBusiness, error) {
	rows, err := q.Query(ctx, `
		SELECT business_id, po_number, received_quantity, initial_total_amount,
		       initial_received_amount, initial_progress_rate, updated_at
		FROM initial_reception_business
		WHERE po_number = $1
		ORDER BY business_id`,
		poNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("list initial values of PO %s: %w", poNumber, err)
	}
	defer rows.Close()

	var out []InitialReceptionBusiness
	for rows.Next() {
		var v InitialReceptionBusiness
		if err := rows.Scan(&v.BusinessID, &v.PONumber, &v.ReceivedQuantity, &v.InitialTotalAmount,
			&v.InitialReceivedAmount, &v.InitialProgressRate, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan initial value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
