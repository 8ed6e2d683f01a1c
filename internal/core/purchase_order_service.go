package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const poColumns = `
	id, number, total_amount, received_amount, progress_rate,
	retention_rate, retention_cause, cpu, created_at, updated_at`

const receptionColumns = `
	r.id, r.po_id, po.number, r.file_id, r.business_id,
	r.ordered_quantity, r.received_quantity, r.quantity_delivered, r.quantity_not_delivered,
	r.unit_price, r.amount_delivered, r.quantity_payable, r.amount_payable,
	r.modified_by, r.modified_at`

type purchaseOrderService struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// NewPurchaseOrderService constructs a PurchaseOrderService backed by PostgreSQL.
func NewPurchaseOrderService(pool *pgxpool.Pool, log logrus.FieldLogger) PurchaseOrderService {
	return &purchaseOrderService{pool: pool, log: log.WithField("module", "purchase_orders")}
}

func (s *purchaseOrderService) GetPO(ctx context.Context, number string, recompute bool) (*PurchaseOrder, error) {
	if !recompute {
		return getPOByNumber(ctx, s.pool, number, false)
	}

	var po *PurchaseOrder
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		locked, err := getPOByNumber(ctx, tx, number, true)
		if err != nil {
			return err
		}
		cached := locked.Totals()
		fresh, err := refreshPOCache(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		if !cached.Equal(fresh) {
			s.log.WithFields(logrus.Fields{
				"po":              number,
				"cached_total":    cached.TotalAmount,
				"cached_received": cached.ReceivedAmount,
				"total":           fresh.TotalAmount,
				"received":        fresh.ReceivedAmount,
			}).Info("PO cache was stale, refreshed")
		}
		po, err = getPOByNumber(ctx, tx, number, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

func (s *purchaseOrderService) ListReceptions(ctx context.Context, number string) ([]Reception, error) {
	po, err := getPOByNumber(ctx, s.pool, number, false)
	if err != nil {
		return nil, err
	}
	return loadReceptions(ctx, s.pool, po.ID, false)
}

func (s *purchaseOrderService) SetRetention(ctx context.Context, number string, rate decimal.Decimal, cause, user string) (*PurchaseOrder, error) {
	cause = strings.TrimSpace(cause)
	if err := ValidateRetention(rate, cause); err != nil {
		return nil, err
	}

	var po *PurchaseOrder
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		locked, err := getPOByNumber(ctx, tx, number, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE purchase_orders
			SET retention_rate = $1, retention_cause = $2, updated_at = now()
			WHERE id = $3`,
			rate, nullableString(cause), locked.ID,
		); err != nil {
			return fmt.Errorf("update retention of PO %s: %w", number, err)
		}
		if err := propagateRetention(ctx, tx, locked.ID, rate, user); err != nil {
			return err
		}
		po, err = getPOByNumber(ctx, tx, number, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"po": number, "rate": rate, "user": user}).Info("retention updated")
	return po, nil
}

// getPOByNumber loads a PO row; forUpdate takes a row lock.
func getPOByNumber(ctx context.Context, q querier, number string, forUpdate bool) (*PurchaseOrder, error) {
	query := "SELECT " + poColumns + " FROM purchase_orders WHERE number = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	po := &PurchaseOrder{}
	if err := q.QueryRow(ctx, query, number).Scan(
		&po.ID, &po.Number, &po.TotalAmount, &po.ReceivedAmount, &po.ProgressRate,
		&po.RetentionRate, &po.RetentionCause, &po.CPU, &po.CreatedAt, &po.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("purchase order %q", number)
		}
		return nil, fmt.Errorf("get purchase order %q: %w", number, err)
	}
	return po, nil
}

func getPOByID(ctx context.Context, q querier, id int64) (*PurchaseOrder, error) {
	po := &PurchaseOrder{}
	if err := q.QueryRow(ctx, "SELECT "+poColumns+" FROM purchase_orders WHERE id = $1", id).Scan(
		&po.ID, &po.Number, &po.TotalAmount, &po.ReceivedAmount, &po.ProgressRate,
		&po.RetentionRate, &po.RetentionCause, &po.CPU, &po.CreatedAt, &po.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("purchase order %d", id)
		}
		return nil, fmt.Errorf("get purchase order %d: %w", id, err)
	}
	return po, nil
}

func scanReception(row pgx.Row) (Reception, error) {
	var r Reception
	err := row.Scan(
		&r.ID, &r.POID, &r.PONumber, &r.FileID, &r.BusinessID,
		&r.OrderedQuantity, &r.ReceivedQuantity, &r.QuantityDelivered, &r.QuantityNotDelivered,
		&r.UnitPrice, &r.AmountDelivered, &r.QuantityPayable, &r.AmountPayable,
		&r.User, &r.ModifiedAt,
	)
	return r, err
}

// loadReceptions returns all receptions of a PO; forUpdate locks them.
func loadReceptions(ctx context.Context, q querier, poID int64, forUpdate bool) ([]Reception, error) {
	query := `SELECT ` + receptionColumns + `
		FROM receptions r
		JOIN purchase_orders po ON po.id = r.po_id
		WHERE r.po_id = $1
		ORDER BY r.business_id`
	if forUpdate {
		query += " FOR UPDATE OF r"
	}
	rows, err := q.Query(ctx, query, poID)
	if err != nil {
		return nil, fmt.Errorf("load receptions of PO %d: %w", poID, err)
	}
	defer rows.Close()

	var out []Reception
	for rows.Next() {
		r, err := scanReception(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reception: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// getReception loads one reception by business id. ok is false when none exists.
func getReception(ctx context.Context, q querier, businessID string, forUpdate bool) (Reception, bool, error) {
	query := `SELECT ` + receptionColumns + `
		FROM receptions r
		JOIN purchase_orders po ON po.id = r.po_id
		WHERE r.business_id = $1`
	if forUpdate {
		query += " FOR UPDATE OF r"
	}
	r, err := scanReception(q.QueryRow(ctx, query, businessID))
	if err != nil {
		if isNoRows(err) {
			return Reception{}, false, nil
		}
		return Reception{}, false, fmt.Errorf("get reception %s: %w", businessID, err)
	}
	return r, true, nil
}

// refreshPOCache recomputes the three aggregates from the receptions and
// writes them in a single UPDATE.
func refreshPOCache(ctx context.Context, q querier, poID int64) (POTotals, error) {
	rows, err := q.Query(ctx, `
		SELECT ordered_quantity, quantity_delivered, unit_price
		FROM receptions
		WHERE po_id = $1`,
		poID,
	)
	if err != nil {
		return POTotals{}, fmt.Errorf("read reception amounts of PO %d: %w", poID, err)
	}
	var lines []LineAmounts
	for rows.Next() {
		var l LineAmounts
		if err := rows.Scan(&l.OrderedQuantity, &l.QuantityDelivered, &l.UnitPrice); err != nil {
			rows.Close()
			return POTotals{}, fmt.Errorf("scan reception amounts: %w", err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return POTotals{}, fmt.Errorf("read reception amounts of PO %d: %w", poID, err)
	}

	totals := ComputePOTotals(lines)
	if _, err := q.Exec(ctx, `
		UPDATE purchase_orders
		SET total_amount = $1, received_amount = $2, progress_rate = $3, updated_at = now()
		WHERE id = $4`,
		totals.TotalAmount, totals.ReceivedAmount, totals.ProgressRate, poID,
	); err != nil {
		return POTotals{}, fmt.Errorf("refresh cache of PO %d: %w", poID, err)
	}
	return totals, nil
}

// propagateRetention rewrites the payable fields of every reception of a PO.
// quantity_payable is written first because amount_payable reads it.
func propagateRetention(ctx context.Context, q querier, poID int64, rate decimal.Decimal, user string) error {
	if _, err := q.Exec(ctx, `
		UPDATE receptions
		SET quantity_payable = ROUND(quantity_delivered * (1 - $2::numeric / 100), 2),
		    modified_by = $3, modified_at = now()
		WHERE po_id = $1`,
		poID, rate, user,
	); err != nil {
		return fmt.Errorf("propagate retention to quantity_payable: %w", err)
	}
	if _, err := q.Exec(ctx, `
		UPDATE receptions
		SET amount_payable = ROUND(quantity_payable * unit_price, 2)
		WHERE po_id = $1`,
		poID,
	); err != nil {
		return fmt.Errorf("propagate retention to amount_payable: %w", err)
	}
	return nil
}

// saveReception writes the mutable columns of an existing reception.
func saveReception(ctx context.Context, q querier, r Reception) error {
	if _, err := q.Exec(ctx, `
		UPDATE receptions
		SET ordered_quantity = $1, received_quantity = $2, quantity_delivered = $3,
		    quantity_not_delivered = $4, unit_price = $5, amount_delivered = $6,
		    quantity_payable = $7, amount_payable = $8, file_id = $9,
		    modified_by = $10, modified_at = now()
		WHERE id = $11`,
		r.OrderedQuantity, r.ReceivedQuantity, r.QuantityDelivered,
		r.QuantityNotDelivered, r.UnitPrice, r.AmountDelivered,
		r.QuantityPayable, r.AmountPayable, r.FileID,
		r.User, r.ID,
	); err != nil {
		return fmt.Errorf("update reception %s: %w", r.BusinessID, err)
	}
	return nil
}

// insertReception creates a reception and returns its id.
func insertReception(ctx context.Context, q querier, r Reception) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, `
		INSERT INTO receptions (po_id, file_id, business_id, ordered_quantity, received_quantity,
		                        quantity_delivered, quantity_not_delivered, unit_price,
		                        amount_delivered, quantity_payable, amount_payable, modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		r.POID, r.FileID, r.BusinessID, r.OrderedQuantity, r.ReceivedQuantity,
		r.QuantityDelivered, r.QuantityNotDelivered, r.UnitPrice,
		r.AmountDelivered, r.QuantityPayable, r.AmountPayable, r.User,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert reception %s: %w", r.BusinessID, err)
	}
	return id, nil
}
