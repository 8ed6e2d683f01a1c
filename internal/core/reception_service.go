package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type receptionService struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// NewReceptionService constructs a ReceptionService backed by PostgreSQL.
func NewReceptionService(pool *pgxpool.Pool, log logrus.FieldLogger) ReceptionService {
	return &receptionService{pool: pool, log: log.WithField("module", "receptions")}
}

func (s *receptionService) ApplyDelivery(ctx context.Context, in DeliveryInput) (*DeliveryResult, error) {
	in.BusinessID = CanonicalBusinessID(in.BusinessID)
	if in.BusinessID == "" {
		return nil, invalidf("business id is required")
	}

	var res DeliveryResult
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		po, err := getPOByNumber(ctx, tx, in.PONumber, true)
		if err != nil {
			return err
		}
		line := DeliveryLine{BusinessID: in.BusinessID, Delta: in.Delta, DeclaredOrdered: in.DeclaredOrdered}
		res, err = applyDeliveryTx(ctx, tx, po, line, in.User, in.FileID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"po":          in.PONumber,
		"business_id": in.BusinessID,
		"delta":       in.Delta,
		"cumulative":  res.Reception.QuantityDelivered,
		"user":        in.User,
	}).Info("delivery applied")
	return &res, nil
}

// applyDeliveryTx applies one line against a PO the caller has locked.
func applyDeliveryTx(ctx context.Context, tx pgx.Tx, po *PurchaseOrder, line DeliveryLine, user string, fileID *int64) (DeliveryResult, error) {
	existing, found, err := getReception(ctx, tx, line.BusinessID, true)
	if err != nil {
		return DeliveryResult{}, err
	}
	if found && existing.POID != po.ID {
		return DeliveryResult{}, invalidf("business id %s belongs to PO %s, not %s", line.BusinessID, existing.PONumber, po.Number)
	}
	if !found {
		existing = Reception{
			POID:       po.ID,
			PONumber:   po.Number,
			FileID:     fileID,
			BusinessID: line.BusinessID,
		}
	}

	plan, err := PlanDelivery(existing, !found, line.Delta, line.DeclaredOrdered, po.RetentionRate)
	if err != nil {
		return DeliveryResult{}, err
	}
	after := plan.After
	after.User = user

	if found {
		if err := saveReception(ctx, tx, after); err != nil {
			return DeliveryResult{}, err
		}
	} else {
		id, err := insertReception(ctx, tx, after)
		if err != nil {
			return DeliveryResult{}, err
		}
		after.ID = id
	}

	totals, err := refreshPOCache(ctx, tx, po.ID)
	if err != nil {
		return DeliveryResult{}, err
	}
	entry, err := appendActivity(ctx, tx, activityFor(after, plan.Delta, totals.ProgressRate, user))
	if err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Reception: after, Activity: entry, Totals: totals}, nil
}

func (s *receptionService) BulkApply(ctx context.Context, poNumber string, lines []DeliveryLine, user string) ([]DeliveryResult, error) {
	if len(lines) == 0 {
		return nil, invalidf("bulk delivery has no lines")
	}
	canonical := make([]DeliveryLine, len(lines))
	for i, line := range lines {
		line.BusinessID = CanonicalBusinessID(line.BusinessID)
		canonical[i] = line
	}
	lines = canonical

	var results []DeliveryResult
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		results = results[:0]
		po, err := getPOByNumber(ctx, tx, poNumber, true)
		if err != nil {
			return err
		}
		current, err := loadReceptions(ctx, tx, po.ID, true)
		if err != nil {
			return err
		}
		if err := validateBulk(po, current, lines); err != nil {
			return err
		}
		for _, line := range lines {
			res, err := applyDeliveryTx(ctx, tx, po, line, user, nil)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"po": poNumber, "lines": len(lines), "user": user}).Info("bulk delivery applied")
	return results, nil
}

// validateBulk simulates the batch against the current receptions. Lines for
// the same business id are applied in sequence so their deltas compound.
func validateBulk(po *PurchaseOrder, current []Reception, lines []DeliveryLine) error {
	state := make(map[string]Reception, len(current))
	for _, r := range current {
		state[r.BusinessID] = r
	}
	for i, line := range lines {
		bid := line.BusinessID
		if bid == "" {
			return invalidf("line %d: business id is required", i+1)
		}
		existing, found := state[bid]
		if !found {
			existing = Reception{POID: po.ID, PONumber: po.Number, BusinessID: bid}
		}
		plan, err := PlanDelivery(existing, !found, line.Delta, line.DeclaredOrdered, po.RetentionRate)
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		state[bid] = plan.After
	}
	return nil
}

func (s *receptionService) ResetDeliveries(ctx context.Context, poNumber string, fileID int64, user string) (int64, error) {
	var deleted int64
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		po, err := getPOByNumber(ctx, tx, poNumber, true)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, "DELETE FROM receptions WHERE po_id = $1 AND file_id = $2", po.ID, fileID)
		if err != nil {
			return fmt.Errorf("delete receptions of PO %s file %d: %w", poNumber, fileID, err)
		}
		deleted = tag.RowsAffected()

		totals, err := refreshPOCache(ctx, tx, po.ID)
		if err != nil {
			return err
		}
		_, err = appendActivity(ctx, tx, ActivityLog{
			PONumber:     po.Number,
			FileID:       &fileID,
			BusinessID:   ResetBusinessID,
			User:         user,
			ProgressRate: totals.ProgressRate,
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{"po": poNumber, "file_id": fileID, "deleted": deleted, "user": user}).Warn("deliveries reset")
	return deleted, nil
}

func (s *receptionService) ApplyTargetRate(ctx context.Context, poNumber string, targetRate decimal.Decimal, businessIDs []string, user string) (*TargetRateResult, error) {
	var result TargetRateResult
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		result = TargetRateResult{}
		po, err := getPOByNumber(ctx, tx, poNumber, true)
		if err != nil {
			return err
		}
		all, err := loadReceptions(ctx, tx, po.ID, true)
		if err != nil {
			return err
		}
		selected, err := selectLines(all, businessIDs)
		if err != nil {
			return err
		}

		allocations, err := PlanTargetRate(ComputePOTotals(lineAmountsOf(all)), targetRate, selected)
		if err != nil {
			return err
		}
		result.Allocations = allocations

		byID := make(map[string]Reception, len(selected))
		for _, r := range selected {
			byID[r.BusinessID] = r
		}
		for _, a := range allocations {
			line := DeliveryLine{BusinessID: a.BusinessID, Delta: a.Addition, DeclaredOrdered: byID[a.BusinessID].OrderedQuantity}
			res, err := applyDeliveryTx(ctx, tx, po, line, user, nil)
			if err != nil {
				return err
			}
			result.Deliveries = append(result.Deliveries, res)
			result.Totals = res.Totals
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"po":       poNumber,
		"target":   targetRate,
		"lines":    len(result.Allocations),
		"progress": result.Totals.ProgressRate,
	}).Info("target rate applied")
	return &result, nil
}

// selectLines picks the receptions named by businessIDs, or all of them.
func selectLines(all []Reception, businessIDs []string) ([]Reception, error) {
	if len(businessIDs) == 0 {
		return all, nil
	}
	byID := make(map[string]Reception, len(all))
	for _, r := range all {
		byID[r.BusinessID] = r
	}
	seen := make(map[string]bool, len(businessIDs))
	out := make([]Reception, 0, len(businessIDs))
	for _, id := range businessIDs {
		id = CanonicalBusinessID(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		r, ok := byID[id]
		if !ok {
			return nil, notFoundf("reception %s on this PO", id)
		}
		out = append(out, r)
	}
	return out, nil
}
