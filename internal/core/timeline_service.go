package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TimelineService stores the per-PO inputs of the penalty and delay reports.
// Getters return defaults when nothing has been saved yet.
type TimelineService interface {
	GetTimeline(ctx context.Context, poNumber string) (*TimelineDelay, error)
	SaveTimeline(ctx context.Context, poNumber string, t TimelineDelay, user string) (*TimelineDelay, error)
	GetEvaluation(ctx context.Context, poNumber string) (*VendorEvaluation, bool, error)
	SaveEvaluation(ctx context.Context, poNumber string, e VendorEvaluation, user string) (*VendorEvaluation, error)
	GetAmendment(ctx context.Context, poNumber string) (*PenaltyAmendment, bool, error)
	SaveAmendment(ctx context.Context, poNumber string, a PenaltyAmendment, user string) (*PenaltyAmendment, error)
}

type timelineService struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// NewTimelineService constructs a TimelineService backed by PostgreSQL.
func NewTimelineService(pool *pgxpool.Pool, log logrus.FieldLogger) TimelineService {
	return &timelineService{pool: pool, log: log.WithField("module", "timeline")}
}

// normalizeTimeline fills an unset total with the sum of the buckets and
// rejects buckets that exceed the total.
func normalizeTimeline(t TimelineDelay) (TimelineDelay, error) {
	if err := t.Validate(); err != nil {
		return t, err
	}
	sum := t.DelayMTN + t.DelayVendor + t.DelayForceMajeure
	if t.TotalDelay == 0 {
		t.TotalDelay = sum
	}
	if sum > t.TotalDelay {
		return t, invalidf("delay buckets sum to %d days, more than the total delay of %d", sum, t.TotalDelay)
	}
	return t, nil
}

func defaultTimeline(po *PurchaseOrder) TimelineDelay {
	return TimelineDelay{POID: po.ID, PONumber: po.Number, QuotiteRealisee: hundred}
}

func getTimeline(ctx context.Context, q querier, po *PurchaseOrder) (TimelineDelay, error) {
	t := TimelineDelay{PONumber: po.Number}
	err := q.QueryRow(ctx, `
		SELECT po_id, total_delay, delay_mtn, delay_vendor, delay_force_majeure,
		       comment_mtn, comment_vendor, comment_force_majeure, quotite_realisee, observation,
		       retention_amount_timeline, retention_rate_timeline, updated_by, updated_at
		FROM timeline_delays
		WHERE po_id = $1`,
		po.ID,
	).Scan(&t.POID, &t.TotalDelay, &t.DelayMTN, &t.DelayVendor, &t.DelayForceMajeure,
		&t.CommentMTN, &t.CommentVendor, &t.CommentForceMajeure, &t.QuotiteRealisee, &t.Observation,
		&t.RetentionAmountTimeline, &t.RetentionRateTimeline, &t.UpdatedBy, &t.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return defaultTimeline(po), nil
		}
		return t, fmt.Errorf("get timeline of PO %s: %w", po.Number, err)
	}
	return t, nil
}

func (s *timelineService) GetTimeline(ctx context.Context, poNumber string) (*TimelineDelay, error) {
	po, err := getPOByNumber(ctx, s.pool, poNumber, false)
	if err != nil {
		return nil, err
	}
	t, err := getTimeline(ctx, s.pool, po)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *timelineService) SaveTimeline(ctx context.Context, poNumber string, t TimelineDelay, user string) (*TimelineDelay, error) {
	t, err := normalizeTimeline(t)
	if err != nil {
		return nil, err
	}

	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		po, err := getPOByNumber(ctx, tx, poNumber, true)
		if err != nil {
			return err
		}
		amount, err := poAmount(ctx, tx, po)
		if err != nil {
			return err
		}
		t.POID, t.PONumber, t.UpdatedBy = po.ID, po.Number, user
		t.Derive(amount)
		return tx.QueryRow(ctx, `
			INSERT INTO timeline_delays (po_id, total_delay, delay_mtn, delay_vendor, delay_force_majeure,
			                             comment_mtn, comment_vendor, comment_force_majeure,
			                             quotite_realisee, observation, retention_amount_timeline,
			                             retention_rate_timeline, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (po_id) DO UPDATE
			SET total_delay               = EXCLUDED.total_delay,
			    delay_mtn                 = EXCLUDED.delay_mtn,
			    delay_vendor              = EXCLUDED.delay_vendor,
			    delay_force_majeure       = EXCLUDED.delay_force_majeure,
			    comment_mtn               = EXCLUDED.comment_mtn,
			    comment_vendor            = EXCLUDED.comment_vendor,
			    comment_force_majeure     = EXCLUDED.comment_force_majeure,
			    quotite_realisee          = EXCLUDED.quotite_realisee,
			    observation               = EXCLUDED.observation,
			    retention_amount_timeline = EXCLUDED.retention_amount_timeline,
			    retention_rate_timeline   = EXCLUDED.retention_rate_timeline,
			    updated_by                = EXCLUDED.updated_by,
			    updated_at                = now()
			RETURNING updated_at`,
			t.POID, t.TotalDelay, t.DelayMTN, t.DelayVendor, t.DelayForceMajeure,
			t.CommentMTN, t.CommentVendor, t.CommentForceMajeure,
			t.QuotiteRealisee, t.Observation, t.RetentionAmountTimeline,
			t.RetentionRateTimeline, t.UpdatedBy,
		).Scan(&t.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"po":             poNumber,
		"delay_vendor":   t.DelayVendor,
		"retention_rate": t.RetentionRateTimeline,
		"user":           user,
	}).Info("timeline saved")
	return &t, nil
}

func getEvaluation(ctx context.Context, q querier, poID int64) (VendorEvaluation, bool, error) {
	e := VendorEvaluation{POID: poID}
	err := q.QueryRow(ctx, `
		SELECT quality, timeliness, responsiveness, compliance, documentation, comment, updated_by, updated_at
		FROM vendor_evaluations
		WHERE po_id = $1`,
		poID,
	).Scan(&e.Quality, &e.Timeliness, &e.Responsiveness, &e.Compliance, &e.Documentation,
		&e.Comment, &e.UpdatedBy, &e.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return e, false, nil
		}
		return e, false, fmt.Errorf("get vendor evaluation of PO %d: %w", poID, err)
	}
	return e, true, nil
}

func (s *timelineService) GetEvaluation(ctx context.Context, poNumber string) (*VendorEvaluation, bool, error) {
	po, err := getPOByNumber(ctx, s.pool, poNumber, false)
	if err != nil {
		return nil, false, err
	}
	e, found, err := getEvaluation(ctx, s.pool, po.ID)
	if err != nil {
		return nil, false, err
	}
	return &e, found, nil
}

func (s *timelineService) SaveEvaluation(ctx context.Context, poNumber string, e VendorEvaluation, user string) (*VendorEvaluation, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	po, err := getPOByNumber(ctx, s.pool, poNumber, false)
	if err != nil {
		return nil, err
	}
	e.POID, e.UpdatedBy = po.ID, user
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO vendor_evaluations (po_id, quality, timeliness, responsiveness, compliance,
		                                documentation, comment, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (po_id) DO UPDATE
		SET quality        = EXCLUDED.quality,
		    timeliness     = EXCLUDED.timeliness,
		    responsiveness = EXCLUDED.responsiveness,
		    compliance     = EXCLUDED.compliance,
		    documentation  = EXCLUDED.documentation,
		    comment        = EXCLUDED.comment,
		    updated_by     = EXCLUDED.updated_by,
		    updated_at     = now()
		RETURNING updated_at`,
		e.POID, e.Quality, e.Timeliness, e.Responsiveness, e.Compliance,
		e.Documentation, e.Comment, e.UpdatedBy,
	).Scan(&e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("save vendor evaluation of PO %s: %w", poNumber, classifyPgError(err))
	}

	s.log.WithFields(logrus.Fields{"po": poNumber, "final_rating": e.FinalRating(), "user": user}).Info("vendor evaluation saved")
	return &e, nil
}

func getAmendment(ctx context.Context, q querier, poID int64) (PenaltyAmendment, bool, error) {
	a := PenaltyAmendment{POID: poID}
	var status string
	err := q.QueryRow(ctx, `
		SELECT supplier_plea, pm_proposal, penalty_status, reduced_amount, updated_by, updated_at
		FROM penalty_amendments
		WHERE po_id = $1`,
		poID,
	).Scan(&a.SupplierPlea, &a.PMProposal, &status, &a.ReducedAmount, &a.UpdatedBy, &a.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return a, false, nil
		}
		return a, false, fmt.Errorf("get penalty amendment of PO %d: %w", poID, err)
	}
	a.PenaltyStatus = PenaltyStatus(status)
	return a, true, nil
}

func (s *timelineService) GetAmendment(ctx context.Context, poNumber string) (*PenaltyAmendment, bool, error) {
	po, err := getPOByNumber(ctx, s.pool, poNumber, false)
	if err != nil {
		return nil, false, err
	}
	a, found, err := getAmendment(ctx, s.pool, po.ID)
	if err != nil {
		return nil, false, err
	}
	return &a, found, nil
}

// SaveAmendment checks a reduced penalty against the current penalties due
// before storing it.
func (s *timelineService) SaveAmendment(ctx context.Context, poNumber string, a PenaltyAmendment, user string) (*PenaltyAmendment, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		po, err := getPOByNumber(ctx, tx, poNumber, true)
		if err != nil {
			return err
		}
		if a.PenaltyStatus == PenaltyStatusReduite {
			t, err := getTimeline(ctx, tx, po)
			if err != nil {
				return err
			}
			amount, err := poAmount(ctx, tx, po)
			if err != nil {
				return err
			}
			breakdown := ComputePenalty(amount, t.DelayVendor, t.QuotiteRealisee)
			if err := a.CheckReduction(breakdown.PenaltiesDue); err != nil {
				return err
			}
		} else {
			a.ReducedAmount = decimal.Zero
		}
		a.POID, a.UpdatedBy = po.ID, user
		return tx.QueryRow(ctx, `
			INSERT INTO penalty_amendments (po_id, supplier_plea, pm_proposal, penalty_status,
			                                reduced_amount, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (po_id) DO UPDATE
			SET supplier_plea  = EXCLUDED.supplier_plea,
			    pm_proposal    = EXCLUDED.pm_proposal,
			    penalty_status = EXCLUDED.penalty_status,
			    reduced_amount = EXCLUDED.reduced_amount,
			    updated_by     = EXCLUDED.updated_by,
			    updated_at     = now()
			RETURNING updated_at`,
			a.POID, a.SupplierPlea, a.PMProposal, string(a.PenaltyStatus),
			a.ReducedAmount, a.UpdatedBy,
		).Scan(&a.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"po": poNumber, "status": a.PenaltyStatus, "user": user}).Info("penalty amendment saved")
	return &a, nil
}

// poAmount is the PO amount used by penalty computations: the PO Amount
// column of its line records when present, otherwise the cached total.
func poAmount(ctx context.Context, q querier, po *PurchaseOrder) (decimal.Decimal, error) {
	lines, err := poLineRecords(ctx, q, po.Number, poLineSample)
	if err != nil {
		return decimal.Zero, err
	}
	return resolvePOAmount(lines, po.TotalAmount), nil
}

func resolvePOAmount(lines []Record, cachedTotal decimal.Decimal) decimal.Decimal {
	if v := firstValue(lines, FieldPOAmount); v != "" {
		if d, err := ParseDecimal(v); err == nil && d.IsPositive() {
			return d
		}
	}
	return cachedTotal
}
