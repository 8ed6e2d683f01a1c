package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// poLineSample bounds how many line records are scanned for PO-level
// columns.
const poLineSample = 50

// ReportService assembles report contexts. MSRN reads a snapshot; the other
// flavors read live PO state and the stored timeline records.
type ReportService interface {
	MSRNContext(ctx context.Context, reportNumber string) (*MSRNContext, error)
	PenaltyContext(ctx context.Context, poNumber string) (*PenaltyContext, error)
	AmendmentContext(ctx context.Context, poNumber string) (*AmendmentContext, error)
	DelayEvaluationContext(ctx context.Context, poNumber string) (*DelayEvaluationContext, error)
	CompensationContext(ctx context.Context, poNumber string) (*CompensationContext, error)

	// Context dispatches on kind. ref is a report number for MSRN and a PO
	// number for every other kind.
	Context(ctx context.Context, kind ReportKind, ref string) (any, error)
}

type reportService struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewReportService constructs a ReportService backed by PostgreSQL.
func NewReportService(pool *pgxpool.Pool, log logrus.FieldLogger) ReportService {
	return &reportService{pool: pool, log: log.WithField("module", "reports"), now: time.Now}
}

func (s *reportService) Context(ctx context.Context, kind ReportKind, ref string) (any, error) {
	switch kind {
	case ReportMSRN:
		return s.MSRNContext(ctx, ref)
	case ReportPenalty:
		return s.PenaltyContext(ctx, ref)
	case ReportPenaltyAmend:
		return s.AmendmentContext(ctx, ref)
	case ReportDelayEvaluation:
		return s.DelayEvaluationContext(ctx, ref)
	case ReportCompensation:
		return s.CompensationContext(ctx, ref)
	}
	return nil, invalidf("unknown report kind %q", kind)
}

// collectPOContext loads the live PO and its shared report fields.
func (s *reportService) collectPOContext(ctx context.Context, q querier, poNumber string) (*PurchaseOrder, POContext, error) {
	po, err := getPOByNumber(ctx, q, poNumber, false)
	if err != nil {
		return nil, POContext{}, err
	}
	lines, err := poLineRecords(ctx, q, po.Number, poLineSample)
	if err != nil {
		return nil, POContext{}, err
	}
	return po, BuildPOContext(*po, lines), nil
}

func (s *reportService) MSRNContext(ctx context.Context, reportNumber string) (*MSRNContext, error) {
	snap, err := getSnapshot(ctx, s.pool, reportNumber, false)
	if err != nil {
		return nil, err
	}
	_, base, err := s.collectPOContext(ctx, s.pool, snap.PONumber)
	if err != nil {
		return nil, err
	}
	initial, err := initialReceivedAmount(ctx, s.pool, snap.PONumber)
	if err != nil {
		return nil, err
	}
	c := BuildMSRNContext(*snap, base, initial)
	return &c, nil
}

func (s *reportService) penalty(ctx context.Context, poNumber string) (*PurchaseOrder, PenaltyContext, TimelineDelay, error) {
	po, base, err := s.collectPOContext(ctx, s.pool, poNumber)
	if err != nil {
		return nil, PenaltyContext{}, TimelineDelay{}, err
	}
	t, err := getTimeline(ctx, s.pool, po)
	if err != nil {
		return nil, PenaltyContext{}, TimelineDelay{}, err
	}
	return po, BuildPenaltyContext(base, t), t, nil
}

func (s *reportService) PenaltyContext(ctx context.Context, poNumber string) (*PenaltyContext, error) {
	_, p, _, err := s.penalty(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *reportService) AmendmentContext(ctx context.Context, poNumber string) (*AmendmentContext, error) {
	po, p, _, err := s.penalty(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	a, _, err := getAmendment(ctx, s.pool, po.ID)
	if err != nil {
		return nil, err
	}
	s.warnStale(poNumber, a, p.PenaltiesDue)
	c := BuildAmendmentContext(p, a)
	return &c, nil
}

func (s *reportService) DelayEvaluationContext(ctx context.Context, poNumber string) (*DelayEvaluationContext, error) {
	po, p, t, err := s.penalty(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	e, found, err := getEvaluation(ctx, s.pool, po.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		s.log.WithField("po", poNumber).Debug("no vendor evaluation stored, reporting zero scores")
	}
	c := BuildDelayEvaluationContext(p, t, e)
	return &c, nil
}

func (s *reportService) CompensationContext(ctx context.Context, poNumber string) (*CompensationContext, error) {
	po, p, _, err := s.penalty(ctx, poNumber)
	if err != nil {
		return nil, err
	}
	a, found, err := getAmendment(ctx, s.pool, po.ID)
	if err != nil {
		return nil, err
	}
	var amendment *PenaltyAmendment
	if found {
		s.warnStale(poNumber, a, p.PenaltiesDue)
		amendment = &a
	}
	c := BuildCompensationContext(p, amendment, s.now())
	return &c, nil
}

func (s *reportService) warnStale(poNumber string, a PenaltyAmendment, due decimal.Decimal) {
	if a.Stale(due) {
		s.log.WithFields(logrus.Fields{
			"po":             poNumber,
			"reduced_amount": a.ReducedAmount.String(),
			"penalties_due":  due.String(),
		}).Warn("stored penalty reduction exceeds current penalties due, capping")
	}
}
