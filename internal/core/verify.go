package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Check names reported by the verifier.
const (
	CheckKindReception = "reception"
	CheckKindPOCache   = "po_cache"
	CheckKindJournal   = "journal"
	CheckKindTimeline  = "timeline"
)

// Violation is one broken ledger invariant.
type Violation struct {
	Check      string `json:"check"`
	PONumber   string `json:"po_number"`
	BusinessID string `json:"business_id,omitempty"`
	Detail     string `json:"detail"`
}

func (v Violation) String() string {
	if v.BusinessID == "" {
		return fmt.Sprintf("[%s] PO %s: %s", v.Check, v.PONumber, v.Detail)
	}
	return fmt.Sprintf("[%s] PO %s %s: %s", v.Check, v.PONumber, v.BusinessID, v.Detail)
}

// VerifyReport summarises a full ledger scan.
type VerifyReport struct {
	PurchaseOrders int         `json:"purchase_orders"`
	Receptions     int         `json:"receptions"`
	Events         int         `json:"events"`
	Refreshed      int         `json:"refreshed"`
	Violations     []Violation `json:"violations"`
}

// OK reports whether the scan found nothing.
func (r VerifyReport) OK() bool { return len(r.Violations) == 0 }

// LedgerVerifier scans every purchase order and reports broken invariants.
type LedgerVerifier interface {
	// Verify checks each PO. With refresh set, each PO cache is recomputed
	// first, so cache checks only fail on a recomputation bug.
	Verify(ctx context.Context, refresh bool) (*VerifyReport, error)
}

type ledgerVerifier struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

func NewLedgerVerifier(pool *pgxpool.Pool, log logrus.FieldLogger) LedgerVerifier {
	return &ledgerVerifier{pool: pool, log: log.WithField("module", "verifier")}
}

func (v *ledgerVerifier) Verify(ctx context.Context, refresh bool) (*VerifyReport, error) {
	rows, err := v.pool.Query(ctx, "SELECT number FROM purchase_orders ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}

	report := &VerifyReport{Violations: []Violation{}}
	for _, number := range numbers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if refresh {
			changed, err := v.refresh(ctx, number)
			if err != nil {
				return nil, err
			}
			if changed {
				report.Refreshed++
			}
		}
		if err := v.verifyPO(ctx, number, report); err != nil {
			return nil, err
		}
	}

	v.log.WithFields(logrus.Fields{
		"purchase_orders": report.PurchaseOrders,
		"receptions":      report.Receptions,
		"events":          report.Events,
		"refreshed":       report.Refreshed,
		"violations":      len(report.Violations),
	}).Info("ledger verified")
	return report, nil
}

func (v *ledgerVerifier) refresh(ctx context.Context, number string) (bool, error) {
	var changed bool
	err := inTx(ctx, v.pool, func(tx pgx.Tx) error {
		po, err := getPOByNumber(ctx, tx, number, true)
		if err != nil {
			return err
		}
		totals, err := refreshPOCache(ctx, tx, po.ID)
		if err != nil {
			return err
		}
		changed = !totals.Equal(po.Totals())
		return nil
	})
	if changed {
		v.log.WithField("po", number).Warn("PO cache was stale")
	}
	return changed, err
}

// verifyPO reads one PO in a repeatable-read transaction so receptions,
// journal and cache come from the same snapshot.
func (v *ledgerVerifier) verifyPO(ctx context.Context, number string, report *VerifyReport) error {
	tx, err := v.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin verification of PO %s: %w", number, err)
	}
	defer tx.Rollback(ctx)

	po, err := getPOByNumber(ctx, tx, number, false)
	if err != nil {
		return err
	}
	receptions, err := loadReceptions(ctx, tx, po.ID, false)
	if err != nil {
		return err
	}
	events, err := activityHistory(ctx, tx, []string{po.Number})
	if err != nil {
		return err
	}
	t, err := getTimeline(ctx, tx, po)
	if err != nil {
		return err
	}

	report.PurchaseOrders++
	report.Receptions += len(receptions)
	report.Events += len(events)
	report.Violations = append(report.Violations, CheckReceptions(*po, receptions)...)
	report.Violations = append(report.Violations, CheckPOCache(*po, receptions)...)
	report.Violations = append(report.Violations, CheckJournal(po.Number, receptions, events)...)
	report.Violations = append(report.Violations, CheckTimeline(t)...)
	return nil
}

// CheckReceptions verifies the quantity bounds and derived fields of every
// reception against the PO retention rate.
func CheckReceptions(po PurchaseOrder, receptions []Reception) []Violation {
	var out []Violation
	for _, r := range receptions {
		if err := r.CheckInvariants(po.RetentionRate); err != nil {
			out = append(out, Violation{Check: CheckKindReception, PONumber: po.Number, BusinessID: r.BusinessID, Detail: err.Error()})
		}
	}
	return out
}

// CheckPOCache compares the cached aggregates with a recomputation.
func CheckPOCache(po PurchaseOrder, receptions []Reception) []Violation {
	want := ComputePOTotals(lineAmountsOf(receptions))
	if want.Equal(po.Totals()) {
		return nil
	}
	return []Violation{{
		Check:    CheckKindPOCache,
		PONumber: po.Number,
		Detail: fmt.Sprintf("cached total=%s received=%s progress=%s, recomputed total=%s received=%s progress=%s",
			po.TotalAmount, po.ReceivedAmount, po.ProgressRate,
			want.TotalAmount, want.ReceivedAmount, want.ProgressRate),
	}}
}

// JournalSums adds up the signed deltas per business id. Events of a file
// that precede a RESET_ALL for the same PO and file are void: the reset
// deleted the receptions they built.
func JournalSums(events []ActivityLog) map[string]decimal.Decimal {
	type poFile struct {
		po   string
		file int64
	}
	lastReset := make(map[poFile]int64)
	for _, e := range events {
		if e.BusinessID == ResetBusinessID && e.FileID != nil {
			k := poFile{e.PONumber, *e.FileID}
			if e.ID > lastReset[k] {
				lastReset[k] = e.ID
			}
		}
	}

	sums := make(map[string]decimal.Decimal)
	for _, e := range events {
		if e.BusinessID == ResetBusinessID {
			continue
		}
		if e.FileID != nil && e.ID < lastReset[poFile{e.PONumber, *e.FileID}] {
			continue
		}
		sums[e.BusinessID] = sums[e.BusinessID].Add(e.QuantityDelivered)
	}
	return sums
}

// CheckJournal verifies that the journal accounts for every delivered
// quantity.
func CheckJournal(poNumber string, receptions []Reception, events []ActivityLog) []Violation {
	sums := JournalSums(events)
	var out []Violation
	for _, r := range receptions {
		if !r.QuantityDelivered.IsPositive() {
			continue
		}
		if got := sums[r.BusinessID]; !got.Equal(r.QuantityDelivered) {
			out = append(out, Violation{
				Check:      CheckKindJournal,
				PONumber:   poNumber,
				BusinessID: r.BusinessID,
				Detail:     fmt.Sprintf("journal deltas sum to %s, delivered quantity is %s", got, r.QuantityDelivered),
			})
		}
	}
	return out
}

// CheckTimeline verifies the timeline retention cap.
func CheckTimeline(t TimelineDelay) []Violation {
	if t.RetentionRateTimeline.GreaterThan(MaxRetentionRate) {
		return []Violation{{
			Check:    CheckKindTimeline,
			PONumber: t.PONumber,
			Detail:   fmt.Sprintf("timeline retention rate %s exceeds %s", t.RetentionRateTimeline, MaxRetentionRate),
		}}
	}
	return nil
}
