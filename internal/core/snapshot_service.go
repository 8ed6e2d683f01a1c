package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SnapshotService creates and amends MSRN report snapshots.
type SnapshotService interface {
	// CreateSnapshot freezes the PO under a newly allocated report number.
	CreateSnapshot(ctx context.Context, poNumber, user string) (*ReportSnapshot, error)
	GetSnapshot(ctx context.Context, reportNumber string) (*ReportSnapshot, error)
	ListSnapshots(ctx context.Context, poNumber string) ([]ReportSnapshot, error)
	// UpdateRetention changes the snapshot's own retention. Live receptions
	// and other snapshots are not read or written.
	UpdateRetention(ctx context.Context, reportNumber string, rate decimal.Decimal, cause, user string) (*ReportSnapshot, error)
}

type snapshotService struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewSnapshotService constructs a SnapshotService backed by PostgreSQL.
func NewSnapshotService(pool *pgxpool.Pool, log logrus.FieldLogger) SnapshotService {
	return &snapshotService{pool: pool, log: log.WithField("module", "snapshots"), now: time.Now}
}

const snapshotColumns = `
	s.id, s.report_number, s.po_id, po.number, s.created_at, s.created_by,
	s.total_amount, s.received_amount, s.progress_rate, s.retention_rate, s.retention_cause,
	s.retention_amount, s.payable_amount, COALESCE(s.payment_terms, ''), s.receptions_data_snapshot`

func (s *snapshotService) CreateSnapshot(ctx context.Context, poNumber, user string) (*ReportSnapshot, error) {
	var snap ReportSnapshot
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		po, err := getPOByNumber(ctx, tx, poNumber, true)
		if err != nil {
			return err
		}
		if _, err := refreshPOCache(ctx, tx, po.ID); err != nil {
			return err
		}
		if po, err = getPOByNumber(ctx, tx, poNumber, false); err != nil {
			return err
		}
		receptions, err := loadReceptions(ctx, tx, po.ID, false)
		if err != nil {
			return err
		}
		var bids []string
		for _, r := range receptions {
			if r.QuantityDelivered.IsPositive() {
				bids = append(bids, r.BusinessID)
			}
		}
		lines, err := latestLineContents(ctx, tx, bids)
		if err != nil {
			return err
		}
		poLines, err := poLineRecords(ctx, tx, po.Number, poLineSample)
		if err != nil {
			return err
		}

		snap = BuildSnapshot(*po, receptions, lines, firstValue(poLines, FieldPaymentTerms), user)
		if snap.ReportNumber, err = allocateReportNumber(ctx, tx, s.now().Year()); err != nil {
			return err
		}
		return insertSnapshot(ctx, tx, &snap)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"po":            poNumber,
		"report_number": snap.ReportNumber,
		"lines":         len(snap.Receptions),
		"user":          user,
	}).Info("report snapshot created")
	return &snap, nil
}

// allocateReportNumber takes the largest number of the year and increments
// it. The unique constraint on report_number rejects a concurrent duplicate;
// inTx retries the whole transaction once.
func allocateReportNumber(ctx context.Context, q querier, year int) (string, error) {
	var maxExisting *string
	if err := q.QueryRow(ctx,
		"SELECT MAX(report_number) FROM report_snapshots WHERE report_number LIKE $1 || '%'",
		ReportPrefix(year),
	).Scan(&maxExisting); err != nil {
		return "", fmt.Errorf("read last report number: %w", err)
	}
	return NextReportNumber(year, derefString(maxExisting))
}

func insertSnapshot(ctx context.Context, tx pgx.Tx, snap *ReportSnapshot) error {
	data, err := json.Marshal(snap.Receptions)
	if err != nil {
		return fmt.Errorf("encode snapshot receptions: %w", err)
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO report_snapshots (report_number, po_id, created_by, total_amount, received_amount,
		                              progress_rate, retention_rate, retention_cause, retention_amount,
		                              payable_amount, payment_terms, receptions_data_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`,
		snap.ReportNumber, snap.POID, snap.CreatedBy, snap.TotalAmount, snap.ReceivedAmount,
		snap.ProgressRate, snap.RetentionRate, snap.RetentionCause, snap.RetentionAmount,
		snap.PayableAmount, nullableString(snap.PaymentTerms), data,
	).Scan(&snap.ID, &snap.CreatedAt); err != nil {
		return fmt.Errorf("insert report snapshot %s: %w", snap.ReportNumber, err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (ReportSnapshot, error) {
	var snap ReportSnapshot
	var data []byte
	if err := row.Scan(
		&snap.ID, &snap.ReportNumber, &snap.POID, &snap.PONumber, &snap.CreatedAt, &snap.CreatedBy,
		&snap.TotalAmount, &snap.ReceivedAmount, &snap.ProgressRate, &snap.RetentionRate, &snap.RetentionCause,
		&snap.RetentionAmount, &snap.PayableAmount, &snap.PaymentTerms, &data,
	); err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap.Receptions); err != nil {
		return snap, fmt.Errorf("decode snapshot %s receptions: %w", snap.ReportNumber, err)
	}
	return snap, nil
}

func getSnapshot(ctx context.Context, q querier, reportNumber string, forUpdate bool) (*ReportSnapshot, error) {
	reportNumber = strings.TrimSpace(reportNumber)
	if !ValidReportNumber(reportNumber) {
		return nil, invalidf("malformed report number %q", reportNumber)
	}
	query := `SELECT ` + snapshotColumns + `
		FROM report_snapshots s
		JOIN purchase_orders po ON po.id = s.po_id
		WHERE s.report_number = $1`
	if forUpdate {
		query += " FOR UPDATE OF s"
	}
	snap, err := scanSnapshot(q.QueryRow(ctx, query, reportNumber))
	if err != nil {
		if isNoRows(err) {
			return nil, notFoundf("report %s", reportNumber)
		}
		return nil, fmt.Errorf("get report %s: %w", reportNumber, err)
	}
	return &snap, nil
}

func (s *snapshotService) GetSnapshot(ctx context.Context, reportNumber string) (*ReportSnapshot, error) {
	return getSnapshot(ctx, s.pool, reportNumber, false)
}

func (s *snapshotService) ListSnapshots(ctx context.Context, poNumber string) ([]ReportSnapshot, error) {
	po, err := getPOByNumber(ctx, s.pool, poNumber, false)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+`
		FROM report_snapshots s
		JOIN purchase_orders po ON po.id = s.po_id
		WHERE s.po_id = $1
		ORDER BY s.report_number`,
		po.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reports of PO %s: %w", poNumber, err)
	}
	defer rows.Close()

	var out []ReportSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *snapshotService) UpdateRetention(ctx context.Context, reportNumber string, rate decimal.Decimal, cause, user string) (*ReportSnapshot, error) {
	var snap *ReportSnapshot
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		snap, err = getSnapshot(ctx, tx, reportNumber, true)
		if err != nil {
			return err
		}
		if err := snap.ApplyRetention(rate, cause); err != nil {
			return err
		}
		data, err := json.Marshal(snap.Receptions)
		if err != nil {
			return fmt.Errorf("encode snapshot receptions: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE report_snapshots
			SET retention_rate = $1, retention_cause = $2, retention_amount = $3,
			    payable_amount = $4, receptions_data_snapshot = $5
			WHERE id = $6`,
			snap.RetentionRate, snap.RetentionCause, snap.RetentionAmount,
			snap.PayableAmount, data, snap.ID,
		); err != nil {
			return fmt.Errorf("update retention of report %s: %w", reportNumber, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"report_number": reportNumber, "rate": rate, "user": user}).Info("snapshot retention updated")
	return snap, nil
}
