package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryService serves read-only ledger views.
type QueryService interface {
	// ListPOs returns the distinct order numbers across all line records.
	ListPOs(ctx context.Context) ([]string, error)
	// ListPOsWithActivity returns the distinct PO numbers in the journal.
	ListPOsWithActivity(ctx context.Context) ([]string, error)
	// ListActivity returns one page of journal events, newest first, with
	// their derived presentation fields.
	ListActivity(ctx context.Context, f ActivityFilter) (*ActivityPage, error)
	ListInitialValues(ctx context.Context, poNumber string) ([]InitialReceptionBusiness, error)
}

type queryService struct {
	pool *pgxpool.Pool
}

// NewQueryService constructs a QueryService backed by PostgreSQL.
func NewQueryService(pool *pgxpool.Pool) QueryService {
	return &queryService{pool: pool}
}

func (s *queryService) ListPOs(ctx context.Context) ([]string, error) {
	return s.listNumbers(ctx, `
		SELECT DISTINCT order_number
		FROM line_records
		WHERE order_number IS NOT NULL AND order_number <> ''
		ORDER BY order_number`)
}

func (s *queryService) ListPOsWithActivity(ctx context.Context) ([]string, error) {
	return s.listNumbers(ctx, "SELECT DISTINCT po_number FROM activity_logs ORDER BY po_number")
}

func (s *queryService) listNumbers(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan purchase order number: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// activityWhere builds the filter clause and its arguments.
func activityWhere(f ActivityFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if po := strings.TrimSpace(f.PONumber); po != "" {
		add("po_number ILIKE '%%' || $%d || '%%'", po)
	}
	if u := strings.TrimSpace(f.User); u != "" {
		add("user_name ILIKE '%%' || $%d || '%%'", u)
	}
	if !f.From.IsZero() {
		add("action_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		if isMidnight(f.To) {
			add("action_date < $%d", f.To.AddDate(0, 0, 1))
		} else {
			add("action_date <= $%d", f.To)
		}
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func isMidnight(t time.Time) bool {
	h, m, sec := t.Clock()
	return h == 0 && m == 0 && sec == 0 && t.Nanosecond() == 0
}

func (s *queryService) ListActivity(ctx context.Context, f ActivityFilter) (*ActivityPage, error) {
	f = f.Normalize()
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, invalidf("date range ends before it starts")
	}
	where, args := activityWhere(f)

	page := &ActivityPage{Page: f.Page, PageSize: f.PageSize, Entries: []ActivityEntry{}}
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM activity_logs"+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count activity: %w", err)
	}

	pageArgs := append(append([]any{}, args...), f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM activity_logs%s
		ORDER BY action_date DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		activityColumns, where, len(args)+1, len(args)+2),
		pageArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	var events []ActivityLog
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	if len(events) == 0 {
		return page, nil
	}

	seen := make(map[string]bool)
	var poNumbers []string
	for _, e := range events {
		if !seen[e.PONumber] {
			seen[e.PONumber] = true
			poNumbers = append(poNumbers, e.PONumber)
		}
	}
	history, err := activityHistory(ctx, s.pool, poNumbers)
	if err != nil {
		return nil, err
	}
	page.Entries = deriveActivityEntries(events, history)

	// Descriptions are resolved once per (file, business id) on the page.
	descriptions := make(map[lineKey]string)
	for i := range page.Entries {
		e := &page.Entries[i]
		if e.BusinessID == ResetBusinessID || e.FileID == nil {
			continue
		}
		k := lineKeyOf(e.ActivityLog)
		desc, ok := descriptions[k]
		if !ok {
			rec, found, err := lineContent(ctx, s.pool, *e.FileID, e.BusinessID)
			if err != nil {
				return nil, err
			}
			if found {
				desc = TruncateDescription(FieldLineDescription.Value(rec))
			}
			descriptions[k] = desc
		}
		e.LineDescription = desc
	}
	return page, nil
}

func (s *queryService) ListInitialValues(ctx context.Context, poNumber string) ([]InitialReceptionBusiness, error) {
	if _, err := getPOByNumber(ctx, s.pool, poNumber, false); err != nil {
		return nil, err
	}
	return listInitialValues(ctx, s.pool, poNumber)
}
