package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// appendActivity inserts one journal event. activity_logs only ever receives
// INSERTs; the table trigger rejects UPDATE and DELETE.
func appendActivity(ctx context.Context, q querier, e ActivityLog) (ActivityLog, error) {
	if err := q.QueryRow(ctx, `
		INSERT INTO activity_logs (po_number, file_id, business_id, ordered_quantity,
		                           quantity_delivered, quantity_not_delivered, cumulative_recipe,
		                           user_name, progress_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, action_date`,
		e.PONumber, e.FileID, e.BusinessID, e.OrderedQuantity,
		e.QuantityDelivered, e.QuantityNotDelivered, e.CumulativeRecipe,
		e.User, e.ProgressRate,
	).Scan(&e.ID, &e.ActionDate); err != nil {
		return e, fmt.Errorf("append activity for %s: %w", e.BusinessID, err)
	}
	return e, nil
}

// activityFor builds the journal event of a reception after a mutation.
func activityFor(r Reception, delta, progressRate decimal.Decimal, user string) ActivityLog {
	return ActivityLog{
		PONumber:             r.PONumber,
		FileID:               r.FileID,
		BusinessID:           r.BusinessID,
		OrderedQuantity:      r.OrderedQuantity,
		QuantityDelivered:    delta,
		QuantityNotDelivered: r.QuantityNotDelivered,
		CumulativeRecipe:     r.QuantityDelivered,
		User:                 user,
		ProgressRate:         progressRate,
	}
}

const (
	DefaultActivityPageSize = 50
	MaxActivityPageSize     = 100
)

// ActivityFilter narrows an activity query. String filters are substring
// matches; zero times are open bounds. A To at midnight names a whole day
// and includes it.
type ActivityFilter struct {
	PONumber string
	User     string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Normalize applies the paging defaults and bounds.
func (f ActivityFilter) Normalize() ActivityFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultActivityPageSize
	}
	if f.PageSize > MaxActivityPageSize {
		f.PageSize = MaxActivityPageSize
	}
	return f
}

// ActivityRef is a compact view of a journal event used in derived lists.
type ActivityRef struct {
	ID                int64           `json:"id"`
	BusinessID        string          `json:"business_id"`
	QuantityDelivered decimal.Decimal `json:"quantity_delivered"`
	CumulativeRecipe  decimal.Decimal `json:"cumulative_recipe"`
	User              string          `json:"user"`
	ActionDate        time.Time       `json:"action_date"`
}

func refOf(e ActivityLog) ActivityRef {
	return ActivityRef{
		ID:                e.ID,
		BusinessID:        e.BusinessID,
		QuantityDelivered: e.QuantityDelivered,
		CumulativeRecipe:  e.CumulativeRecipe,
		User:              e.User,
		ActionDate:        e.ActionDate,
	}
}

// ActivityEntry is a journal event decorated with its presentation fields.
type ActivityEntry struct {
	ActivityLog
	ReceptionNumber    int             `json:"reception_number"`
	InitialQuantity    decimal.Decimal `json:"initial_quantity"`
	LineDescription    string          `json:"line_description"`
	PreviousReceptions []ActivityRef   `json:"previous_receptions"`
	LineReceptions     []ActivityRef   `json:"line_receptions"`
}

// ActivityPage is one page of decorated journal events.
type ActivityPage struct {
	Entries  []ActivityEntry `json:"entries"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
}

type lineKey struct {
	fileID     int64
	businessID string
}

func lineKeyOf(e ActivityLog) lineKey {
	k := lineKey{businessID: e.BusinessID}
	if e.FileID != nil {
		k.fileID = *e.FileID
	}
	return k
}

// deriveActivityEntries decorates a page of events. history must contain
// every event of the POs present on the page. reception_number counts events
// per PO within the page in action_date order.
func deriveActivityEntries(page, history []ActivityLog) []ActivityEntry {
	byPO := make(map[string][]ActivityLog)
	byLine := make(map[string]map[lineKey][]ActivityLog)
	for _, h := range history {
		byPO[h.PONumber] = append(byPO[h.PONumber], h)
		if byLine[h.PONumber] == nil {
			byLine[h.PONumber] = make(map[lineKey][]ActivityLog)
		}
		k := lineKeyOf(h)
		byLine[h.PONumber][k] = append(byLine[h.PONumber][k], h)
	}

	order := make([]int, len(page))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := page[order[a]], page[order[b]]
		if !ea.ActionDate.Equal(eb.ActionDate) {
			return ea.ActionDate.Before(eb.ActionDate)
		}
		return ea.ID < eb.ID
	})
	receptionNumber := make([]int, len(page))
	counts := make(map[string]int)
	for _, i := range order {
		counts[page[i].PONumber]++
		receptionNumber[i] = counts[page[i].PONumber]
	}

	out := make([]ActivityEntry, len(page))
	for i, e := range page {
		entry := ActivityEntry{
			ActivityLog:        e,
			ReceptionNumber:    receptionNumber[i],
			InitialQuantity:    e.OrderedQuantity.Add(e.QuantityDelivered),
			PreviousReceptions: []ActivityRef{},
			LineReceptions:     []ActivityRef{},
		}
		for _, h := range byPO[e.PONumber] {
			if h.ID != e.ID && h.ActionDate.Before(e.ActionDate) {
				entry.PreviousReceptions = append(entry.PreviousReceptions, refOf(h))
			}
		}
		for _, h := range byLine[e.PONumber][lineKeyOf(e)] {
			entry.LineReceptions = append(entry.LineReceptions, refOf(h))
		}
		out[i] = entry
	}
	return out
}

func scanActivity(row interface{ Scan(dest ...any) error }) (ActivityLog, error) {
	var e ActivityLog
	err := row.Scan(
		&e.ID, &e.PONumber, &e.FileID, &e.BusinessID, &e.OrderedQuantity,
		&e.QuantityDelivered, &e.QuantityNotDelivered, &e.CumulativeRecipe,
		&e.User, &e.ActionDate, &e.ProgressRate,
	)
	return e, err
}

const activityColumns = `
	id, po_number, file_id, business_id, ordered_quantity,
	quantity_delivered, quantity_not_delivered, cumulative_recipe,
	user_name, action_date, progress_rate`

// activityHistory returns every event of the given POs in chronological order.
func activityHistory(ctx context.Context, q querier, poNumbers []string) ([]ActivityLog, error) {
	if len(poNumbers) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
		SELECT `+activityColumns+`
		FROM activity_logs
		WHERE po_number = ANY($1)
		ORDER BY action_date, id`,
		poNumbers,
	)
	if err != nil {
		return nil, fmt.Errorf("load activity history: %w", err)
	}
	defer rows.Close()

	var out []ActivityLog
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
