package core

import (
	"context"
	"encoding/json"
	"fmt"
)

// latestLineContents returns the content of the newest line record of each
// business id. Reconciliation keeps the newest record in the latest file.
func latestLineContents(ctx context.Context, q querier, businessIDs []string) (map[string]Record, error) {
	out := make(map[string]Record, len(businessIDs))
	if len(businessIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT DISTINCT ON (business_id) business_id, content
		FROM line_records
		WHERE business_id = ANY($1)
		ORDER BY business_id, id DESC`,
		businessIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("load line contents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bid string
		var raw []byte
		if err := rows.Scan(&bid, &raw); err != nil {
			return nil, fmt.Errorf("scan line content: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode line content of %s: %w", bid, err)
		}
		out[bid] = rec
	}
	return out, rows.Err()
}

// lineContent returns the content of the line record of a business id inside
// a given file. ok is false when there is none.
func lineContent(ctx context.Context, q querier, fileID int64, businessID string) (Record, bool, error) {
	var raw []byte
	err := q.QueryRow(ctx, `
		SELECT content
		FROM line_records
		WHERE file_id = $1 AND business_id = $2
		ORDER BY id DESC
		LIMIT 1`,
		fileID, businessID,
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load line content of %s: %w", businessID, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode line content of %s: %w", businessID, err)
	}
	return rec, true, nil
}

// poLineRecords returns the newest line records of a PO, newest first, up
// to limit. PO-level columns are read from them with the header matcher.
func poLineRecords(ctx context.Context, q querier, poNumber string, limit int) ([]Record, error) {
	rows, err := q.Query(ctx, `
		SELECT content
		FROM line_records
		WHERE order_number = $1
		ORDER BY id DESC
		LIMIT $2`,
		poNumber, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load line records of PO %s: %w", poNumber, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan line record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode line record of PO %s: %w", poNumber, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// firstValue returns the first non-empty value of spec across records.
func firstValue(records []Record, spec FieldSpec) string {
	for _, rec := range records {
		if v := spec.Value(rec); v != "" {
			return v
		}
	}
	return ""
}
