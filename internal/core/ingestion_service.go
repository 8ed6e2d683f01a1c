package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultChunkSize = 2000
	MinChunkSize     = 500
	MaxChunkSize     = 5000

	maxReportedSkips = 100
)

// ClampChunkSize maps n into [MinChunkSize, MaxChunkSize]; zero or negative
// selects DefaultChunkSize.
func ClampChunkSize(n int) int {
	switch {
	case n <= 0:
		return DefaultChunkSize
	case n < MinChunkSize:
		return MinChunkSize
	case n > MaxChunkSize:
		return MaxChunkSize
	}
	return n
}

var orderSentinels = map[string]bool{
	"": true, "false": true, "true": true, "none": true, "null": true, "nan": true, "0": true,
}

// IsSentinelOrderNumber reports whether an order number cell is a
// placeholder rather than a real PO number.
func IsSentinelOrderNumber(v string) bool {
	return orderSentinels[strings.ToLower(NumericNormalize(v))]
}

type ingestionService struct {
	pool      *pgxpool.Pool
	log       logrus.FieldLogger
	chunkSize int
}

// NewIngestionService constructs an IngestionService. chunkSize is clamped
// with ClampChunkSize.
func NewIngestionService(pool *pgxpool.Pool, log logrus.FieldLogger, chunkSize int) IngestionService {
	return &ingestionService{
		pool:      pool,
		log:       log.WithField("module", "ingestion"),
		chunkSize: ClampChunkSize(chunkSize),
	}
}

func (s *ingestionService) CreateFile(ctx context.Context, filename, importedBy string) (*ImportedFile, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, invalidf("filename is required")
	}
	f := &ImportedFile{
		Filename:   filename,
		Extension:  strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		ImportedBy: importedBy,
		Status:     FileStatusPending,
	}
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO imported_files (filename, extension, imported_by, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, imported_at`,
		f.Filename, f.Extension, f.ImportedBy, string(f.Status),
	).Scan(&f.ID, &f.ImportedAt); err != nil {
		return nil, fmt.Errorf("create imported file: %w", err)
	}
	return f, nil
}

func (s *ingestionService) GetFile(ctx context.Context, id int64) (*ImportedFile, error) {
	f := &ImportedFile{}
	var status string
	if err := s.pool.QueryRow(ctx, `
		SELECT id, filename, extension, imported_at, imported_by, row_count, skipped_count, status, error
		FROM imported_files
		WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.Filename, &f.Extension, &f.ImportedAt, &f.ImportedBy,
		&f.RowCount, &f.SkippedCount, &status, &f.Error); err != nil {
		if isNoRows(err) {
			return nil, notFoundf("imported file %d", id)
		}
		return nil, fmt.Errorf("get imported file %d: %w", id, err)
	}
	f.Status = FileStatus(status)
	return f, nil
}

func (s *ingestionService) MarkFailed(ctx context.Context, fileID int64, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.pool.Exec(ctx,
		"UPDATE imported_files SET status = 'failed', error = $2 WHERE id = $1",
		fileID, msg,
	); err != nil {
		return fmt.Errorf("mark imported file %d failed: %w", fileID, err)
	}
	return nil
}

func (s *ingestionService) Ingest(ctx context.Context, fileID int64, src RecordReader, user string) (*IngestResult, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE imported_files SET status = 'processing', error = NULL WHERE id = $1",
		fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark imported file %d processing: %w", fileID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, notFoundf("imported file %d", fileID)
	}

	purged, err := s.pool.Exec(ctx, "DELETE FROM line_records WHERE file_id = $1", fileID)
	if err != nil {
		return nil, fmt.Errorf("purge line records of file %d: %w", fileID, err)
	}
	if n := purged.RowsAffected(); n > 0 {
		s.log.WithFields(logrus.Fields{"file_id": fileID, "lines": n}).Info("purged line records before re-ingest")
	}

	res := &IngestResult{FileID: fileID, Skipped: []SkippedRecord{}}
	pos := make(map[string]bool)
	cpu := make(cpuTracker)
	chunk := make([]Record, 0, s.chunkSize)
	row := 0

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		start := row - len(chunk) + 1
		stats, err := s.ingestChunk(ctx, fileID, start, chunk, user)
		if err != nil {
			return fmt.Errorf("chunk starting at row %d: %w", start, err)
		}
		res.merge(stats, pos)
		chunk = chunk[:0]
		return nil
	}

	for {
		rec, err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, s.fail(ctx, fileID, fmt.Errorf("read row %d: %w", row+1, err))
		}
		row++
		chunk = append(chunk, rec)
		cpu.observe(rec)
		if len(chunk) == s.chunkSize {
			if err := flush(); err != nil {
				return nil, s.fail(ctx, fileID, err)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, s.fail(ctx, fileID, err)
	}

	updated, err := s.applyCPU(ctx, cpu)
	if err != nil {
		return nil, s.fail(ctx, fileID, err)
	}
	res.CPUUpdated = updated
	res.Rows = row
	for number := range pos {
		res.PurchaseOrders = append(res.PurchaseOrders, number)
	}
	sort.Strings(res.PurchaseOrders)

	if _, err := s.pool.Exec(ctx, `
		UPDATE imported_files
		SET row_count = $2, skipped_count = $3, status = 'completed', error = NULL
		WHERE id = $1`,
		fileID, res.Rows, res.SkippedCount,
	); err != nil {
		return nil, fmt.Errorf("complete imported file %d: %w", fileID, err)
	}

	s.log.WithFields(logrus.Fields{
		"file_id":            fileID,
		"rows":               res.Rows,
		"chunks":             res.Chunks,
		"skipped":            res.SkippedCount,
		"receptions_created": res.ReceptionsCreated,
		"receptions_updated": res.ReceptionsUpdated,
		"purchase_orders":    len(res.PurchaseOrders),
	}).Info("ingest completed")
	return res, nil
}

func (s *ingestionService) fail(ctx context.Context, fileID int64, cause error) error {
	if err := s.MarkFailed(context.WithoutCancel(ctx), fileID, cause); err != nil {
		s.log.WithError(err).WithField("file_id", fileID).Error("could not record ingest failure")
	}
	return cause
}

type cpuTracker map[string]string

// observe records the first non-empty CPU value seen for an order number.
func (c cpuTracker) observe(rec Record) {
	number := NumericNormalize(FieldOrderNumber.Value(rec))
	if IsSentinelOrderNumber(number) {
		return
	}
	if _, seen := c[number]; seen {
		return
	}
	if v := CPUValue(rec); v != "" {
		c[number] = v
	}
}

func (s *ingestionService) applyCPU(ctx context.Context, cpu cpuTracker) (int, error) {
	if len(cpu) == 0 {
		return 0, nil
	}
	numbers := make([]string, 0, len(cpu))
	for n := range cpu {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	batch := &pgx.Batch{}
	for _, n := range numbers {
		batch.Queue(`
			UPDATE purchase_orders
			SET cpu = $2, updated_at = now()
			WHERE number = $1 AND cpu IS DISTINCT FROM $2`,
			n, cpu[n],
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	updated := 0
	for range numbers {
		tag, err := br.Exec()
		if err != nil {
			return updated, fmt.Errorf("update PO cpu: %w", err)
		}
		updated += int(tag.RowsAffected())
	}
	return updated, nil
}

type preparedLine struct {
	rowNumber   int
	content     []byte
	businessID  string
	orderNumber string
}

type receptionInput struct {
	rowNumber   int
	businessID  string
	orderNumber string
	ordered     decimal.Decimal
	received    decimal.Decimal
	price       decimal.Decimal
}

type chunkPlan struct {
	lines   []preparedLine
	inputs  []receptionInput
	skipped []SkippedRecord
	unkeyed int
}

// planChunk derives business ids and extracts reception inputs. When a
// business id appears more than once, the last row wins.
func planChunk(startRow int, records []Record) (chunkPlan, error) {
	var p chunkPlan
	index := make(map[string]int)
	for i, rec := range records {
		rowNumber := startRow + i
		content, err := json.Marshal(rec)
		if err != nil {
			return p, fmt.Errorf("encode row %d: %w", rowNumber, err)
		}
		bid := DeriveBusinessID(rec)
		order := NumericNormalize(FieldOrderNumber.Value(rec))
		line := preparedLine{rowNumber: rowNumber, content: content, businessID: bid}
		if !IsSentinelOrderNumber(order) {
			line.orderNumber = order
		}
		p.lines = append(p.lines, line)

		if bid == "" {
			p.unkeyed++
			continue
		}
		in, reason := extractReception(rec, bid, order)
		if reason != "" {
			p.skipped = append(p.skipped, SkippedRecord{RowNumber: rowNumber, Reason: reason})
			continue
		}
		in.rowNumber = rowNumber
		if j, ok := index[bid]; ok {
			p.inputs[j] = in
			continue
		}
		index[bid] = len(p.inputs)
		p.inputs = append(p.inputs, in)
	}
	return p, nil
}

// extractReception returns the reception values of a keyed record, or a
// skip reason.
func extractReception(rec Record, bid, order string) (receptionInput, string) {
	if IsSentinelOrderNumber(order) {
		return receptionInput{}, fmt.Sprintf("invalid order number %q", order)
	}
	in := receptionInput{businessID: bid, orderNumber: order}
	var err error
	if in.ordered, err = ParseDecimal(FieldOrderedQuantity.Value(rec)); err != nil {
		return in, "ordered quantity: " + err.Error()
	}
	if in.received, err = ParseDecimal(FieldReceivedQuantity.Value(rec)); err != nil {
		return in, "received quantity: " + err.Error()
	}
	if in.price, err = ParseDecimal(FieldUnitPrice.Value(rec)); err != nil {
		return in, "unit price: " + err.Error()
	}
	switch {
	case in.ordered.IsNegative():
		return in, fmt.Sprintf("negative ordered quantity %s", in.ordered)
	case in.received.IsNegative():
		return in, fmt.Sprintf("negative received quantity %s", in.received)
	case in.price.IsNegative():
		return in, fmt.Sprintf("negative unit price %s", in.price)
	}
	in.ordered, in.received, in.price = Quantize(in.ordered), Quantize(in.received), Quantize(in.price)
	return in, ""
}

type chunkStats struct {
	linesCreated    int
	linesReconciled int
	unkeyed         int
	created         int
	updated         int
	skipped         []SkippedRecord
	pos             []string
}

func (r *IngestResult) merge(c chunkStats, pos map[string]bool) {
	r.Chunks++
	r.LinesCreated += c.linesCreated
	r.LinesReconciled += c.linesReconciled
	r.Unkeyed += c.unkeyed
	r.ReceptionsCreated += c.created
	r.ReceptionsUpdated += c.updated
	r.SkippedCount += len(c.skipped)
	for _, sk := range c.skipped {
		if len(r.Skipped) >= maxReportedSkips {
			break
		}
		r.Skipped = append(r.Skipped, sk)
	}
	for _, n := range c.pos {
		pos[n] = true
	}
}

func (s *ingestionService) ingestChunk(ctx context.Context, fileID int64, startRow int, records []Record, user string) (chunkStats, error) {
	plan, err := planChunk(startRow, records)
	if err != nil {
		return chunkStats{}, invalidf("%v", err)
	}
	for _, sk := range plan.skipped {
		s.log.WithFields(logrus.Fields{"file_id": fileID, "row": sk.RowNumber, "reason": sk.Reason}).Warn("record skipped")
	}

	var stats chunkStats
	err = inTx(ctx, s.pool, func(tx pgx.Tx) error {
		stats = chunkStats{skipped: plan.skipped, unkeyed: plan.unkeyed}
		if err := storeLines(ctx, tx, fileID, plan.lines, &stats); err != nil {
			return err
		}
		return s.upsertReceptions(ctx, tx, fileID, plan.inputs, user, &stats)
	})
	return stats, err
}

// storeLines re-points the newest existing line of each business id to this
// file and bulk-creates the rest.
func storeLines(ctx context.Context, tx pgx.Tx, fileID int64, lines []preparedLine, stats *chunkStats) error {
	var bids []string
	seen := make(map[string]bool)
	for _, l := range lines {
		if l.businessID != "" && !seen[l.businessID] {
			seen[l.businessID] = true
			bids = append(bids, l.businessID)
		}
	}

	existing := make(map[string]int64)
	if len(bids) > 0 {
		rows, err := tx.Query(ctx, `
			SELECT DISTINCT ON (business_id) id, business_id
			FROM line_records
			WHERE business_id = ANY($1) AND file_id <> $2
			ORDER BY business_id, id DESC`,
			bids, fileID,
		)
		if err != nil {
			return fmt.Errorf("load existing line records: %w", err)
		}
		for rows.Next() {
			var id int64
			var bid string
			if err := rows.Scan(&id, &bid); err != nil {
				rows.Close()
				return fmt.Errorf("scan existing line record: %w", err)
			}
			existing[bid] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("load existing line records: %w", err)
		}
	}

	batch := &pgx.Batch{}
	var fresh [][]any
	for _, l := range lines {
		if id, ok := existing[l.businessID]; ok && l.businessID != "" {
			delete(existing, l.businessID)
			batch.Queue(`
				UPDATE line_records
				SET file_id = $1, row_number = $2, content = $3, order_number = $4
				WHERE id = $5`,
				fileID, l.rowNumber, l.content, nullableString(l.orderNumber), id,
			)
			continue
		}
		fresh = append(fresh, []any{fileID, l.rowNumber, l.content, nullableString(l.businessID), nullableString(l.orderNumber)})
	}

	if batch.Len() > 0 {
		if err := execBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("reconcile line records: %w", err)
		}
		stats.linesReconciled = batch.Len()
	}
	if len(fresh) > 0 {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"line_records"},
			[]string{"file_id", "row_number", "content", "business_id", "order_number"},
			pgx.CopyFromRows(fresh),
		)
		if err != nil {
			return fmt.Errorf("copy line records: %w", err)
		}
		stats.linesCreated = int(n)
	}
	return nil
}

type chunkPO struct {
	id            int64
	number        string
	retentionRate decimal.Decimal
}

func (s *ingestionService) upsertReceptions(ctx context.Context, tx pgx.Tx, fileID int64, inputs []receptionInput, user string, stats *chunkStats) error {
	if len(inputs) == 0 {
		return nil
	}

	pos, err := upsertChunkPOs(ctx, tx, fileID, inputs)
	if err != nil {
		return err
	}
	for n := range pos {
		stats.pos = append(stats.pos, n)
	}

	bids := make([]string, len(inputs))
	for i, in := range inputs {
		bids[i] = in.businessID
	}
	current := make(map[string]Reception, len(inputs))
	rows, err := tx.Query(ctx, `SELECT `+receptionColumns+`
		FROM receptions r
		JOIN purchase_orders po ON po.id = r.po_id
		WHERE r.business_id = ANY($1)
		ORDER BY r.id
		FOR UPDATE OF r`,
		bids,
	)
	if err != nil {
		return fmt.Errorf("lock existing receptions: %w", err)
	}
	for rows.Next() {
		r, err := scanReception(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan reception: %w", err)
		}
		current[r.BusinessID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock existing receptions: %w", err)
	}

	touched := make(map[int64]bool)
	updates := &pgx.Batch{}
	var created [][]any
	type pending struct {
		r     Reception
		delta decimal.Decimal
	}
	var journal []pending
	initial := make([]InitialReceptionBusiness, 0, len(inputs))

	for _, in := range inputs {
		po := pos[in.orderNumber]
		touched[po.id] = true
		initial = append(initial, NewInitialReception(in.businessID, po.number, in.ordered, in.received, in.price))

		if r, ok := current[in.businessID]; ok {
			touched[r.POID] = true
			r.POID, r.PONumber = po.id, po.number
			r.OrderedQuantity = in.ordered
			r.ReceivedQuantity = in.received
			r.UnitPrice = in.price
			r.FileID = &fileID
			r.User = user
			clamp := decimal.Zero
			if r.QuantityDelivered.GreaterThan(in.ordered) {
				clamp = in.ordered.Sub(r.QuantityDelivered)
				s.log.WithFields(logrus.Fields{
					"file_id":     fileID,
					"business_id": r.BusinessID,
					"delivered":   r.QuantityDelivered,
					"ordered":     in.ordered,
				}).Warn("ordered quantity dropped below delivered, clamping")
				r.QuantityDelivered = in.ordered
			}
			r.Recompute(po.retentionRate)
			if !clamp.IsZero() {
				journal = append(journal, pending{r: r, delta: clamp})
			}
			updates.Queue(`
				UPDATE receptions
				SET po_id = $1, file_id = $2, ordered_quantity = $3, received_quantity = $4,
				    unit_price = $5, quantity_delivered = $6, quantity_not_delivered = $7,
				    amount_delivered = $8, quantity_payable = $9, amount_payable = $10,
				    modified_by = $11, modified_at = now()
				WHERE id = $12`,
				r.POID, fileID, r.OrderedQuantity, r.ReceivedQuantity,
				r.UnitPrice, r.QuantityDelivered, r.QuantityNotDelivered,
				r.AmountDelivered, r.QuantityPayable, r.AmountPayable,
				user, r.ID,
			)
			continue
		}

		r := Reception{
			POID:              po.id,
			PONumber:          po.number,
			FileID:            &fileID,
			BusinessID:        in.businessID,
			OrderedQuantity:   in.ordered,
			ReceivedQuantity:  in.received,
			QuantityDelivered: minDecimal(in.received, in.ordered),
			UnitPrice:         in.price,
			User:              user,
		}
		r.Recompute(po.retentionRate)
		created = append(created, []any{
			r.POID, fileID, r.BusinessID, numeric(r.OrderedQuantity), numeric(r.ReceivedQuantity),
			numeric(r.QuantityDelivered), numeric(r.QuantityNotDelivered), numeric(r.UnitPrice),
			numeric(r.AmountDelivered), numeric(r.QuantityPayable), numeric(r.AmountPayable), user,
		})
		if r.QuantityDelivered.IsPositive() {
			journal = append(journal, pending{r: r, delta: r.QuantityDelivered})
		}
	}

	if updates.Len() > 0 {
		if err := execBatch(ctx, tx, updates); err != nil {
			return fmt.Errorf("update receptions: %w", err)
		}
		stats.updated = updates.Len()
	}
	if len(created) > 0 {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"receptions"},
			[]string{"po_id", "file_id", "business_id", "ordered_quantity", "received_quantity",
				"quantity_delivered", "quantity_not_delivered", "unit_price",
				"amount_delivered", "quantity_payable", "amount_payable", "modified_by"},
			pgx.CopyFromRows(created),
		)
		if err != nil {
			return fmt.Errorf("copy receptions: %w", err)
		}
		stats.created = int(n)
	}

	ids := make([]int64, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	rates := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		totals, err := refreshPOCache(ctx, tx, id)
		if err != nil {
			return err
		}
		rates[id] = totals.ProgressRate
	}

	if len(journal) > 0 {
		entries := make([][]any, len(journal))
		for i, p := range journal {
			e := activityFor(p.r, p.delta, rates[p.r.POID], user)
			entries[i] = []any{
				e.PONumber, e.FileID, e.BusinessID, numeric(e.OrderedQuantity),
				numeric(e.QuantityDelivered), numeric(e.QuantityNotDelivered), numeric(e.CumulativeRecipe),
				e.User, numeric(e.ProgressRate),
			}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"activity_logs"},
			[]string{"po_number", "file_id", "business_id", "ordered_quantity",
				"quantity_delivered", "quantity_not_delivered", "cumulative_recipe",
				"user_name", "progress_rate"},
			pgx.CopyFromRows(entries),
		); err != nil {
			return fmt.Errorf("journal ingest deliveries: %w", err)
		}
	}

	return upsertInitialReceptions(ctx, tx, initial)
}

// upsertChunkPOs creates missing purchase orders, locks every PO of the chunk
// in id order and links them to the file.
func upsertChunkPOs(ctx context.Context, tx pgx.Tx, fileID int64, inputs []receptionInput) (map[string]chunkPO, error) {
	seen := make(map[string]bool)
	var numbers []string
	for _, in := range inputs {
		if !seen[in.orderNumber] {
			seen[in.orderNumber] = true
			numbers = append(numbers, in.orderNumber)
		}
	}
	sort.Strings(numbers)

	if _, err := tx.Exec(ctx, `
		INSERT INTO purchase_orders (number)
		SELECT unnest($1::text[])
		ON CONFLICT (number) DO NOTHING`,
		numbers,
	); err != nil {
		return nil, fmt.Errorf("upsert purchase orders: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, number, retention_rate
		FROM purchase_orders
		WHERE number = ANY($1)
		ORDER BY id
		FOR UPDATE`,
		numbers,
	)
	if err != nil {
		return nil, fmt.Errorf("lock purchase orders: %w", err)
	}
	pos := make(map[string]chunkPO, len(numbers))
	ids := make([]int64, 0, len(numbers))
	for rows.Next() {
		var p chunkPO
		if err := rows.Scan(&p.id, &p.number, &p.retentionRate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		pos[p.number] = p
		ids = append(ids, p.id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock purchase orders: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO purchase_order_files (po_id, file_id)
		SELECT unnest($1::bigint[]), $2
		ON CONFLICT DO NOTHING`,
		ids, fileID,
	); err != nil {
		return nil, fmt.Errorf("link purchase orders to file %d: %w", fileID, err)
	}
	return pos, nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

// numeric converts a decimal for the binary COPY protocol.
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
