// Package spreadsheet turns uploaded .xlsx and .csv files into the record
// stream the ingestion service consumes.
package spreadsheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"po-ledger/internal/core"

	"github.com/xuri/excelize/v2"
)

// Reader implements core.RecordReader over one sheet. The first non-empty
// row is the header; blank rows are dropped.
type Reader struct {
	headers []string
	next    func() ([]string, error)
	close   func() error
}

// Supported rejects file names whose extension has no parser.
func Supported(name string) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".csv", ".txt":
		return nil
	}
	return fmt.Errorf("%w: unsupported file type %q", core.ErrInvalidInput, filepath.Ext(name))
}

// Open picks the parser from the file name extension.
func Open(name string, r io.Reader) (*Reader, error) {
	if err := Supported(name); err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return NewXLSX(r)
	default:
		return NewCSV(r)
	}
}

// xlsxDatePattern replaces the locale short date of built-in date formats,
// so date cells reach the record stream as 2006-01-02 rather than 1/2/06.
const xlsxDatePattern = "yyyy-mm-dd"

// NewXLSX streams the first sheet of a workbook.
func NewXLSX(r io.Reader) (*Reader, error) {
	f, err := excelize.OpenReader(r, excelize.Options{ShortDatePattern: xlsxDatePattern})
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", core.ErrInvalidInput, err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: workbook has no sheets", core.ErrInvalidInput)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	next := func() ([]string, error) {
		if !rows.Next() {
			if err := rows.Error(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return rows.Columns()
	}
	closeFn := func() error {
		rerr := rows.Close()
		if ferr := f.Close(); ferr != nil {
			return ferr
		}
		return rerr
	}
	return newReader(next, closeFn)
}

// NewCSV reads delimited text. The delimiter is whichever of ',' and ';'
// occurs more often on the first line.
func NewCSV(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	if bom, _ := br.Peek(len(utf8BOM)); string(bom) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(first)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	next := func() ([]string, error) {
		return cr.Read()
	}
	return newReader(next, func() error { return nil })
}

const utf8BOM = "\ufeff"

func sniffDelimiter(sample []byte) rune {
	sample = bytes.TrimLeft(sample, "\r\n")
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		sample = sample[:i]
	}
	if bytes.Count(sample, []byte(";")) > bytes.Count(sample, []byte(",")) {
		return ';'
	}
	return ','
}

func newReader(next func() ([]string, error), closeFn func() error) (*Reader, error) {
	rd := &Reader{next: next, close: closeFn}
	for {
		row, err := next()
		if errors.Is(err, io.EOF) {
			_ = closeFn()
			return nil, fmt.Errorf("%w: file has no header row", core.ErrInvalidInput)
		}
		if err != nil {
			_ = closeFn()
			return nil, fmt.Errorf("read header: %w", err)
		}
		if blank(row) {
			continue
		}
		rd.headers = make([]string, len(row))
		for i, h := range row {
			rd.headers[i] = strings.TrimSpace(h)
		}
		return rd, nil
	}
}

// Headers returns the header row in column order, duplicates included.
func (r *Reader) Headers() []string { return r.headers }

// Read returns the next non-blank row, or io.EOF.
func (r *Reader) Read() (core.Record, error) {
	for {
		row, err := r.next()
		if err != nil {
			return nil, err
		}
		if blank(row) {
			continue
		}
		return core.NewRecord(r.headers, row), nil
	}
}

func (r *Reader) Close() error { return r.close() }

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
