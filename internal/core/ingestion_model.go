package core

import "context"

// RecordReader streams the parsed rows of a spreadsheet. Read returns io.EOF
// after the last record.
type RecordReader interface {
	Read() (Record, error)
}

// SkippedRecord is a row that was stored for audit but produced no
// reception, with the reason it was skipped.
type SkippedRecord struct {
	RowNumber int    `json:"row_number"`
	Reason    string `json:"reason"`
}

// IngestResult summarizes one ingest.
type IngestResult struct {
	FileID            int64           `json:"file_id"`
	Rows              int             `json:"rows"`
	Chunks            int             `json:"chunks"`
	LinesCreated      int             `json:"lines_created"`
	LinesReconciled   int             `json:"lines_reconciled"`
	Unkeyed           int             `json:"unkeyed"`
	ReceptionsCreated int             `json:"receptions_created"`
	ReceptionsUpdated int             `json:"receptions_updated"`
	PurchaseOrders    []string        `json:"purchase_orders"`
	SkippedCount      int             `json:"skipped_count"`
	Skipped           []SkippedRecord `json:"skipped"`
	CPUUpdated        int             `json:"cpu_updated"`
}

// IngestionService turns imported files into line records, receptions and
// purchase orders.
type IngestionService interface {
	// CreateFile registers a pending ImportedFile.
	CreateFile(ctx context.Context, filename, importedBy string) (*ImportedFile, error)

	GetFile(ctx context.Context, id int64) (*ImportedFile, error)

	// Ingest reads src in chunks and applies each chunk in its own
	// transaction. Re-ingesting a file first purges its line records.
	Ingest(ctx context.Context, fileID int64, src RecordReader, user string) (*IngestResult, error)

	// MarkFailed records a terminal ingest failure on the file.
	MarkFailed(ctx context.Context, fileID int64, cause error) error
}
