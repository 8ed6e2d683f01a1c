package app

import (
	"po-ledger/internal/ai"
	"po-ledger/internal/core"
	"po-ledger/internal/jobs"
)

// UploadResult is returned by UploadFile.
type UploadResult struct {
	File *core.ImportedFile `json:"file"`
	Job  jobs.Job           `json:"job"`
}

// ResetResult is returned by ResetDeliveries.
type ResetResult struct {
	PONumber string `json:"po_number"`
	FileID   int64  `json:"file_id"`
	Deleted  int64  `json:"deleted"`
}

// ReportResult wraps a report context with the draft that filled its
// observation, if any.
type ReportResult struct {
	Kind             core.ReportKind      `json:"kind"`
	Context          any                  `json:"context"`
	ObservationDraft *ai.ObservationDraft `json:"observation_draft,omitempty"`
}
