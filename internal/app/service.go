package app

import (
	"context"
	"io"

	"po-ledger/internal/core"
	"po-ledger/internal/jobs"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// Implementations contain no presentation logic.
type ApplicationService interface {
	// Health pings the database.
	Health(ctx context.Context) error

	// UploadFile stores the file and starts an asynchronous ingest.
	UploadFile(ctx context.Context, req UploadRequest, body io.Reader) (*UploadResult, error)

	// IngestFile registers and ingests a file in the calling goroutine.
	IngestFile(ctx context.Context, req UploadRequest, body io.Reader) (*core.IngestResult, error)

	GetFile(ctx context.Context, id int64) (*core.ImportedFile, error)
	GetJob(ctx context.Context, id string) (*jobs.Job, error)

	ListPOs(ctx context.Context) ([]string, error)
	ListPOsWithActivity(ctx context.Context) ([]string, error)

	// GetPO returns cached totals, or recomputed ones when recompute is set.
	GetPO(ctx context.Context, number string, recompute bool) (*core.PurchaseOrder, error)
	ListReceptions(ctx context.Context, number string) ([]core.Reception, error)
	ListInitialValues(ctx context.Context, number string) ([]core.InitialReceptionBusiness, error)

	SetRetention(ctx context.Context, req RetentionRequest) (*core.PurchaseOrder, error)
	ApplyDelivery(ctx context.Context, req DeliveryRequest) (*core.DeliveryResult, error)
	BulkApply(ctx context.Context, req BulkDeliveryRequest) ([]core.DeliveryResult, error)
	ResetDeliveries(ctx context.Context, req ResetRequest) (*ResetResult, error)
	ApplyTargetRate(ctx context.Context, req TargetRateRequest) (*core.TargetRateResult, error)

	ListActivity(ctx context.Context, req ActivityQuery) (*core.ActivityPage, error)

	CreateSnapshot(ctx context.Context, poNumber, user string) (*core.ReportSnapshot, error)
	GetSnapshot(ctx context.Context, reportNumber string) (*core.ReportSnapshot, error)
	ListSnapshots(ctx context.Context, poNumber string) ([]core.ReportSnapshot, error)
	UpdateSnapshotRetention(ctx context.Context, req SnapshotRetentionRequest) (*core.ReportSnapshot, error)

	GetTimeline(ctx context.Context, poNumber string) (*core.TimelineDelay, error)
	SaveTimeline(ctx context.Context, req TimelineRequest) (*core.TimelineDelay, error)
	SaveEvaluation(ctx context.Context, req EvaluationRequest) (*core.VendorEvaluation, error)
	SaveAmendment(ctx context.Context, req AmendmentRequest) (*core.PenaltyAmendment, error)

	// Report builds the rendering context of a report. ref is a report
	// number for msrn and a PO number for every other kind.
	Report(ctx context.Context, req ReportRequest) (*ReportResult, error)

	// Verify checks the ledger invariants across every PO.
	Verify(ctx context.Context, refresh bool) (*core.VerifyReport, error)
}
