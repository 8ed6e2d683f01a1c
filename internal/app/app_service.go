package app

import (
	"context"
	"fmt"
	"io"

	"po-ledger/internal/adapters/spreadsheet"
	"po-ledger/internal/ai"
	"po-ledger/internal/core"
	"po-ledger/internal/jobs"
	"po-ledger/internal/logging"

	"github.com/sirupsen/logrus"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IngestQueue is satisfied by *jobs.Ingester.
type IngestQueue interface {
	Enqueue(file *core.ImportedFile, blob, user string) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
}

// Services bundles what NewAppService wires together. Drafter may be nil,
// in which case observation drafts are refused.
type Services struct {
	DB         Pinger
	Ingestion  core.IngestionService
	Orders     core.PurchaseOrderService
	Receptions core.ReceptionService
	Queries    core.QueryService
	Snapshots  core.SnapshotService
	Timelines  core.TimelineService
	Reports    core.ReportService
	Verifier   core.LedgerVerifier
	Blobs      jobs.BlobStore
	Queue      IngestQueue
	Drafter    ai.ObservationDrafter
}

type appService struct {
	Services
	log logrus.FieldLogger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(s Services, log logrus.FieldLogger) ApplicationService {
	return &appService{Services: s, log: log.WithField("module", "app")}
}

func (s *appService) Health(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func (s *appService) UploadFile(ctx context.Context, req UploadRequest, body io.Reader) (*UploadResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := spreadsheet.Supported(req.Filename); err != nil {
		return nil, err
	}
	user := userOr(req.User)
	file, err := s.Ingestion.CreateFile(ctx, req.Filename, user)
	if err != nil {
		return nil, err
	}
	blob, err := s.Blobs.Put(ctx, req.Filename, body)
	if err != nil {
		s.markFailed(ctx, "UploadFile", file.ID, err)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	job, err := s.Queue.Enqueue(file, blob, user)
	if err != nil {
		s.markFailed(ctx, "UploadFile", file.ID, err)
		if derr := s.Blobs.Delete(ctx, blob); derr != nil {
			s.log.WithError(derr).WithField("blob", blob).Warn("delete blob")
		}
		return nil, fmt.Errorf("queue ingest: %w", err)
	}
	s.log.WithFields(logrus.Fields{"file_id": file.ID, "job_id": job.ID, "filename": file.Filename}).Info("ingest queued")
	return &UploadResult{File: file, Job: job}, nil
}

func (s *appService) IngestFile(ctx context.Context, req UploadRequest, body io.Reader) (*core.IngestResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := spreadsheet.Supported(req.Filename); err != nil {
		return nil, err
	}
	file, err := s.Ingestion.CreateFile(ctx, req.Filename, userOr(req.User))
	if err != nil {
		return nil, err
	}
	rd, err := spreadsheet.Open(req.Filename, body)
	if err != nil {
		s.markFailed(ctx, "IngestFile", file.ID, err)
		return nil, err
	}
	defer rd.Close()
	return s.Ingestion.Ingest(ctx, file.ID, rd, userOr(req.User))
}

// markFailed records cause on the file. A failure to do so is logged, and
// the caller still returns cause.
func (s *appService) markFailed(ctx context.Context, fn string, fileID int64, cause error) {
	if err := s.Ingestion.MarkFailed(ctx, fileID, cause); err != nil {
		logging.LogError(s.log, "app", fn, "mark file failed", logrus.Fields{"file_id": fileID}, err)
	}
}

func (s *appService) GetFile(ctx context.Context, id int64) (*core.ImportedFile, error) {
	return s.Ingestion.GetFile(ctx, id)
}

func (s *appService) GetJob(_ context.Context, id string) (*jobs.Job, error) {
	j, err := s.Queue.Get(id)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *appService) ListPOs(ctx context.Context) ([]string, error) {
	return s.Queries.ListPOs(ctx)
}

func (s *appService) ListPOsWithActivity(ctx context.Context) ([]string, error) {
	return s.Queries.ListPOsWithActivity(ctx)
}

func (s *appService) GetPO(ctx context.Context, number string, recompute bool) (*core.PurchaseOrder, error) {
	return s.Orders.GetPO(ctx, number, recompute)
}

func (s *appService) ListReceptions(ctx context.Context, number string) ([]core.Reception, error) {
	return s.Orders.ListReceptions(ctx, number)
}

func (s *appService) ListInitialValues(ctx context.Context, number string) ([]core.InitialReceptionBusiness, error) {
	return s.Queries.ListInitialValues(ctx, number)
}

func (s *appService) SetRetention(ctx context.Context, req RetentionRequest) (*core.PurchaseOrder, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Orders.SetRetention(ctx, req.PONumber, req.Rate, req.Cause, userOr(req.User))
}

func (s *appService) ApplyDelivery(ctx context.Context, req DeliveryRequest) (*core.DeliveryResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Receptions.ApplyDelivery(ctx, core.DeliveryInput{
		PONumber:        req.PONumber,
		BusinessID:      req.BusinessID,
		Delta:           req.Delta,
		DeclaredOrdered: req.DeclaredOrdered,
		User:            userOr(req.User),
		FileID:          req.FileID,
	})
}

func (s *appService) BulkApply(ctx context.Context, req BulkDeliveryRequest) ([]core.DeliveryResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Receptions.BulkApply(ctx, req.PONumber, req.Lines, userOr(req.User))
}

func (s *appService) ResetDeliveries(ctx context.Context, req ResetRequest) (*ResetResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	n, err := s.Receptions.ResetDeliveries(ctx, req.PONumber, req.FileID, userOr(req.User))
	if err != nil {
		return nil, err
	}
	return &ResetResult{PONumber: req.PONumber, FileID: req.FileID, Deleted: n}, nil
}

func (s *appService) ApplyTargetRate(ctx context.Context, req TargetRateRequest) (*core.TargetRateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Receptions.ApplyTargetRate(ctx, req.PONumber, req.TargetRate, req.BusinessIDs, userOr(req.User))
}

func (s *appService) ListActivity(ctx context.Context, req ActivityQuery) (*core.ActivityPage, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		return nil, &ValidationError{Fields: map[string]string{"to": "gtefield"}}
	}
	return s.Queries.ListActivity(ctx, core.ActivityFilter{
		PONumber: req.PONumber,
		User:     req.User,
		From:     req.From,
		To:       req.To,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

func (s *appService) CreateSnapshot(ctx context.Context, poNumber, user string) (*core.ReportSnapshot, error) {
	return s.Snapshots.CreateSnapshot(ctx, poNumber, userOr(user))
}

func (s *appService) GetSnapshot(ctx context.Context, reportNumber string) (*core.ReportSnapshot, error) {
	return s.Snapshots.GetSnapshot(ctx, reportNumber)
}

func (s *appService) ListSnapshots(ctx context.Context, poNumber string) ([]core.ReportSnapshot, error) {
	return s.Snapshots.ListSnapshots(ctx, poNumber)
}

func (s *appService) UpdateSnapshotRetention(ctx context.Context, req SnapshotRetentionRequest) (*core.ReportSnapshot, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Snapshots.UpdateRetention(ctx, req.ReportNumber, req.Rate, req.Cause, userOr(req.User))
}

func (s *appService) GetTimeline(ctx context.Context, poNumber string) (*core.TimelineDelay, error) {
	return s.Timelines.GetTimeline(ctx, poNumber)
}

func (s *appService) SaveTimeline(ctx context.Context, req TimelineRequest) (*core.TimelineDelay, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Timelines.SaveTimeline(ctx, req.PONumber, core.TimelineDelay{
		TotalDelay:          req.TotalDelay,
		DelayMTN:            req.DelayMTN,
		DelayVendor:         req.DelayVendor,
		DelayForceMajeure:   req.DelayForceMajeure,
		CommentMTN:          req.CommentMTN,
		CommentVendor:       req.CommentVendor,
		CommentForceMajeure: req.CommentForceMajeure,
		QuotiteRealisee:     req.QuotiteRealisee,
		Observation:         req.Observation,
	}, userOr(req.User))
}

func (s *appService) SaveEvaluation(ctx context.Context, req EvaluationRequest) (*core.VendorEvaluation, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Timelines.SaveEvaluation(ctx, req.PONumber, core.VendorEvaluation{
		Quality:        req.Quality,
		Timeliness:     req.Timeliness,
		Responsiveness: req.Responsiveness,
		Compliance:     req.Compliance,
		Documentation:  req.Documentation,
		Comment:        req.Comment,
	}, userOr(req.User))
}

func (s *appService) SaveAmendment(ctx context.Context, req AmendmentRequest) (*core.PenaltyAmendment, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Timelines.SaveAmendment(ctx, req.PONumber, core.PenaltyAmendment{
		SupplierPlea:  req.SupplierPlea,
		PMProposal:    req.PMProposal,
		PenaltyStatus: core.PenaltyStatus(req.PenaltyStatus),
		ReducedAmount: req.ReducedAmount,
	}, userOr(req.User))
}

func (s *appService) Report(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	kind, err := core.ParseReportKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if req.DraftObservation && kind != core.ReportPenalty {
		return nil, fmt.Errorf("%w: observation drafts exist only for the %s report", core.ErrInvalidInput, core.ReportPenalty)
	}

	c, err := s.Reports.Context(ctx, kind, req.Ref)
	if err != nil {
		return nil, err
	}
	res := &ReportResult{Kind: kind, Context: c}
	if !req.DraftObservation {
		return res, nil
	}

	p, ok := c.(*core.PenaltyContext)
	if !ok || p.Observation != core.NotAvailable {
		return res, nil
	}
	if s.Drafter == nil {
		return nil, fmt.Errorf("%w: observation drafter is not configured", core.ErrExternalService)
	}
	draft, err := s.Drafter.DraftObservation(ctx, *p)
	if err != nil {
		s.log.WithError(err).WithField("po_number", p.PONumber).Warn("observation draft failed")
		return nil, err
	}
	p.Observation = draft.Observation
	res.ObservationDraft = draft
	return res, nil
}

func (s *appService) Verify(ctx context.Context, refresh bool) (*core.VerifyReport, error) {
	return s.Verifier.Verify(ctx, refresh)
}
