package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"po-ledger/internal/ai"
	"po-ledger/internal/core"
	"po-ledger/internal/jobs"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeReports struct {
	core.ReportService
	penalty core.PenaltyContext
}

func (f *fakeReports) Context(_ context.Context, kind core.ReportKind, ref string) (any, error) {
	if kind == core.ReportPenalty {
		p := f.penalty
		p.PONumber = ref
		return &p, nil
	}
	return &core.MSRNContext{}, nil
}

type fakeDrafter struct {
	calls int
	err   error
}

func (f *fakeDrafter) DraftObservation(_ context.Context, c core.PenaltyContext) (*ai.ObservationDraft, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ai.ObservationDraft{Observation: "Drafted for " + c.PONumber, Confidence: 0.7}, nil
}

func TestReport_DraftObservation(t *testing.T) {
	tests := []struct {
		name        string
		stored      string
		draft       bool
		drafterErr  error
		want        string
		wantCalls   int
		wantErrKind error
	}{
		{"no draft requested", core.NotAvailable, false, nil, core.NotAvailable, 0, nil},
		{"draft fills empty observation", core.NotAvailable, true, nil, "Drafted for PO-7", 1, nil},
		{"stored observation wins", "Written by PM", true, nil, "Written by PM", 0, nil},
		{"drafter failure surfaces", core.NotAvailable, true, core.ErrExternalService, "", 1, core.ErrExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drafter := &fakeDrafter{err: tt.drafterErr}
			svc := NewAppService(Services{
				Reports: &fakeReports{penalty: core.PenaltyContext{Observation: tt.stored}},
				Drafter: drafter,
			}, quietLogger())

			res, err := svc.Report(context.Background(), ReportRequest{Kind: "penalty", Ref: "PO-7", DraftObservation: tt.draft})
			if drafter.calls != tt.wantCalls {
				t.Errorf("drafter calls = %d, want %d", drafter.calls, tt.wantCalls)
			}
			if tt.wantErrKind != nil {
				if !errors.Is(err, tt.wantErrKind) {
					t.Fatalf("err = %v, want %v", err, tt.wantErrKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Report: %v", err)
			}
			p := res.Context.(*core.PenaltyContext)
			if p.Observation != tt.want {
				t.Errorf("observation = %q, want %q", p.Observation, tt.want)
			}
			if (res.ObservationDraft != nil) != (tt.wantCalls == 1) {
				t.Errorf("draft attached = %v", res.ObservationDraft)
			}
		})
	}
}

func TestReport_Rejects(t *testing.T) {
	svc := NewAppService(Services{Reports: &fakeReports{penalty: core.PenaltyContext{Observation: core.NotAvailable}}}, quietLogger())
	ctx := context.Background()

	if _, err := svc.Report(ctx, ReportRequest{Kind: "invoice", Ref: "PO-1"}); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("unknown kind: %v", err)
	}
	if _, err := svc.Report(ctx, ReportRequest{Kind: "msrn", Ref: "MSRN250001", DraftObservation: true}); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("draft on msrn: %v", err)
	}
	if _, err := svc.Report(ctx, ReportRequest{Kind: "penalty", Ref: "PO-1", DraftObservation: true}); !errors.Is(err, core.ErrExternalService) {
		t.Errorf("draft without drafter: %v", err)
	}
	if _, err := svc.Report(ctx, ReportRequest{Kind: "penalty"}); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("missing ref: %v", err)
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name       string
		req        any
		wantFields map[string]string
	}{
		{"valid delivery", DeliveryRequest{PONumber: "PO-1", BusinessID: "L1", Delta: decimal.NewFromInt(3)}, nil},
		{"missing ids", DeliveryRequest{}, map[string]string{"po_number": "required", "business_id": "required"}},
		{"evaluation out of range", EvaluationRequest{PONumber: "PO-1", Quality: 11, Timeliness: -1}, map[string]string{"quality": "max", "timeliness": "min"}},
		{"bad amendment status", AmendmentRequest{PONumber: "PO-1", PenaltyStatus: "waived"}, map[string]string{"penalty_status": "oneof"}},
		{"empty bulk", BulkDeliveryRequest{PONumber: "PO-1"}, map[string]string{"lines": "required"}},
		{"reset without file", ResetRequest{PONumber: "PO-1"}, map[string]string{"file_id": "required"}},
		{"blank business id in selection", TargetRateRequest{PONumber: "PO-1", BusinessIDs: []string{"L1", ""}}, map[string]string{"business_ids[1]": "required"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRequest(tt.req)
			if tt.wantFields == nil {
				if err != nil {
					t.Fatalf("validateRequest: %v", err)
				}
				return
			}
			if !errors.Is(err, core.ErrInvalidInput) {
				t.Fatalf("err = %v, want invalid input", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %T", err)
			}
			for f, tag := range tt.wantFields {
				if ve.Fields[f] != tag {
					t.Errorf("field %s = %q, want %q (all: %v)", f, ve.Fields[f], tag, ve.Fields)
				}
			}
		})
	}
}

func TestListActivity_RejectsInvertedRange(t *testing.T) {
	svc := NewAppService(Services{}, quietLogger())
	from := time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC)
	q := ActivityQuery{From: from, To: from.AddDate(0, 0, -1)}
	if _, err := svc.ListActivity(context.Background(), q); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}

type fakeIngestion struct {
	core.IngestionService
	created  []string
	failed   []int64
	markErr  error
	ingested int
}

func (f *fakeIngestion) CreateFile(_ context.Context, filename, by string) (*core.ImportedFile, error) {
	f.created = append(f.created, filename+"@"+by)
	return &core.ImportedFile{ID: int64(len(f.created)), Filename: filename, ImportedBy: by, Status: core.FileStatusPending}, nil
}

func (f *fakeIngestion) MarkFailed(_ context.Context, id int64, _ error) error {
	f.failed = append(f.failed, id)
	return f.markErr
}

func (f *fakeIngestion) Ingest(_ context.Context, id int64, _ core.RecordReader, _ string) (*core.IngestResult, error) {
	f.ingested++
	return &core.IngestResult{FileID: id}, nil
}

type fakeBlobs struct {
	jobs.BlobStore
	err     error
	puts    int
	deleted []string
}

func (f *fakeBlobs) Delete(_ context.Context, handle string) error {
	f.deleted = append(f.deleted, handle)
	return nil
}

func (f *fakeBlobs) Put(_ context.Context, name string, r io.Reader) (string, error) {
	f.puts++
	if f.err != nil {
		return "", f.err
	}
	_, _ = io.Copy(io.Discard, r)
	return "blob-" + name, nil
}

type fakeQueue struct {
	enqueued []string
	err      error
}

func (f *fakeQueue) Enqueue(file *core.ImportedFile, blob, user string) (jobs.Job, error) {
	if f.err != nil {
		return jobs.Job{}, f.err
	}
	f.enqueued = append(f.enqueued, blob)
	return jobs.Job{ID: "job-1", FileID: file.ID, Status: jobs.StatusQueued}, nil
}

func (f *fakeQueue) Get(id string) (jobs.Job, error) {
	return jobs.Job{}, core.ErrNotFound
}

func TestUploadFile(t *testing.T) {
	files, blobs, queue := &fakeIngestion{}, &fakeBlobs{}, &fakeQueue{}
	svc := NewAppService(Services{Ingestion: files, Blobs: blobs, Queue: queue}, quietLogger())
	ctx := context.Background()

	res, err := svc.UploadFile(ctx, UploadRequest{Filename: "po.csv"}, strings.NewReader("Order\nPO-1\n"))
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if res.File.ImportedBy != DefaultUser || res.Job.ID != "job-1" || len(queue.enqueued) != 1 || queue.enqueued[0] != "blob-po.csv" {
		t.Errorf("result = %+v, queue = %v", res, queue.enqueued)
	}

	if _, err := svc.UploadFile(ctx, UploadRequest{Filename: "po.pdf"}, strings.NewReader("x")); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("pdf upload: %v", err)
	}
	if len(files.created) != 1 {
		t.Errorf("unsupported upload created a file record: %v", files.created)
	}

	blobs.err = errors.New("disk full")
	if _, err := svc.UploadFile(ctx, UploadRequest{Filename: "po.xlsx", User: "bob"}, strings.NewReader("x")); err == nil {
		t.Fatalf("blob failure swallowed")
	}
	if len(files.failed) != 1 || files.failed[0] != 2 {
		t.Errorf("file not marked failed: %v", files.failed)
	}
	if len(queue.enqueued) != 1 {
		t.Errorf("failed upload enqueued: %v", queue.enqueued)
	}
}

func TestUploadFile_QueueClosed(t *testing.T) {
	files, blobs := &fakeIngestion{}, &fakeBlobs{}
	queue := &fakeQueue{err: jobs.ErrClosed}
	svc := NewAppService(Services{Ingestion: files, Blobs: blobs, Queue: queue}, quietLogger())

	_, err := svc.UploadFile(context.Background(), UploadRequest{Filename: "po.csv"}, strings.NewReader("Order\nPO-1\n"))
	if !errors.Is(err, jobs.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if len(files.failed) != 1 || files.failed[0] != 1 {
		t.Errorf("file not marked failed: %v", files.failed)
	}
	if len(blobs.deleted) != 1 || blobs.deleted[0] != "blob-po.csv" {
		t.Errorf("orphaned blob, deleted = %v", blobs.deleted)
	}
}

func TestIngestFile_LogsMarkFailedError(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	files := &fakeIngestion{markErr: errors.New("connection refused")}
	svc := NewAppService(Services{Ingestion: files}, log)

	// An xlsx body that is not a zip archive fails to open.
	_, err := svc.IngestFile(context.Background(), UploadRequest{Filename: "po.xlsx"}, strings.NewReader("not a workbook"))
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
	if len(files.failed) != 1 || files.ingested != 0 {
		t.Errorf("failed = %v, ingested = %d", files.failed, files.ingested)
	}
	out := buf.String()
	if !strings.Contains(out, "connection refused") || !strings.Contains(out, "IngestFile") {
		t.Errorf("mark-failed error not logged: %q", out)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	svc := NewAppService(Services{Queue: &fakeQueue{}}, quietLogger())
	if _, err := svc.GetJob(context.Background(), "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}
