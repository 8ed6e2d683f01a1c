package jobs

import (
	"context"
	"errors"
	"fmt"

	"po-ledger/internal/adapters/spreadsheet"
	"po-ledger/internal/core"
	"po-ledger/internal/logging"

	"github.com/sirupsen/logrus"
)

const KindIngest = "ingest"

// Ingester schedules file ingests on a Runner.
type Ingester struct {
	files  core.IngestionService
	blobs  BlobStore
	runner *Runner
	log    logrus.FieldLogger
}

func NewIngester(files core.IngestionService, blobs BlobStore, runner *Runner, log logrus.FieldLogger) *Ingester {
	return &Ingester{files: files, blobs: blobs, runner: runner, log: log.WithField("module", "ingest-jobs")}
}

// Enqueue starts an ingest of the blob into file. The blob is deleted once
// the job ends, whatever the outcome. After Shutdown it returns ErrClosed
// and the caller still owns the blob.
func (in *Ingester) Enqueue(file *core.ImportedFile, blob, user string) (Job, error) {
	return in.runner.Submit(Task{
		Kind:   KindIngest,
		FileID: file.ID,
		Blob:   blob,
		Run: func(ctx context.Context, job Job) (any, error) {
			return in.ingest(ctx, job.FileID, file.Filename, job.Blob, user)
		},
		Finally: func(ctx context.Context, job Job) {
			if job.Status == StatusFailed {
				if err := in.files.MarkFailed(ctx, job.FileID, errors.New(job.Error)); err != nil {
					logging.LogError(in.log, "ingest-jobs", "Enqueue", "mark file failed", logrus.Fields{"file_id": job.FileID, "job_id": job.ID}, err)
				}
			}
			if err := in.blobs.Delete(ctx, job.Blob); err != nil {
				in.log.WithError(err).WithField("blob", job.Blob).Warn("delete blob")
			}
		},
	})
}

func (in *Ingester) Get(id string) (Job, error) {
	return in.runner.Get(id)
}

func (in *Ingester) ingest(ctx context.Context, fileID int64, filename, blob, user string) (*core.IngestResult, error) {
	rc, err := in.blobs.Open(ctx, blob)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rd, err := spreadsheet.Open(filename, rc)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	defer rd.Close()

	res, err := in.files.Ingest(ctx, fileID, rd, user)
	if err != nil {
		return nil, err
	}
	for _, s := range res.Skipped {
		in.log.WithFields(logrus.Fields{"file_id": fileID, "row": s.RowNumber, "reason": s.Reason}).Warn("record skipped")
	}
	return res, nil
}
