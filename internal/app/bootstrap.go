package app

import (
	"context"
	"fmt"

	"po-ledger/internal/ai"
	"po-ledger/internal/config"
	"po-ledger/internal/core"
	"po-ledger/internal/db"
	"po-ledger/internal/jobs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Runtime is a wired ApplicationService plus the resources it holds.
type Runtime struct {
	Service ApplicationService
	Pool    *pgxpool.Pool
	Runner  *jobs.Runner
}

// Bootstrap connects to the database and wires every service from cfg.
// Observation drafting is disabled when no OpenAI key is configured.
func Bootstrap(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Runtime, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	blobs, err := jobs.NewFSBlobStore(cfg.BlobDir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}

	runner := jobs.NewRunner(jobs.Options{
		MaxAttempts: cfg.JobMaxAttempts,
		BaseBackoff: cfg.JobBaseBackoff,
		Timeout:     cfg.JobTimeout,
		Retention:   cfg.JobRetention,
	}, log)

	ingestion := core.NewIngestionService(pool, log, cfg.IngestChunkSize)

	var drafter ai.ObservationDrafter
	if cfg.OpenAIKey != "" {
		drafter = ai.NewAgent(cfg.OpenAIKey, cfg.OpenAIModel)
	} else {
		log.Warn("OPENAI_API_KEY is not set: observation drafts are disabled")
	}

	svc := NewAppService(Services{
		DB:         pool,
		Ingestion:  ingestion,
		Orders:     core.NewPurchaseOrderService(pool, log),
		Receptions: core.NewReceptionService(pool, log),
		Queries:    core.NewQueryService(pool),
		Snapshots:  core.NewSnapshotService(pool, log),
		Timelines:  core.NewTimelineService(pool, log),
		Reports:    core.NewReportService(pool, log),
		Verifier:   core.NewLedgerVerifier(pool, log),
		Blobs:      blobs,
		Queue:      jobs.NewIngester(ingestion, blobs, runner, log),
		Drafter:    drafter,
	}, log)

	return &Runtime{Service: svc, Pool: pool, Runner: runner}, nil
}

// Close waits for running jobs (bounded by ctx) and closes the pool.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.Runner.Shutdown(ctx)
	r.Pool.Close()
	return err
}
