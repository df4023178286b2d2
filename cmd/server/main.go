// Package main runs the decisioning engine's background job process: the
// async export/promote/drift-check/retrain jobs (spec.md §4.9-§4.13) behind
// a queue.WorkerPool, plus the internal/scheduler cron entries that keep
// drift checks and retrain sweeps running on a calendar.
//
// Per-transaction decisioning (pipeline.Engine.ProcessTransaction) is a
// library call, not a binary of its own: its caller is the HTTP/API
// surface, which spec.md places out of scope ("specified only by
// interface"). A production deployment wires that surface (and concrete
// LLMClient/EmbeddingClient vendor SDKs) around this same Store/BlobStore/
// pipeline.Engine stack; this binary only owns what spec.md actually
// scopes to a background process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerwell/decisioning/internal/blobstore"
	"github.com/ledgerwell/decisioning/internal/config"
	"github.com/ledgerwell/decisioning/internal/database"
	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/drift"
	"github.com/ledgerwell/decisioning/internal/events"
	"github.com/ledgerwell/decisioning/internal/pipeline"
	"github.com/ledgerwell/decisioning/internal/promoter"
	"github.com/ledgerwell/decisioning/internal/queue"
	"github.com/ledgerwell/decisioning/internal/retrainer"
	"github.com/ledgerwell/decisioning/internal/scheduler"
	"github.com/ledgerwell/decisioning/internal/store"
	"github.com/ledgerwell/decisioning/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Level: "info", Pretty: true}).Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting decisioning engine")

	ledgerDB, err := database.New(database.Config{Path: cfg.DataDir + "/ledger.db", Profile: database.ProfileLedger, Name: "ledger"})
	if err != nil {
		log.Fatal().Err(err).Msg("open ledger db")
	}
	defer ledgerDB.Close()
	if err := ledgerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate ledger db")
	}

	cacheDB, err := database.New(database.Config{Path: cfg.DataDir + "/cache.db", Profile: database.ProfileCache, Name: "cache"})
	if err != nil {
		log.Fatal().Err(err).Msg("open cache db")
	}
	defer cacheDB.Close()
	if err := cacheDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate cache db")
	}

	sqlStore := store.New(ledgerDB, cacheDB)
	audit := events.NewSQLSink(ledgerDB, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blob := loadBlobStore(ctx, log)

	driftThresholds := drift.Thresholds{
		PSIWarn:       cfg.PSIWarn,
		PSIAlert:      cfg.PSIAlert,
		AccDropPct:    cfg.AccDropPct,
		MinNewRecords: int64(cfg.MinNewRecords),
		MinDaysSince:  cfg.MinDaysSinceTrain,
	}
	promoterPolicy := promoter.Policy{MinObs: cfg.PromoterMinObs, MinConf: cfg.PromoterMinConf, MaxVar: cfg.PromoterMaxVar}
	guardrails := retrainer.Guardrails{
		MinRecords:   int64(cfg.RetrainMinRecords),
		MaxRuntime:   cfg.RetrainMaxRuntime,
		MinFreeMemMB: uint64(cfg.MinFreeMemoryMB),
	}

	var pools []*queue.WorkerPool
	var schedulers []*scheduler.Scheduler

	for _, rawTenant := range cfg.TenantIDs {
		tenant := domain.TenantID(rawTenant)

		classifier, calibration, err := pipeline.Bootstrap(ctx, sqlStore, blob, tenant)
		if err != nil {
			log.Fatal().Err(err).Str("tenant", rawTenant).Msg("bootstrap classifier")
		}
		log.Info().Str("tenant", rawTenant).Str("model_version_id", classifier.ModelVersionID).Msg("classifier bootstrapped")

		jobQueue := queue.NewMemQueue()
		runner := &pipeline.JobRunner{
			Store:           sqlStore,
			Blob:            blob,
			Audit:           audit,
			Clock:           domain.SystemClock{},
			Cfg:             cfg,
			Classifier:      classifier,
			Calibration:     calibration,
			Queue:           jobQueue,
			ExportTarget:    cfg.ExportTarget,
			PromoterPolicy:  promoterPolicy,
			Guardrails:      guardrails,
			DriftThresholds: driftThresholds,
			Log:             log,
		}

		pool := queue.NewWorkerPool(jobQueue, time.Second, log)
		runner.Register(pool)
		pool.Start(ctx)
		pools = append(pools, pool)

		sched := scheduler.New(jobQueue, []domain.TenantID{tenant}, log)
		if err := sched.ScheduleDriftCheck(cfg.DriftCheckCron); err != nil {
			log.Fatal().Err(err).Str("tenant", rawTenant).Msg("schedule drift check")
		}
		if err := sched.ScheduleRetrainSweep(cfg.RetrainSweepCron); err != nil {
			log.Fatal().Err(err).Str("tenant", rawTenant).Msg("schedule retrain sweep")
		}
		sched.Start()
		schedulers = append(schedulers, sched)

		log.Info().Str("tenant", rawTenant).Msg("tenant job runner started")
	}

	log.Info().Int("tenants", len(cfg.TenantIDs)).Msg("decisioning engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	for _, sched := range schedulers {
		sched.Stop()
	}
	cancel()
	for _, pool := range pools {
		pool.Stop()
	}
	log.Info().Msg("decisioning engine stopped")
}

// loadBlobStore wires an S3-compatible blobstore.Store only when its
// connection settings are present in the environment; retrain artifact
// persistence (jobs.go's handleRetrain) degrades gracefully to
// in-memory-only (no cross-restart model recovery) when it returns nil,
// matching domain.BlobStore's "may be absent" doc comment. These settings
// aren't in config.Config alongside the domain tunables: they're
// infrastructure credentials a deployment either has or doesn't, with no
// sensible non-empty default, rather than a tenant-facing knob.
func loadBlobStore(ctx context.Context, log zerolog.Logger) domain.BlobStore {
	bucket := os.Getenv("BLOB_S3_BUCKET")
	if bucket == "" {
		log.Warn().Msg("BLOB_S3_BUCKET not set, retrain artifacts will not be persisted across restarts")
		return nil
	}
	s, err := blobstore.New(ctx, blobstore.Config{
		AccountID:       os.Getenv("BLOB_S3_ACCOUNT_ID"),
		AccessKeyID:     os.Getenv("BLOB_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("BLOB_S3_SECRET_ACCESS_KEY"),
		Bucket:          bucket,
		Endpoint:        os.Getenv("BLOB_S3_ENDPOINT"),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open blob store")
	}
	return blobstore.NewDomainAdapter(s, "decisioning")
}
