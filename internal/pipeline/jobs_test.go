package pipeline

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/ledgerwell/decisioning/internal/config"
	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/drift"
	"github.com/ledgerwell/decisioning/internal/events"
	"github.com/ledgerwell/decisioning/internal/mlclassifier"
	"github.com/ledgerwell/decisioning/internal/promoter"
	"github.com/ledgerwell/decisioning/internal/queue"
	"github.com/ledgerwell/decisioning/internal/retrainer"
	"github.com/ledgerwell/decisioning/internal/store"
	testutil "github.com/ledgerwell/decisioning/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, s *store.SQLStore, clf *mlclassifier.Classifier, calibration domain.CalibrationModel) (*JobRunner, *testutil.MockAuditSink, *testutil.MockBlobStore, *testutil.MockClock) {
	t.Helper()
	audit := testutil.NewMockAuditSink()
	blob := testutil.NewMockBlobStore()
	clock := testutil.NewMockClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	cfg := &config.Config{RetrainHoldoutDays: 7}

	r := &JobRunner{
		Store:           s,
		Blob:            blob,
		Audit:           audit,
		Clock:           clock,
		Cfg:             cfg,
		Classifier:      clf,
		Calibration:     NewCalibrationHandle(calibration),
		Queue:           queue.NewMemQueue(),
		ExportTarget:    "csv",
		PromoterPolicy:  promoter.DefaultPolicy(),
		Guardrails:      retrainer.Guardrails{MinRecords: 1, MaxRuntime: time.Minute},
		DriftThresholds: drift.DefaultThresholds(),
		Log:             zerolog.Nop(),
	}
	return r, audit, blob, clock
}

func TestHandleExportPostsApprovedJEsIdempotently(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := testutil.NewTenantFixture()
	seedChartAndRules(t, ctx, s, tenant)

	txn := testutil.NewTransactionFixture()
	require.NoError(t, s.InsertTransaction(ctx, txn))
	je := testutil.NewBalancedJEFixture("je-export-1", txn.TxnID, 4999)
	je.Status = domain.JEApproved
	require.NoError(t, s.InsertJE(ctx, je))

	clf := blankClassifier(t, []string{"6000", "6100"})
	calibration := testutil.NewCalibrationModelFixture("mv-test")
	runner, audit, _, _ := newTestRunner(t, s, clf, calibration)

	job := &queue.Job{TenantID: string(tenant.ID), Type: queue.JobTypeExport}
	require.NoError(t, runner.handleExport(ctx, job))

	got, ok, err := s.GetJE(ctx, tenant.ID, je.JEID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.JEPosted, got.Status)
	require.Equal(t, 1, audit.CountByKind(string(events.KindExportAttempted)))

	// Second run finds nothing left in JEApproved; no new export event fires.
	require.NoError(t, runner.handleExport(ctx, job))
	require.Equal(t, 1, audit.CountByKind(string(events.KindExportAttempted)))
}

func TestHandlePromotePublishesReadyCandidate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := testutil.NewTenantFixture()
	seedChartAndRules(t, ctx, s, tenant)

	candidate := testutil.NewRuleCandidateFixture("initech llc", "6100")
	candidate.ObsCount = 5
	candidate.MeanConf = 0.9
	candidate.Variance = 0.01
	require.NoError(t, s.UpsertRuleCandidate(ctx, tenant.ID, candidate))

	clf := blankClassifier(t, []string{"6000", "6100"})
	calibration := testutil.NewCalibrationModelFixture("mv-test")
	runner, audit, _, _ := newTestRunner(t, s, clf, calibration)

	before, ok, err := s.CurrentRuleVersion(ctx, tenant.ID)
	require.NoError(t, err)
	require.True(t, ok)

	job := &queue.Job{TenantID: string(tenant.ID), Type: queue.JobTypePromote}
	require.NoError(t, runner.handlePromote(ctx, job))

	after, ok, err := s.CurrentRuleVersion(ctx, tenant.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, before.VersionID, after.VersionID)
	require.Greater(t, len(after.Rules), len(before.Rules))

	got, ok, err := s.GetRuleCandidate(ctx, tenant.ID, "initech llc", "6100")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.CandidateAccepted, got.Status)
	require.Equal(t, 1, audit.CountByKind("rule_promoted"))
}

func TestHandleDriftCheckNoHistoryIsANoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := testutil.NewTenantFixture()
	seedChartAndRules(t, ctx, s, tenant)

	clf := blankClassifier(t, []string{"6000", "6100"})
	calibration := testutil.NewCalibrationModelFixture("mv-test")
	runner, _, _, _ := newTestRunner(t, s, clf, calibration)

	job := &queue.Job{TenantID: string(tenant.ID), Type: queue.JobTypeDriftCheck}
	require.NoError(t, runner.handleDriftCheck(ctx, job))
	require.Equal(t, 0, runner.Queue.Size())
}

func TestHandleRetrainRecordsEventAndHonorsShouldPromote(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := testutil.NewTenantFixture()
	seedChartAndRules(t, ctx, s, tenant)

	for i := 0; i < 20; i++ {
		txn := testutil.NewTransactionFixture(func(tx *domain.Transaction) {
			tx.TxnID = "retrain-txn-" + strconv.Itoa(i)
			tx.PostedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, i)
			tx.AmountMinor = -4999
		})
		require.NoError(t, s.InsertTransaction(ctx, txn))
		je := testutil.NewBalancedJEFixture("je-retrain-"+strconv.Itoa(i), txn.TxnID, 4999)
		je.Status = domain.JEPosted
		je.PostedAt = txn.PostedAt
		require.NoError(t, s.InsertJE(ctx, je))
	}

	clf := blankClassifier(t, []string{"6000", "6100"})
	calibration := testutil.NewCalibrationModelFixture("mv-test")
	runner, audit, blob, clock := newTestRunner(t, s, clf, calibration)
	clock.Set(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))

	job := &queue.Job{TenantID: string(tenant.ID), Type: queue.JobTypeRetrain, Payload: map[string]interface{}{"reason": "psi_high"}}
	require.NoError(t, runner.handleRetrain(ctx, job))

	retrainEvents, err := s.ListRetrainEvents(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, retrainEvents, 1)
	require.Contains(t, retrainEvents[0].Reasons, "psi_high")
	require.Equal(t, 1, audit.CountByKind(string(events.KindRetrainComplete)))

	if retrainEvents[0].Promoted {
		require.NotEqual(t, "mv-test", runner.Classifier.ModelVersionID)
		require.Equal(t, runner.Classifier.ModelVersionID, runner.Calibration.Load().ModelVersionID)
		require.NotEmpty(t, retrainEvents[0].ArtifactID)
		_, found, err := blob.Get(ctx, retrainEvents[0].ArtifactID)
		require.NoError(t, err)
		require.True(t, found)
	} else {
		require.Equal(t, "mv-test", runner.Classifier.ModelVersionID)
	}
}
