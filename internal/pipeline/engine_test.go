package pipeline

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/ledgerwell/decisioning/internal/blender"
	"github.com/ledgerwell/decisioning/internal/config"
	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/embedmemory"
	"github.com/ledgerwell/decisioning/internal/llmadjudicator"
	"github.com/ledgerwell/decisioning/internal/mlclassifier"
	"github.com/ledgerwell/decisioning/internal/store"
	testutil "github.com/ledgerwell/decisioning/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, closeFn, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return s
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultThreshold:     0.80,
		ColdStartMin:         3,
		AnomalyMADMultiplier: 6,
	}
}

func newTestEngine(t *testing.T, s domain.Store, classifier *mlclassifier.Classifier, calibration domain.CalibrationModel) *Engine {
	t.Helper()
	memory := embedmemory.New(s, testutil.NewMockEmbeddingClient(), 5, 0.75)
	budget := llmadjudicator.NewBudget(100, 1000)
	adjudicator := llmadjudicator.New(testutil.NewMockLLMClient(), budget, time.Second, 0.60, 0.85, zerolog.Nop())

	eng, err := NewEngine(s, memory, classifier, NewCalibrationHandle(calibration), adjudicator, blender.DefaultWeights(),
		testutil.NewMockAuditSink(), testutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), testConfig(), zerolog.Nop())
	require.NoError(t, err)
	return eng
}

func seedChartAndRules(t *testing.T, ctx context.Context, s *store.SQLStore, tenant domain.Tenant) {
	t.Helper()
	for _, a := range testutil.NewChartOfAccountsFixture() {
		require.NoError(t, s.UpsertAccount(ctx, tenant.ID, a))
	}
	rv := testutil.NewRuleVersionFixture("v1")
	rv.TenantID = tenant.ID
	require.NoError(t, s.InsertRuleVersion(ctx, rv))
	require.NoError(t, s.PublishRuleVersion(ctx, tenant.ID, "", rv))
}

func blankClassifier(t *testing.T, accounts []string) *mlclassifier.Classifier {
	t.Helper()
	vocab := mlclassifier.BuildVocabulary([]mlclassifier.FeatureVector{{"cp:amazon web services": 1}})
	return mlclassifier.NewClassifier("mv-test", vocab, accounts)
}

// seedConfirmedHistory inserts a prior posted transaction+JE for the given
// vendor/account so GatingPolicy's cold-start check (spec.md §4.8 step 3)
// has confirmations to count.
func seedConfirmedHistory(t *testing.T, ctx context.Context, s *store.SQLStore, tenant domain.Tenant, n int, accountCode string, amountMinor int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		txn := testutil.NewTransactionFixture(func(tx *domain.Transaction) {
			tx.TxnID = "hist-" + accountCode + "-" + strconv.Itoa(i)
			tx.AmountMinor = amountMinor
		})
		require.NoError(t, s.InsertTransaction(ctx, txn))
		abs := amountMinor
		if abs < 0 {
			abs = -abs
		}
		je := testutil.NewBalancedJEFixture("je-hist-"+accountCode+"-"+strconv.Itoa(i), txn.TxnID, abs)
		je.TenantID = tenant.ID
		je.Status = domain.JEPosted
		je.Lines[0].AccountCode = accountCode
		je.Lines[1].AccountCode = tenant.CashAccountCode
		require.NoError(t, s.InsertJE(ctx, je))
	}
}

func TestProcessTransactionRuleMatchAutoPosts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := testutil.NewTenantFixture()
	tenant.ColdStartMin = 2
	seedChartAndRules(t, ctx, s, tenant)
	seedConfirmedHistory(t, ctx, s, tenant, 2, "6000", -4999)

	clf := blankClassifier(t, []string{"6000", "6100"})
	calibration := testutil.NewCalibrationModelFixture("mv-test")
	eng := newTestEngine(t, s, clf, calibration)

	txn := testutil.NewTransactionFixture()
	je, err := eng.ProcessTransaction(ctx, tenant, txn)
	require.NoError(t, err)

	require.True(t, je.Balanced())
	require.Equal(t, "6000", je.Lines[0].AccountCode)
	require.Equal(t, "auto_post", je.Route)
	require.NotEmpty(t, je.JEID)
	require.NotEmpty(t, je.DecisionTrace.Entries)
}

func TestProcessTransactionColdStartRoutesToReview(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := testutil.NewTenantFixture()
	tenant.ColdStartMin = 3
	seedChartAndRules(t, ctx, s, tenant)

	clf := blankClassifier(t, []string{"6000", "6100"})
	calibration := testutil.NewCalibrationModelFixture("mv-test")
	eng := newTestEngine(t, s, clf, calibration)

	txn := testutil.NewTransactionFixture()
	je, err := eng.ProcessTransaction(ctx, tenant, txn)
	require.NoError(t, err)

	// First-ever transaction for this vendor: fewer than ColdStartMin
	// confirmations exist, so even a rule match must route to review.
	require.Equal(t, "review", je.Route)
	require.Equal(t, domain.ReasonColdStart, je.Reason)
}

func TestProcessTransactionUnknownAccountRoutesToReview(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := testutil.NewTenantFixture()
	// No chart of accounts seeded at all: every account code lookup misses.
	rv := testutil.NewRuleVersionFixture("v1")
	rv.TenantID = tenant.ID
	require.NoError(t, s.InsertRuleVersion(ctx, rv))
	require.NoError(t, s.PublishRuleVersion(ctx, tenant.ID, "", rv))

	clf := blankClassifier(t, []string{"6000", "6100"})
	calibration := testutil.NewCalibrationModelFixture("mv-test")
	eng := newTestEngine(t, s, clf, calibration)

	txn := testutil.NewTransactionFixture()
	je, err := eng.ProcessTransaction(ctx, tenant, txn)
	require.NoError(t, err)

	require.Equal(t, "review", je.Route)
	require.Equal(t, domain.ReasonImbalance, je.Reason)
	require.Empty(t, je.Lines)
}
