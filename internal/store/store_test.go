package store

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, closeFn, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return s
}

func TestInsertAndGetTransactionRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	txn := domain.Transaction{
		TxnID: "abc123", TenantID: "t1", PostedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		AmountMinor: -1245, Currency: "USD", DescriptionRaw: "AMZN Mktp US",
		CounterpartyRaw: "Amazon", CounterpartyNorm: "amazon", SourceFileID: "f1", SourceRowRef: "1",
		IngestedAt: time.Now(),
	}
	require.NoError(t, s.InsertTransaction(ctx, txn))

	got, ok, err := s.GetTransaction(ctx, "t1", "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, txn.AmountMinor, got.AmountMinor)
	assert.Equal(t, txn.CounterpartyNorm, got.CounterpartyNorm)
	assert.True(t, txn.PostedAt.Equal(got.PostedAt))

	exists, err := s.ExistsTransaction(ctx, "t1", "abc123")
	require.NoError(t, err)
	assert.True(t, exists)

	missing, err := s.ExistsTransaction(ctx, "t1", "nope")
	require.NoError(t, err)
	assert.False(t, missing)
}

func TestListTransactionsOrdersByPostedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertTransaction(ctx, domain.Transaction{TxnID: "b", TenantID: "t1", PostedAt: base.AddDate(0, 0, 2), IngestedAt: base}))
	require.NoError(t, s.InsertTransaction(ctx, domain.Transaction{TxnID: "a", TenantID: "t1", PostedAt: base, IngestedAt: base}))

	txns, err := s.ListTransactions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "a", txns[0].TxnID)
	assert.Equal(t, "b", txns[1].TxnID)
}

func TestAccountUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, "t1", domain.Account{Code: "6000", Name: "Software Expense", Type: domain.AccountExpense, Active: true}))

	a, ok, err := s.GetAccount(ctx, "t1", "6000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.AccountExpense, a.Type)

	require.NoError(t, s.UpsertAccount(ctx, "t1", domain.Account{Code: "6000", Name: "Renamed", Type: domain.AccountExpense, Active: false}))
	a2, _, err := s.GetAccount(ctx, "t1", "6000")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", a2.Name)
	assert.False(t, a2.Active)
}

func sampleJE() domain.JournalEntry {
	return domain.JournalEntry{
		JEID: "je1", TenantID: "t1", TxnID: "txn1", PostedAt: time.Now(), Status: domain.JEProposed,
		Confidence: 0.9, Route: "review",
		Lines: []domain.JELine{
			{JEID: "je1", LineNo: 1, AccountCode: "6000", DebitMinor: 1245, Memo: "expense"},
			{JEID: "je1", LineNo: 2, AccountCode: "1000", CreditMinor: 1245, Memo: "cash"},
		},
	}
}

func TestInsertAndGetJERoundTripsLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	je := sampleJE()
	require.NoError(t, s.InsertJE(ctx, je))

	got, ok, err := s.GetJE(ctx, "t1", "je1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, int64(1245), got.Lines[0].DebitMinor)
	assert.Equal(t, int64(1245), got.Lines[1].CreditMinor)
	assert.True(t, got.Balanced())
}

func TestUpdateJEReplacesLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	je := sampleJE()
	require.NoError(t, s.InsertJE(ctx, je))

	je.Status = domain.JEPosted
	je.Lines = []domain.JELine{{JEID: "je1", LineNo: 1, AccountCode: "6000", DebitMinor: 500, Memo: "adjusted"}}
	require.NoError(t, s.UpdateJE(ctx, je))

	got, _, err := s.GetJE(ctx, "t1", "je1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, domain.JEPosted, got.Status)
	assert.Equal(t, int64(500), got.Lines[0].DebitMinor)
}

func TestPublishRuleVersionSwapsPointer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := domain.RuleVersion{VersionID: "v1", TenantID: "t1", CreatedAt: time.Now(), Rules: []domain.RuleDefinition{{ID: "r1", Pattern: "AMZN", AccountCode: "6000"}}}
	require.NoError(t, s.PublishRuleVersion(ctx, "t1", "", v1))

	cur, ok, err := s.CurrentRuleVersion(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", cur.VersionID)

	v2 := domain.RuleVersion{VersionID: "v2", TenantID: "t1", CreatedAt: time.Now(), ParentVersionID: "v1"}
	require.NoError(t, s.PublishRuleVersion(ctx, "t1", "v1", v2))
	cur2, _, err := s.CurrentRuleVersion(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "v2", cur2.VersionID)

	err = s.PublishRuleVersion(ctx, "t1", "v1", domain.RuleVersion{VersionID: "v3", TenantID: "t1", CreatedAt: time.Now()})
	assert.Error(t, err)
}

func TestRuleCandidateUpsertIsIdempotentKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := domain.RuleCandidate{VendorNorm: "amazon", SuggestedAccount: "6000", ObsCount: 1, MeanConf: 0.8, LastSeen: time.Now(), Status: domain.CandidatePending}
	require.NoError(t, s.UpsertRuleCandidate(ctx, "t1", c))

	c.ObsCount = 2
	c.MeanConf = 0.85
	require.NoError(t, s.UpsertRuleCandidate(ctx, "t1", c))

	got, ok, err := s.GetRuleCandidate(ctx, "t1", "amazon", "6000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.ObsCount)

	list, err := s.ListRuleCandidates(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEmbeddingRecordsFilteredByVendor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertEmbeddingRecord(ctx, "t1", domain.EmbeddingMemoryRecord{VendorNorm: "amazon", AccountCode: "6000", EmbeddingVector: []float64{0.1, 0.2}, Confirmed: true}))
	require.NoError(t, s.InsertEmbeddingRecord(ctx, "t1", domain.EmbeddingMemoryRecord{VendorNorm: "uber", AccountCode: "6100", EmbeddingVector: []float64{0.3, 0.4}}))

	recs, err := s.ListEmbeddingRecords(ctx, "t1", "amazon")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []float64{0.1, 0.2}, recs[0].EmbeddingVector)
}

func TestInsertExportRecordIfAbsentIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := domain.ExportRecord{JEID: "je1", ExternalID: "ext1", Target: "csv", FirstExportedAt: time.Now(), LastAttemptAt: time.Now(), Attempts: 1, Status: domain.ExportPosted}

	inserted, _, err := s.InsertExportRecordIfAbsent(ctx, "t1", rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted2, existing, err := s.InsertExportRecordIfAbsent(ctx, "t1", rec)
	require.NoError(t, err)
	assert.False(t, inserted2)
	assert.Equal(t, "je1", existing.JEID)

	require.NoError(t, s.BumpExportAttempt(ctx, "t1", "csv", "ext1"))
	_, existing2, err := s.InsertExportRecordIfAbsent(ctx, "t1", rec)
	require.NoError(t, err)
	assert.Equal(t, 2, existing2.Attempts)
}

func TestCalibrationModelRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := domain.CalibrationModel{ModelVersionID: "mv1", Method: domain.CalibrationIsotonic, Parameters: []float64{1, 2, 3}, TrainedAt: time.Now(), ECE: 0.01, Brier: 0.05, BinEdges: []float64{0, 0.5, 1}}
	require.NoError(t, s.InsertCalibrationModel(ctx, "t1", m))

	got, ok, err := s.CurrentCalibrationModel(ctx, "t1", "mv1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, got.Parameters)
	assert.Equal(t, domain.CalibrationIsotonic, got.Method)
}

func TestRetrainEventsListedInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.InsertRetrainEvent(ctx, "t1", domain.RetrainEvent{StartedAt: base, FinishedAt: base.Add(time.Minute), Reasons: []string{"psi_alert"}, TrainN: 1000, Promoted: true}))
	require.NoError(t, s.InsertRetrainEvent(ctx, "t1", domain.RetrainEvent{StartedAt: base.Add(time.Hour), FinishedAt: base.Add(2 * time.Hour), Reasons: []string{"scheduled"}}))

	events, err := s.ListRetrainEvents(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"psi_alert"}, events[0].Reasons)
	assert.True(t, events[0].Promoted)
}
