package events

import (
	"context"
	"testing"

	"github.com/ledgerwell/decisioning/internal/database"
	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) *SQLSink {
	t.Helper()
	db, err := database.New(database.Config{Path: t.TempDir() + "/ledger.db", Profile: database.ProfileLedger, Name: "ledger"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLSink(db, zerolog.Nop())
}

func TestEncodeDecodeRoundTripsDecisionTraced(t *testing.T) {
	data := DecisionTracedData{JEID: "je1", TxnID: "txn1", Route: "auto_post", Confidence: 0.95}
	e, err := Encode("t1", data)
	require.NoError(t, err)
	assert.Equal(t, string(KindDecisionTraced), e.Kind)

	decoded, err := Decode(e)
	require.NoError(t, err)
	got, ok := decoded.(DecisionTracedData)
	require.True(t, ok)
	assert.Equal(t, "je1", got.JEID)
	assert.Equal(t, 0.95, got.Confidence)
}

func TestAppendPersistsAndIsAtLeastOnceIdempotentByEventID(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()
	e, err := Encode("t1", ExportAttemptedData{JEID: "je1", Target: "csv", ExternalID: "ext1", Status: "posted", Attempts: 1})
	require.NoError(t, err)

	require.NoError(t, sink.Append(ctx, e))
	require.NoError(t, sink.Append(ctx, e)) // redelivery with the same EventID must not error

	var count int
	require.NoError(t, sink.db.Conn().QueryRowContext(ctx, `SELECT COUNT(1) FROM audit_events WHERE event_id = ?`, e.EventID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDecodeUnknownKindErrors(t *testing.T) {
	_, err := Decode(domain.AuditEvent{Kind: "not_a_real_kind", Payload: []byte(`{}`)})
	assert.Error(t, err)
}

func TestRulePromotedRoundTrip(t *testing.T) {
	data := RulePromotedData{VersionID: "v2", ParentVersionID: "v1", VendorNorm: "amazon", AccountCode: "6000", Author: "promoter"}
	e, err := Encode("t1", data)
	require.NoError(t, err)
	decoded, err := Decode(e)
	require.NoError(t, err)
	got, ok := decoded.(RulePromotedData)
	require.True(t, ok)
	assert.Equal(t, "v2", got.VersionID)
}
