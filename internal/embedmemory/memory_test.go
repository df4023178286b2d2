package embedmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/stretchr/testify/assert"
)

type fakeReader struct {
	records []domain.EmbeddingMemoryRecord
	err     error
}

func (f fakeReader) ListEmbeddingRecords(_ context.Context, _ domain.TenantID, _ string) ([]domain.EmbeddingMemoryRecord, error) {
	return f.records, f.err
}

type fakeEmbedder struct {
	vector []float64
	err    error
}

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	return f.vector, f.err
}

func TestRetrieveAboveFloorPicksWeightedVote(t *testing.T) {
	reader := fakeReader{records: []domain.EmbeddingMemoryRecord{
		{AccountCode: "6100", EmbeddingVector: []float64{1, 0, 0}},
		{AccountCode: "6100", EmbeddingVector: []float64{0.9, 0.1, 0}},
		{AccountCode: "6300", EmbeddingVector: []float64{0, 1, 0}},
	}}
	embedder := fakeEmbedder{vector: []float64{1, 0, 0}}

	m := New(reader, embedder, 5, 0.75)
	res := m.Retrieve(context.Background(), "t1", "amazon", "amazon purchase")

	assert.Equal(t, "6100", res.AccountCode)
	assert.Greater(t, res.Score, 0.0)
}

func TestRetrieveBelowFloorReturnsZero(t *testing.T) {
	reader := fakeReader{records: []domain.EmbeddingMemoryRecord{
		{AccountCode: "6100", EmbeddingVector: []float64{0, 1, 0}},
	}}
	embedder := fakeEmbedder{vector: []float64{1, 0, 0}} // orthogonal, sim = 0

	m := New(reader, embedder, 5, 0.75)
	res := m.Retrieve(context.Background(), "t1", "amazon", "amazon purchase")

	assert.Equal(t, Result{}, res)
}

func TestRetrieveEmbeddingClientUnavailableDegradesToZero(t *testing.T) {
	reader := fakeReader{records: []domain.EmbeddingMemoryRecord{
		{AccountCode: "6100", EmbeddingVector: []float64{1, 0, 0}},
	}}
	embedder := fakeEmbedder{err: errors.New("embedding service down")}

	m := New(reader, embedder, 5, 0.75)
	res := m.Retrieve(context.Background(), "t1", "amazon", "amazon purchase")

	assert.Equal(t, Result{}, res)
}

func TestRetrieveNoRecordsReturnsZero(t *testing.T) {
	reader := fakeReader{}
	embedder := fakeEmbedder{vector: []float64{1, 0, 0}}

	m := New(reader, embedder, 5, 0.75)
	res := m.Retrieve(context.Background(), "t1", "amazon", "amazon purchase")

	assert.Equal(t, Result{}, res)
}
