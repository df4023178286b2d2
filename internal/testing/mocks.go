package testing

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// MockClock is a settable domain.Clock for deterministic time-dependent
// tests (cold-start windows, budget resets, drift scheduling).
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock returns a MockClock fixed at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var _ domain.Clock = (*MockClock)(nil)

// MockLLMClient is a scriptable domain.LLMClient: each call consumes the
// next queued response, or falls back to a default if the queue is empty.
type MockLLMClient struct {
	mu        sync.Mutex
	queue     []domain.LLMResponse
	err       error
	requests  []domain.LLMRequest
	deadlines []time.Time
}

// NewMockLLMClient returns an empty MockLLMClient; queue responses with
// Enqueue or force every call to fail with SetError.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{}
}

// Enqueue appends a response to return on the next Complete call.
func (m *MockLLMClient) Enqueue(resp domain.LLMResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
}

// SetError makes every subsequent Complete call return err.
func (m *MockLLMClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns every request Complete has been called with, in order.
func (m *MockLLMClient) Requests() []domain.LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LLMRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockLLMClient) Complete(ctx context.Context, req domain.LLMRequest, deadline time.Time) (domain.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.deadlines = append(m.deadlines, deadline)
	if m.err != nil {
		return domain.LLMResponse{}, m.err
	}
	if len(m.queue) == 0 {
		return domain.LLMResponse{AccountCode: "", Score: 0, NeedsReview: true}, nil
	}
	resp := m.queue[0]
	m.queue = m.queue[1:]
	return resp, nil
}

var _ domain.LLMClient = (*MockLLMClient)(nil)

// MockEmbeddingClient is a settable domain.EmbeddingClient. By default it
// derives a short deterministic vector from the input text's length so
// tests don't need to hand-author vectors for every call.
type MockEmbeddingClient struct {
	mu      sync.Mutex
	vectors map[string][]float64
	err     error
}

func NewMockEmbeddingClient() *MockEmbeddingClient {
	return &MockEmbeddingClient{vectors: map[string][]float64{}}
}

// SetVector pins the embedding returned for an exact text match.
func (m *MockEmbeddingClient) SetVector(text string, vec []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
}

// SetError makes every subsequent Embed call return err, modeling the
// "embedding unavailable" degradation path EmbeddingMemory must tolerate.
func (m *MockEmbeddingClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockEmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if vec, ok := m.vectors[text]; ok {
		return vec, nil
	}
	return []float64{float64(len(text)), 0, 0, 0}, nil
}

var _ domain.EmbeddingClient = (*MockEmbeddingClient)(nil)

// MockAuditSink records every AuditEvent appended to it, in append order
// and without de-duplication, so tests can inspect emitted events without
// a real database.
type MockAuditSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func NewMockAuditSink() *MockAuditSink {
	return &MockAuditSink{}
}

func (m *MockAuditSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockAuditSink) Append(ctx context.Context, e domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

// Events returns every appended event, in append order.
func (m *MockAuditSink) Events() []domain.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// CountByKind returns how many recorded events carry the given kind.
func (m *MockAuditSink) CountByKind(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

var _ domain.AuditSink = (*MockAuditSink)(nil)

// MockBlobStore is an in-memory domain.BlobStore, used in place of the S3-
// backed blobstore.DomainAdapter wherever a test only needs the put/get
// contract, not a real bucket.
type MockBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{blobs: map[string][]byte{}}
}

func (m *MockBlobStore) Put(ctx context.Context, hash string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[hash] = append([]byte(nil), data...)
	return nil
}

func (m *MockBlobStore) Get(ctx context.Context, hash string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[hash]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

var _ domain.BlobStore = (*MockBlobStore)(nil)
