// Package embedmemory implements EmbeddingMemory (spec.md §4.4): cosine
// top-k retrieval over historical (vendor_norm, account_code, vector)
// mappings. Vector math follows the teacher's
// internal/modules/optimization/mv_optimizer.go use of gonum.org/v1/gonum/mat.
package embedmemory

import (
	"context"
	"sort"

	"github.com/ledgerwell/decisioning/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// Result is the retrieval outcome for the blender: the best account and a
// normalized weighted-vote score, or a zero score if nothing qualifies.
type Result struct {
	AccountCode string
	Score       float64
}

// Reader is the narrow slice of domain.Store this package needs, so tests
// can fake exactly one method instead of the whole Store interface.
type Reader interface {
	ListEmbeddingRecords(ctx context.Context, tenant domain.TenantID, vendorNorm string) ([]domain.EmbeddingMemoryRecord, error)
}

// Memory retrieves historical embedding mappings and scores a candidate
// transaction against them.
type Memory struct {
	store    Reader
	embedder domain.EmbeddingClient
	topK     int
	simFloor float64
}

// New builds a Memory. topK defaults to 5 and simFloor to 0.75 when <= 0,
// matching spec.md §4.4 defaults.
func New(store Reader, embedder domain.EmbeddingClient, topK int, simFloor float64) *Memory {
	if topK <= 0 {
		topK = 5
	}
	if simFloor <= 0 {
		simFloor = 0.75
	}
	return &Memory{store: store, embedder: embedder, topK: topK, simFloor: simFloor}
}

// Retrieve scores descriptionNorm⊕vendorNorm against stored records for the
// same vendor. It never errors: an unavailable EmbeddingClient or no
// qualifying records both produce Result{Score: 0}, per spec.md §4.4.
func (m *Memory) Retrieve(ctx context.Context, tenant domain.TenantID, vendorNorm, descriptionNorm string) Result {
	records, err := m.store.ListEmbeddingRecords(ctx, tenant, vendorNorm)
	if err != nil || len(records) == 0 {
		return Result{}
	}

	query, err := m.embedder.Embed(ctx, descriptionNorm+" "+vendorNorm)
	if err != nil || len(query) == 0 {
		return Result{}
	}

	type scored struct {
		account string
		sim     float64
	}
	var candidates []scored
	for _, r := range records {
		if len(r.EmbeddingVector) != len(query) {
			continue
		}
		sim := cosineSimilarity(query, r.EmbeddingVector)
		candidates = append(candidates, scored{account: r.AccountCode, sim: sim})
	}
	if len(candidates) == 0 {
		return Result{}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if candidates[0].sim < m.simFloor {
		return Result{}
	}

	k := m.topK
	if k > len(candidates) {
		k = len(candidates)
	}
	top := candidates[:k]

	votes := map[string]float64{}
	var total float64
	for _, c := range top {
		votes[c.account] += c.sim
		total += c.sim
	}
	if total == 0 {
		return Result{}
	}

	bestAccount := ""
	bestVote := -1.0
	// Deterministic iteration: sort account keys so ties resolve the same
	// way on every call.
	accounts := make([]string, 0, len(votes))
	for a := range votes {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	for _, a := range accounts {
		v := votes[a] / total
		if v > bestVote {
			bestVote = v
			bestAccount = a
		}
	}

	return Result{AccountCode: bestAccount, Score: bestVote}
}

// cosineSimilarity computes cos(theta) between two equal-length vectors
// using gonum's dense vector type, mirroring the teacher's mat.VecDense
// usage for portfolio weight vectors.
func cosineSimilarity(a, b []float64) float64 {
	va := mat.NewVecDense(len(a), a)
	vb := mat.NewVecDense(len(b), b)

	dot := mat.Dot(va, vb)
	na := mat.Norm(va, 2)
	nb := mat.Norm(vb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}
