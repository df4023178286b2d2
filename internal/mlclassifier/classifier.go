package mlclassifier

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Distribution is a per-account probability distribution summing to 1.0.
type Distribution map[string]float64

// Argmax returns the highest-probability account and its raw probability,
// breaking ties on the lowest account code string (the same tie-break
// convention DecisionBlender applies, for consistency).
func (d Distribution) Argmax() (account string, p float64) {
	accounts := make([]string, 0, len(d))
	for a := range d {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	best := ""
	bestP := -1.0
	for _, a := range accounts {
		if d[a] > bestP {
			bestP = d[a]
			best = a
		}
	}
	return best, bestP
}

// Classifier is a linear multi-class model: one weight row per account over
// the shared feature vocabulary, softmax-normalized at inference time. This
// mirrors the teacher's dense-matrix idiom in
// internal/modules/optimization/mv_optimizer.go (gonum.org/v1/gonum/mat)
// applied to classification instead of portfolio weights.
type Classifier struct {
	mu sync.RWMutex

	ModelVersionID string
	Vocab          *Vocabulary
	Accounts       []string
	Weights        *mat.Dense // len(Accounts) x Vocab.Len()
}

// NewClassifier builds an untrained classifier skeleton over the given
// vocabulary and account set, with zero-initialized weights.
func NewClassifier(modelVersionID string, vocab *Vocabulary, accounts []string) *Classifier {
	sorted := append([]string(nil), accounts...)
	sort.Strings(sorted)
	return &Classifier{
		ModelVersionID: modelVersionID,
		Vocab:          vocab,
		Accounts:       sorted,
		Weights:        mat.NewDense(len(sorted), vocab.Len(), nil),
	}
}

// Predict returns the full probability distribution for one feature bag,
// via softmax over the linear scores w_a . x.
func (c *Classifier) Predict(fv FeatureVector) Distribution {
	c.mu.RLock()
	defer c.mu.RUnlock()

	x := mat.NewVecDense(c.Vocab.Len(), c.Vocab.Dense(fv))

	scores := make([]float64, len(c.Accounts))
	maxScore := math.Inf(-1)
	for i := range c.Accounts {
		row := c.Weights.RowView(i)
		s := mat.Dot(row, x)
		scores[i] = s
		if s > maxScore {
			maxScore = s
		}
	}

	var sum float64
	exp := make([]float64, len(scores))
	for i, s := range scores {
		e := math.Exp(s - maxScore)
		exp[i] = e
		sum += e
	}

	dist := make(Distribution, len(c.Accounts))
	for i, a := range c.Accounts {
		dist[a] = exp[i] / sum
	}
	return dist
}

// SetWeights overwrites the weight row for account (used by Train and by
// FromSnapshot); accounts not present in c.Accounts are ignored.
func (c *Classifier) SetWeights(account string, w []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.Accounts {
		if a == account {
			c.Weights.SetRow(i, w)
			return
		}
	}
}

// Swap atomically replaces this classifier's entire vocabulary, account
// set, weights, and model_version_id with another classifier's, so a
// production Classifier a live Engine holds a pointer to can be promoted to
// a newly retrained model without the Engine ever observing a partially
// updated one. The source is not itself locked; callers must not mutate it
// concurrently with Swap.
func (c *Classifier) Swap(next *Classifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ModelVersionID = next.ModelVersionID
	c.Vocab = next.Vocab
	c.Accounts = next.Accounts
	c.Weights = next.Weights
}
