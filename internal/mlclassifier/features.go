// Package mlclassifier implements MLClassifier (spec.md §4.5): multi-class
// account prediction with calibrated probabilities. Feature extraction
// follows the field list in spec.md §4.5 (description n-grams, counterparty,
// amount bucket, day-of-week; no MCC feature is produced); the dense-vector plumbing follows the
// teacher's internal/modules/optimization/mv_optimizer.go use of gonum.
package mlclassifier

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// FeatureVector is a sparse bag of named features with weight 1.0 per
// occurrence, projected onto a dense vector by Vocabulary.Dense.
type FeatureVector map[string]float64

// Extract builds the feature bag for one transaction: character and word
// n-grams of the description, the normalized counterparty as a token,
// a log-spaced amount bucket, and day-of-week. No MCC feature is extracted.
func Extract(txn domain.Transaction) FeatureVector {
	fv := FeatureVector{}

	desc := strings.ToLower(txn.DescriptionRaw)
	for _, tok := range strings.Fields(desc) {
		fv["word:"+tok]++
	}
	for _, gram := range charNGrams(desc, 3) {
		fv["cgram:"+gram]++
	}

	if txn.CounterpartyNorm != "" {
		fv["cp:"+txn.CounterpartyNorm] = 1
	}

	fv["amtbucket:"+amountBucket(txn.AmountMinor)] = 1
	fv["dow:"+txn.PostedAt.Weekday().String()] = 1

	return fv
}

// charNGrams returns the set of n-character substrings of s (deduplicated),
// skipping strings shorter than n.
func charNGrams(s string, n int) []string {
	r := []rune(s)
	if len(r) < n {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for i := 0; i+n <= len(r); i++ {
		g := string(r[i : i+n])
		if _, ok := seen[g]; !ok {
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

// amountBucket maps |amount_minor| to a log-spaced bucket label, per
// spec.md §4.5 ("amount bucketed to log-spaced bins").
func amountBucket(amountMinor int64) string {
	abs := amountMinor
	if abs < 0 {
		abs = -abs
	}
	if abs == 0 {
		return "0"
	}
	bucket := int(math.Floor(math.Log10(float64(abs))))
	return strconv.Itoa(bucket)
}

// Vocabulary maps feature names to a stable dense-vector index, built once
// at training time and reused at inference time.
type Vocabulary struct {
	index map[string]int
	names []string
}

// BuildVocabulary collects every distinct feature name across a training
// set of feature bags, sorted for determinism.
func BuildVocabulary(bags []FeatureVector) *Vocabulary {
	set := map[string]struct{}{}
	for _, fv := range bags {
		for k := range fv {
			set[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)

	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return &Vocabulary{index: idx, names: names}
}

// vocabularyFromNames rebuilds a Vocabulary from an already-ordered name
// list, used by Snapshot restore where the order was fixed at training time
// rather than rederived from a training set.
func vocabularyFromNames(names []string) *Vocabulary {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return &Vocabulary{index: idx, names: append([]string(nil), names...)}
}

// Len returns the dense-vector width.
func (v *Vocabulary) Len() int { return len(v.names) }

// Dense projects a feature bag onto the vocabulary's dense vector space;
// unknown features are dropped.
func (v *Vocabulary) Dense(fv FeatureVector) []float64 {
	out := make([]float64, len(v.names))
	for k, val := range fv {
		if i, ok := v.index[k]; ok {
			out[i] = val
		}
	}
	return out
}
