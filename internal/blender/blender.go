// Package blender implements DecisionBlender (spec.md §4.7): weighted
// fusion of the rule, ML, and LLM signals into a single account decision.
// Weight constants follow the teacher's
// internal/evaluation/scoring.go style (named weight constants that must
// sum to 1.0, validated once at startup rather than per call).
package blender

import (
	"fmt"
	"sort"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// Default signal weights, validated by Validate to sum to 1.0 per
// spec.md §4.7. Callers may override via Weights and still must pass
// Validate before use.
const (
	DefaultWeightRules = 0.50
	DefaultWeightML    = 0.30
	DefaultWeightLLM   = 0.20
)

// Weights holds the three signal weights. They must sum to 1.0.
type Weights struct {
	Rules float64
	ML    float64
	LLM   float64
}

// DefaultWeights returns the spec's default weighting.
func DefaultWeights() Weights {
	return Weights{Rules: DefaultWeightRules, ML: DefaultWeightML, LLM: DefaultWeightLLM}
}

// Validate checks the weights sum to 1.0 within floating-point tolerance
// and are each within [0,1], per spec.md §4.7 ("validated at startup").
func (w Weights) Validate() error {
	const eps = 1e-6
	if w.Rules < 0 || w.Rules > 1 || w.ML < 0 || w.ML > 1 || w.LLM < 0 || w.LLM > 1 {
		return fmt.Errorf("blender: weights must each be in [0,1], got %+v", w)
	}
	sum := w.Rules + w.ML + w.LLM
	if diff := sum - 1.0; diff > eps || diff < -eps {
		return fmt.Errorf("blender: weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// SignalScore is one signal's candidate account and score.
type SignalScore struct {
	AccountCode string
	Score       float64
	Present     bool // false when the signal produced no candidate at all
}

// Inputs bundles the three upstream signals for one transaction.
type Inputs struct {
	Rules SignalScore
	ML    SignalScore
	LLM   SignalScore
}

// PerSignalTrace records each signal's contribution for decision_trace,
// per spec.md §4.7 ("Emits a full per-signal trace into the decision").
type PerSignalTrace struct {
	Rules SignalScore
	ML    SignalScore
	LLM   SignalScore
}

// Decision is the blended outcome: the winning account, its blend score,
// and the full per-signal trace.
type Decision struct {
	AccountCode string
	BlendScore  float64
	Trace       PerSignalTrace
}

// Blend fuses the three signals per spec.md §4.7: for each distinct account
// suggested by any signal, sum weight*score over signals naming that
// account; the winner is the argmax, ties broken first by the weight of
// the tying signal (highest wins) and then by lowest account code string.
func Blend(w Weights, in Inputs) Decision {
	type contribution struct {
		weight float64
		score  float64
	}
	perAccount := map[string][]contribution{}

	add := func(s SignalScore, weight float64) {
		if !s.Present || s.AccountCode == "" {
			return
		}
		perAccount[s.AccountCode] = append(perAccount[s.AccountCode], contribution{weight: weight, score: s.Score})
	}
	add(in.Rules, w.Rules)
	add(in.ML, w.ML)
	add(in.LLM, w.LLM)

	accounts := make([]string, 0, len(perAccount))
	for a := range perAccount {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	bestAccount := ""
	bestBlend := -1.0
	bestTopWeight := -1.0
	for _, a := range accounts {
		var blend, topWeight float64
		for _, c := range perAccount[a] {
			blend += c.weight * c.score
			if c.weight > topWeight {
				topWeight = c.weight
			}
		}
		switch {
		case blend > bestBlend:
			bestAccount, bestBlend, bestTopWeight = a, blend, topWeight
		case blend == bestBlend && topWeight > bestTopWeight:
			// Tie-break 1: prefer the account whose highest-weighted
			// contributing signal outranks the current best's.
			bestAccount, bestBlend, bestTopWeight = a, blend, topWeight
		}
		// Tie-break 2 (lowest account code string) falls out naturally
		// because accounts are iterated in sorted order and only a
		// strictly greater topWeight displaces the incumbent.
	}

	return Decision{
		AccountCode: bestAccount,
		BlendScore:  bestBlend,
		Trace:       PerSignalTrace{Rules: in.Rules, ML: in.ML, LLM: in.LLM},
	}
}

// ToDecisionTrace projects a Decision into the fixed-variant trace entries
// consumed by domain.DecisionTrace, given the supporting rule/ML/LLM
// metadata JEBuilder needs to populate domain.RuleTraceData/MLTraceData/
// LLMTraceData.
func ToDecisionTrace(rule *domain.RuleTraceData, ml *domain.MLTraceData, llm *domain.LLMTraceData) []domain.TraceEntry {
	var entries []domain.TraceEntry
	if rule != nil {
		entries = append(entries, domain.TraceEntry{Kind: domain.SignalRule, Rule: rule})
	}
	if ml != nil {
		entries = append(entries, domain.TraceEntry{Kind: domain.SignalML, ML: ml})
	}
	if llm != nil {
		entries = append(entries, domain.TraceEntry{Kind: domain.SignalLLM, LLM: llm})
	}
	return entries
}
