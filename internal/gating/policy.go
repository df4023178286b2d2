// Package gating implements GatingPolicy (spec.md §4.8): the seven-step
// routing algorithm that decides auto_post vs review before JEBuilder
// commits. Anomaly banding reuses gonum/stat's quantile estimator, the
// same dependency the teacher's internal/modules/optimization package
// relies on for distribution statistics.
package gating

import (
	"math"
	"sort"

	"github.com/ledgerwell/decisioning/internal/domain"
	"gonum.org/v1/gonum/stat"
)

const (
	RouteAutoPost = "auto_post"
	RouteReview   = "review"
)

// Input bundles everything GatingPolicy's algorithm needs, gathered from
// upstream signals before JEBuilder commits a candidate JE.
type Input struct {
	RuleMatched  bool
	RuleAccount  string
	BlendAccount string

	CalibratedP    float64
	HasCalibratedP bool
	Threshold      float64

	// ColdStartConfirmations lists the most-recent confirmed account codes
	// for this vendor_norm, most-recent-first.
	ColdStartConfirmations []string
	ColdStartMin           int

	JEBalanced bool

	LLMRequired bool // preliminary score fell in the uncertain band
	LLMDegraded bool // LLM score was 0 due to budget/timeout

	RuleConflict bool

	AmountMinor           int64
	SameAccountAmounts    []int64 // historical |amount_minor| for BlendAccount
	AnomalyMADMultiplier  float64 // k, default 6
	AnomalyBlocksAutopost bool
}

// Result is the routing decision.
type Result struct {
	Route  string
	Reason domain.NotAutoPostReason
}

// Decide runs the seven-step algorithm of spec.md §4.8 in order, recording
// the first applicable reason (anomaly is informational per step 6 and
// only blocks when AnomalyBlocksAutopost is set).
func Decide(in Input) Result {
	ruleAuthoritative := in.RuleMatched && in.RuleAccount != "" && in.RuleAccount == in.BlendAccount

	if !ruleAuthoritative {
		if !in.HasCalibratedP || in.CalibratedP < in.Threshold {
			return Result{Route: RouteReview, Reason: domain.ReasonBelowThreshold}
		}
	}

	if coldStart(in.ColdStartConfirmations, in.BlendAccount, in.ColdStartMin) {
		return Result{Route: RouteReview, Reason: domain.ReasonColdStart}
	}

	if !in.JEBalanced {
		return Result{Route: RouteReview, Reason: domain.ReasonImbalance}
	}

	if in.LLMRequired && in.LLMDegraded && !in.RuleMatched {
		return Result{Route: RouteReview, Reason: domain.ReasonBudgetFallback}
	}

	anomalous := isAnomalous(in.AmountMinor, in.SameAccountAmounts, in.AnomalyMADMultiplier)
	if anomalous && in.AnomalyBlocksAutopost {
		return Result{Route: RouteReview, Reason: domain.ReasonAnomaly}
	}

	if in.RuleConflict {
		return Result{Route: RouteReview, Reason: domain.ReasonRuleConflict}
	}

	if anomalous {
		// Informational per spec.md §4.8 step 6: doesn't block when other
		// gates pass and the tenant hasn't opted into strict mode, but the
		// reason is still worth recording for audit.
		return Result{Route: RouteAutoPost, Reason: domain.ReasonAnomaly}
	}

	return Result{Route: RouteAutoPost, Reason: domain.ReasonNone}
}

// coldStart reports whether fewer than min of the most recent confirmations
// map to account, or there are fewer than min confirmations at all.
func coldStart(confirmations []string, account string, min int) bool {
	if min <= 0 {
		min = 3
	}
	if len(confirmations) < min {
		return true
	}
	for _, a := range confirmations[:min] {
		if a != account {
			return true
		}
	}
	return false
}

// isAnomalous reports whether amountMinor falls outside a robust z-score
// band (median ± k*MAD) computed from historical same-account amounts, per
// spec.md §4.8 step 6. Fewer than 3 historical points is too little signal
// to judge, so it reports false.
func isAnomalous(amountMinor int64, history []int64, k float64) bool {
	if len(history) < 3 {
		return false
	}
	if k <= 0 {
		k = 6
	}

	abs := make([]float64, len(history))
	for i, h := range history {
		v := float64(h)
		if v < 0 {
			v = -v
		}
		abs[i] = v
	}
	sort.Float64s(abs)
	median := stat.Quantile(0.5, stat.Empirical, abs, nil)

	deviations := make([]float64, len(abs))
	for i, v := range abs {
		deviations[i] = math.Abs(v - median)
	}
	sort.Float64s(deviations)
	mad := stat.Quantile(0.5, stat.Empirical, deviations, nil)
	if mad == 0 {
		return false
	}

	amt := float64(amountMinor)
	if amt < 0 {
		amt = -amt
	}
	z := math.Abs(amt-median) / mad
	return z > k
}
