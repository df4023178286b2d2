package gating

import (
	"testing"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/stretchr/testify/assert"
)

func baseInput() Input {
	return Input{
		RuleMatched:            false,
		BlendAccount:           "6100",
		CalibratedP:            0.95,
		HasCalibratedP:         true,
		Threshold:              0.90,
		ColdStartConfirmations: []string{"6100", "6100", "6100", "6100"},
		ColdStartMin:           3,
		JEBalanced:             true,
		AnomalyMADMultiplier:   6,
	}
}

func TestDecideAutoPostsWhenAllGatesPass(t *testing.T) {
	res := Decide(baseInput())
	assert.Equal(t, RouteAutoPost, res.Route)
	assert.Equal(t, domain.ReasonNone, res.Reason)
}

func TestDecideBelowThreshold(t *testing.T) {
	in := baseInput()
	in.CalibratedP = 0.5
	res := Decide(in)
	assert.Equal(t, RouteReview, res.Route)
	assert.Equal(t, domain.ReasonBelowThreshold, res.Reason)
}

func TestDecideRuleAuthoritativeBypassesThreshold(t *testing.T) {
	in := baseInput()
	in.RuleMatched = true
	in.RuleAccount = "6100"
	in.BlendAccount = "6100"
	in.HasCalibratedP = false
	res := Decide(in)
	assert.Equal(t, RouteAutoPost, res.Route)
}

func TestDecideColdStartInsufficientHistory(t *testing.T) {
	in := baseInput()
	in.ColdStartConfirmations = []string{"6100", "6100"}
	res := Decide(in)
	assert.Equal(t, RouteReview, res.Route)
	assert.Equal(t, domain.ReasonColdStart, res.Reason)
}

func TestDecideColdStartInconsistentHistory(t *testing.T) {
	in := baseInput()
	in.BlendAccount = "6100"
	in.ColdStartConfirmations = []string{"6100", "6300", "6100", "6100"}
	res := Decide(in)
	assert.Equal(t, RouteReview, res.Route)
	assert.Equal(t, domain.ReasonColdStart, res.Reason)
}

func TestDecideImbalance(t *testing.T) {
	in := baseInput()
	in.JEBalanced = false
	res := Decide(in)
	assert.Equal(t, RouteReview, res.Route)
	assert.Equal(t, domain.ReasonImbalance, res.Reason)
}

func TestDecideBudgetFallback(t *testing.T) {
	in := baseInput()
	in.LLMRequired = true
	in.LLMDegraded = true
	res := Decide(in)
	assert.Equal(t, RouteReview, res.Route)
	assert.Equal(t, domain.ReasonBudgetFallback, res.Reason)
}

func TestDecideBudgetFallbackSuppressedWhenRuleMatched(t *testing.T) {
	in := baseInput()
	in.RuleMatched = true
	in.RuleAccount = "6100"
	in.BlendAccount = "6100"
	in.LLMRequired = true
	in.LLMDegraded = true
	res := Decide(in)
	assert.Equal(t, RouteAutoPost, res.Route)
}

func TestDecideRuleConflict(t *testing.T) {
	in := baseInput()
	in.RuleConflict = true
	res := Decide(in)
	assert.Equal(t, RouteReview, res.Route)
	assert.Equal(t, domain.ReasonRuleConflict, res.Reason)
}

func TestDecideAnomalyBlocksWhenStrict(t *testing.T) {
	in := baseInput()
	in.AmountMinor = 100000
	in.SameAccountAmounts = []int64{100, 105, 98, 102}
	in.AnomalyBlocksAutopost = true
	res := Decide(in)
	assert.Equal(t, RouteReview, res.Route)
	assert.Equal(t, domain.ReasonAnomaly, res.Reason)
}

func TestDecideAnomalyInformationalWhenNotStrict(t *testing.T) {
	in := baseInput()
	in.AmountMinor = 100000
	in.SameAccountAmounts = []int64{100, 105, 98, 102}
	in.AnomalyBlocksAutopost = false
	res := Decide(in)
	assert.Equal(t, RouteAutoPost, res.Route)
	assert.Equal(t, domain.ReasonAnomaly, res.Reason)
}

func TestDecideNotAnomalousWithTooLittleHistory(t *testing.T) {
	in := baseInput()
	in.AmountMinor = 100000
	in.SameAccountAmounts = []int64{100, 105}
	in.AnomalyBlocksAutopost = true
	res := Decide(in)
	assert.Equal(t, RouteAutoPost, res.Route)
}

func TestIsAnomalousWithinBandIsFalse(t *testing.T) {
	assert.False(t, isAnomalous(103, []int64{100, 101, 102, 103, 104, 105}, 6))
}
