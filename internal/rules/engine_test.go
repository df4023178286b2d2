package rules

import (
	"testing"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/stretchr/testify/assert"
)

func txnWith(counterpartyNorm, description string) domain.Transaction {
	return domain.Transaction{CounterpartyNorm: counterpartyNorm, DescriptionRaw: description}
}

func TestEvaluateExactMatch(t *testing.T) {
	rv := domain.RuleVersion{Rules: []domain.RuleDefinition{
		{ID: "r1", MatchType: domain.MatchExact, Pattern: "amazon", AccountCode: "6100", Priority: 1},
	}}
	res := Evaluate(txnWith("amazon", "AMZN Mktp US*RT5WQ9"), rv)
	assert.NotNil(t, res.Match)
	assert.Equal(t, "6100", res.Match.AccountCode)
	assert.Equal(t, "r1", res.Match.RuleID)
	assert.False(t, res.Conflict)
	assert.Equal(t, 1.0, Score(res))
}

func TestEvaluateNoMatch(t *testing.T) {
	rv := domain.RuleVersion{Rules: []domain.RuleDefinition{
		{ID: "r1", MatchType: domain.MatchExact, Pattern: "amazon", AccountCode: "6100", Priority: 1},
	}}
	res := Evaluate(txnWith("walmart", "WALMART STORE"), rv)
	assert.Nil(t, res.Match)
	assert.Equal(t, 0.0, Score(res))
}

func TestEvaluatePriorityOrderFirstMatchWins(t *testing.T) {
	rv := domain.RuleVersion{Rules: []domain.RuleDefinition{
		{ID: "low", MatchType: domain.MatchExact, Pattern: "amazon", AccountCode: "6200", Priority: 2},
		{ID: "high", MatchType: domain.MatchExact, Pattern: "amazon", AccountCode: "6100", Priority: 1},
	}}
	res := Evaluate(txnWith("amazon", ""), rv)
	assert.Equal(t, "high", res.Match.RuleID)
	assert.Equal(t, "6100", res.Match.AccountCode)
	assert.False(t, res.Conflict)
}

func TestEvaluateConflictAtEqualPriority(t *testing.T) {
	rv := domain.RuleVersion{Rules: []domain.RuleDefinition{
		{ID: "a", MatchType: domain.MatchExact, Pattern: "amazon", AccountCode: "6100", Priority: 1},
		{ID: "b", MatchType: domain.MatchExact, Pattern: "amazon", AccountCode: "6300", Priority: 1},
	}}
	res := Evaluate(txnWith("amazon", ""), rv)
	assert.True(t, res.Conflict)
	assert.NotNil(t, res.Match) // blender still receives a candidate per spec.md §8 S4
}

func TestEvaluateMemoSubstring(t *testing.T) {
	rv := domain.RuleVersion{Rules: []domain.RuleDefinition{
		{ID: "r1", MatchType: domain.MatchMemoSubstring, Pattern: "payroll", AccountCode: "7000", Priority: 1},
	}}
	res := Evaluate(txnWith("acme corp", "ACME CORP PAYROLL DEPOSIT"), rv)
	assert.Equal(t, "7000", res.Match.AccountCode)
}

func TestEvaluateIsConcurrencySafe(t *testing.T) {
	rv := domain.RuleVersion{Rules: []domain.RuleDefinition{
		{ID: "r1", MatchType: domain.MatchExact, Pattern: "amazon", AccountCode: "6100", Priority: 1},
	}}
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			Evaluate(txnWith("amazon", ""), rv)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}
