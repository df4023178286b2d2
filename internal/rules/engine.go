// Package rules implements RuleEngine (spec.md §4.3): stateless,
// priority-ordered pattern matching over a RuleVersion. Functions here are
// pure and safe for concurrent use across transactions, in the small
// clamped-helper-function style of the teacher's internal/evaluation/scoring.go.
package rules

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// Match is the outcome of evaluating a RuleVersion against one transaction.
type Match struct {
	AccountCode string
	RuleID      string
	MatchType   domain.MatchType
	Pattern     string
}

// EvalResult carries the (possibly absent) match plus any conflict found
// among equal-priority rules, per spec.md §4.8 step 7.
type EvalResult struct {
	Match    *Match
	Conflict bool // two rules matched different accounts at the same, highest-matching priority
}

// Evaluate runs every rule in rv in priority order (lower number = higher
// priority, first match wins) and returns the winning match, if any, along
// with whether a same-priority conflict was detected. Evaluate never
// mutates rv or txn.
func Evaluate(txn domain.Transaction, rv domain.RuleVersion) EvalResult {
	ordered := make([]domain.RuleDefinition, len(rv.Rules))
	copy(ordered, rv.Rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var winner *Match
	winningPriority := 0
	conflict := false

	for _, rule := range ordered {
		if winner != nil && rule.Priority != winningPriority {
			// All rules at the winning priority have been considered.
			break
		}
		if !matches(txn, rule) {
			continue
		}
		m := &Match{AccountCode: rule.AccountCode, RuleID: rule.ID, MatchType: rule.MatchType, Pattern: rule.Pattern}
		if winner == nil {
			winner = m
			winningPriority = rule.Priority
			continue
		}
		if winner.AccountCode != m.AccountCode {
			conflict = true
		}
	}

	return EvalResult{Match: winner, Conflict: conflict}
}

// Score returns the blender-facing score for a rule evaluation: 1.0 if
// matched (rules are deterministic), else 0.0.
func Score(r EvalResult) float64 {
	if r.Match != nil {
		return 1.0
	}
	return 0.0
}

func matches(txn domain.Transaction, rule domain.RuleDefinition) bool {
	switch rule.MatchType {
	case domain.MatchExact:
		return strings.EqualFold(txn.CounterpartyNorm, rule.Pattern)
	case domain.MatchMemoSubstring:
		return strings.Contains(strings.ToLower(txn.DescriptionRaw), strings.ToLower(rule.Pattern))
	case domain.MatchRegex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(txn.CounterpartyNorm) || re.MatchString(txn.DescriptionRaw)
	case domain.MatchMCC:
		// MCC is carried in SourceRowRef-adjacent ingestion metadata in this
		// core's scope; without a dedicated MCC field the match degrades to
		// a literal comparison against the description (MCC codes are
		// sometimes embedded in memo text by banks).
		return strings.Contains(txn.DescriptionRaw, rule.Pattern)
	default:
		return false
	}
}
