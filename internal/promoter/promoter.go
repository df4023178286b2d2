// Package promoter implements AdaptiveRulePromoter (spec.md §4.11): Welford
// aggregation of recurring human corrections into promotion-ready
// candidates, versioned RuleVersion publication, and dry-run impact
// analysis. The atomic current-version pointer follows the teacher's
// mutex-guarded mutable-state idiom from internal/queue/scheduler.go.
package promoter

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/rules"
	"github.com/vmihailenco/msgpack/v5"
)

// Policy holds the promotion thresholds of spec.md §4.11.
type Policy struct {
	MinObs  int
	MinConf float64
	MaxVar  float64
}

// DefaultPolicy matches spec.md §4.11's defaults.
func DefaultPolicy() Policy {
	return Policy{MinObs: 3, MinConf: 0.85, MaxVar: 0.08}
}

// UpdateCandidate folds one new observation into c using Welford's online
// algorithm, in O(1) space regardless of history length. This is a
// value-returning update (no shared mutable state); callers serialize
// concurrent updates to the same (vendor_norm, account) pair themselves,
// per spec.md §5's single-writer-per-candidate requirement.
func UpdateCandidate(c domain.RuleCandidate, evidence domain.EvidenceEntry) domain.RuleCandidate {
	c.ObsCount++
	delta := evidence.Confidence - c.MeanConf
	c.MeanConf += delta / float64(c.ObsCount)
	delta2 := evidence.Confidence - c.MeanConf
	c.M2 += delta * delta2
	c.Variance = c.M2 / float64(c.ObsCount)
	c.LastSeen = evidence.ObservedAt
	c.EvidenceHistory = append(c.EvidenceHistory, evidence)
	return c
}

// ReadyToPromote reports whether c satisfies all three promotion
// thresholds of spec.md §4.11 simultaneously.
func ReadyToPromote(c domain.RuleCandidate, p Policy) bool {
	return c.ObsCount >= int64(p.MinObs) && c.MeanConf >= p.MinConf && c.Variance <= p.MaxVar
}

// Promote builds a new RuleVersion derived from current, adding a rule
// `{match_type=exact, pattern=vendor_norm, account_code=suggested}`. If an
// existing rule already matches the same pattern, the new rule is given a
// higher priority (lower number sorts first in internal/rules.Evaluate) so
// it takes precedence, and the old rule is retained unmodified for audit.
func Promote(current domain.RuleVersion, candidate domain.RuleCandidate, author string) domain.RuleVersion {
	newRules := append([]domain.RuleDefinition(nil), current.Rules...)

	minPriority := 0
	for _, r := range newRules {
		if r.Priority < minPriority {
			minPriority = r.Priority
		}
	}
	derived := domain.RuleDefinition{
		ID:          "promoted-" + candidate.VendorNorm,
		MatchType:   domain.MatchExact,
		Pattern:     candidate.VendorNorm,
		AccountCode: candidate.SuggestedAccount,
		Priority:    minPriority - 1,
		Author:      author,
		Source:      domain.SourcePromoted,
	}
	newRules = append(newRules, derived)

	return domain.RuleVersion{
		TenantID:       current.TenantID,
		Rules:          newRules,
		CreatedAt:      evidenceTime(candidate),
		Author:         author,
		Notes:          "promoted from candidate " + candidate.VendorNorm + " -> " + candidate.SuggestedAccount,
		ParentVersionID: current.VersionID,
	}
}

func evidenceTime(c domain.RuleCandidate) time.Time {
	if !c.LastSeen.IsZero() {
		return c.LastSeen
	}
	return time.Time{}
}

// Rollback builds a new RuleVersion whose rules equal those of target,
// pointing to current as its parent, with an explicit audit note — per
// spec.md §4.11, rollback is itself a new version, never an in-place edit.
func Rollback(current, target domain.RuleVersion, note string) domain.RuleVersion {
	return domain.RuleVersion{
		TenantID:        current.TenantID,
		Rules:           append([]domain.RuleDefinition(nil), target.Rules...),
		Author:          target.Author,
		Notes:           note,
		ParentVersionID: current.VersionID,
	}
}

// ContentHash deterministically serializes a RuleVersion's rule set via
// msgpack (stable field order, no map-iteration nondeterminism for a slice
// payload) and returns its SHA-256 hex digest, for content-addressed
// storage and change detection.
func ContentHash(rv domain.RuleVersion) (string, error) {
	payload, err := msgpack.Marshal(rv.Rules)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// CurrentVersion is an atomically-swapped pointer to the active
// RuleVersion. Readers call Load without blocking writers; Store is the
// only mutation, guarded by a mutex exactly like the teacher's
// internal/queue/scheduler.go guards its deploymentInterval field.
type CurrentVersion struct {
	mu sync.RWMutex
	rv *domain.RuleVersion
}

// Load returns the currently published version, or nil if none has been
// published yet.
func (c *CurrentVersion) Load() *domain.RuleVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rv
}

// Store publishes a new version atomically: readers observe either the old
// or the new complete RuleVersion, never a partial one.
func (c *CurrentVersion) Store(rv domain.RuleVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rv = &rv
}

// ImpactReport is the outcome of a dry-run promotion: how many more (or
// fewer) transactions in the sample would auto-postable-route, and which
// specific transactions would change account.
type ImpactReport struct {
	AutoPostableOld  int
	AutoPostableNew  int
	AutomationDelta  int
	Reclassified     []string // txn_ids whose matched account changed
	ReclassifiedPct  float64
	ExceedsThreshold bool
}

// DryRunImpact evaluates a proposed rule version against a sample of
// recent transactions without publishing it, per spec.md §4.11. A
// transaction counts as auto-postable for this analysis if some rule in
// the version matches it (GatingPolicy's other gates are out of scope for
// this counterfactual).
func DryRunImpact(oldVersion, newVersion domain.RuleVersion, sample []domain.Transaction, reclassifyThresholdPct float64) ImpactReport {
	if reclassifyThresholdPct <= 0 {
		reclassifyThresholdPct = 0.005
	}

	var report ImpactReport
	for _, txn := range sample {
		oldRes := rules.Evaluate(txn, oldVersion)
		newRes := rules.Evaluate(txn, newVersion)

		if oldRes.Match != nil {
			report.AutoPostableOld++
		}
		if newRes.Match != nil {
			report.AutoPostableNew++
		}

		oldAccount := ""
		if oldRes.Match != nil {
			oldAccount = oldRes.Match.AccountCode
		}
		newAccount := ""
		if newRes.Match != nil {
			newAccount = newRes.Match.AccountCode
		}
		if oldAccount != "" && newAccount != "" && oldAccount != newAccount {
			report.Reclassified = append(report.Reclassified, txn.TxnID)
		}
	}

	report.AutomationDelta = report.AutoPostableNew - report.AutoPostableOld
	if len(sample) > 0 {
		report.ReclassifiedPct = float64(len(report.Reclassified)) / float64(len(sample))
	}
	report.ExceedsThreshold = report.ReclassifiedPct > reclassifyThresholdPct
	return report
}
