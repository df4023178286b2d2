// Package llmadjudicator implements LLMAdjudicator (spec.md §4.6): a
// budget-and-deadline guarded call to the sole LLMClient collaborator,
// invoked only in the uncertain band. Deadline handling follows the
// context.WithTimeout idiom used for the teacher's websocket dial/write
// paths in internal/clients/tradernet/websocket_client.go.
package llmadjudicator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/rs/zerolog"
)

// Reason annotates why the LLM signal is degraded or absent, mirroring the
// closed NotAutoPostReason vocabulary's style in internal/domain.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonBudgetExhausted Reason = "budget_fallback"
	ReasonTimeout         Reason = "llm_timeout"
	ReasonNotInvoked      Reason = "not_invoked"
)

// Outcome is the LLM signal delivered to the blender.
type Outcome struct {
	Invoked   bool
	Response  domain.LLMResponse
	Reason    Reason
	Err       error
}

// Budget tracks per-tenant and global call counts for one accounting period
// (a calendar day in production; callers reset it on rollover). Increments
// are atomic check-before-debit, per spec.md §5: a small over-spend under
// concurrent callers is accepted in exchange for a lock-free path.
type Budget struct {
	tenantCap   int64
	globalCap   int64
	tenantSpent int64
	globalSpent int64
}

// NewBudget builds a Budget bound to the given tenant and global daily caps.
func NewBudget(tenantCap, globalCap int64) *Budget {
	return &Budget{tenantCap: tenantCap, globalCap: globalCap}
}

// tryDebit attempts to reserve one call against both ledgers. It is not
// perfectly atomic across the two counters (a concurrent caller could slip
// between the two checks), which is the accepted slack spec.md §5 calls out.
func (b *Budget) tryDebit() bool {
	if atomic.AddInt64(&b.globalSpent, 1) > b.globalCap {
		atomic.AddInt64(&b.globalSpent, -1)
		return false
	}
	if atomic.AddInt64(&b.tenantSpent, 1) > b.tenantCap {
		atomic.AddInt64(&b.tenantSpent, -1)
		atomic.AddInt64(&b.globalSpent, -1)
		return false
	}
	return true
}

// Reset zeroes both counters; called by the caller's daily rollover.
func (b *Budget) Reset() {
	atomic.StoreInt64(&b.tenantSpent, 0)
	atomic.StoreInt64(&b.globalSpent, 0)
}

// Adjudicator gates and executes LLM calls.
type Adjudicator struct {
	client   domain.LLMClient
	budget   *Budget
	deadline time.Duration
	bandLow  float64
	bandHigh float64
	log      zerolog.Logger
}

// New builds an Adjudicator. deadline defaults to 10s, band to [0.60,0.85]
// when zero-valued, matching spec.md §4.6 defaults.
func New(client domain.LLMClient, budget *Budget, deadline time.Duration, bandLow, bandHigh float64, log zerolog.Logger) *Adjudicator {
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	if bandLow <= 0 && bandHigh <= 0 {
		bandLow, bandHigh = 0.60, 0.85
	}
	return &Adjudicator{client: client, budget: budget, deadline: deadline, bandLow: bandLow, bandHigh: bandHigh, log: log}
}

// InBand reports whether a preliminary score (the best upstream signal
// before the LLM is consulted) falls in the uncertain band that requires
// LLM adjudication.
func (a *Adjudicator) InBand(score float64) bool {
	return score >= a.bandLow && score <= a.bandHigh
}

// Adjudicate calls the LLM if ctx and budget allow, never blocking past the
// configured deadline and never returning an error out of the pipeline —
// every failure mode degrades to a zero-score Outcome with a Reason.
func (a *Adjudicator) Adjudicate(ctx context.Context, req domain.LLMRequest) Outcome {
	if !a.budget.tryDebit() {
		a.log.Debug().Str("txn_id", req.TxnID).Msg("llm budget exhausted, degrading to zero score")
		return Outcome{Invoked: false, Reason: ReasonBudgetExhausted}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()
	deadline := time.Now().Add(a.deadline)

	resp, err := a.client.Complete(callCtx, req, deadline)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			a.log.Warn().Str("txn_id", req.TxnID).Msg("llm call timed out")
			return Outcome{Invoked: true, Reason: ReasonTimeout, Err: err}
		}
		a.log.Warn().Err(err).Str("txn_id", req.TxnID).Msg("llm call failed")
		return Outcome{Invoked: true, Reason: ReasonTimeout, Err: err}
	}

	return Outcome{Invoked: true, Response: resp, Reason: ReasonNone}
}

// Guard enforces spec.md §4.6's safety rule: the LLM can never override a
// successful deterministic rule match for the same account. Call this
// before letting an Outcome reach the blender when a rule already matched.
func Guard(ruleMatched bool, ruleAccount string, outcome Outcome) Outcome {
	if ruleMatched && outcome.Invoked && outcome.Response.AccountCode != ruleAccount {
		outcome.Response = domain.LLMResponse{}
		outcome.Reason = ReasonNone
	}
	return outcome
}
