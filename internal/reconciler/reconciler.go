// Package reconciler implements Reconciler (spec.md §4.10): matching
// confirmed-posted JournalEntries back to their source Transactions, with
// a canonical sort establishing deterministic tie order — the same
// sort.Slice-over-a-comparable-key idiom the teacher uses in
// internal/reliability/r2_backup_service.go's ListBackups.
package reconciler

import (
	"sort"
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// MatchType classifies how (or whether) a JE was matched to a transaction.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchHeuristic MatchType = "heuristic"
	MatchNone      MatchType = "none"
)

// Match is one JE's reconciliation outcome.
type Match struct {
	JEID      string
	TxnID     string // empty when MatchType == MatchNone
	MatchType MatchType
	Score     float64
}

// Report is the full reconciliation result for one batch.
type Report struct {
	Matches         []Match
	OrphanJEIDs     []string // posted JEs with no matching transaction
	UnmatchedTxnIDs []string // transactions with no matching JE
}

// Reconcile matches jes against txns per spec.md §4.10: exact match
// requires equal txn_id, posted_at, and |amount_minor|; heuristic match
// requires equal |amount_minor| and |posted_at diff| <= dateToleranceDays,
// with no other transaction in that window sharing the amount (otherwise
// left unmatched to avoid ambiguity). Inputs are sorted canonically by
// (posted_at, txn_id) first so ties resolve the same way on every call.
func Reconcile(jes []domain.JournalEntry, txns []domain.Transaction, dateToleranceDays int) Report {
	sortedJEs := append([]domain.JournalEntry(nil), jes...)
	sort.Slice(sortedJEs, func(i, j int) bool { return canonicalLess(sortedJEs[i].PostedAt, sortedJEs[i].TxnID, sortedJEs[j].PostedAt, sortedJEs[j].TxnID) })

	sortedTxns := append([]domain.Transaction(nil), txns...)
	sort.Slice(sortedTxns, func(i, j int) bool { return canonicalLess(sortedTxns[i].PostedAt, sortedTxns[i].TxnID, sortedTxns[j].PostedAt, sortedTxns[j].TxnID) })

	byTxnID := make(map[string]domain.Transaction, len(sortedTxns))
	for _, tx := range sortedTxns {
		byTxnID[tx.TxnID] = tx
	}

	matchedTxnIDs := make(map[string]bool, len(sortedTxns))
	report := Report{}

	for _, je := range sortedJEs {
		if tx, ok := byTxnID[je.TxnID]; ok && tx.PostedAt.Equal(je.PostedAt) && absInt64(tx.AmountMinor) == jeAmount(je) {
			report.Matches = append(report.Matches, Match{JEID: je.JEID, TxnID: tx.TxnID, MatchType: MatchExact, Score: 1.0})
			matchedTxnIDs[tx.TxnID] = true
			continue
		}

		candidates := heuristicCandidates(je, sortedTxns, dateToleranceDays)
		switch len(candidates) {
		case 1:
			tx := candidates[0]
			report.Matches = append(report.Matches, Match{JEID: je.JEID, TxnID: tx.TxnID, MatchType: MatchHeuristic, Score: heuristicScore(je, tx, dateToleranceDays)})
			matchedTxnIDs[tx.TxnID] = true
		default:
			report.Matches = append(report.Matches, Match{JEID: je.JEID, MatchType: MatchNone})
			report.OrphanJEIDs = append(report.OrphanJEIDs, je.JEID)
		}
	}

	for _, tx := range sortedTxns {
		if !matchedTxnIDs[tx.TxnID] {
			report.UnmatchedTxnIDs = append(report.UnmatchedTxnIDs, tx.TxnID)
		}
	}

	return report
}

// jeAmount sums a JE's debit-side amount, which equals its credit-side
// amount by the balance invariant, and is therefore the transaction amount
// magnitude to compare against.
func jeAmount(je domain.JournalEntry) int64 {
	var debit int64
	for _, l := range je.Lines {
		debit += l.DebitMinor
	}
	return debit
}

// heuristicCandidates returns every transaction within dateToleranceDays of
// je.PostedAt sharing |amount_minor| with je, excluding an exact-id match
// (already handled by the caller). Per spec.md §4.10, ambiguity (more than
// one candidate) means the JE is left unmatched.
func heuristicCandidates(je domain.JournalEntry, txns []domain.Transaction, dateToleranceDays int) []domain.Transaction {
	amount := jeAmount(je)
	tolerance := time.Duration(dateToleranceDays) * 24 * time.Hour

	var out []domain.Transaction
	for _, tx := range txns {
		if absInt64(tx.AmountMinor) != amount {
			continue
		}
		diff := tx.PostedAt.Sub(je.PostedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			out = append(out, tx)
		}
	}
	return out
}

// heuristicScore decays linearly from 1.0 at zero date difference to 0.5 at
// the tolerance boundary, giving downstream review UIs a confidence signal
// beyond the bare match type.
func heuristicScore(je domain.JournalEntry, tx domain.Transaction, dateToleranceDays int) float64 {
	if dateToleranceDays <= 0 {
		return 1.0
	}
	diff := tx.PostedAt.Sub(je.PostedAt)
	if diff < 0 {
		diff = -diff
	}
	frac := diff.Hours() / (24 * float64(dateToleranceDays))
	if frac > 1 {
		frac = 1
	}
	return 1.0 - 0.5*frac
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// canonicalLess orders by posted_at then txn_id, per spec.md §4.10's
// determinism requirement.
func canonicalLess(at1 time.Time, id1 string, at2 time.Time, id2 string) bool {
	if !at1.Equal(at2) {
		return at1.Before(at2)
	}
	return id1 < id2
}
