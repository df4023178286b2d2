package pipeline

import (
	"context"
	"sort"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// confirmedLabel is one posted-or-approved JE's account resolved back to
// its originating transaction's vendor_norm, used to compute cold-start
// confirmations and anomaly bands. domain.Store has no indexed query for
// "JEs by vendor", so this joins ListTransactions/ListJEs in memory — fine
// for the modest per-tenant volumes this engine targets; a production
// deployment would add a covering index instead.
type confirmedLabel struct {
	vendorNorm  string
	accountCode string
	amountMinor int64
	postedAt    int64
}

func confirmedLabels(ctx context.Context, store domain.Store, tenant domain.TenantID) ([]confirmedLabel, error) {
	txns, jes, err := confirmedTxnJEPairs(ctx, store, tenant)
	if err != nil {
		return nil, err
	}

	var labels []confirmedLabel
	for i, je := range jes {
		txn := txns[i]
		labels = append(labels, confirmedLabel{
			vendorNorm:  txn.CounterpartyNorm,
			accountCode: nonCashLine(je),
			amountMinor: txn.AmountMinor,
			postedAt:    je.PostedAt.Unix(),
		})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].postedAt > labels[j].postedAt })
	return labels, nil
}

// confirmedTxnJEPairs joins ListTransactions/ListJEs exactly like
// confirmedLabels, but returns the full Transaction alongside each JE
// rather than collapsing it to a confirmedLabel — the shape retrain's
// training-sample extraction needs.
func confirmedTxnJEPairs(ctx context.Context, store domain.Store, tenant domain.TenantID) ([]domain.Transaction, []domain.JournalEntry, error) {
	txns, err := store.ListTransactions(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	byTxnID := make(map[string]domain.Transaction, len(txns))
	for _, t := range txns {
		byTxnID[t.TxnID] = t
	}

	jes, err := store.ListJEs(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}

	var outTxns []domain.Transaction
	var outJEs []domain.JournalEntry
	for _, je := range jes {
		if je.Status != domain.JEPosted && je.Status != domain.JEApproved {
			continue
		}
		txn, ok := byTxnID[je.TxnID]
		if !ok || len(je.Lines) == 0 {
			continue
		}
		outTxns = append(outTxns, txn)
		outJEs = append(outJEs, je)
	}
	return outTxns, outJEs, nil
}

// nonCashLine returns the account_code of whichever line is not the cash
// side — the side GatingPolicy's cold-start and anomaly checks care about.
// Assumes the conventional two-line JE JEBuilder produces; returns the
// first line's account for anything else.
func nonCashLine(je domain.JournalEntry) string {
	if len(je.Lines) == 0 {
		return ""
	}
	return je.Lines[0].AccountCode
}

// coldStartConfirmations returns, most-recent-first, the account codes of
// every confirmed label for vendorNorm (spec.md §4.8 step 3).
func coldStartConfirmations(labels []confirmedLabel, vendorNorm string) []string {
	var out []string
	for _, l := range labels {
		if l.vendorNorm == vendorNorm {
			out = append(out, l.accountCode)
		}
	}
	return out
}

// sameAccountAmounts returns the historical |amount_minor| for every
// confirmed label posted to accountCode, for GatingPolicy's anomaly band.
func sameAccountAmounts(labels []confirmedLabel, accountCode string) []int64 {
	var out []int64
	for _, l := range labels {
		if l.accountCode == accountCode {
			amt := l.amountMinor
			if amt < 0 {
				amt = -amt
			}
			out = append(out, amt)
		}
	}
	return out
}
