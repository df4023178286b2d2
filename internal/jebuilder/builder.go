// Package jebuilder implements JEBuilder (spec.md §4.9): construction of a
// balanced two-line JournalEntry from a (transaction, account_code) pair
// chosen by DecisionBlender and routed by GatingPolicy.
package jebuilder

import (
	"fmt"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// ErrUnknownAccount is returned when the CoA lookup for either side of the
// entry fails; callers must route the transaction to review with
// domain.ReasonImbalance per spec.md §4.9.
type ErrUnknownAccount struct {
	Code string
}

func (e ErrUnknownAccount) Error() string {
	return fmt.Sprintf("jebuilder: unknown account code %q in chart of accounts", e.Code)
}

// Input bundles everything Build needs to construct one JournalEntry.
type Input struct {
	Tenant      domain.Tenant
	Transaction domain.Transaction
	AccountCode string // the non-cash account chosen by the blender
	CoA         map[string]domain.Account

	Confidence     float64
	CalibratedP    float64
	HasCalibratedP bool
	Rationale      string

	RuleVersionID  string
	ModelVersionID string
	DecisionTrace  domain.DecisionTrace

	Route  string
	Reason domain.NotAutoPostReason
}

// Build produces a balanced JournalEntry for one transaction. Signs follow
// US-GAAP conventions: a negative amount_minor (cash outflow) debits the
// chosen account and credits cash; a positive amount_minor (cash inflow)
// debits cash and credits the chosen account.
//
// If either account code is absent from the CoA, Build returns
// ErrUnknownAccount; callers must route the transaction to review with
// reason=imbalance rather than commit a partial JE.
func Build(in Input) (domain.JournalEntry, error) {
	if _, ok := in.CoA[in.AccountCode]; !ok {
		return domain.JournalEntry{}, ErrUnknownAccount{Code: in.AccountCode}
	}
	cashCode := in.Tenant.CashAccountCode
	if _, ok := in.CoA[cashCode]; !ok {
		return domain.JournalEntry{}, ErrUnknownAccount{Code: cashCode}
	}

	amount := in.Transaction.AmountMinor
	abs := amount
	if abs < 0 {
		abs = -abs
	}

	var lines []domain.JELine
	if amount < 0 {
		lines = []domain.JELine{
			{LineNo: 1, AccountCode: in.AccountCode, DebitMinor: abs, Memo: in.Transaction.DescriptionRaw},
			{LineNo: 2, AccountCode: cashCode, CreditMinor: abs, Memo: in.Transaction.DescriptionRaw},
		}
	} else {
		lines = []domain.JELine{
			{LineNo: 1, AccountCode: cashCode, DebitMinor: abs, Memo: in.Transaction.DescriptionRaw},
			{LineNo: 2, AccountCode: in.AccountCode, CreditMinor: abs, Memo: in.Transaction.DescriptionRaw},
		}
	}

	status := domain.JEProposed

	je := domain.JournalEntry{
		TenantID:       in.Transaction.TenantID,
		TxnID:          in.Transaction.TxnID,
		PostedAt:       in.Transaction.PostedAt,
		Status:         status,
		Confidence:     in.Confidence,
		CalibratedP:    in.CalibratedP,
		HasCalibratedP: in.HasCalibratedP,
		Rationale:      in.Rationale,
		RuleVersionID:  in.RuleVersionID,
		ModelVersionID: in.ModelVersionID,
		DecisionTrace:  in.DecisionTrace,
		Route:          in.Route,
		Reason:         in.Reason,
		Lines:          lines,
	}
	return je, nil
}
