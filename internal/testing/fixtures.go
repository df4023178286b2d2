package testing

import (
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// NewTenantFixture returns a tenant with representative threshold/budget
// defaults for tests that exercise GatingPolicy or LLMAdjudicator.
func NewTenantFixture() domain.Tenant {
	return domain.Tenant{
		ID:                    "t1",
		Name:                  "Acme Bookkeeping",
		Threshold:             0.8,
		ColdStartMin:          50,
		AutopostEnabled:       true,
		AnomalyBlocksAutopost: true,
		LLMDailyBudget:        200,
		CashAccountCode:       "1000",
	}
}

// NewChartOfAccountsFixture returns a small chart of accounts spanning all
// five AccountType values.
func NewChartOfAccountsFixture() []domain.Account {
	return []domain.Account{
		{Code: "1000", Name: "Cash", Type: domain.AccountAsset, Active: true},
		{Code: "2000", Name: "Accounts Payable", Type: domain.AccountLiability, Active: true},
		{Code: "3000", Name: "Owner's Equity", Type: domain.AccountEquity, Active: true},
		{Code: "4000", Name: "Consulting Revenue", Type: domain.AccountRevenue, Active: true},
		{Code: "6000", Name: "Software Subscriptions", Type: domain.AccountExpense, Active: true},
		{Code: "6100", Name: "Office Supplies", Type: domain.AccountExpense, Active: true},
	}
}

// NewTransactionFixture returns one normalized bank line item, postable
// overrides applied via opts.
func NewTransactionFixture(opts ...func(*domain.Transaction)) domain.Transaction {
	txn := domain.Transaction{
		TxnID:            "txn-1",
		TenantID:         "t1",
		PostedAt:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		AmountMinor:      -4999,
		Currency:         "USD",
		DescriptionRaw:   "AMAZON WEB SERVICES AWS.AMAZON.COM",
		CounterpartyRaw:  "AMAZON WEB SERVICES",
		CounterpartyNorm: "amazon web services",
		SourceFileID:     "file-1",
		SourceRowRef:     "row-1",
		IngestedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&txn)
	}
	return txn
}

// NewBalancedJEFixture returns a JournalEntry whose two lines balance,
// suitable for tests that only care about the shape, not the decision
// that produced it.
func NewBalancedJEFixture(jeID, txnID string, amountMinor int64) domain.JournalEntry {
	return domain.JournalEntry{
		JEID:       jeID,
		TenantID:   "t1",
		TxnID:      txnID,
		PostedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:     domain.JEProposed,
		Confidence: 0.91,
		Rationale:  "matched rule v3 for amazon web services",
		Route:      "auto_post",
		Lines: []domain.JELine{
			{JEID: jeID, LineNo: 1, AccountCode: "6000", DebitMinor: amountMinor},
			{JEID: jeID, LineNo: 2, AccountCode: "1000", CreditMinor: amountMinor},
		},
	}
}

// NewRuleVersionFixture returns a small, valid rule set for vendor-rule
// matching tests.
func NewRuleVersionFixture(versionID string) domain.RuleVersion {
	return domain.RuleVersion{
		VersionID: versionID,
		TenantID:  "t1",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Author:    "fixtures",
		Rules: []domain.RuleDefinition{
			{ID: "r1", MatchType: domain.MatchExact, Pattern: "amazon web services", AccountCode: "6000", Priority: 10, Author: "fixtures", Source: domain.SourceHuman},
			{ID: "r2", MatchType: domain.MatchMemoSubstring, Pattern: "office depot", AccountCode: "6100", Priority: 5, Author: "fixtures", Source: domain.SourceHuman},
		},
	}
}

// NewRuleCandidateFixture returns a pending RuleCandidate with one
// recorded observation.
func NewRuleCandidateFixture(vendorNorm, accountCode string) domain.RuleCandidate {
	return domain.RuleCandidate{
		VendorNorm:       vendorNorm,
		SuggestedAccount: accountCode,
		ObsCount:         1,
		MeanConf:         0.7,
		Status:           domain.CandidatePending,
		LastSeen:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EvidenceHistory: []domain.EvidenceEntry{
			{TxnID: "txn-1", Confidence: 0.7, Source: "user_override", ObservedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

// NewCalibrationModelFixture returns an isotonic calibration model bound
// to modelVersionID.
func NewCalibrationModelFixture(modelVersionID string) domain.CalibrationModel {
	return domain.CalibrationModel{
		ModelVersionID: modelVersionID,
		Method:         domain.CalibrationIsotonic,
		Parameters:     []float64{0.1, 0.3, 0.6, 0.9},
		BinEdges:       []float64{0.0, 0.25, 0.5, 0.75, 1.0},
		TrainedAt:      time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		ECE:            0.04,
		Brier:          0.12,
	}
}

// NewEmbeddingRecordFixture returns a confirmed embedding memory record
// with a short deterministic vector.
func NewEmbeddingRecordFixture(vendorNorm, accountCode string) domain.EmbeddingMemoryRecord {
	return domain.EmbeddingMemoryRecord{
		VendorNorm:      vendorNorm,
		AccountCode:     accountCode,
		EmbeddingVector: []float64{0.1, 0.2, 0.3, 0.4},
		Confirmed:       true,
	}
}
