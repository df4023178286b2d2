// Package domain holds the core entities of the bookkeeping decisioning
// engine and the narrow collaborator interfaces it depends on. Struct shape
// and json-tag conventions follow the teacher's internal/domain/models.go;
// the entities themselves are new, per spec.md §3.
package domain

import "time"

// TenantID identifies a tenant. All other entities are scoped by tenant.
type TenantID string

// Tenant owns its rule versions, models, and calibration, and carries
// per-tenant overrides of the engine's global defaults.
type Tenant struct {
	ID                     TenantID `json:"id"`
	Name                   string   `json:"name"`
	Threshold              float64  `json:"threshold"`                 // overrides config.DefaultThreshold
	ColdStartMin           int      `json:"cold_start_min"`             // overrides config.ColdStartMin
	AutopostEnabled        bool     `json:"autopost_enabled"`           // default false
	AnomalyBlocksAutopost  bool     `json:"anomaly_blocks_autopost"`    // default true
	LLMDailyBudget         int      `json:"llm_daily_budget"`
	CashAccountCode        string   `json:"cash_account_code"` // default cash-side account for JEBuilder
}

// AccountType is one of the five fundamental account classifications.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// Account is a Chart of Accounts entry. Codes are stable across rule
// versions and are always referenced by code, never by id.
type Account struct {
	Code   string      `json:"code"`
	Name   string      `json:"name"`
	Type   AccountType `json:"type"`
	Active bool        `json:"active"`
}

// Transaction is a normalized bank line item produced by Ingestion.
// Immutable once created.
type Transaction struct {
	TxnID             string    `json:"txn_id"`
	TenantID          TenantID  `json:"tenant_id"`
	PostedAt          time.Time `json:"posted_at"`
	AmountMinor       int64     `json:"amount_minor"` // signed; bank's perspective
	Currency          string    `json:"currency"`      // ISO-4217
	DescriptionRaw    string    `json:"description_raw"`
	CounterpartyRaw   string    `json:"counterparty_raw"`
	CounterpartyNorm  string    `json:"counterparty_norm"` // set by VendorNormalizer
	SourceFileID      string    `json:"source_file_id"`
	SourceRowRef      string    `json:"source_row_ref"`
	IngestedAt        time.Time `json:"ingested_at"`
}

// DedupeKey is the stable hash used to detect re-ingested rows, per
// spec.md §3: hash(tenant, posted_at, amount_minor, description_raw,
// counterparty_raw).
func (t Transaction) DedupeKey() string {
	return dedupeKey(t.TenantID, t.PostedAt, t.AmountMinor, t.DescriptionRaw, t.CounterpartyRaw)
}

// JEStatus is the JournalEntry state machine: proposed -> approved ->
// posted; any posted JE may become rolled_back.
type JEStatus string

const (
	JEProposed   JEStatus = "proposed"
	JEApproved   JEStatus = "approved"
	JEPosted     JEStatus = "posted"
	JERolledBack JEStatus = "rolled_back"
)

// NotAutoPostReason is the closed set of reasons GatingPolicy may record.
type NotAutoPostReason string

const (
	ReasonNone            NotAutoPostReason = ""
	ReasonBelowThreshold  NotAutoPostReason = "below_threshold"
	ReasonColdStart       NotAutoPostReason = "cold_start"
	ReasonImbalance       NotAutoPostReason = "imbalance"
	ReasonBudgetFallback  NotAutoPostReason = "budget_fallback"
	ReasonAnomaly         NotAutoPostReason = "anomaly"
	ReasonRuleConflict    NotAutoPostReason = "rule_conflict"
)

// JournalEntry is a balanced double-entry record produced by the pipeline
// or, for adjusting entries, authored externally (spec.md Design Notes,
// Open Question 3) — either way its invariants are enforced uniformly.
type JournalEntry struct {
	JEID            string            `json:"je_id"`
	TenantID        TenantID          `json:"tenant_id"`
	TxnID           string            `json:"txn_id,omitempty"` // nullable; adjusting JEs may be unlinked
	PostedAt        time.Time         `json:"posted_at"`
	Status          JEStatus          `json:"status"`
	Confidence      float64           `json:"confidence"`    // := blend_score
	CalibratedP     float64           `json:"calibrated_p"`  // := calibration(MLClassifier.p)
	HasCalibratedP  bool              `json:"has_calibrated_p"`
	Rationale       string            `json:"rationale"`
	RuleVersionID   string            `json:"rule_version_id,omitempty"`
	ModelVersionID  string            `json:"model_version_id,omitempty"`
	DecisionTrace   DecisionTrace     `json:"decision_trace"`
	Route           string            `json:"route"` // "auto_post" | "review"
	Reason          NotAutoPostReason `json:"reason,omitempty"`
	Lines           []JELine          `json:"lines"`
}

// Balanced reports whether the sum of debits equals the sum of credits
// (spec.md §3 balance invariant).
func (je JournalEntry) Balanced() bool {
	var debit, credit int64
	for _, l := range je.Lines {
		debit += l.DebitMinor
		credit += l.CreditMinor
	}
	return debit == credit
}

// JELine is one side of a JournalEntry. Exactly one of Debit/Credit is
// nonzero.
type JELine struct {
	JEID        string `json:"je_id"`
	LineNo      int    `json:"line_no"`
	AccountCode string `json:"account_code"`
	DebitMinor  int64  `json:"debit_minor"`
	CreditMinor int64  `json:"credit_minor"`
	Memo        string `json:"memo"`
}

// Valid reports whether exactly one of Debit/Credit is positive.
func (l JELine) Valid() bool {
	return (l.DebitMinor > 0) != (l.CreditMinor > 0) &&
		l.DebitMinor >= 0 && l.CreditMinor >= 0
}

// MatchType is a RuleDefinition's pattern kind.
type MatchType string

const (
	MatchExact         MatchType = "exact"
	MatchRegex         MatchType = "regex"
	MatchMCC           MatchType = "mcc"
	MatchMemoSubstring MatchType = "memo_substring"
)

// RuleSource distinguishes human-authored rules from those promoted by
// AdaptiveRulePromoter.
type RuleSource string

const (
	SourceHuman    RuleSource = "human"
	SourcePromoted RuleSource = "promoted"
)

// RuleDefinition is a single pattern-to-account mapping. Only referenced
// through a RuleVersion.
type RuleDefinition struct {
	ID          string     `json:"id"`
	MatchType   MatchType  `json:"match_type"`
	Pattern     string     `json:"pattern"`
	AccountCode string     `json:"account_code"`
	Priority    int        `json:"priority"`
	Author      string     `json:"author"`
	Source      RuleSource `json:"source"`
}

// RuleVersion is an immutable, monotonically versioned snapshot of all
// active rules for a tenant.
type RuleVersion struct {
	VersionID      string           `json:"version_id"` // monotone lexical (timestamp-derived)
	TenantID       TenantID         `json:"tenant_id"`
	Rules          []RuleDefinition `json:"rules"`
	CreatedAt      time.Time        `json:"created_at"`
	Author         string           `json:"author"`
	Notes          string           `json:"notes"`
	ParentVersionID string          `json:"parent_version_id,omitempty"`
}

// CandidateStatus is a RuleCandidate's promotion lifecycle state.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateAccepted CandidateStatus = "accepted"
	CandidateRejected CandidateStatus = "rejected"
)

// RuleCandidate aggregates recurring human corrections for a
// (vendor_norm, account_code) pair via Welford's online algorithm.
type RuleCandidate struct {
	VendorNorm       string          `json:"vendor_norm"`
	SuggestedAccount string          `json:"suggested_account"`
	ObsCount         int64           `json:"obs_count"`
	MeanConf         float64         `json:"mean_conf"`
	Variance         float64         `json:"variance"` // population variance (M2 / ObsCount)
	LastSeen         time.Time       `json:"last_seen"`
	Status           CandidateStatus `json:"status"`
	EvidenceHistory  []EvidenceEntry `json:"evidence_history"` // append-only
	M2               float64         `json:"m2"`               // Welford's running sum of squared deviations; persisted to resume updates
}

// EvidenceEntry is one append-only observation feeding a RuleCandidate.
type EvidenceEntry struct {
	TxnID      string    `json:"txn_id"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"` // "user_override" | "model_disagreement"
	ObservedAt time.Time `json:"observed_at"`
}

// CalibrationMethod is how a CalibrationModel maps raw scores to
// calibrated probabilities.
type CalibrationMethod string

const (
	CalibrationIsotonic    CalibrationMethod = "isotonic"
	CalibrationTemperature CalibrationMethod = "temperature"
)

// CalibrationModel is bound to a specific classifier model_version_id.
type CalibrationModel struct {
	ModelVersionID string            `json:"model_version_id"`
	Method         CalibrationMethod `json:"method"`
	Parameters     []float64         `json:"parameters"`
	TrainedAt      time.Time         `json:"trained_at"`
	ECE            float64           `json:"ece"`
	Brier          float64           `json:"brier"`
	BinEdges       []float64         `json:"bin_edges"`
}

// EmbeddingMemoryRecord stores a confirmed (or pending) historical mapping
// used for cosine-similarity retrieval.
type EmbeddingMemoryRecord struct {
	VendorNorm      string    `json:"vendor_norm"`
	AccountCode     string    `json:"account_code"`
	EmbeddingVector []float64 `json:"embedding_vector"`
	Confirmed       bool      `json:"confirmed"`
}

// ExportStatus is the outcome of one export attempt.
type ExportStatus string

const (
	ExportPosted           ExportStatus = "posted"
	ExportSkippedDuplicate ExportStatus = "skipped_duplicate"
)

// ExportRecord is the idempotency ledger row keyed by
// (tenant_id, target, external_id).
type ExportRecord struct {
	JEID            string       `json:"je_id"`
	ExternalID      string       `json:"external_id"` // 64-hex SHA-256
	Target          string       `json:"target"`       // "qbo" | "xero" | "csv"
	FirstExportedAt time.Time    `json:"first_exported_at"`
	LastAttemptAt   time.Time    `json:"last_attempt_at"`
	Attempts        int          `json:"attempts"`
	Status          ExportStatus `json:"status"`
}

// RetrainEvent records one Retrainer run, whether promoted or not.
type RetrainEvent struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Reasons    []string  `json:"reasons"` // drift signals that triggered this run
	TrainN     int       `json:"train_n"`
	ValidN     int       `json:"valid_n"`
	AccOld     float64   `json:"acc_old"`
	AccNew     float64   `json:"acc_new"`
	F1Old      float64   `json:"f1_old"`
	F1New      float64   `json:"f1_new"`
	Promoted   bool      `json:"promoted"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Notes      string    `json:"notes"`
}
