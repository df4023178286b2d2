// Package store implements domain.Store over the two SQLite databases
// internal/database manages: the ledger (Transaction, Account,
// JournalEntry/JELine, RuleVersion, CalibrationModel, ExportRecord,
// RetrainEvent) and the cache (RuleCandidate, EmbeddingMemoryRecord).
//
// Complex nested fields (JE lines excepted, which get their own table)
// are stored as json-encoded text columns, following this module's own
// json-tag convention in internal/domain/models.go rather than a wider
// object-relational layer the teacher pack has no analog for.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerwell/decisioning/internal/database"
	"github.com/ledgerwell/decisioning/internal/domain"
)

// SQLStore implements domain.Store.
type SQLStore struct {
	ledger *database.DB
	cache  *database.DB
}

// New wires a SQLStore over already-constructed, already-migrated ledger
// and cache databases.
func New(ledger, cache *database.DB) *SQLStore {
	return &SQLStore{ledger: ledger, cache: cache}
}

// Open is the convenience path: opens both databases under dataDir with
// their respective profiles, migrates them, and returns a ready SQLStore.
func Open(dataDir string) (*SQLStore, func() error, error) {
	ledgerDB, err := database.New(database.Config{
		Path:    dataDir + "/ledger.db",
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store: open ledger db: %w", err)
	}
	if err := ledgerDB.Migrate(); err != nil {
		_ = ledgerDB.Close()
		return nil, nil, fmt.Errorf("store: migrate ledger db: %w", err)
	}

	cacheDB, err := database.New(database.Config{
		Path:    dataDir + "/cache.db",
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		_ = ledgerDB.Close()
		return nil, nil, fmt.Errorf("store: open cache db: %w", err)
	}
	if err := cacheDB.Migrate(); err != nil {
		_ = ledgerDB.Close()
		_ = cacheDB.Close()
		return nil, nil, fmt.Errorf("store: migrate cache db: %w", err)
	}

	closeFn := func() error {
		err1 := ledgerDB.Close()
		err2 := cacheDB.Close()
		if err1 != nil {
			return err1
		}
		return err2
	}
	return New(ledgerDB, cacheDB), closeFn, nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// --- Transaction ---

func (s *SQLStore) InsertTransaction(ctx context.Context, t domain.Transaction) error {
	_, err := s.ledger.ExecContext(ctx, `
		INSERT INTO transactions (tenant_id, txn_id, posted_at, amount_minor, currency,
			description_raw, counterparty_raw, counterparty_norm, source_file_id, source_row_ref, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TenantID, t.TxnID, formatTime(t.PostedAt), t.AmountMinor, t.Currency,
		t.DescriptionRaw, t.CounterpartyRaw, t.CounterpartyNorm, t.SourceFileID, t.SourceRowRef, formatTime(t.IngestedAt))
	if err != nil {
		return fmt.Errorf("store: insert transaction %s: %w", t.TxnID, err)
	}
	return nil
}

func (s *SQLStore) GetTransaction(ctx context.Context, tenant domain.TenantID, txnID string) (domain.Transaction, bool, error) {
	row := s.ledger.QueryRowContext(ctx, `
		SELECT txn_id, tenant_id, posted_at, amount_minor, currency, description_raw,
			counterparty_raw, counterparty_norm, source_file_id, source_row_ref, ingested_at
		FROM transactions WHERE tenant_id = ? AND txn_id = ?`, tenant, txnID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("store: get transaction %s: %w", txnID, err)
	}
	return t, true, nil
}

func (s *SQLStore) ListTransactions(ctx context.Context, tenant domain.TenantID) ([]domain.Transaction, error) {
	rows, err := s.ledger.QueryContext(ctx, `
		SELECT txn_id, tenant_id, posted_at, amount_minor, currency, description_raw,
			counterparty_raw, counterparty_norm, source_file_id, source_row_ref, ingested_at
		FROM transactions WHERE tenant_id = ? ORDER BY posted_at, txn_id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("store: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) ExistsTransaction(ctx context.Context, tenant domain.TenantID, txnID string) (bool, error) {
	var n int
	err := s.ledger.QueryRowContext(ctx, `SELECT COUNT(1) FROM transactions WHERE tenant_id = ? AND txn_id = ?`, tenant, txnID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: exists transaction %s: %w", txnID, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	return scanTransactionRows(row)
}

func scanTransactionRows(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	var postedAt, ingestedAt string
	err := row.Scan(&t.TxnID, &t.TenantID, &postedAt, &t.AmountMinor, &t.Currency,
		&t.DescriptionRaw, &t.CounterpartyRaw, &t.CounterpartyNorm, &t.SourceFileID, &t.SourceRowRef, &ingestedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	if t.PostedAt, err = parseTime(postedAt); err != nil {
		return domain.Transaction{}, err
	}
	if t.IngestedAt, err = parseTime(ingestedAt); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

// --- Account ---

func (s *SQLStore) GetAccount(ctx context.Context, tenant domain.TenantID, code string) (domain.Account, bool, error) {
	var a domain.Account
	var accType string
	err := s.ledger.QueryRowContext(ctx, `SELECT code, name, type, active FROM accounts WHERE tenant_id = ? AND code = ?`, tenant, code).
		Scan(&a.Code, &a.Name, &accType, &a.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("store: get account %s: %w", code, err)
	}
	a.Type = domain.AccountType(accType)
	return a, true, nil
}

func (s *SQLStore) ListAccounts(ctx context.Context, tenant domain.TenantID) ([]domain.Account, error) {
	rows, err := s.ledger.QueryContext(ctx, `SELECT code, name, type, active FROM accounts WHERE tenant_id = ? ORDER BY code`, tenant)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		var accType string
		if err := rows.Scan(&a.Code, &a.Name, &accType, &a.Active); err != nil {
			return nil, fmt.Errorf("store: scan account: %w", err)
		}
		a.Type = domain.AccountType(accType)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAccount seeds/updates the chart of accounts. Not part of
// domain.Store: the core never creates accounts, only reads them; this is
// an operator/fixture-time concern.
func (s *SQLStore) UpsertAccount(ctx context.Context, tenant domain.TenantID, a domain.Account) error {
	_, err := s.ledger.ExecContext(ctx, `
		INSERT INTO accounts (tenant_id, code, name, type, active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, code) DO UPDATE SET name = excluded.name, type = excluded.type, active = excluded.active`,
		tenant, a.Code, a.Name, string(a.Type), a.Active)
	if err != nil {
		return fmt.Errorf("store: upsert account %s: %w", a.Code, err)
	}
	return nil
}

// --- JournalEntry ---

func (s *SQLStore) InsertJE(ctx context.Context, je domain.JournalEntry) error {
	return database.WithTransaction(s.ledger.Conn(), func(tx *sql.Tx) error {
		return writeJE(ctx, tx, je, true)
	})
}

func (s *SQLStore) UpdateJE(ctx context.Context, je domain.JournalEntry) error {
	return database.WithTransaction(s.ledger.Conn(), func(tx *sql.Tx) error {
		return writeJE(ctx, tx, je, false)
	})
}

func writeJE(ctx context.Context, tx *sql.Tx, je domain.JournalEntry, insert bool) error {
	traceJSON, err := json.Marshal(je.DecisionTrace)
	if err != nil {
		return fmt.Errorf("encode decision trace: %w", err)
	}

	if insert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO journal_entries (tenant_id, je_id, txn_id, posted_at, status, confidence,
				calibrated_p, has_calibrated_p, rationale, rule_version_id, model_version_id,
				decision_trace, route, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			je.TenantID, je.JEID, je.TxnID, formatTime(je.PostedAt), string(je.Status), je.Confidence,
			je.CalibratedP, je.HasCalibratedP, je.Rationale, je.RuleVersionID, je.ModelVersionID,
			string(traceJSON), je.Route, string(je.Reason))
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE journal_entries SET txn_id = ?, posted_at = ?, status = ?, confidence = ?,
				calibrated_p = ?, has_calibrated_p = ?, rationale = ?, rule_version_id = ?,
				model_version_id = ?, decision_trace = ?, route = ?, reason = ?
			WHERE tenant_id = ? AND je_id = ?`,
			je.TxnID, formatTime(je.PostedAt), string(je.Status), je.Confidence, je.CalibratedP,
			je.HasCalibratedP, je.Rationale, je.RuleVersionID, je.ModelVersionID, string(traceJSON),
			je.Route, string(je.Reason), je.TenantID, je.JEID)
		if err == nil {
			if _, derr := tx.ExecContext(ctx, `DELETE FROM je_lines WHERE tenant_id = ? AND je_id = ?`, je.TenantID, je.JEID); derr != nil {
				err = derr
			}
		}
	}
	if err != nil {
		return fmt.Errorf("write journal entry %s: %w", je.JEID, err)
	}

	for _, l := range je.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO je_lines (tenant_id, je_id, line_no, account_code, debit_minor, credit_minor, memo)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			je.TenantID, je.JEID, l.LineNo, l.AccountCode, l.DebitMinor, l.CreditMinor, l.Memo); err != nil {
			return fmt.Errorf("write je line %s/%d: %w", je.JEID, l.LineNo, err)
		}
	}
	return nil
}

func (s *SQLStore) GetJE(ctx context.Context, tenant domain.TenantID, jeID string) (domain.JournalEntry, bool, error) {
	row := s.ledger.QueryRowContext(ctx, `
		SELECT tenant_id, je_id, txn_id, posted_at, status, confidence, calibrated_p, has_calibrated_p,
			rationale, rule_version_id, model_version_id, decision_trace, route, reason
		FROM journal_entries WHERE tenant_id = ? AND je_id = ?`, tenant, jeID)
	je, err := scanJE(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JournalEntry{}, false, nil
	}
	if err != nil {
		return domain.JournalEntry{}, false, fmt.Errorf("store: get je %s: %w", jeID, err)
	}
	if je.Lines, err = s.listJELines(ctx, tenant, jeID); err != nil {
		return domain.JournalEntry{}, false, err
	}
	return je, true, nil
}

func (s *SQLStore) ListJEs(ctx context.Context, tenant domain.TenantID) ([]domain.JournalEntry, error) {
	rows, err := s.ledger.QueryContext(ctx, `
		SELECT tenant_id, je_id, txn_id, posted_at, status, confidence, calibrated_p, has_calibrated_p,
			rationale, rule_version_id, model_version_id, decision_trace, route, reason
		FROM journal_entries WHERE tenant_id = ? ORDER BY posted_at, je_id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("store: list jes: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		je, err := scanJE(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan je: %w", err)
		}
		out = append(out, je)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		lines, err := s.listJELines(ctx, tenant, out[i].JEID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (s *SQLStore) listJELines(ctx context.Context, tenant domain.TenantID, jeID string) ([]domain.JELine, error) {
	rows, err := s.ledger.QueryContext(ctx, `
		SELECT je_id, line_no, account_code, debit_minor, credit_minor, memo
		FROM je_lines WHERE tenant_id = ? AND je_id = ? ORDER BY line_no`, tenant, jeID)
	if err != nil {
		return nil, fmt.Errorf("store: list je lines %s: %w", jeID, err)
	}
	defer rows.Close()

	var out []domain.JELine
	for rows.Next() {
		var l domain.JELine
		if err := rows.Scan(&l.JEID, &l.LineNo, &l.AccountCode, &l.DebitMinor, &l.CreditMinor, &l.Memo); err != nil {
			return nil, fmt.Errorf("store: scan je line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanJE(row rowScanner) (domain.JournalEntry, error) {
	var je domain.JournalEntry
	var postedAt, status, trace, route, reason string
	err := row.Scan(&je.TenantID, &je.JEID, &je.TxnID, &postedAt, &status, &je.Confidence, &je.CalibratedP,
		&je.HasCalibratedP, &je.Rationale, &je.RuleVersionID, &je.ModelVersionID, &trace, &route, &reason)
	if err != nil {
		return domain.JournalEntry{}, err
	}
	if je.PostedAt, err = parseTime(postedAt); err != nil {
		return domain.JournalEntry{}, err
	}
	je.Status = domain.JEStatus(status)
	je.Route = route
	je.Reason = domain.NotAutoPostReason(reason)
	if err := json.Unmarshal([]byte(trace), &je.DecisionTrace); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("decode decision trace: %w", err)
	}
	return je, nil
}

// --- RuleVersion ---

func (s *SQLStore) InsertRuleVersion(ctx context.Context, rv domain.RuleVersion) error {
	rulesJSON, err := json.Marshal(rv.Rules)
	if err != nil {
		return fmt.Errorf("store: encode rule version %s: %w", rv.VersionID, err)
	}
	_, err = s.ledger.ExecContext(ctx, `
		INSERT INTO rule_versions (tenant_id, version_id, rules, created_at, author, notes, parent_version_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rv.TenantID, rv.VersionID, string(rulesJSON), formatTime(rv.CreatedAt), rv.Author, rv.Notes, rv.ParentVersionID)
	if err != nil {
		return fmt.Errorf("store: insert rule version %s: %w", rv.VersionID, err)
	}
	return nil
}

func (s *SQLStore) GetRuleVersion(ctx context.Context, tenant domain.TenantID, versionID string) (domain.RuleVersion, bool, error) {
	row := s.ledger.QueryRowContext(ctx, `
		SELECT tenant_id, version_id, rules, created_at, author, notes, parent_version_id
		FROM rule_versions WHERE tenant_id = ? AND version_id = ?`, tenant, versionID)
	rv, err := scanRuleVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RuleVersion{}, false, nil
	}
	if err != nil {
		return domain.RuleVersion{}, false, fmt.Errorf("store: get rule version %s: %w", versionID, err)
	}
	return rv, true, nil
}

func (s *SQLStore) CurrentRuleVersion(ctx context.Context, tenant domain.TenantID) (domain.RuleVersion, bool, error) {
	var versionID string
	err := s.ledger.QueryRowContext(ctx, `SELECT version_id FROM current_rule_version WHERE tenant_id = ?`, tenant).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RuleVersion{}, false, nil
	}
	if err != nil {
		return domain.RuleVersion{}, false, fmt.Errorf("store: current rule version pointer: %w", err)
	}
	return s.GetRuleVersion(ctx, tenant, versionID)
}

// PublishRuleVersion atomically inserts next (unless a version with that
// id is already stored) and swaps the tenant's
// current-version pointer, failing if the pointer no longer matches
// expectedCurrent — the compare-and-swap spec.md §5 requires.
func (s *SQLStore) PublishRuleVersion(ctx context.Context, tenant domain.TenantID, expectedCurrent string, next domain.RuleVersion) error {
	return database.WithTransaction(s.ledger.Conn(), func(tx *sql.Tx) error {
		var actual string
		err := tx.QueryRowContext(ctx, `SELECT version_id FROM current_rule_version WHERE tenant_id = ?`, tenant).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			actual = ""
		} else if err != nil {
			return fmt.Errorf("read current pointer: %w", err)
		}
		if actual != expectedCurrent {
			return fmt.Errorf("rule version pointer moved: expected %q, found %q", expectedCurrent, actual)
		}

		rulesJSON, err := json.Marshal(next.Rules)
		if err != nil {
			return fmt.Errorf("encode rule version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rule_versions (tenant_id, version_id, rules, created_at, author, notes, parent_version_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, version_id) DO NOTHING`,
			next.TenantID, next.VersionID, string(rulesJSON), formatTime(next.CreatedAt), next.Author, next.Notes, next.ParentVersionID); err != nil {
			return fmt.Errorf("insert next rule version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO current_rule_version (tenant_id, version_id) VALUES (?, ?)
			ON CONFLICT (tenant_id) DO UPDATE SET version_id = excluded.version_id`,
			tenant, next.VersionID); err != nil {
			return fmt.Errorf("swap current pointer: %w", err)
		}
		return nil
	})
}

func scanRuleVersion(row rowScanner) (domain.RuleVersion, error) {
	var rv domain.RuleVersion
	var rulesJSON, createdAt string
	err := row.Scan(&rv.TenantID, &rv.VersionID, &rulesJSON, &createdAt, &rv.Author, &rv.Notes, &rv.ParentVersionID)
	if err != nil {
		return domain.RuleVersion{}, err
	}
	if rv.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.RuleVersion{}, err
	}
	if err := json.Unmarshal([]byte(rulesJSON), &rv.Rules); err != nil {
		return domain.RuleVersion{}, fmt.Errorf("decode rules: %w", err)
	}
	return rv, nil
}

// --- RuleCandidate (cache db) ---

func (s *SQLStore) UpsertRuleCandidate(ctx context.Context, tenant domain.TenantID, c domain.RuleCandidate) error {
	evidenceJSON, err := json.Marshal(c.EvidenceHistory)
	if err != nil {
		return fmt.Errorf("store: encode evidence history: %w", err)
	}
	_, err = s.cache.ExecContext(ctx, `
		INSERT INTO rule_candidates (tenant_id, vendor_norm, suggested_account, obs_count, mean_conf,
			variance, m2, last_seen, status, evidence_history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, vendor_norm, suggested_account) DO UPDATE SET
			obs_count = excluded.obs_count, mean_conf = excluded.mean_conf, variance = excluded.variance,
			m2 = excluded.m2, last_seen = excluded.last_seen, status = excluded.status,
			evidence_history = excluded.evidence_history`,
		tenant, c.VendorNorm, c.SuggestedAccount, c.ObsCount, c.MeanConf, c.Variance, c.M2,
		formatTime(c.LastSeen), string(c.Status), string(evidenceJSON))
	if err != nil {
		return fmt.Errorf("store: upsert rule candidate %s/%s: %w", c.VendorNorm, c.SuggestedAccount, err)
	}
	return nil
}

func (s *SQLStore) GetRuleCandidate(ctx context.Context, tenant domain.TenantID, vendorNorm, accountCode string) (domain.RuleCandidate, bool, error) {
	row := s.cache.QueryRowContext(ctx, `
		SELECT vendor_norm, suggested_account, obs_count, mean_conf, variance, m2, last_seen, status, evidence_history
		FROM rule_candidates WHERE tenant_id = ? AND vendor_norm = ? AND suggested_account = ?`,
		tenant, vendorNorm, accountCode)
	c, err := scanRuleCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RuleCandidate{}, false, nil
	}
	if err != nil {
		return domain.RuleCandidate{}, false, fmt.Errorf("store: get rule candidate %s/%s: %w", vendorNorm, accountCode, err)
	}
	return c, true, nil
}

func (s *SQLStore) ListRuleCandidates(ctx context.Context, tenant domain.TenantID) ([]domain.RuleCandidate, error) {
	rows, err := s.cache.QueryContext(ctx, `
		SELECT vendor_norm, suggested_account, obs_count, mean_conf, variance, m2, last_seen, status, evidence_history
		FROM rule_candidates WHERE tenant_id = ? ORDER BY vendor_norm, suggested_account`, tenant)
	if err != nil {
		return nil, fmt.Errorf("store: list rule candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.RuleCandidate
	for rows.Next() {
		c, err := scanRuleCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan rule candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanRuleCandidate(row rowScanner) (domain.RuleCandidate, error) {
	var c domain.RuleCandidate
	var lastSeen, status, evidenceJSON string
	err := row.Scan(&c.VendorNorm, &c.SuggestedAccount, &c.ObsCount, &c.MeanConf, &c.Variance, &c.M2, &lastSeen, &status, &evidenceJSON)
	if err != nil {
		return domain.RuleCandidate{}, err
	}
	if c.LastSeen, err = parseTime(lastSeen); err != nil {
		return domain.RuleCandidate{}, err
	}
	c.Status = domain.CandidateStatus(status)
	if err := json.Unmarshal([]byte(evidenceJSON), &c.EvidenceHistory); err != nil {
		return domain.RuleCandidate{}, fmt.Errorf("decode evidence history: %w", err)
	}
	return c, nil
}

// --- CalibrationModel (ledger db: trained models are audit-relevant) ---

func (s *SQLStore) InsertCalibrationModel(ctx context.Context, tenant domain.TenantID, m domain.CalibrationModel) error {
	paramsJSON, err := json.Marshal(m.Parameters)
	if err != nil {
		return fmt.Errorf("store: encode calibration parameters: %w", err)
	}
	binsJSON, err := json.Marshal(m.BinEdges)
	if err != nil {
		return fmt.Errorf("store: encode calibration bin edges: %w", err)
	}
	_, err = s.ledger.ExecContext(ctx, `
		INSERT INTO calibration_models (tenant_id, model_version_id, method, parameters, trained_at, ece, brier, bin_edges)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tenant, m.ModelVersionID, string(m.Method), string(paramsJSON), formatTime(m.TrainedAt), m.ECE, m.Brier, string(binsJSON))
	if err != nil {
		return fmt.Errorf("store: insert calibration model %s: %w", m.ModelVersionID, err)
	}
	return nil
}

func (s *SQLStore) CurrentCalibrationModel(ctx context.Context, tenant domain.TenantID, modelVersionID string) (domain.CalibrationModel, bool, error) {
	row := s.ledger.QueryRowContext(ctx, `
		SELECT model_version_id, method, parameters, trained_at, ece, brier, bin_edges
		FROM calibration_models WHERE tenant_id = ? AND model_version_id = ?`, tenant, modelVersionID)
	var m domain.CalibrationModel
	var method, paramsJSON, trainedAt, binsJSON string
	err := row.Scan(&m.ModelVersionID, &method, &paramsJSON, &trainedAt, &m.ECE, &m.Brier, &binsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CalibrationModel{}, false, nil
	}
	if err != nil {
		return domain.CalibrationModel{}, false, fmt.Errorf("store: current calibration model %s: %w", modelVersionID, err)
	}
	m.Method = domain.CalibrationMethod(method)
	if m.TrainedAt, err = parseTime(trainedAt); err != nil {
		return domain.CalibrationModel{}, false, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &m.Parameters); err != nil {
		return domain.CalibrationModel{}, false, fmt.Errorf("decode parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(binsJSON), &m.BinEdges); err != nil {
		return domain.CalibrationModel{}, false, fmt.Errorf("decode bin edges: %w", err)
	}
	return m, true, nil
}

// --- EmbeddingMemoryRecord (cache db) ---

func (s *SQLStore) InsertEmbeddingRecord(ctx context.Context, tenant domain.TenantID, r domain.EmbeddingMemoryRecord) error {
	vecJSON, err := json.Marshal(r.EmbeddingVector)
	if err != nil {
		return fmt.Errorf("store: encode embedding vector: %w", err)
	}
	_, err = s.cache.ExecContext(ctx, `
		INSERT INTO embedding_records (tenant_id, vendor_norm, account_code, embedding_vector, confirmed)
		VALUES (?, ?, ?, ?, ?)`,
		tenant, r.VendorNorm, r.AccountCode, string(vecJSON), r.Confirmed)
	if err != nil {
		return fmt.Errorf("store: insert embedding record %s/%s: %w", r.VendorNorm, r.AccountCode, err)
	}
	return nil
}

func (s *SQLStore) ListEmbeddingRecords(ctx context.Context, tenant domain.TenantID, vendorNorm string) ([]domain.EmbeddingMemoryRecord, error) {
	rows, err := s.cache.QueryContext(ctx, `
		SELECT vendor_norm, account_code, embedding_vector, confirmed
		FROM embedding_records WHERE tenant_id = ? AND vendor_norm = ?`, tenant, vendorNorm)
	if err != nil {
		return nil, fmt.Errorf("store: list embedding records %s: %w", vendorNorm, err)
	}
	defer rows.Close()

	var out []domain.EmbeddingMemoryRecord
	for rows.Next() {
		var r domain.EmbeddingMemoryRecord
		var vecJSON string
		if err := rows.Scan(&r.VendorNorm, &r.AccountCode, &vecJSON, &r.Confirmed); err != nil {
			return nil, fmt.Errorf("store: scan embedding record: %w", err)
		}
		if err := json.Unmarshal([]byte(vecJSON), &r.EmbeddingVector); err != nil {
			return nil, fmt.Errorf("store: decode embedding vector: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- ExportRecord (ledger db) ---

func (s *SQLStore) InsertExportRecordIfAbsent(ctx context.Context, tenant domain.TenantID, r domain.ExportRecord) (bool, domain.ExportRecord, error) {
	var inserted bool
	var existing domain.ExportRecord
	err := database.WithTransaction(s.ledger.Conn(), func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT je_id, external_id, target, first_exported_at, last_attempt_at, attempts, status
			FROM export_records WHERE tenant_id = ? AND target = ? AND external_id = ?`,
			tenant, r.Target, r.ExternalID)
		var firstAt, lastAt, status string
		scanErr := row.Scan(&existing.JEID, &existing.ExternalID, &existing.Target, &firstAt, &lastAt, &existing.Attempts, &status)
		if scanErr == nil {
			if existing.FirstExportedAt, scanErr = parseTime(firstAt); scanErr != nil {
				return scanErr
			}
			if existing.LastAttemptAt, scanErr = parseTime(lastAt); scanErr != nil {
				return scanErr
			}
			existing.Status = domain.ExportStatus(status)
			inserted = false
			return nil
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return scanErr
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO export_records (tenant_id, target, external_id, je_id, first_exported_at, last_attempt_at, attempts, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tenant, r.Target, r.ExternalID, r.JEID, formatTime(r.FirstExportedAt), formatTime(r.LastAttemptAt), r.Attempts, string(r.Status)); err != nil {
			return err
		}
		inserted = true
		existing = r
		return nil
	})
	if err != nil {
		return false, domain.ExportRecord{}, fmt.Errorf("store: insert export record if absent %s/%s: %w", r.Target, r.ExternalID, err)
	}
	return inserted, existing, nil
}

func (s *SQLStore) BumpExportAttempt(ctx context.Context, tenant domain.TenantID, target, externalID string) error {
	_, err := s.ledger.ExecContext(ctx, `
		UPDATE export_records SET attempts = attempts + 1, last_attempt_at = ?
		WHERE tenant_id = ? AND target = ? AND external_id = ?`,
		formatTime(time.Now()), tenant, target, externalID)
	if err != nil {
		return fmt.Errorf("store: bump export attempt %s/%s: %w", target, externalID, err)
	}
	return nil
}

// --- RetrainEvent (ledger db) ---

func (s *SQLStore) InsertRetrainEvent(ctx context.Context, tenant domain.TenantID, e domain.RetrainEvent) error {
	reasonsJSON, err := json.Marshal(e.Reasons)
	if err != nil {
		return fmt.Errorf("store: encode retrain reasons: %w", err)
	}
	_, err = s.ledger.ExecContext(ctx, `
		INSERT INTO retrain_events (tenant_id, started_at, finished_at, reasons, train_n, valid_n,
			acc_old, acc_new, f1_old, f1_new, promoted, artifact_id, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenant, formatTime(e.StartedAt), formatTime(e.FinishedAt), string(reasonsJSON), e.TrainN, e.ValidN,
		e.AccOld, e.AccNew, e.F1Old, e.F1New, e.Promoted, e.ArtifactID, e.Notes)
	if err != nil {
		return fmt.Errorf("store: insert retrain event: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRetrainEvents(ctx context.Context, tenant domain.TenantID) ([]domain.RetrainEvent, error) {
	rows, err := s.ledger.QueryContext(ctx, `
		SELECT started_at, finished_at, reasons, train_n, valid_n, acc_old, acc_new, f1_old, f1_new,
			promoted, artifact_id, notes
		FROM retrain_events WHERE tenant_id = ? ORDER BY started_at`, tenant)
	if err != nil {
		return nil, fmt.Errorf("store: list retrain events: %w", err)
	}
	defer rows.Close()

	var out []domain.RetrainEvent
	for rows.Next() {
		var e domain.RetrainEvent
		var startedAt, finishedAt, reasonsJSON string
		if err := rows.Scan(&startedAt, &finishedAt, &reasonsJSON, &e.TrainN, &e.ValidN, &e.AccOld, &e.AccNew,
			&e.F1Old, &e.F1New, &e.Promoted, &e.ArtifactID, &e.Notes); err != nil {
			return nil, fmt.Errorf("store: scan retrain event: %w", err)
		}
		if e.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if e.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(reasonsJSON), &e.Reasons); err != nil {
			return nil, fmt.Errorf("store: decode retrain reasons: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.Store = (*SQLStore)(nil)
