// Package exporter implements Exporter (spec.md §4, §6.2-6.3): idempotent
// CSV emission of posted JournalEntries, keyed by a SHA-256 derived
// ExternalId. The checksum derivation mirrors the teacher's
// internal/reliability/r2_backup_service.go calculateChecksum pattern,
// applied to an in-memory canonical payload instead of a file.
package exporter

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// injectionPrefixes are the leading characters RFC 4180-compliant CSV
// consumers (notably spreadsheet applications) may interpret as formula
// triggers, per spec.md §6.2.
var injectionPrefixes = []byte{'=', '+', '-', '@', '\t', '\r'}

// sanitizeField prefixes a field with a single quote if its first
// character could be interpreted as a spreadsheet formula trigger.
func sanitizeField(s string) string {
	if s == "" {
		return s
	}
	for _, p := range injectionPrefixes {
		if s[0] == p {
			return "'" + s
		}
	}
	return s
}

// ExternalID computes the canonical SHA-256 payload hash for one JE
// against a given export target, per spec.md §6.2: sorted lines, rounded
// amounts as integer minor units, tenant, target. Full is the 64-hex
// digest (stored on the ExportRecord); Short is its first 32 hex chars
// (written into the CSV row).
func ExternalID(je domain.JournalEntry, target string) (full, short string) {
	lines := append([]domain.JELine(nil), je.Lines...)
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].AccountCode != lines[j].AccountCode {
			return lines[i].AccountCode < lines[j].AccountCode
		}
		return lines[i].LineNo < lines[j].LineNo
	})

	var b strings.Builder
	fmt.Fprintf(&b, "tenant:%s|target:%s|", je.TenantID, target)
	for _, l := range lines {
		fmt.Fprintf(&b, "line:%s:%d:%d|", l.AccountCode, l.DebitMinor, l.CreditMinor)
	}

	sum := sha256.Sum256([]byte(b.String()))
	full = hex.EncodeToString(sum[:])
	short = full[:32]
	return full, short
}

// Row is one CSV export row, per spec.md §6.2's 11-column format.
type Row struct {
	ExternalID   string
	JournalID    string
	Date         string
	AccountCode  string
	AccountName  string
	Debit        string
	Credit       string
	Memo         string
	Currency     string
	RuleVersion  string
	ModelVersion string
}

// BuildRows expands one JournalEntry into its per-line CSV rows. accounts
// maps account code to display name for the AccountName column.
func BuildRows(je domain.JournalEntry, externalIDShort string, accounts map[string]string, currency string) []Row {
	rows := make([]Row, 0, len(je.Lines))
	for _, l := range je.Lines {
		rows = append(rows, Row{
			ExternalID:   externalIDShort,
			JournalID:    je.JEID,
			Date:         je.PostedAt.Format("2006-01-02"),
			AccountCode:  l.AccountCode,
			AccountName:  accounts[l.AccountCode],
			Debit:        minorToDecimal(l.DebitMinor),
			Credit:       minorToDecimal(l.CreditMinor),
			Memo:         l.Memo,
			Currency:     currency,
			RuleVersion:  je.RuleVersionID,
			ModelVersion: je.ModelVersionID,
		})
	}
	return rows
}

// minorToDecimal renders integer minor units (cents) as a two-decimal
// string; zero renders as "" so exactly one of Debit/Credit is nonempty
// per spec.md §6.2.
func minorToDecimal(minor int64) string {
	if minor == 0 {
		return ""
	}
	whole := minor / 100
	frac := minor % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d", whole, frac)
}

// WriteCSV renders rows as RFC 4180 CSV (via encoding/csv) with header and
// CSV-injection sanitization applied to every field.
func WriteCSV(w *csv.Writer, rows []Row) error {
	header := []string{"ExternalId", "JournalId", "Date", "AccountCode", "AccountName", "Debit", "Credit", "Memo", "Currency", "RuleVersion", "ModelVersion"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			sanitizeField(r.ExternalID),
			sanitizeField(r.JournalID),
			sanitizeField(r.Date),
			sanitizeField(r.AccountCode),
			sanitizeField(r.AccountName),
			sanitizeField(r.Debit),
			sanitizeField(r.Credit),
			sanitizeField(r.Memo),
			sanitizeField(r.Currency),
			sanitizeField(r.RuleVersion),
			sanitizeField(r.ModelVersion),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Ledger is the narrow slice of domain.Store the exporter needs for its
// idempotency check-and-insert, kept separate from the full Store
// interface so tests can fake exactly this.
type Ledger interface {
	InsertExportRecordIfAbsent(ctx context.Context, tenant domain.TenantID, r domain.ExportRecord) (inserted bool, existing domain.ExportRecord, err error)
	BumpExportAttempt(ctx context.Context, tenant domain.TenantID, target, externalID string) error
}

// BatchResult is the idempotency protocol response of spec.md §6.3.
type BatchResult struct {
	NewCount             int
	SkippedDuplicateCount int
}

// ExportBatch derives each JE's ExternalId and attempts a conditional
// insert into the ledger; re-submitting an already-exported JE increments
// its attempts counter and counts as skipped_duplicate, never erroring.
func ExportBatch(ctx context.Context, ledger Ledger, jes []domain.JournalEntry, tenant domain.TenantID, target string) (BatchResult, error) {
	var result BatchResult
	for _, je := range jes {
		full, _ := ExternalID(je, target)
		rec := domain.ExportRecord{
			JEID:       je.JEID,
			ExternalID: full,
			Target:     target,
			Status:     domain.ExportPosted,
			Attempts:   1,
		}
		inserted, _, err := ledger.InsertExportRecordIfAbsent(ctx, tenant, rec)
		if err != nil {
			return result, err
		}
		if inserted {
			result.NewCount++
			continue
		}
		if err := ledger.BumpExportAttempt(ctx, tenant, target, full); err != nil {
			return result, err
		}
		result.SkippedDuplicateCount++
	}
	return result, nil
}
