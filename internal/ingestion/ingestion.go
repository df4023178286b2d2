// Package ingestion implements Ingestion (spec.md §4.1): parsing CSV/OFX/PDF
// bank statement files into canonical Transaction candidates, with
// per-row error reporting and dedupe-key based duplicate suppression.
// The per-row result collection follows the teacher's batch-processing
// idiom in internal/modules/planning/evaluation/service.go (BatchEvaluate):
// one bad item never aborts the whole batch.
package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/engineerr"
)

// Format is the declared or inferred input format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatOFX Format = "ofx"
	FormatPDF Format = "pdf"
)

// RowError reports one unparseable row without failing the batch.
type RowError struct {
	RowIndex int
	Reason   string
}

// Result is the outcome of one ingestion batch.
type Result struct {
	Transactions   []domain.Transaction
	DuplicateCount int
	RowErrors      []RowError
}

// Deduper is the narrow Store slice Ingest needs to suppress re-ingested
// rows, kept separate from the full domain.Store per this module's
// accept-narrow-interfaces convention.
type Deduper interface {
	ExistsTransaction(ctx context.Context, tenant domain.TenantID, txnID string) (bool, error)
}

// OCRProvider extracts raw text from a PDF statement. Pluggable per
// spec.md §4.1; no concrete OCR engine is wired in-tree.
type OCRProvider interface {
	ExtractText(ctx context.Context, r io.Reader) (string, error)
}

// csvColumnSynonyms maps a recognized canonical column to the header
// spellings it accepts, lower-cased.
var csvColumnSynonyms = map[string][]string{
	"date":         {"date", "posted_at", "transaction date", "posting date"},
	"description":  {"description", "desc", "memo line", "narrative"},
	"amount":       {"amount", "amt"},
	"debit":        {"debit", "debit amount", "withdrawal"},
	"credit":       {"credit", "credit amount", "deposit"},
	"memo":         {"memo", "notes", "note"},
	"counterparty": {"counterparty", "payee", "merchant", "vendor"},
}

// Ingest reads data in the declared format, producing Transaction
// candidates scoped to tenant, suppressing duplicates already known to
// dedup (via txn_id == dedupe key). maxBytes <= 0 disables the size cap.
func Ingest(ctx context.Context, dedup Deduper, tenant domain.TenantID, sourceFileID string, format Format, data []byte, maxBytes int64, ocr OCRProvider) (Result, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Result{}, engineerr.New(engineerr.KindIngest, "ingestion.Ingest",
			fmt.Errorf("input %d bytes exceeds cap %d bytes: %w", len(data), maxBytes, ErrIngestTooLarge))
	}

	var candidates []rowCandidate
	var rowErrors []RowError

	switch format {
	case FormatCSV:
		candidates, rowErrors = parseCSV(data)
	case FormatOFX:
		candidates, rowErrors = parseOFX(data)
	case FormatPDF:
		if ocr == nil {
			return Result{}, engineerr.New(engineerr.KindIngest, "ingestion.Ingest", fmt.Errorf("pdf format requires an OCRProvider"))
		}
		text, err := ocr.ExtractText(ctx, bytes.NewReader(data))
		if err != nil {
			return Result{}, engineerr.New(engineerr.KindIngest, "ingestion.Ingest", fmt.Errorf("ocr extraction: %w", err))
		}
		candidates, rowErrors = parseCSV([]byte(text))
	default:
		return Result{}, engineerr.New(engineerr.KindIngest, "ingestion.Ingest", fmt.Errorf("unsupported format %q", format))
	}

	result := Result{RowErrors: rowErrors}
	now := time.Now().UTC()

	for _, c := range candidates {
		txn := domain.Transaction{
			TenantID:         tenant,
			PostedAt:         c.postedAt,
			AmountMinor:      c.amountMinor,
			Currency:         c.currency,
			DescriptionRaw:   c.description,
			CounterpartyRaw:  c.counterparty,
			SourceFileID:     sourceFileID,
			SourceRowRef:     strconv.Itoa(c.rowIndex),
			IngestedAt:       now,
		}
		txn.TxnID = txn.DedupeKey()

		exists, err := dedup.ExistsTransaction(ctx, tenant, txn.TxnID)
		if err != nil {
			return Result{}, engineerr.New(engineerr.KindStorage, "ingestion.Ingest", err)
		}
		if exists {
			result.DuplicateCount++
			continue
		}
		result.Transactions = append(result.Transactions, txn)
	}

	return result, nil
}

// ErrIngestTooLarge is wrapped into the returned engineerr.Error when the
// input exceeds the configured size cap.
var ErrIngestTooLarge = fmt.Errorf("ingestion: input exceeds configured size cap")

type rowCandidate struct {
	rowIndex     int
	postedAt     time.Time
	amountMinor  int64
	currency     string
	description  string
	counterparty string
}

// parseCSV auto-detects the delimiter and header synonyms, reconciling
// either a signed amount column or separate debit/credit columns to one
// signed amount_minor, per spec.md §4.1.
func parseCSV(data []byte) ([]rowCandidate, []RowError) {
	delimiter := detectDelimiter(data)

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1 // tolerate ragged rows; reconciled per-column below
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	var header []string
	colIndex := map[string]int{}
	var candidates []rowCandidate
	var errs []RowError

	rowIndex := 0
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, RowError{RowIndex: rowIndex, Reason: fmt.Sprintf("malformed csv row: %v", err)})
			rowIndex++
			continue
		}
		if len(fields) == 0 || (len(fields) == 1 && strings.TrimSpace(fields[0]) == "") {
			rowIndex++
			continue
		}

		if header == nil {
			header = fields
			colIndex = resolveColumns(header)
			rowIndex++
			continue
		}

		cand, reason := parseCSVRow(rowIndex, fields, colIndex)
		if reason != "" {
			errs = append(errs, RowError{RowIndex: rowIndex, Reason: reason})
		} else {
			candidates = append(candidates, cand)
		}
		rowIndex++
	}

	return candidates, errs
}

func detectDelimiter(data []byte) rune {
	firstLine := data
	if idx := strings.IndexByte(string(data), '\n'); idx >= 0 {
		firstLine = data[:idx]
	}
	counts := map[rune]int{
		',':  strings.Count(string(firstLine), ","),
		';':  strings.Count(string(firstLine), ";"),
		'\t': strings.Count(string(firstLine), "\t"),
	}
	best, bestCount := rune(','), counts[',']
	for d, c := range counts {
		if c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}

func resolveColumns(header []string) map[string]int {
	idx := map[string]int{}
	for i, h := range header {
		lower := strings.ToLower(strings.TrimSpace(h))
		for canonical, synonyms := range csvColumnSynonyms {
			for _, syn := range synonyms {
				if lower == syn {
					idx[canonical] = i
				}
			}
		}
	}
	return idx
}

func parseCSVRow(rowIndex int, fields []string, colIndex map[string]int) (rowCandidate, string) {
	dateIdx, ok := colIndex["date"]
	if !ok || dateIdx >= len(fields) {
		return rowCandidate{}, "missing recognized date column"
	}
	postedAt, err := parseDate(fields[dateIdx])
	if err != nil {
		return rowCandidate{}, fmt.Sprintf("unparseable date %q", fields[dateIdx])
	}

	amountMinor, reason := resolveAmount(fields, colIndex)
	if reason != "" {
		return rowCandidate{}, reason
	}

	description := field(fields, colIndex, "description")
	if description == "" {
		description = field(fields, colIndex, "memo")
	}

	return rowCandidate{
		rowIndex:     rowIndex,
		postedAt:     postedAt,
		amountMinor:  amountMinor,
		currency:     "USD",
		description:  description,
		counterparty: field(fields, colIndex, "counterparty"),
	}, ""
}

func field(fields []string, colIndex map[string]int, name string) string {
	idx, ok := colIndex[name]
	if !ok || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

func resolveAmount(fields []string, colIndex map[string]int) (int64, string) {
	if idx, ok := colIndex["amount"]; ok && idx < len(fields) {
		minor, err := parseMinor(fields[idx])
		if err != nil {
			return 0, fmt.Sprintf("unparseable amount %q", fields[idx])
		}
		return minor, ""
	}

	debitIdx, hasDebit := colIndex["debit"]
	creditIdx, hasCredit := colIndex["credit"]
	if !hasDebit && !hasCredit {
		return 0, "no amount, debit, or credit column recognized"
	}

	var debit, credit int64
	var err error
	if hasDebit && debitIdx < len(fields) && strings.TrimSpace(fields[debitIdx]) != "" {
		debit, err = parseMinor(fields[debitIdx])
		if err != nil {
			return 0, fmt.Sprintf("unparseable debit %q", fields[debitIdx])
		}
	}
	if hasCredit && creditIdx < len(fields) && strings.TrimSpace(fields[creditIdx]) != "" {
		credit, err = parseMinor(fields[creditIdx])
		if err != nil {
			return 0, fmt.Sprintf("unparseable credit %q", fields[creditIdx])
		}
	}

	if debit == 0 && credit == 0 {
		return 0, "both debit and credit are empty or zero"
	}
	// Bank's perspective: a debit from the account is an outflow (negative).
	return credit - abs64(debit), ""
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func parseDate(s string) (time.Time, error) {
	layouts := []string{"2006-01-02", "01/02/2006", "1/2/2006", "2006/01/02", time.RFC3339}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	minor := int64(f*100 + sign(f)*0.5)
	if neg {
		minor = -abs64(minor)
	}
	return minor, nil
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

var (
	ofxTrnRe  = regexp.MustCompile(`(?is)<STMTTRN>(.*?)</STMTTRN>`)
	ofxTagRe  = regexp.MustCompile(`(?i)<([A-Z0-9.]+)>([^<\r\n]*)`)
)

// parseOFX extracts STMTTRN blocks from OFX/QFX's SGML-like body via
// tag scanning, since OFX is not well-formed XML (tags are often
// unclosed). No third-party OFX library exists in the example pack, so
// this is a deliberate stdlib regexp fallback (documented in DESIGN.md).
func parseOFX(data []byte) ([]rowCandidate, []RowError) {
	var candidates []rowCandidate
	var errs []RowError

	matches := ofxTrnRe.FindAllSubmatch(data, -1)
	for i, m := range matches {
		tags := map[string]string{}
		for _, tm := range ofxTagRe.FindAllSubmatch(m[1], -1) {
			tags[strings.ToUpper(string(tm[1]))] = strings.TrimSpace(string(tm[2]))
		}

		postedAt, err := parseOFXDate(tags["DTPOSTED"])
		if err != nil {
			errs = append(errs, RowError{RowIndex: i, Reason: fmt.Sprintf("unparseable DTPOSTED %q", tags["DTPOSTED"])})
			continue
		}
		amountMinor, err := parseMinor(tags["TRNAMT"])
		if err != nil {
			errs = append(errs, RowError{RowIndex: i, Reason: fmt.Sprintf("unparseable TRNAMT %q", tags["TRNAMT"])})
			continue
		}

		candidates = append(candidates, rowCandidate{
			rowIndex:     i,
			postedAt:     postedAt,
			amountMinor:  amountMinor,
			currency:     "USD",
			description:  firstNonEmpty(tags["NAME"], tags["MEMO"]),
			counterparty: tags["NAME"],
		})
	}

	return candidates, errs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseOFXDate(s string) (time.Time, error) {
	if len(s) < 8 {
		return time.Time{}, fmt.Errorf("ofx date too short: %q", s)
	}
	return time.Parse("20060102", s[:8])
}
