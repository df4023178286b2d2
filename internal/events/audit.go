// Package events implements the AuditSink (spec.md §6.5): an append-only,
// at-least-once structured event log. The tagged-variant EventData/Kind
// dispatch here generalizes the teacher's event_data.go (EventData interface,
// EventWithData custom Marshal/UnmarshalJSON) from the trading domain's
// event catalogue to this domain's: decision traces, rule promotions/
// rollbacks, export attempts, and retrain completions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerwell/decisioning/internal/database"
	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/rs/zerolog"
)

// Kind is the closed set of audit event kinds (mirrors the comment on
// domain.AuditEvent.Kind).
type Kind string

const (
	KindDecisionTraced  Kind = "decision_traced"
	KindRulePromoted    Kind = "rule_promoted"
	KindRuleRolledBack  Kind = "rule_rolled_back"
	KindExportAttempted Kind = "export_attempted"
	KindRetrainComplete Kind = "retrain_completed"
)

// EventData is the interface every kind-specific payload implements, after
// the teacher's event_data.go EventData/EventType() dispatch pattern.
type EventData interface {
	Kind() Kind
}

type DecisionTracedData struct {
	JEID          string              `json:"je_id"`
	TxnID         string              `json:"txn_id"`
	Route         string              `json:"route"`
	Confidence    float64             `json:"confidence"`
	RuleVersionID string              `json:"rule_version_id,omitempty"`
	Trace         domain.DecisionTrace `json:"trace"`
}

func (d DecisionTracedData) Kind() Kind { return KindDecisionTraced }

type RulePromotedData struct {
	VersionID       string `json:"version_id"`
	ParentVersionID string `json:"parent_version_id,omitempty"`
	VendorNorm      string `json:"vendor_norm"`
	AccountCode     string `json:"account_code"`
	Author          string `json:"author"`
}

func (d RulePromotedData) Kind() Kind { return KindRulePromoted }

type RuleRolledBackData struct {
	VersionID       string `json:"version_id"`
	RolledBackToID  string `json:"rolled_back_to_id"`
	Reason          string `json:"reason"`
}

func (d RuleRolledBackData) Kind() Kind { return KindRuleRolledBack }

type ExportAttemptedData struct {
	JEID       string `json:"je_id"`
	Target     string `json:"target"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
}

func (d ExportAttemptedData) Kind() Kind { return KindExportAttempted }

type RetrainCompletedData struct {
	Reasons    []string `json:"reasons"`
	Promoted   bool     `json:"promoted"`
	AccOld     float64  `json:"acc_old"`
	AccNew     float64  `json:"acc_new"`
	ArtifactID string   `json:"artifact_id,omitempty"`
}

func (d RetrainCompletedData) Kind() Kind { return KindRetrainComplete }

// SQLSink implements domain.AuditSink over the ledger database's
// audit_events table. EventID is attacker/caller-supplied-or-generated
// and is the at-least-once dedupe key consumers are expected to use.
type SQLSink struct {
	db  *database.DB
	log zerolog.Logger
}

func NewSQLSink(db *database.DB, log zerolog.Logger) *SQLSink {
	return &SQLSink{db: db, log: log.With().Str("component", "audit_sink").Logger()}
}

func (s *SQLSink) Append(ctx context.Context, e domain.AuditEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, tenant_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.TenantID, e.Kind, e.Payload, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("events: append audit event %s: %w", e.EventID, err)
	}
	s.log.Debug().Str("event_id", e.EventID).Str("kind", e.Kind).Msg("audit event appended")
	return nil
}

// Encode builds the AuditEvent's json-encoded payload from a typed
// EventData, filling Kind from the payload's own Kind() rather than
// requiring the caller to keep the two in sync.
func Encode(tenant domain.TenantID, data EventData) (domain.AuditEvent, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("events: encode %s payload: %w", data.Kind(), err)
	}
	return domain.AuditEvent{
		EventID:  uuid.NewString(),
		TenantID: tenant,
		Kind:     string(data.Kind()),
		Payload:  payload,
	}, nil
}

// Decode parses a stored AuditEvent's payload back into the concrete
// EventData type its Kind selects, mirroring event_data.go's
// UnmarshalJSON-by-type switch.
func Decode(e domain.AuditEvent) (EventData, error) {
	var target EventData
	switch Kind(e.Kind) {
	case KindDecisionTraced:
		target = &DecisionTracedData{}
	case KindRulePromoted:
		target = &RulePromotedData{}
	case KindRuleRolledBack:
		target = &RuleRolledBackData{}
	case KindExportAttempted:
		target = &ExportAttemptedData{}
	case KindRetrainComplete:
		target = &RetrainCompletedData{}
	default:
		return nil, fmt.Errorf("events: unknown audit event kind %q", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return nil, fmt.Errorf("events: decode %s payload: %w", e.Kind, err)
	}
	switch v := target.(type) {
	case *DecisionTracedData:
		return *v, nil
	case *RulePromotedData:
		return *v, nil
	case *RuleRolledBackData:
		return *v, nil
	case *ExportAttemptedData:
		return *v, nil
	case *RetrainCompletedData:
		return *v, nil
	}
	return target, nil
}

var _ domain.AuditSink = (*SQLSink)(nil)
