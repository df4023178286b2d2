// Package pipeline wires the per-transaction decisioning path C1-C9 of
// spec.md §2 (VendorNormalizer -> (RuleEngine ‖ EmbeddingMemory ‖
// MLClassifier) -> DecisionBlender -> GatingPolicy -> JEBuilder) into one
// orchestrator, and the asynchronous jobs (export, promote, retrain,
// drift-check) into queue.WorkerPool handlers. Every concrete decision step
// lives in its own package (internal/rules, internal/blender, ...); this
// package only sequences calls and owns no decisioning logic of its own,
// mirroring the teacher's internal/services orchestration layer over its
// repository/service packages.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ledgerwell/decisioning/internal/blender"
	"github.com/ledgerwell/decisioning/internal/config"
	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/embedmemory"
	"github.com/ledgerwell/decisioning/internal/events"
	"github.com/ledgerwell/decisioning/internal/gating"
	"github.com/ledgerwell/decisioning/internal/jebuilder"
	"github.com/ledgerwell/decisioning/internal/llmadjudicator"
	"github.com/ledgerwell/decisioning/internal/mlclassifier"
	"github.com/ledgerwell/decisioning/internal/rules"
	"github.com/ledgerwell/decisioning/internal/vendor"
	"github.com/rs/zerolog"
)

// Engine sequences one Transaction through every collaborator up to a
// stored JournalEntry. It holds no transaction-specific state; a single
// Engine is safe for concurrent ProcessTransaction calls across
// transactions, per spec.md §5 ("parallel with cooperative suspension
// points").
type Engine struct {
	Store       domain.Store
	Memory      *embedmemory.Memory
	Classifier  *mlclassifier.Classifier
	Calibration *CalibrationHandle
	Adjudicator *llmadjudicator.Adjudicator
	Weights     blender.Weights
	Audit       domain.AuditSink
	Clock       domain.Clock
	Cfg         *config.Config
	Log         zerolog.Logger
}

// NewEngine validates weights once at construction, per spec.md §4.7
// ("validated at startup"), and returns an Engine ready for
// ProcessTransaction.
func NewEngine(
	store domain.Store,
	memory *embedmemory.Memory,
	classifier *mlclassifier.Classifier,
	calibration *CalibrationHandle,
	adjudicator *llmadjudicator.Adjudicator,
	weights blender.Weights,
	audit domain.AuditSink,
	clock domain.Clock,
	cfg *config.Config,
	log zerolog.Logger,
) (*Engine, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		Store: store, Memory: memory, Classifier: classifier, Calibration: calibration,
		Adjudicator: adjudicator, Weights: weights, Audit: audit, Clock: clock, Cfg: cfg,
		Log: log.With().Str("component", "pipeline_engine").Logger(),
	}, nil
}

// ProcessTransaction runs C2-C9 against one already-ingested Transaction
// (txn.CounterpartyNorm is overwritten with vendor.Normalize's output) and
// persists the resulting JournalEntry. It never returns an error for a
// signal failing to produce a candidate — only for infrastructure failures
// (store I/O) that leave the transaction unprocessed.
func (e *Engine) ProcessTransaction(ctx context.Context, tenant domain.Tenant, txn domain.Transaction) (domain.JournalEntry, error) {
	txn.CounterpartyNorm = vendor.Normalize(txn.CounterpartyRaw)
	descNorm := vendor.Normalize(txn.DescriptionRaw)

	if err := e.Store.InsertTransaction(ctx, txn); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("pipeline: insert transaction %s: %w", txn.TxnID, err)
	}

	coa, err := e.Store.ListAccounts(ctx, tenant.ID)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("pipeline: list accounts: %w", err)
	}
	coaByCode := make(map[string]domain.Account, len(coa))
	for _, a := range coa {
		coaByCode[a.Code] = a
	}

	rv, hasRV, err := e.Store.CurrentRuleVersion(ctx, tenant.ID)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("pipeline: current rule version: %w", err)
	}

	trace := domain.DecisionTrace{VendorNorm: txn.CounterpartyNorm}

	// C3: RuleEngine.
	var ruleEval rules.EvalResult
	ruleSignal := blender.SignalScore{}
	if hasRV {
		ruleEval = rules.Evaluate(txn, rv)
		trace.RuleVersionID = rv.VersionID
		if ruleEval.Match != nil {
			ruleSignal = blender.SignalScore{AccountCode: ruleEval.Match.AccountCode, Score: rules.Score(ruleEval), Present: true}
			trace = trace.Append(domain.TraceEntry{Kind: domain.SignalRule, Rule: &domain.RuleTraceData{
				RuleID: ruleEval.Match.RuleID, Pattern: ruleEval.Match.Pattern,
				MatchType: string(ruleEval.Match.MatchType), AccountCode: ruleEval.Match.AccountCode,
			}})
		}
	}

	// C4: EmbeddingMemory. Its retrieval result augments the "ML" blender
	// slot rather than occupying a fourth slot — spec.md §4.7 fixes the
	// blended triple at (rules, ml, llm); EmbeddingMemory's candidate is
	// folded into "ml" by taking whichever of MLClassifier/EmbeddingMemory
	// scores higher, and its top mappings still separately populate
	// LLMRequest.TopHistoricalMaps below (decided per SPEC_FULL.md Open
	// Questions since the original text names EmbeddingMemory as a third
	// parallel signal but the fixed triple has no slot for it).
	memResult := e.Memory.Retrieve(ctx, tenant.ID, txn.CounterpartyNorm, descNorm)

	// C5: MLClassifier.
	fv := mlclassifier.Extract(txn)
	dist := e.Classifier.Predict(fv)
	mlAccount, mlRaw := dist.Argmax()
	calibration := e.Calibration.Load()
	calibratedP := mlclassifier.CalibrateIsotonic(calibration, mlRaw)
	if calibration.Method == domain.CalibrationTemperature {
		calibratedP = mlclassifier.CalibrateTemperature(calibration, mlRaw)
	}

	mlSignal := blender.SignalScore{AccountCode: mlAccount, Score: calibratedP, Present: mlAccount != ""}
	if memResult.Score > mlSignal.Score {
		mlSignal = blender.SignalScore{AccountCode: memResult.AccountCode, Score: memResult.Score, Present: memResult.AccountCode != ""}
	}
	if mlSignal.Present {
		trace.ModelVersionID = e.Classifier.ModelVersionID
		trace = trace.Append(domain.TraceEntry{Kind: domain.SignalML, ML: &domain.MLTraceData{
			ModelVersionID: e.Classifier.ModelVersionID, AccountCode: mlAccount,
			RawProbability: mlRaw, CalibratedP: calibratedP, CalibrationMethod: string(calibration.Method),
		}})
	}

	// C6: LLMAdjudicator, invoked when the preliminary score is in the
	// uncertain band or when the rule and ML signals name different accounts.
	preliminary := mlSignal.Score
	if ruleSignal.Present {
		preliminary = ruleSignal.Score
	}
	llmSignal := blender.SignalScore{}
	llmDegraded := false
	signalsDisagree := ruleSignal.Present && mlSignal.Present && ruleSignal.AccountCode != mlSignal.AccountCode
	llmRequired := e.Adjudicator != nil && (e.Adjudicator.InBand(preliminary) || signalsDisagree)
	if llmRequired {
		history, herr := e.Store.ListEmbeddingRecords(ctx, tenant.ID, txn.CounterpartyNorm)
		if herr != nil {
			history = nil
		}
		outcome := e.Adjudicator.Adjudicate(ctx, domain.LLMRequest{
			TenantID: tenant.ID, TxnID: txn.TxnID, DescriptionRaw: txn.DescriptionRaw,
			CounterpartyNorm: txn.CounterpartyNorm, AmountMinor: txn.AmountMinor, Currency: txn.Currency,
			ChartOfAccounts: coa, TopHistoricalMaps: history,
		})
		outcome = llmadjudicator.Guard(ruleSignal.Present, ruleSignal.AccountCode, outcome)
		if outcome.Reason != llmadjudicator.ReasonNone {
			llmDegraded = true
		}
		if outcome.Invoked && outcome.Response.AccountCode != "" {
			llmSignal = blender.SignalScore{AccountCode: outcome.Response.AccountCode, Score: outcome.Response.Score, Present: true}
			trace = trace.Append(domain.TraceEntry{Kind: domain.SignalLLM, LLM: &domain.LLMTraceData{
				AccountCode: outcome.Response.AccountCode, Score: outcome.Response.Score,
				Rationale: outcome.Response.Rationale, NeedsReview: outcome.Response.NeedsReview, Reason: string(outcome.Reason),
			}})
		}
	}

	// C7: DecisionBlender.
	decision := blender.Blend(e.Weights, blender.Inputs{Rules: ruleSignal, ML: mlSignal, LLM: llmSignal})

	// C8: GatingPolicy.
	labels, lerr := confirmedLabels(ctx, e.Store, tenant.ID)
	if lerr != nil {
		labels = nil
	}
	threshold := tenant.Threshold
	if threshold <= 0 {
		threshold = e.Cfg.DefaultThreshold
	}
	coldStartMin := tenant.ColdStartMin
	if coldStartMin <= 0 {
		coldStartMin = e.Cfg.ColdStartMin
	}

	gateIn := gating.Input{
		RuleMatched: ruleSignal.Present, RuleAccount: ruleSignal.AccountCode, BlendAccount: decision.AccountCode,
		CalibratedP: calibratedP, HasCalibratedP: true, Threshold: threshold,
		ColdStartConfirmations: coldStartConfirmations(labels, txn.CounterpartyNorm), ColdStartMin: coldStartMin,
		JEBalanced: true, LLMRequired: llmRequired, LLMDegraded: llmDegraded,
		RuleConflict: ruleEval.Conflict, AmountMinor: txn.AmountMinor,
		SameAccountAmounts: sameAccountAmounts(labels, decision.AccountCode), AnomalyMADMultiplier: e.Cfg.AnomalyMADMultiplier,
		AnomalyBlocksAutopost: tenant.AnomalyBlocksAutopost,
	}

	// C9: JEBuilder. A failed CoA lookup (unknown account code on either
	// side) means no balanced JE can be constructed; per this package's own
	// doc comment callers must route to review with reason=imbalance
	// instead of committing a partial JE. An empty-lines stub is persisted
	// anyway so the unresolvable account mapping is visible for review
	// rather than silently dropping the transaction.
	je, buildErr := jebuilder.Build(jebuilder.Input{
		Tenant: tenant, Transaction: txn, AccountCode: decision.AccountCode, CoA: coaByCode,
		Confidence: decision.BlendScore, CalibratedP: calibratedP, HasCalibratedP: true,
		Rationale: rationale(decision), RuleVersionID: trace.RuleVersionID, ModelVersionID: trace.ModelVersionID,
		DecisionTrace: trace, Route: gating.RouteReview, Reason: domain.ReasonImbalance,
	})
	if buildErr != nil {
		je = domain.JournalEntry{
			TenantID: txn.TenantID, TxnID: txn.TxnID, PostedAt: txn.PostedAt, Status: domain.JEProposed,
			Confidence: decision.BlendScore, CalibratedP: calibratedP, HasCalibratedP: true,
			Rationale: fmt.Sprintf("%s (%s)", rationale(decision), buildErr), RuleVersionID: trace.RuleVersionID,
			ModelVersionID: trace.ModelVersionID, DecisionTrace: trace,
			Route: gating.RouteReview, Reason: domain.ReasonImbalance,
		}
	}

	gateIn.JEBalanced = buildErr == nil
	gateResult := gating.Decide(gateIn)

	je.JEID = uuid.NewString()
	if buildErr == nil {
		je.Route = gateResult.Route
		je.Reason = gateResult.Reason
		if gateResult.Route == gating.RouteAutoPost && tenant.AutopostEnabled {
			je.Status = domain.JEApproved
		}
	}

	if err := e.Store.InsertJE(ctx, je); err != nil {
		return domain.JournalEntry{}, fmt.Errorf("pipeline: insert JE %s: %w", je.JEID, err)
	}

	if memResult.AccountCode != "" {
		e.Log.Debug().Str("txn_id", txn.TxnID).Str("account", memResult.AccountCode).Msg("embedding memory candidate considered")
	}

	e.audit(ctx, tenant.ID, je)
	return je, nil
}

func rationale(d blender.Decision) string {
	return fmt.Sprintf("blended account %s at score %.4f", d.AccountCode, d.BlendScore)
}

func (e *Engine) audit(ctx context.Context, tenant domain.TenantID, je domain.JournalEntry) {
	if e.Audit == nil {
		return
	}
	evt, err := events.Encode(tenant, events.DecisionTracedData{
		JEID: je.JEID, TxnID: je.TxnID, Route: je.Route, Confidence: je.Confidence,
		RuleVersionID: je.RuleVersionID, Trace: je.DecisionTrace,
	})
	if err != nil {
		e.Log.Warn().Err(err).Msg("failed to encode decision_traced audit event")
		return
	}
	evt.CreatedAt = e.Clock.Now()
	if err := e.Audit.Append(ctx, evt); err != nil {
		e.Log.Warn().Err(err).Str("je_id", je.JEID).Msg("failed to append audit event")
	}
}
