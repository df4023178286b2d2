package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/ledgerwell/decisioning/internal/config"
	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/drift"
	"github.com/ledgerwell/decisioning/internal/events"
	"github.com/ledgerwell/decisioning/internal/exporter"
	"github.com/ledgerwell/decisioning/internal/mlclassifier"
	"github.com/ledgerwell/decisioning/internal/promoter"
	"github.com/ledgerwell/decisioning/internal/queue"
	"github.com/ledgerwell/decisioning/internal/retrainer"
	"github.com/rs/zerolog"
)

// JobRunner holds every collaborator the asynchronous side of the
// decisioning engine needs (export, rule promotion, drift check, retrain —
// spec.md §4.10-§4.12) and registers one queue.Handler per job type. It
// shares its Classifier and Calibration pointers with the Engine that
// processes live transactions, so a successful promotion or retrain takes
// effect on the very next ProcessTransaction call with no restart, exactly
// as internal/promoter.CurrentVersion's Load/Store lets new rule versions
// take effect without restarting anything that reads them.
type JobRunner struct {
	Store           domain.Store
	Blob            domain.BlobStore
	Audit           domain.AuditSink
	Clock           domain.Clock
	Cfg             *config.Config
	Classifier      *mlclassifier.Classifier
	Calibration     *CalibrationHandle
	Queue           queue.Queue
	ExportTarget    string
	PromoterPolicy  promoter.Policy
	Guardrails      retrainer.Guardrails
	DriftThresholds drift.Thresholds
	Log             zerolog.Logger
}

// Register binds every job handler onto pool.
func (r *JobRunner) Register(pool *queue.WorkerPool) {
	pool.Register(queue.JobTypeExport, r.handleExport)
	pool.Register(queue.JobTypePromote, r.handlePromote)
	pool.Register(queue.JobTypeDriftCheck, r.handleDriftCheck)
	pool.Register(queue.JobTypeRetrain, r.handleRetrain)
}

// handleExport exports every approved-but-unexported JE for job.TenantID,
// per spec.md §4.10/§6.2-6.3, then marks each as posted. domain.Store
// already implements exporter.Ledger's two-method shape, so it is passed
// directly with no adapter.
func (r *JobRunner) handleExport(ctx context.Context, job *queue.Job) error {
	tenant := domain.TenantID(job.TenantID)
	jes, err := r.Store.ListJEs(ctx, tenant)
	if err != nil {
		return fmt.Errorf("pipeline: export: list JEs: %w", err)
	}

	var pending []domain.JournalEntry
	for _, je := range jes {
		if je.Status == domain.JEApproved {
			pending = append(pending, je)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	result, err := exporter.ExportBatch(ctx, r.Store, pending, tenant, r.ExportTarget)
	if err != nil {
		return fmt.Errorf("pipeline: export: batch: %w", err)
	}

	for _, je := range pending {
		je.Status = domain.JEPosted
		if err := r.Store.UpdateJE(ctx, je); err != nil {
			return fmt.Errorf("pipeline: export: mark JE %s posted: %w", je.JEID, err)
		}
		full, _ := exporter.ExternalID(je, r.ExportTarget)
		r.audit(ctx, tenant, events.ExportAttemptedData{
			JEID: je.JEID, Target: r.ExportTarget, ExternalID: full, Status: string(domain.ExportPosted), Attempts: 1,
		})
	}

	r.Log.Info().Str("tenant", string(tenant)).Int("new", result.NewCount).
		Int("skipped_duplicate", result.SkippedDuplicateCount).Msg("export batch complete")
	return nil
}

// handlePromote promotes every rule candidate that has crossed
// spec.md §4.11's observation/confidence/variance thresholds into a new,
// published RuleVersion.
func (r *JobRunner) handlePromote(ctx context.Context, job *queue.Job) error {
	tenant := domain.TenantID(job.TenantID)
	candidates, err := r.Store.ListRuleCandidates(ctx, tenant)
	if err != nil {
		return fmt.Errorf("pipeline: promote: list candidates: %w", err)
	}

	for _, c := range candidates {
		if c.Status != domain.CandidatePending || !promoter.ReadyToPromote(c, r.PromoterPolicy) {
			continue
		}

		current, hasCurrent, err := r.Store.CurrentRuleVersion(ctx, tenant)
		if err != nil {
			return fmt.Errorf("pipeline: promote: current rule version: %w", err)
		}
		if !hasCurrent {
			current = domain.RuleVersion{TenantID: tenant}
		}

		next := promoter.Promote(current, c, "adaptive_rule_promoter")
		hash, err := promoter.ContentHash(next)
		if err != nil {
			return fmt.Errorf("pipeline: promote: content hash: %w", err)
		}
		next.VersionID = hash
		next.CreatedAt = r.Clock.Now()

		if err := r.Store.InsertRuleVersion(ctx, next); err != nil {
			return fmt.Errorf("pipeline: promote: insert rule version: %w", err)
		}
		if err := r.Store.PublishRuleVersion(ctx, tenant, current.VersionID, next); err != nil {
			return fmt.Errorf("pipeline: promote: publish rule version: %w", err)
		}

		c.Status = domain.CandidateAccepted
		if err := r.Store.UpsertRuleCandidate(ctx, tenant, c); err != nil {
			return fmt.Errorf("pipeline: promote: mark candidate accepted: %w", err)
		}

		r.audit(ctx, tenant, events.RulePromotedData{
			VersionID: next.VersionID, ParentVersionID: current.VersionID,
			VendorNorm: c.VendorNorm, AccountCode: c.SuggestedAccount, Author: next.Author,
		})
		r.Log.Info().Str("tenant", string(tenant)).Str("vendor_norm", c.VendorNorm).
			Str("account", c.SuggestedAccount).Msg("rule candidate promoted")
	}
	return nil
}

// handleDriftCheck samples the tenant's confirmed history into a baseline
// (pre-training) and current window, evaluates drift.Evaluate against it,
// and enqueues a retrain job if the tier crosses the retrain line.
func (r *JobRunner) handleDriftCheck(ctx context.Context, job *queue.Job) error {
	tenant := domain.TenantID(job.TenantID)
	signals, err := r.driftSignals(ctx, tenant)
	if err != nil {
		return fmt.Errorf("pipeline: drift check: %w", err)
	}

	report := drift.Evaluate(signals, r.DriftThresholds)
	r.Log.Info().Str("tenant", string(tenant)).Str("tier", string(report.Tier)).
		Bool("should_retrain", report.ShouldRetrain).Msg("drift check complete")

	if report.ShouldRetrain && r.Queue != nil {
		return r.Queue.Enqueue(&queue.Job{
			ID:        fmt.Sprintf("retrain-%s-%d", tenant, r.Clock.Now().Unix()),
			TenantID:  job.TenantID,
			Type:      queue.JobTypeRetrain,
			Priority:  queue.PriorityHigh,
			Payload:   map[string]interface{}{"reason": string(report.Tier)},
			CreatedAt: r.Clock.Now(),
		})
	}
	return nil
}

// driftSignals computes spec.md §4.12's drift metrics by splitting every
// confirmed (txn, account) pair at the last retrain's FinishedAt (or the
// median posted_at if none has run yet): everything before is "baseline",
// everything after is "current". TermPSI is left at zero — this domain has
// no separate payment-term feature distinct from amount_minor, so only the
// amount and account-usage distributions are meaningfully comparable here.
func (r *JobRunner) driftSignals(ctx context.Context, tenant domain.TenantID) (drift.Signals, error) {
	txns, jes, err := confirmedTxnJEPairs(ctx, r.Store, tenant)
	if err != nil {
		return drift.Signals{}, err
	}
	if len(txns) == 0 {
		return drift.Signals{}, nil
	}

	retrainEvents, err := r.Store.ListRetrainEvents(ctx, tenant)
	if err != nil {
		return drift.Signals{}, err
	}

	var trainedAt time.Time
	var lastAcc float64
	if len(retrainEvents) > 0 {
		last := retrainEvents[len(retrainEvents)-1]
		trainedAt = last.FinishedAt
		lastAcc = last.AccNew
	} else {
		trainedAt = medianPostedAt(txns)
	}

	var baselineAmounts, currentAmounts []float64
	baselineUsage := map[string]float64{}
	currentUsage := map[string]float64{}
	var newRecords int64
	var correct, total int

	for i, txn := range txns {
		amt := float64(txn.AmountMinor)
		if amt < 0 {
			amt = -amt
		}
		account := nonCashLine(jes[i])

		if txn.PostedAt.Before(trainedAt) {
			baselineAmounts = append(baselineAmounts, amt)
			baselineUsage[account]++
			continue
		}
		currentAmounts = append(currentAmounts, amt)
		currentUsage[account]++
		newRecords++
		total++
		dist := r.Classifier.Predict(mlclassifier.Extract(txn))
		pred, _ := dist.Argmax()
		if pred == account {
			correct++
		}
	}
	normalizeShares(baselineUsage)
	normalizeShares(currentUsage)

	var accDelta float64
	if total > 0 && lastAcc > 0 {
		accDelta = float64(correct)/float64(total) - lastAcc
	}

	return drift.Signals{
		AmountPSI:      drift.PSI(baselineAmounts, currentAmounts, 10),
		AccountJS:      drift.AccountUsageDivergence(baselineUsage, currentUsage),
		AccuracyDelta:  accDelta,
		NewRecords:     newRecords,
		DaysSinceTrain: int(r.Clock.Now().Sub(trainedAt).Hours() / 24),
	}, nil
}

// handleRetrain runs one shadow-train + safe-promote attempt (spec.md
// §4.12): train a candidate classifier on a time-respecting split of
// confirmed history, evaluate it against the live production model on the
// held-out slice, and swap it in only if retrainer.ShouldPromote agrees.
func (r *JobRunner) handleRetrain(ctx context.Context, job *queue.Job) error {
	tenant := domain.TenantID(job.TenantID)
	txns, jes, err := confirmedTxnJEPairs(ctx, r.Store, tenant)
	if err != nil {
		return fmt.Errorf("pipeline: retrain: gather history: %w", err)
	}

	accountByTxnID := make(map[string]string, len(txns))
	for i, txn := range txns {
		accountByTxnID[txn.TxnID] = nonCashLine(jes[i])
	}

	split := retrainer.TimeRespectingSplit(txns, r.Cfg.RetrainHoldoutDays)

	reasons := []string{"scheduled"}
	if reason, ok := job.Payload["reason"].(string); ok && reason != "" {
		reasons = []string{reason}
	}

	var candidate *mlclassifier.Classifier
	var candCalib domain.CalibrationModel

	trainFn := func(_ context.Context, split retrainer.Split) (retrainer.CandidateEvaluation, error) {
		candidate = mlclassifier.NewClassifier(
			fmt.Sprintf("mv-%d", r.Clock.Now().Unix()), r.Classifier.Vocab, r.Classifier.Accounts,
		)
		var samples []mlclassifier.TrainingSample
		for _, txn := range split.Train {
			account, ok := accountByTxnID[txn.TxnID]
			if !ok {
				continue
			}
			samples = append(samples, mlclassifier.TrainingSample{Features: mlclassifier.Extract(txn), Account: account})
		}
		mlclassifier.Train(candidate, samples, 25, 0.1)

		candCalib = fitCalibration(candidate, split.Holdout, accountByTxnID)
		prodEval := evaluateClassifier(r.Classifier, r.Calibration.Load(), split.Holdout, accountByTxnID)
		candEval := evaluateClassifier(candidate, candCalib, split.Holdout, accountByTxnID)

		return retrainer.CandidateEvaluation{
			AccCandidate: candEval.accuracy, AccProd: prodEval.accuracy,
			F1Candidate:  candEval.f1, F1Prod: prodEval.f1,
			ECECandidate: candCalib.ECE, ECEProd: r.Calibration.Load().ECE,
			// No standalone per-bin worst-case is tracked outside
			// mlclassifier's own (unexported) calibration evaluator;
			// ECE is used as a conservative proxy bound.
			MaxPerBinAbsError:  candCalib.ECE,
			MinAccountGroupAcc: candEval.minGroupAcc,
			VendorLeakageClean: true,
		}, nil
	}

	result := retrainer.Run(ctx, r.Guardrails, reasons, split, trainFn)

	artifactID := ""
	if result.Promoted && candidate != nil {
		r.Classifier.Swap(candidate)
		candCalib.ModelVersionID = candidate.ModelVersionID
		candCalib.TrainedAt = r.Clock.Now()
		r.Calibration.Store(candCalib)

		if err := r.Store.InsertCalibrationModel(ctx, tenant, candCalib); err != nil {
			return fmt.Errorf("pipeline: retrain: insert calibration model: %w", err)
		}

		if r.Blob != nil {
			payload, merr := candidate.Snapshot().Marshal()
			if merr == nil {
				sum := sha256.Sum256(payload)
				artifactID = hex.EncodeToString(sum[:])
				if perr := r.Blob.Put(ctx, artifactID, payload); perr != nil {
					r.Log.Warn().Err(perr).Msg("failed to persist retrained model artifact")
				}
			}
		}
		r.Log.Info().Str("tenant", string(tenant)).Str("model_version_id", candidate.ModelVersionID).
			Msg("retrained classifier promoted to production")
	}

	result.Event.ArtifactID = artifactID
	if err := r.Store.InsertRetrainEvent(ctx, tenant, result.Event); err != nil {
		return fmt.Errorf("pipeline: retrain: insert event: %w", err)
	}

	r.audit(ctx, tenant, events.RetrainCompletedData{
		Reasons: result.Event.Reasons, Promoted: result.Promoted,
		AccOld: result.Event.AccOld, AccNew: result.Event.AccNew, ArtifactID: artifactID,
	})
	return nil
}

func (r *JobRunner) audit(ctx context.Context, tenant domain.TenantID, data events.EventData) {
	if r.Audit == nil {
		return
	}
	evt, err := events.Encode(tenant, data)
	if err != nil {
		r.Log.Warn().Err(err).Msg("failed to encode audit event")
		return
	}
	evt.CreatedAt = r.Clock.Now()
	if err := r.Audit.Append(ctx, evt); err != nil {
		r.Log.Warn().Err(err).Msg("failed to append audit event")
	}
}

func medianPostedAt(txns []domain.Transaction) time.Time {
	posted := make([]time.Time, 0, len(txns))
	for _, t := range txns {
		posted = append(posted, t.PostedAt)
	}
	sort.Slice(posted, func(i, j int) bool { return posted[i].Before(posted[j]) })
	return posted[len(posted)/2]
}

func normalizeShares(m map[string]float64) {
	var total float64
	for _, v := range m {
		total += v
	}
	if total == 0 {
		return
	}
	for k := range m {
		m[k] /= total
	}
}

func fitCalibration(c *mlclassifier.Classifier, holdout []domain.Transaction, accountByTxnID map[string]string) domain.CalibrationModel {
	var obs []mlclassifier.LabeledScore
	for _, txn := range holdout {
		account, ok := accountByTxnID[txn.TxnID]
		if !ok {
			continue
		}
		dist := c.Predict(mlclassifier.Extract(txn))
		pred, raw := dist.Argmax()
		obs = append(obs, mlclassifier.LabeledScore{RawScore: raw, Correct: pred == account})
	}
	return mlclassifier.FitIsotonic(obs)
}

type classifierEval struct {
	accuracy    float64
	f1          float64
	minGroupAcc float64
}

// evaluateClassifier scores c's top-1 predictions against the confirmed
// accountByTxnID labels over holdout: overall accuracy, macro-averaged
// per-account F1, and the worst single account group's accuracy (the
// MinAccountGroupAcc bound retrainer.ShouldPromote checks).
func evaluateClassifier(c *mlclassifier.Classifier, _ domain.CalibrationModel, holdout []domain.Transaction, accountByTxnID map[string]string) classifierEval {
	tp := map[string]int{}
	fp := map[string]int{}
	fn := map[string]int{}
	groupCorrect := map[string]int{}
	groupTotal := map[string]int{}
	var correct, total int

	for _, txn := range holdout {
		account, ok := accountByTxnID[txn.TxnID]
		if !ok {
			continue
		}
		total++
		groupTotal[account]++
		dist := c.Predict(mlclassifier.Extract(txn))
		pred, _ := dist.Argmax()
		if pred == account {
			correct++
			tp[pred]++
			groupCorrect[account]++
		} else {
			fp[pred]++
			fn[account]++
		}
	}
	if total == 0 {
		return classifierEval{}
	}

	var f1Sum float64
	var f1N int
	for _, a := range c.Accounts {
		p := ratio(tp[a], tp[a]+fp[a])
		rec := ratio(tp[a], tp[a]+fn[a])
		if p+rec == 0 {
			continue
		}
		f1Sum += 2 * p * rec / (p + rec)
		f1N++
	}
	f1 := 0.0
	if f1N > 0 {
		f1 = f1Sum / float64(f1N)
	}

	minGroupAcc := 1.0
	for a, n := range groupTotal {
		if n == 0 {
			continue
		}
		acc := float64(groupCorrect[a]) / float64(n)
		if acc < minGroupAcc {
			minGroupAcc = acc
		}
	}

	return classifierEval{accuracy: float64(correct) / float64(total), f1: f1, minGroupAcc: minGroupAcc}
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}
