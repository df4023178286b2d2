// Package retrainer implements the Retrainer half of C12 (spec.md §4.12):
// shadow-train + safe-promote with resource guardrails. Guardrail checks
// before expensive work follow the teacher's internal/server CPU/mem
// sampling idiom; backup/rollback naming follows
// internal/reliability/r2_backup_service.go's model_backup_<ts> pattern.
package retrainer

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/shirou/gopsutil/v3/mem"
)

// Guardrails are the pre-flight checks of spec.md §4.12 step 1.
type Guardrails struct {
	MinRecords     int64
	MaxRuntime     time.Duration
	MinFreeMemMB   uint64
	DryRun         bool
}

// DefaultGuardrails matches spec.md §4.12's defaults.
func DefaultGuardrails() Guardrails {
	return Guardrails{MinRecords: 2000, MaxRuntime: 900 * time.Second}
}

// ErrGuardrailFailed reports which guardrail blocked a retrain attempt.
type ErrGuardrailFailed struct {
	Reason string
}

func (e ErrGuardrailFailed) Error() string { return "retrainer: guardrail failed: " + e.Reason }

// CheckGuardrails evaluates spec.md §4.12 step 1 before any training work
// starts. totalRecords is the candidate training set size; expectedRuntime
// is an operator/estimator-supplied duration estimate.
func CheckGuardrails(g Guardrails, totalRecords int64, expectedRuntime time.Duration) error {
	if g.DryRun {
		return nil
	}
	if totalRecords < g.MinRecords {
		return ErrGuardrailFailed{Reason: fmt.Sprintf("total_records %d < min %d", totalRecords, g.MinRecords)}
	}
	if g.MaxRuntime > 0 && expectedRuntime > g.MaxRuntime {
		return ErrGuardrailFailed{Reason: fmt.Sprintf("expected_runtime %s exceeds cap %s", expectedRuntime, g.MaxRuntime)}
	}
	if g.MinFreeMemMB > 0 {
		vm, err := mem.VirtualMemory()
		if err == nil {
			freeMB := vm.Available / (1024 * 1024)
			if freeMB < g.MinFreeMemMB {
				return ErrGuardrailFailed{Reason: fmt.Sprintf("available memory %dMB < min %dMB", freeMB, g.MinFreeMemMB)}
			}
		}
	}
	return nil
}

// Split is a time-respecting train/holdout partition. Holdout is the last
// holdoutDays of records per tenant; vendor_norms are excluded from train
// whenever they appear in holdout, per spec.md §4.12 step 2's
// "vendor-normalized to prevent leakage".
type Split struct {
	Train   []domain.Transaction
	Holdout []domain.Transaction
}

// TimeRespectingSplit partitions txns (assumed already filtered to one
// tenant) by PostedAt, with holdout being the trailing holdoutDays window,
// then strips any train record whose vendor_norm also appears in holdout.
func TimeRespectingSplit(txns []domain.Transaction, holdoutDays int) Split {
	if len(txns) == 0 {
		return Split{}
	}
	latest := txns[0].PostedAt
	for _, t := range txns {
		if t.PostedAt.After(latest) {
			latest = t.PostedAt
		}
	}
	cutoff := latest.AddDate(0, 0, -holdoutDays)

	var holdout, train []domain.Transaction
	holdoutVendors := map[string]bool{}
	for _, t := range txns {
		if t.PostedAt.After(cutoff) {
			holdout = append(holdout, t)
			holdoutVendors[t.CounterpartyNorm] = true
		} else {
			train = append(train, t)
		}
	}

	var leakFreeTrain []domain.Transaction
	for _, t := range train {
		if !holdoutVendors[t.CounterpartyNorm] {
			leakFreeTrain = append(leakFreeTrain, t)
		}
	}

	return Split{Train: leakFreeTrain, Holdout: holdout}
}

// CandidateEvaluation bundles the comparison metrics promotion needs.
type CandidateEvaluation struct {
	AccCandidate        float64
	AccProd             float64
	F1Candidate         float64
	F1Prod              float64
	ECECandidate        float64
	ECEProd             float64
	MaxPerBinAbsError   float64
	MinAccountGroupAcc  float64
	VendorLeakageClean  bool
}

// ShouldPromote applies spec.md §4.12 step 4's promotion criteria; every
// sub-condition must hold.
func ShouldPromote(e CandidateEvaluation) (bool, string) {
	if e.AccCandidate < e.AccProd-0.01 {
		return false, "candidate accuracy below prod - 1pp"
	}
	if e.F1Candidate < e.F1Prod {
		return false, "candidate F1 below prod"
	}
	eceBound := e.ECEProd
	if eceBound > 0.03 {
		eceBound = 0.03
	}
	if e.ECECandidate > eceBound {
		return false, "candidate ECE exceeds bound"
	}
	if e.MaxPerBinAbsError > 0.05 {
		return false, "per-bin |pred-obs| exceeds 5%"
	}
	if e.MinAccountGroupAcc < 0.80 {
		return false, "an account group's accuracy is below 80%"
	}
	if !e.VendorLeakageClean {
		return false, "vendor leakage test failed"
	}
	return true, ""
}

// RunResult is what one retrain attempt produces for the caller to persist
// as a domain.RetrainEvent.
type RunResult struct {
	Promoted bool
	Notes    string
	Event    domain.RetrainEvent
}

// Run executes one shadow-train + safe-promote attempt. trainFn trains and
// calibrates a candidate classifier on split.Train and returns the
// evaluation metrics to compare against the current production model;
// Run itself holds no training logic (that lives in internal/mlclassifier)
// and is only the guardrail/promotion orchestration spec.md §4.12 describes.
func Run(ctx context.Context, g Guardrails, reasons []string, split Split, trainFn func(ctx context.Context, split Split) (CandidateEvaluation, error)) RunResult {
	started := time.Now()

	if err := CheckGuardrails(g, int64(len(split.Train)+len(split.Holdout)), 0); err != nil {
		return RunResult{Promoted: false, Notes: err.Error(), Event: domain.RetrainEvent{
			StartedAt: started, FinishedAt: started, Reasons: reasons, Promoted: false, Notes: err.Error(),
		}}
	}

	eval, err := trainFn(ctx, split)
	finished := time.Now()
	if err != nil {
		return RunResult{Promoted: false, Notes: err.Error(), Event: domain.RetrainEvent{
			StartedAt: started, FinishedAt: finished, Reasons: reasons, Promoted: false, Notes: err.Error(),
		}}
	}

	promote, rejectReason := ShouldPromote(eval)
	event := domain.RetrainEvent{
		StartedAt:  started,
		FinishedAt: finished,
		Reasons:    reasons,
		TrainN:     len(split.Train),
		ValidN:     len(split.Holdout),
		AccOld:     eval.AccProd,
		AccNew:     eval.AccCandidate,
		F1Old:      eval.F1Prod,
		F1New:      eval.F1Candidate,
		Promoted:   promote,
		Notes:      rejectReason,
	}
	return RunResult{Promoted: promote, Notes: rejectReason, Event: event}
}

// BackupName produces the model_backup_<ts> artifact name spec.md §4.12
// step 5 specifies, mirroring the teacher's timestamped archive naming in
// internal/reliability/r2_backup_service.go.
func BackupName(modelVersionID string, ts time.Time) string {
	return fmt.Sprintf("model_backup_%s_%d", modelVersionID, ts.Unix())
}

// ECEFromIsotonic is a convenience accessor so callers needn't reach into
// domain.CalibrationModel's fields directly to read back ECE/Brier.
func ECEFromIsotonic(m domain.CalibrationModel) (ece, brier float64) {
	return m.ECE, m.Brier
}
