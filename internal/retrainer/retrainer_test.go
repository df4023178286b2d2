package retrainer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCheckGuardrailsRejectsTooFewRecords(t *testing.T) {
	g := DefaultGuardrails()
	err := CheckGuardrails(g, 500, 0)
	assert.Error(t, err)
}

func TestCheckGuardrailsRejectsTooLongRuntime(t *testing.T) {
	g := DefaultGuardrails()
	err := CheckGuardrails(g, 5000, 2000*time.Second)
	assert.Error(t, err)
}

func TestCheckGuardrailsDryRunShortCircuits(t *testing.T) {
	g := DefaultGuardrails()
	g.DryRun = true
	err := CheckGuardrails(g, 1, 10000*time.Second)
	assert.NoError(t, err)
}

func TestCheckGuardrailsPassesWithEnoughRecords(t *testing.T) {
	g := DefaultGuardrails()
	err := CheckGuardrails(g, 5000, 100*time.Second)
	assert.NoError(t, err)
}

func txnAt(vendor string, day time.Time) domain.Transaction {
	return domain.Transaction{CounterpartyNorm: vendor, PostedAt: day}
}

func TestTimeRespectingSplitSeparatesHoldoutWindow(t *testing.T) {
	base := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		txnAt("amazon", base),
		txnAt("walmart", base.AddDate(0, 0, -40)),
	}
	split := TimeRespectingSplit(txns, 30)
	assert.Len(t, split.Holdout, 1)
	assert.Len(t, split.Train, 1)
}

func TestTimeRespectingSplitExcludesLeakedVendors(t *testing.T) {
	base := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	txns := []domain.Transaction{
		txnAt("amazon", base),                    // holdout
		txnAt("amazon", base.AddDate(0, 0, -40)),  // would-be train, but vendor leaks into holdout
		txnAt("walmart", base.AddDate(0, 0, -40)), // clean train
	}
	split := TimeRespectingSplit(txns, 30)
	assert.Len(t, split.Holdout, 1)
	assert.Len(t, split.Train, 1)
	assert.Equal(t, "walmart", split.Train[0].CounterpartyNorm)
}

func passingEval() CandidateEvaluation {
	return CandidateEvaluation{
		AccCandidate: 0.95, AccProd: 0.94,
		F1Candidate: 0.90, F1Prod: 0.88,
		ECECandidate: 0.02, ECEProd: 0.03,
		MaxPerBinAbsError:  0.04,
		MinAccountGroupAcc: 0.85,
		VendorLeakageClean: true,
	}
}

func TestShouldPromoteAllCriteriaMet(t *testing.T) {
	ok, reason := ShouldPromote(passingEval())
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestShouldPromoteRejectsAccuracyRegression(t *testing.T) {
	e := passingEval()
	e.AccCandidate = 0.80
	ok, reason := ShouldPromote(e)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestShouldPromoteRejectsF1Regression(t *testing.T) {
	e := passingEval()
	e.F1Candidate = 0.10
	ok, _ := ShouldPromote(e)
	assert.False(t, ok)
}

func TestShouldPromoteRejectsECEAboveBound(t *testing.T) {
	e := passingEval()
	e.ECECandidate = 0.10
	ok, _ := ShouldPromote(e)
	assert.False(t, ok)
}

func TestShouldPromoteRejectsLowAccountGroupAccuracy(t *testing.T) {
	e := passingEval()
	e.MinAccountGroupAcc = 0.50
	ok, _ := ShouldPromote(e)
	assert.False(t, ok)
}

func TestShouldPromoteRejectsVendorLeakage(t *testing.T) {
	e := passingEval()
	e.VendorLeakageClean = false
	ok, _ := ShouldPromote(e)
	assert.False(t, ok)
}

func TestRunPromotesOnSuccess(t *testing.T) {
	split := Split{Train: make([]domain.Transaction, 2000), Holdout: make([]domain.Transaction, 100)}
	result := Run(context.Background(), DefaultGuardrails(), []string{"psi_alert"}, split, func(ctx context.Context, s Split) (CandidateEvaluation, error) {
		return passingEval(), nil
	})
	assert.True(t, result.Promoted)
	assert.True(t, result.Event.Promoted)
}

func TestRunFailsGuardrailBeforeTraining(t *testing.T) {
	split := Split{Train: make([]domain.Transaction, 10)}
	called := false
	result := Run(context.Background(), DefaultGuardrails(), nil, split, func(ctx context.Context, s Split) (CandidateEvaluation, error) {
		called = true
		return CandidateEvaluation{}, nil
	})
	assert.False(t, called)
	assert.False(t, result.Promoted)
}

func TestRunSurfacesTrainingError(t *testing.T) {
	split := Split{Train: make([]domain.Transaction, 2000)}
	result := Run(context.Background(), DefaultGuardrails(), nil, split, func(ctx context.Context, s Split) (CandidateEvaluation, error) {
		return CandidateEvaluation{}, errors.New("training diverged")
	})
	assert.False(t, result.Promoted)
	assert.Contains(t, result.Notes, "training diverged")
}

func TestBackupNameIncludesModelVersionAndTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	name := BackupName("mv7", ts)
	assert.Contains(t, name, "mv7")
	assert.Contains(t, name, "model_backup_")
}
