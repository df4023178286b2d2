package mlclassifier

import (
	"testing"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/stretchr/testify/assert"
)

func sampleObs() []LabeledScore {
	return []LabeledScore{
		{RawScore: 0.1, Correct: false},
		{RawScore: 0.2, Correct: false},
		{RawScore: 0.4, Correct: true},
		{RawScore: 0.5, Correct: false},
		{RawScore: 0.6, Correct: true},
		{RawScore: 0.8, Correct: true},
		{RawScore: 0.9, Correct: true},
	}
}

func TestFitIsotonicProducesMonotonicParameters(t *testing.T) {
	m := FitIsotonic(sampleObs())
	assert.Equal(t, domain.CalibrationIsotonic, m.Method)
	for i := 1; i < len(m.Parameters); i++ {
		assert.GreaterOrEqual(t, m.Parameters[i], m.Parameters[i-1])
	}
	assert.GreaterOrEqual(t, m.ECE, 0.0)
	assert.GreaterOrEqual(t, m.Brier, 0.0)
}

func TestCalibrateIsotonicLooksUpNearestBlock(t *testing.T) {
	m := FitIsotonic(sampleObs())
	p := CalibrateIsotonic(m, 0.95)
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)
}

func TestFitTemperatureProducesPositiveScalar(t *testing.T) {
	m := FitTemperature(sampleObs())
	assert.Equal(t, domain.CalibrationTemperature, m.Method)
	assert.Len(t, m.Parameters, 1)
	assert.Greater(t, m.Parameters[0], 0.0)
}

func TestCalibrateTemperatureIsMonotonicInRawScore(t *testing.T) {
	m := FitTemperature(sampleObs())
	low := CalibrateTemperature(m, -1.0)
	high := CalibrateTemperature(m, 1.0)
	assert.Less(t, low, high)
}

func TestEvaluateCalibrationOnEmptySetIsZero(t *testing.T) {
	ece, brier := evaluateCalibration(nil, func(r float64) float64 { return r })
	assert.Equal(t, 0.0, ece)
	assert.Equal(t, 0.0, brier)
}
