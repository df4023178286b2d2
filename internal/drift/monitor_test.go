package drift

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPSIIsZeroForIdenticalDistributions(t *testing.T) {
	baseline := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	psi := PSI(baseline, baseline, 5)
	assert.InDelta(t, 0, psi, 1e-6)
}

func TestPSIIsPositiveForShiftedDistribution(t *testing.T) {
	baseline := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	shifted := []float64{50, 60, 70, 80, 90, 100, 110, 120, 130, 140}
	psi := PSI(baseline, shifted, 5)
	assert.Greater(t, psi, 0.0)
}

func TestAccountUsageDivergenceZeroWhenIdentical(t *testing.T) {
	dist := map[string]float64{"6100": 0.6, "6300": 0.4}
	js := AccountUsageDivergence(dist, dist)
	assert.InDelta(t, 0, js, 1e-9)
}

func TestAccountUsageDivergencePositiveWhenDifferent(t *testing.T) {
	baseline := map[string]float64{"6100": 0.9, "6300": 0.1}
	current := map[string]float64{"6100": 0.1, "6300": 0.9}
	js := AccountUsageDivergence(baseline, current)
	assert.Greater(t, js, 0.0)
}

func TestEvaluateTierNone(t *testing.T) {
	th := DefaultThresholds()
	s := Signals{AmountPSI: 0.02, TermPSI: 0.01, AccuracyDelta: 0}
	r := Evaluate(s, th)
	assert.Equal(t, TierNone, r.Tier)
	assert.False(t, r.ShouldRetrain)
}

func TestEvaluateTierLowDoesNotRetrain(t *testing.T) {
	th := DefaultThresholds()
	s := Signals{AmountPSI: 0.15, AccuracyDelta: 0}
	r := Evaluate(s, th)
	assert.Equal(t, TierLow, r.Tier)
	assert.False(t, r.ShouldRetrain)
}

func TestEvaluateTierMediumOnPSIAlert(t *testing.T) {
	th := DefaultThresholds()
	s := Signals{AmountPSI: 0.30, AccuracyDelta: 0}
	r := Evaluate(s, th)
	assert.Equal(t, TierMedium, r.Tier)
	assert.True(t, r.ShouldRetrain)
}

func TestEvaluateTierMediumOnAccuracyDropWithEnoughData(t *testing.T) {
	th := DefaultThresholds()
	s := Signals{AccuracyDelta: -0.05, NewRecords: 2000}
	r := Evaluate(s, th)
	assert.Equal(t, TierMedium, r.Tier)
}

func TestEvaluateAccuracyDropIgnoredWithoutEnoughData(t *testing.T) {
	th := DefaultThresholds()
	s := Signals{AccuracyDelta: -0.05, NewRecords: 10, DaysSinceTrain: 1}
	r := Evaluate(s, th)
	assert.NotEqual(t, TierMedium, r.Tier)
}

func TestEvaluateTierHighOnMultipleMediumSignals(t *testing.T) {
	th := DefaultThresholds()
	s := Signals{AmountPSI: 0.30, AccuracyDelta: -0.05, NewRecords: 2000}
	r := Evaluate(s, th)
	assert.Equal(t, TierHigh, r.Tier)
	assert.True(t, r.ShouldRetrain)
}

func TestMonitorStartStopLifecycle(t *testing.T) {
	calls := make(chan Report, 4)
	m := NewMonitor(5*time.Millisecond, DefaultThresholds(), func(ctx context.Context) Signals {
		return Signals{}
	}, func(r Report) { calls <- r }, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected at least one drift report")
	}
	m.Stop()
}
