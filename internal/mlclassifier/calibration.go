package mlclassifier

import (
	"math"
	"sort"

	"github.com/ledgerwell/decisioning/internal/domain"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// LabeledScore is one training observation for calibration: the model's raw
// confidence for the account it predicted, and whether that prediction was
// ultimately correct (confirmed or overridden in review).
type LabeledScore struct {
	RawScore float64
	Correct  bool
}

// FitIsotonic pool-adjacent-violators over rawScore-sorted observations,
// producing a monotonic non-decreasing mapping from raw score to calibrated
// probability. BinEdges record the raw-score boundary of each pooled block
// so CalibrateIsotonic can look up a held-out score at inference time.
func FitIsotonic(obs []LabeledScore) domain.CalibrationModel {
	sorted := append([]LabeledScore(nil), obs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RawScore < sorted[j].RawScore })

	type block struct {
		sumY, n  float64
		lo, hi   float64
	}
	var blocks []block
	for _, o := range sorted {
		y := 0.0
		if o.Correct {
			y = 1.0
		}
		blocks = append(blocks, block{sumY: y, n: 1, lo: o.RawScore, hi: o.RawScore})
		// Merge backwards while monotonicity is violated (pool adjacent violators).
		for len(blocks) >= 2 {
			last := blocks[len(blocks)-1]
			prev := blocks[len(blocks)-2]
			if prev.sumY/prev.n <= last.sumY/last.n {
				break
			}
			merged := block{
				sumY: prev.sumY + last.sumY,
				n:    prev.n + last.n,
				lo:   prev.lo,
				hi:   last.hi,
			}
			blocks = append(blocks[:len(blocks)-2], merged)
		}
	}

	edges := make([]float64, len(blocks))
	params := make([]float64, len(blocks))
	for i, b := range blocks {
		edges[i] = b.hi
		params[i] = b.sumY / b.n
	}

	m := domain.CalibrationModel{Method: domain.CalibrationIsotonic, BinEdges: edges, Parameters: params}
	m.ECE, m.Brier = evaluateCalibration(sorted, func(raw float64) float64 { return CalibrateIsotonic(m, raw) })
	return m
}

// CalibrateIsotonic maps a raw score to a calibrated probability by looking
// up the pooled block whose upper edge is the smallest edge >= raw.
func CalibrateIsotonic(m domain.CalibrationModel, raw float64) float64 {
	if len(m.BinEdges) == 0 {
		return raw
	}
	idx := sort.SearchFloat64s(m.BinEdges, raw)
	if idx >= len(m.Parameters) {
		idx = len(m.Parameters) - 1
	}
	return m.Parameters[idx]
}

// FitTemperature scales raw scores by a single scalar T > 0, chosen to
// minimize negative log-likelihood on the training observations, via BFGS —
// the same gonum.org/v1/gonum/optimize.Problem/Minimize shape the teacher
// uses in internal/modules/optimization/mv_optimizer.go for portfolio
// weight search, applied here to a 1-dimensional scalar instead.
func FitTemperature(obs []LabeledScore) domain.CalibrationModel {
	nll := func(x []float64) float64 {
		t := math.Max(x[0], 1e-3)
		var sum float64
		for _, o := range obs {
			p := sigmoidAt(o.RawScore, t)
			y := 0.0
			if o.Correct {
				y = 1.0
			}
			sum -= y*math.Log(clampProb(p)) + (1-y)*math.Log(clampProb(1-p))
		}
		return sum
	}

	grad := func(g, x []float64) {
		t := math.Max(x[0], 1e-3)
		var sum float64
		for _, o := range obs {
			y := 0.0
			if o.Correct {
				y = 1.0
			}
			sum += (sigmoidAt(o.RawScore, t) - y) * (-o.RawScore / (t * t))
		}
		g[0] = sum
	}

	problem := optimize.Problem{Func: nll, Grad: grad}
	result, err := optimize.Minimize(problem, []float64{1.0}, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || result == nil || result.Status != optimize.Success && result.Status != optimize.GradientThreshold && result.Status != optimize.FunctionConvergence {
		result, err = optimize.Minimize(problem, []float64{1.0}, &optimize.Settings{}, &optimize.NelderMead{})
	}

	temperature := 1.0
	if err == nil && result != nil && len(result.X) == 1 && result.X[0] > 0 {
		temperature = result.X[0]
	}

	m := domain.CalibrationModel{Method: domain.CalibrationTemperature, Parameters: []float64{temperature}}
	m.ECE, m.Brier = evaluateCalibration(obs, func(raw float64) float64 { return CalibrateTemperature(m, raw) })
	return m
}

// CalibrateTemperature applies the fitted scalar temperature to a raw score
// through a logistic link.
func CalibrateTemperature(m domain.CalibrationModel, raw float64) float64 {
	t := 1.0
	if len(m.Parameters) == 1 && m.Parameters[0] > 0 {
		t = m.Parameters[0]
	}
	return sigmoidAt(raw, t)
}

func sigmoidAt(raw, temperature float64) float64 {
	return 1.0 / (1.0 + math.Exp(-raw/temperature))
}

func clampProb(p float64) float64 {
	const eps = 1e-9
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

// evaluateCalibration computes Expected Calibration Error over 10 equal-width
// bins (per spec.md §4.5's "store distribution shape sufficient for ECE bin
// computation") and the Brier score, for a fitted calibrate function.
func evaluateCalibration(obs []LabeledScore, calibrate func(float64) float64) (ece, brier float64) {
	const numBins = 10
	type bin struct {
		sumP, sumY, n float64
	}
	bins := make([]bin, numBins)

	var brierSum float64
	for _, o := range obs {
		p := calibrate(o.RawScore)
		y := 0.0
		if o.Correct {
			y = 1.0
		}
		brierSum += (p - y) * (p - y)

		idx := int(p * numBins)
		if idx >= numBins {
			idx = numBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx].sumP += p
		bins[idx].sumY += y
		bins[idx].n++
	}

	n := float64(len(obs))
	if n == 0 {
		return 0, 0
	}
	brier = brierSum / n

	for _, b := range bins {
		if b.n == 0 {
			continue
		}
		avgP := b.sumP / b.n
		avgY := b.sumY / b.n
		ece += (b.n / n) * math.Abs(avgP-avgY)
	}
	return ece, brier
}

// Quantile returns gonum/stat's empirical quantile of sorted at p. No other
// package in this module calls it; internal/gating uses gonum/stat directly.
func Quantile(p float64, sorted []float64) float64 {
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}
