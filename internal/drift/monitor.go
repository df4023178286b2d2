// Package drift implements DriftMonitor (spec.md §4.12): scheduled
// computation of PSI, Jensen-Shannon divergence, and rolling accuracy
// delta between a current window and a training-time baseline. The
// ticker-driven scheduling loop follows the teacher's
// internal/queue/scheduler.go shape (time.NewTicker + select{stop,tick}
// inside a tracked goroutine).
package drift

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Tier is DriftMonitor's decision tier for a single check, per spec.md
// §4.12's four-tier table.
type Tier string

const (
	TierNone   Tier = "none"
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Thresholds holds the configurable cutoffs of spec.md §4.12.
type Thresholds struct {
	PSIWarn         float64
	PSIAlert        float64
	AccDropPct      float64
	MinNewRecords   int64
	MinDaysSince    int
}

// DefaultThresholds matches spec.md §4.12's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{PSIWarn: 0.10, PSIAlert: 0.25, AccDropPct: 0.03, MinNewRecords: 1000, MinDaysSince: 7}
}

// Signals is one drift check's computed metrics.
type Signals struct {
	AmountPSI        float64
	TermPSI          float64
	AccountJS        float64
	AccuracyDelta    float64 // negative means accuracy dropped
	NewRecords       int64
	DaysSinceTrain   int
}

// Report is the outcome of one DriftMonitor pass.
type Report struct {
	Signals    Signals
	Tier       Tier
	ShouldRetrain bool
}

// Evaluate classifies a Signals reading into a Tier and a retrain
// recommendation, per spec.md §4.12's decision table.
func Evaluate(s Signals, th Thresholds) Report {
	maxPSI := math.Max(s.AmountPSI, s.TermPSI)

	warnCount := 0
	mediumCount := 0
	if maxPSI >= th.PSIWarn {
		warnCount++
	}
	if maxPSI >= th.PSIAlert {
		mediumCount++
	}
	accDrop := -s.AccuracyDelta
	enoughData := s.NewRecords >= th.MinNewRecords || s.DaysSinceTrain >= th.MinDaysSince
	if accDrop >= th.AccDropPct && enoughData {
		mediumCount++
	}

	switch {
	case mediumCount >= 2:
		return Report{Signals: s, Tier: TierHigh, ShouldRetrain: true}
	case mediumCount == 1:
		return Report{Signals: s, Tier: TierMedium, ShouldRetrain: true}
	case warnCount > 0:
		return Report{Signals: s, Tier: TierLow, ShouldRetrain: false}
	default:
		return Report{Signals: s, Tier: TierNone, ShouldRetrain: false}
	}
}

// PSI computes the Population Stability Index between a baseline and
// current sample, binned on the baseline's quantiles per spec.md §4.12
// ("binning per baseline quantiles").
func PSI(baseline, current []float64, numBins int) float64 {
	if len(baseline) == 0 || len(current) == 0 || numBins <= 1 {
		return 0
	}
	edges := quantileEdges(baseline, numBins)

	baseCounts := binCounts(baseline, edges)
	curCounts := binCounts(current, edges)

	var psi float64
	nBase := float64(len(baseline))
	nCur := float64(len(current))
	for i := range baseCounts {
		p := clampShare(float64(baseCounts[i]) / nBase)
		q := clampShare(float64(curCounts[i]) / nCur)
		psi += (q - p) * math.Log(q/p)
	}
	return psi
}

// quantileEdges returns numBins-1 interior edges splitting sorted into
// equal-mass bins.
func quantileEdges(sorted []float64, numBins int) []float64 {
	s := append([]float64(nil), sorted...)
	sort.Float64s(s)
	edges := make([]float64, 0, numBins-1)
	for i := 1; i < numBins; i++ {
		q := float64(i) / float64(numBins)
		edges = append(edges, stat.Quantile(q, stat.Empirical, s, nil))
	}
	return edges
}

func binCounts(values []float64, edges []float64) []int {
	counts := make([]int, len(edges)+1)
	for _, v := range values {
		idx := sort.SearchFloat64s(edges, v)
		counts[idx]++
	}
	return counts
}

// clampShare keeps an empty bin from producing log(0) or division by zero
// in the PSI formula, substituting a small floor share instead.
func clampShare(p float64) float64 {
	const floor = 1e-6
	if p < floor {
		return floor
	}
	return p
}

// AccountUsageDivergence computes the Jensen-Shannon divergence between
// two account-usage categorical distributions (same account ordering,
// normalized to sum to 1), per spec.md §4.12.
func AccountUsageDivergence(baseline, current map[string]float64) float64 {
	accounts := make([]string, 0, len(baseline)+len(current))
	seen := map[string]struct{}{}
	for a := range baseline {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			accounts = append(accounts, a)
		}
	}
	for a := range current {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			accounts = append(accounts, a)
		}
	}
	sort.Strings(accounts)

	p := make([]float64, len(accounts))
	q := make([]float64, len(accounts))
	for i, a := range accounts {
		p[i] = baseline[a]
		q[i] = current[a]
	}
	return stat.JensenShannon(p, q)
}

// Monitor runs Evaluate on a fixed time.Ticker interval, emitting a
// Report on each tick to onReport, in the teacher's tracked-goroutine
// lifecycle shape: a stop channel, a WaitGroup, and a Stop method that
// blocks until the loop has actually exited.
type Monitor struct {
	interval time.Duration
	sample   func(ctx context.Context) Signals
	th       Thresholds
	onReport func(Report)
	log      zerolog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewMonitor builds a Monitor. sample is called once per tick to gather
// the current window's Signals (typically querying the store).
func NewMonitor(interval time.Duration, th Thresholds, sample func(ctx context.Context) Signals, onReport func(Report), log zerolog.Logger) *Monitor {
	return &Monitor{interval: interval, sample: sample, th: th, onReport: onReport, log: log.With().Str("component", "drift_monitor").Logger()}
}

// Start begins the ticker loop in a tracked goroutine. Calling Start twice
// is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				signals := m.sample(ctx)
				report := Evaluate(signals, m.th)
				m.log.Info().Str("tier", string(report.Tier)).Bool("should_retrain", report.ShouldRetrain).Msg("drift check complete")
				if m.onReport != nil {
					m.onReport(report)
				}
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it to actually finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	close(m.stop)
	m.started = false
	m.mu.Unlock()
	m.wg.Wait()
}
