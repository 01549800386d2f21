// Package consensus reconciles a fresh plateau detection with the recent
// raw-weight history of the same device. It searches for a tight sample
// window near the historical consensus; when none exists the raw
// detection stands untouched.
package consensus

import (
	"context"
	"math"

	"github.com/okian/autoscale/internal/domain/model"
	"github.com/okian/autoscale/internal/domain/series"
)

// Refiner tuning constants.
const (
	// DefaultBandKG is the tolerance band around the consensus weight.
	DefaultBandKG = 1.0
	// MaxHistory caps how many recent raw weights feed the consensus.
	MaxHistory = 10

	windowSecs       = 3.0  // sliding-window width in seconds of samples
	minWindow        = 5    // sliding-window floor in samples
	tailSecs         = 12.0 // preferred tail length in seconds
	tailDurationFrac = 0.75 // tail start as a fraction of the event duration
	lowCutMedianFrac = 0.5
	lowCutPercentile = 5.0
	defaultRateHz    = 10.0
	eps              = 1e-9
)

// Refine computes the consensus weight from the raw detection and the
// device's recent raw weights, then searches the current series for a
// window within band of it. A nil estimate means no window qualified and
// the raw detection is authoritative. The consensus scalar is returned
// either way.
func Refine(ctx context.Context, samples []model.Sample, raw model.Estimate, recent []float64, bandKG float64) (float64, *model.ConsensusEstimate) {
	if bandKG <= 0 {
		bandKG = DefaultBandKG
	}
	if len(recent) > MaxHistory {
		recent = recent[:MaxHistory]
	}

	pool := append([]float64{raw.WeightKG}, recent...)
	consensusKG := series.Median(pool)

	if ctx.Err() != nil || len(samples) == 0 {
		return consensusKG, nil
	}

	tK, kK := filterSeries(samples)
	hz := series.SampleRate(tK, defaultRateHz)
	win := maxInt(minWindow, int(math.Round(windowSecs*hz)))
	if len(kK) < win {
		return consensusKG, nil
	}

	tFirst := tK[0]
	tLast := tK[len(tK)-1]
	duration := tLast - tFirst
	tailStart := math.Max(tFirst, math.Max(tLast-tailSecs, tFirst+tailDurationFrac*duration))

	if est := bestWindow(tK, kK, win, consensusKG, bandKG, tailStart); est != nil {
		return consensusKG, est
	}
	// Nothing in the tail; widen to the whole series.
	if est := bestWindow(tK, kK, win, consensusKG, bandKG, tFirst); est != nil {
		return consensusKG, est
	}
	return consensusKG, nil
}

// bestWindow slides win-sized windows over the series restricted to
// t >= minStart and returns the highest-scoring window whose median lies
// within band of the consensus, or nil.
func bestWindow(tK, kK []float64, win int, consensusKG, bandKG, minStart float64) *model.ConsensusEstimate {
	tFirst := tK[0]
	span := math.Max(tK[len(tK)-1]-tFirst, eps)

	var (
		best      *model.ConsensusEstimate
		bestScore = math.Inf(-1)
	)
	for i := 0; i+win <= len(kK); i++ {
		if tK[i] < minStart {
			continue
		}
		window := kK[i : i+win]
		m := series.Median(window)
		diff := math.Abs(m - consensusKG)
		if diff > bandKG {
			continue
		}
		sigma := series.StdDev(window)
		tMid := (tK[i] + tK[i+win-1]) / 2
		late := 0.5 + 0.5*(tMid-tFirst)/span
		score := ((bandKG - diff) / bandKG) * (1 / (sigma + eps)) * late
		if score > bestScore {
			bestScore = score
			best = &model.ConsensusEstimate{
				WeightKG:      m,
				UncertaintyKG: sigma / math.Sqrt(float64(win)),
				Mode:          model.ModeConsensus,
				StartS:        tK[i],
				EndS:          tK[i+win-1],
				DurationS:     tK[i+win-1] - tK[i],
				BandKG:        bandKG,
			}
		}
	}
	return best
}

// filterSeries applies the detector's positive-floor preprocessing to the
// current samples.
func filterSeries(samples []model.Sample) (tK, kK []float64) {
	ts := make([]float64, len(samples))
	kg := make([]float64, len(samples))
	t0 := samples[0].T
	for i, s := range samples {
		ts[i] = float64(s.T-t0) / 1000
		kg[i] = s.KG
	}
	var pos []float64
	for _, v := range kg {
		if v > 0 {
			pos = append(pos, v)
		}
	}
	if len(pos) == 0 {
		return ts, kg
	}
	lowCut := math.Max(lowCutMedianFrac*series.Median(pos), series.Percentile(kg, lowCutPercentile))
	for i, v := range kg {
		if v >= lowCut {
			tK = append(tK, ts[i])
			kK = append(kK, v)
		}
	}
	return tK, kK
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
