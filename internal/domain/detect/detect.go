// Package detect locates the most plausible stable, late plateau in a
// weighing-event sample series and produces a weight estimate with
// uncertainty and a quality score. When no plateau qualifies it falls
// back to the median of the tail of the series.
package detect

import (
	"context"
	"math"
	"sort"

	"github.com/okian/autoscale/internal/domain/model"
	"github.com/okian/autoscale/internal/domain/series"
)

// Detector tuning constants.
const (
	minSurvivors      = 10   // preprocessing survivors below this trip the fallback
	hampelHalfWindow  = 15   // Hampel filter half-window
	hampelThreshold   = 4.0  // Hampel outlier threshold in MAD sigmas
	smoothWindowHz    = 0.6  // smoothing window as a fraction of the sample rate
	rollingWindowSecs = 3.0  // rolling-std window in seconds of samples
	minPlateauSecs    = 3.0  // candidate regions shorter than this are discarded
	lowCutMedianFrac  = 0.5  // positive-floor cut as a fraction of the positive median
	lowCutPercentile  = 5.0  // percentile floor for the positive-floor cut
	derivThFactor     = 0.6  // derivative gate as a fraction of the median |slope|
	derivThMin        = 0.01 // kg/s
	derivThMax        = 0.05 // kg/s
	stdThFactor       = 0.9  // dispersion gate as a fraction of the median rolling std
	stdThMin          = 0.06 // kg
	stdThMax          = 0.20 // kg
	fallbackQuality   = 0.65
	tailMinSecs       = 12.0 // fallback tail length floor
	tailDurationFrac  = 0.25 // fallback tail length as a fraction of the event
	defaultRateHz     = 10.0 // assumed rate when deltas are degenerate
	eps               = 1e-9
)

// Detect analyses one event's sample series and returns a weight
// estimate. It never fails on a non-empty series: when no plateau
// qualifies the tail-median fallback is returned. An empty series yields
// ErrNoSamples.
func Detect(ctx context.Context, samples []model.Sample) (model.Estimate, error) {
	if err := ctx.Err(); err != nil {
		return model.Estimate{}, err
	}
	if len(samples) == 0 {
		return model.Estimate{}, ErrNoSamples
	}

	ts, kg := normalize(samples)

	tK, kK := positiveFloorFilter(ts, kg)
	if len(kK) < minSurvivors {
		return tailMedian(ts, kg), nil
	}

	filtered := series.Hampel(kK, hampelHalfWindow, hampelThreshold)

	hz := series.SampleRate(tK, defaultRateHz)
	smoothWin := maxInt(3, int(math.Round(smoothWindowHz*hz)))
	smoothed := series.MovingAverage(filtered, smoothWin)

	deriv := series.CentralDerivative(smoothed, tK)

	stdWin := maxInt(5, int(math.Round(rollingWindowSecs*hz)))
	rollStd := series.RollingStd(filtered, stdWin)

	derivTh, stdTh := thresholds(deriv, rollStd)

	regions := stableRegions(deriv, rollStd, derivTh, stdTh)

	best, ok := pickRegion(regions, tK, deriv, rollStd, derivTh, stdTh)
	if !ok {
		return tailMedian(ts, kg), nil
	}

	return estimate(best, tK, filtered, deriv, rollStd, derivTh, stdTh), nil
}

// normalize sorts by timestamp and rebases to seconds from the first
// sample.
func normalize(samples []model.Sample) (ts, kg []float64) {
	ordered := append([]model.Sample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].T < ordered[j].T })

	ts = make([]float64, len(ordered))
	kg = make([]float64, len(ordered))
	t0 := ordered[0].T
	for i, s := range ordered {
		ts[i] = float64(s.T-t0) / 1000
		kg[i] = s.KG
	}
	return ts, kg
}

// positiveFloorFilter drops the near-zero and negative portion of the
// series: everything below max(0.5 * median of positive kg, 5th
// percentile of all kg).
func positiveFloorFilter(ts, kg []float64) (tK, kK []float64) {
	var pos []float64
	for _, v := range kg {
		if v > 0 {
			pos = append(pos, v)
		}
	}
	if len(pos) == 0 {
		return nil, nil
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

// thresholds derives the stability gates from the series itself, clamped
// to fixed floors and ceilings.
func thresholds(deriv, rollStd []float64) (derivTh, stdTh float64) {
	absDeriv := make([]float64, len(deriv))
	for i, d := range deriv {
		absDeriv[i] = math.Abs(d)
	}
	var posStd []float64
	for _, s := range rollStd {
		if s > 0 {
			posStd = append(posStd, s)
		}
	}
	derivTh = series.Clamp(derivThFactor*series.Median(absDeriv), derivThMin, derivThMax)
	stdTh = series.Clamp(stdThFactor*series.Median(posStd), stdThMin, stdThMax)
	return derivTh, stdTh
}

// region is a half-open index range [a, b) of contiguous stable samples.
type region struct {
	a, b int
}

// stableRegions extracts maximal runs of indices passing both gates.
func stableRegions(deriv, rollStd []float64, derivTh, stdTh float64) []region {
	var regions []region
	start := -1
	for i := range deriv {
		stable := math.Abs(deriv[i]) <= derivTh && rollStd[i] <= stdTh
		switch {
		case stable && start < 0:
			start = i
		case !stable && start >= 0:
			regions = append(regions, region{a: start, b: i})
			start = -1
		}
	}
	if start >= 0 {
		regions = append(regions, region{a: start, b: len(deriv)})
	}
	return regions
}

// pickRegion scores qualifying regions and returns the best. Regions
// shorter than the minimum plateau duration are discarded. Ties keep the
// earlier region.
func pickRegion(regions []region, ts, deriv, rollStd []float64, derivTh, stdTh float64) (region, bool) {
	var (
		best      region
		bestScore = math.Inf(-1)
		found     bool
	)
	tFirst := ts[0]
	tLast := ts[len(ts)-1]
	span := math.Max(tLast-tFirst, eps)

	for _, r := range regions {
		duration := ts[r.b-1] - ts[r.a]
		if duration < minPlateauSecs {
			continue
		}
		meanAbsDeriv := meanAbs(deriv[r.a:r.b])
		meanStd := series.Mean(rollStd[r.a:r.b])
		base := duration * (derivTh / (meanAbsDeriv + eps)) * (stdTh / (meanStd + eps))
		tMid := (ts[r.a] + ts[r.b-1]) / 2
		late := 0.5 + 0.5*(tMid-tFirst)/span
		if score := base * late; score > bestScore {
			best = r
			bestScore = score
			found = true
		}
	}
	return best, found
}

// estimate builds the plateau estimate for the chosen region.
func estimate(r region, ts, kg, deriv, rollStd []float64, derivTh, stdTh float64) model.Estimate {
	window := kg[r.a:r.b]
	n := r.b - r.a
	meanAbsDeriv := meanAbs(deriv[r.a:r.b])
	meanStd := series.Mean(rollStd[r.a:r.b])
	quality := series.Clamp(
		0.5*(1-meanAbsDeriv/derivTh)+0.5*(1-meanStd/stdTh),
		0, 1,
	)
	return model.Estimate{
		WeightKG:      series.Median(window),
		UncertaintyKG: series.StdDev(window) / math.Sqrt(float64(n)),
		Quality:       quality,
		Mode:          model.ModePlateau,
		StartS:        ts[r.a],
		EndS:          ts[r.b-1],
		DurationS:     ts[r.b-1] - ts[r.a],
		MeanAbsSlope:  meanAbsDeriv,
		MeanStd:       meanStd,
		NPoints:       n,
	}
}

// tailMedian is the fallback estimate over the last
// max(12, 0.25*duration) seconds of the raw series.
func tailMedian(ts, kg []float64) model.Estimate {
	tFirst := ts[0]
	tLast := ts[len(ts)-1]
	duration := tLast - tFirst
	tailStart := math.Max(tFirst, tLast-math.Max(tailMinSecs, tailDurationFrac*duration))

	var tail []float64
	for i, t := range ts {
		if t >= tailStart {
			tail = append(tail, kg[i])
		}
	}
	n := len(tail)
	var stderr float64
	if n > 0 {
		stderr = series.StdDev(tail) / math.Sqrt(float64(n))
	}
	return model.Estimate{
		WeightKG:      series.Median(tail),
		UncertaintyKG: stderr,
		Quality:       fallbackQuality,
		Mode:          model.ModeFallback,
		StartS:        tailStart,
		EndS:          tLast,
		DurationS:     tLast - tailStart,
		NPoints:       n,
	}
}

func meanAbs(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += math.Abs(x)
	}
	return sum / float64(len(xs))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
