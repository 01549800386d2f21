// Package series provides the robust-statistics primitives used by the
// plateau detector and the consensus refiner: medians, percentiles,
// MAD-based outlier rejection and rolling-window aggregates.
package series

import (
	"math"
	"sort"
)

// madScale converts a median absolute deviation to a standard-deviation
// equivalent for Gaussian data (1/0.6745).
const madScale = 1.4826

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation (divisor n-1).
// Slices shorter than two elements have zero dispersion.
func StdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := Mean(xs)
	var acc float64
	for _, x := range xs {
		d := x - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(n-1))
}

// Median returns the middle value, averaging the two central elements for
// even lengths. Returns 0 for an empty slice.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Percentile returns the p-th percentile (0..100) using linear
// interpolation between closest ranks.
func Percentile(xs []float64, p float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	if p <= 0 {
		return s[0]
	}
	if p >= 100 {
		return s[n-1]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return s[lo]
	}
	frac := rank - float64(lo)
	return s[lo]*(1-frac) + s[hi]*frac
}

// MAD returns the median absolute deviation around the median.
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return Median(devs)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Hampel replaces outliers with the local window median. A point is an
// outlier when its deviation from the window median exceeds
// t0 * 1.4826 * MAD of the window. k is the half-window size.
func Hampel(xs []float64, k int, t0 float64) []float64 {
	n := len(xs)
	out := append([]float64(nil), xs...)
	if n == 0 || k < 1 {
		return out
	}
	for i := range xs {
		lo := i - k
		if lo < 0 {
			lo = 0
		}
		hi := i + k + 1
		if hi > n {
			hi = n
		}
		win := xs[lo:hi]
		med := Median(win)
		sigma := madScale * MAD(win)
		if sigma > 0 && math.Abs(xs[i]-med) > t0*sigma {
			out[i] = med
		}
	}
	return out
}

// MovingAverage smooths xs with a centered window of the given width,
// clipped at the edges.
func MovingAverage(xs []float64, win int) []float64 {
	n := len(xs)
	out := make([]float64, n)
	if win < 1 {
		win = 1
	}
	half := win / 2
	for i := range xs {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > n {
			hi = n
		}
		out[i] = Mean(xs[lo:hi])
	}
	return out
}

// RollingStd computes the sample standard deviation over a centered
// window of the given width, clipped at the edges.
func RollingStd(xs []float64, win int) []float64 {
	n := len(xs)
	out := make([]float64, n)
	if win < 2 {
		win = 2
	}
	half := win / 2
	for i := range xs {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > n {
			hi = n
		}
		out[i] = StdDev(xs[lo:hi])
	}
	return out
}

// CentralDerivative differentiates ys with respect to ts using central
// differences, falling back to one-sided differences at the edges.
// Zero time deltas yield a zero slope at that index.
func CentralDerivative(ys, ts []float64) []float64 {
	n := len(ys)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	for i := range ys {
		lo := i - 1
		hi := i + 1
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		dt := ts[hi] - ts[lo]
		if dt > 0 {
			out[i] = (ys[hi] - ys[lo]) / dt
		}
	}
	return out
}

// SampleRate estimates the sampling frequency in Hz from the median of
// positive inter-sample deltas. Returns fallback when no positive delta
// exists.
func SampleRate(ts []float64, fallback float64) float64 {
	var dts []float64
	for i := 1; i < len(ts); i++ {
		if dt := ts[i] - ts[i-1]; dt > 0 {
			dts = append(dts, dt)
		}
	}
	if len(dts) == 0 {
		return fallback
	}
	med := Median(dts)
	if med <= 0 {
		return fallback
	}
	return 1 / med
}
