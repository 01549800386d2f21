// Package sampler produces a single denoised raw average by collecting
// ADC readings until their dispersion is low or a cap is reached.
package sampler

import (
	"context"
	"math"
	"time"
)

// maxBuffer is the internal cap on collected samples.
const maxBuffer = 128

// ValueReader yields offset-compensated raw readings.
type ValueReader interface {
	ReadValue(ctx context.Context) (int64, error)
}

// Opts tunes one stable read.
type Opts struct {
	// MinSamples is the floor before stability is evaluated. At least 1.
	MinSamples int
	// MaxSamples caps collection; clipped to an internal bound.
	MaxSamples int
	// MaxStdDevCounts is the dispersion gate in raw counts.
	MaxStdDevCounts float64
	// MinDuration must elapse before stability is evaluated.
	MinDuration time.Duration
}

// ReadStableRaw collects readings until n >= MinSamples and the minimum
// duration elapsed; if their sample standard deviation is within the
// gate it returns the rounded mean. Hitting MaxSamples first returns
// the mean of everything collected anyway. The only failure mode is an
// ADC read error.
func ReadStableRaw(ctx context.Context, r ValueReader, o Opts) (int32, error) {
	if o.MinSamples < 1 {
		o.MinSamples = 1
	}
	if o.MaxSamples > maxBuffer || o.MaxSamples < 1 {
		o.MaxSamples = maxBuffer
	}
	if o.MaxSamples < o.MinSamples {
		o.MaxSamples = o.MinSamples
	}

	buf := make([]float64, 0, o.MaxSamples)
	start := time.Now()

	for len(buf) < o.MaxSamples {
		v, err := r.ReadValue(ctx)
		if err != nil {
			return 0, err
		}
		buf = append(buf, float64(v))

		if len(buf) >= o.MinSamples && time.Since(start) >= o.MinDuration {
			m := mean(buf)
			if stdDev(buf, m) <= o.MaxStdDevCounts {
				return int32(math.Round(m)), nil
			}
		}
	}
	// Fallback: the cap was reached; a less-stable mean is still a mean.
	return int32(math.Round(mean(buf))), nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev is the sample standard deviation (divisor n-1).
func stdDev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var acc float64
	for _, x := range xs {
		d := x - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)-1))
}
