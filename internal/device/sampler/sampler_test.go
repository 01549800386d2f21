package sampler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/autoscale/internal/device/sampler"
	. "github.com/smartystreets/goconvey/convey"
)

// scriptedReader yields a fixed sequence, repeating the last value. A
// non-zero delay models the converter's sample period.
type scriptedReader struct {
	values []int64
	i      int
	reads  int
	delay  time.Duration
	err    error
}

func (s *scriptedReader) ReadValue(ctx context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.reads++
	v := s.values[s.i]
	if s.i < len(s.values)-1 {
		s.i++
	}
	return v, nil
}

func TestStableRead(t *testing.T) {
	Convey("Given a quiet signal", t, func() {
		ctx := context.Background()
		r := &scriptedReader{values: []int64{1000, 1002, 998, 1001, 999, 1000}}

		Convey("When reading with a loose dispersion gate", func() {
			v, err := sampler.ReadStableRaw(ctx, r, sampler.Opts{
				MinSamples:      5,
				MaxSamples:      50,
				MaxStdDevCounts: 10,
			})
			So(err, ShouldBeNil)

			Convey("Then the rounded mean returns once stability is met", func() {
				So(v, ShouldAlmostEqual, 1000, 2)
			})
		})
	})
}

func TestUnstableSignalFallsBackToCapMean(t *testing.T) {
	Convey("Given a signal that never settles", t, func() {
		ctx := context.Background()
		// Alternating extremes keep the standard deviation far above any
		// reasonable gate.
		values := make([]int64, 64)
		for i := range values {
			if i%2 == 0 {
				values[i] = 0
			} else {
				values[i] = 10000
			}
		}
		r := &scriptedReader{values: values}

		Convey("When reading with a tight gate and a small cap", func() {
			v, err := sampler.ReadStableRaw(ctx, r, sampler.Opts{
				MinSamples:      4,
				MaxSamples:      32,
				MaxStdDevCounts: 50,
			})
			So(err, ShouldBeNil)

			Convey("Then the cap mean returns rather than an error", func() {
				So(v, ShouldAlmostEqual, 5000, 200)
			})
		})
	})
}

func TestMinDurationHoldsOffEarlyReturn(t *testing.T) {
	Convey("Given a perfectly stable signal and a minimum duration", t, func() {
		ctx := context.Background()
		r := &scriptedReader{values: []int64{500}, delay: 2 * time.Millisecond}
		start := time.Now()

		Convey("When reading with a 50 ms floor", func() {
			v, err := sampler.ReadStableRaw(ctx, r, sampler.Opts{
				MinSamples:      2,
				MaxSamples:      128,
				MaxStdDevCounts: 10,
				MinDuration:     50 * time.Millisecond,
			})
			So(err, ShouldBeNil)

			Convey("Then the call does not return before the floor", func() {
				So(v, ShouldEqual, 500)
				So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 50*time.Millisecond)
				So(r.reads, ShouldBeLessThan, 128)
			})
		})
	})
}

func TestSamplerClamps(t *testing.T) {
	Convey("Given out-of-range options", t, func() {
		ctx := context.Background()
		r := &scriptedReader{values: []int64{7}}

		Convey("When MaxSamples exceeds the internal bound", func() {
			v, err := sampler.ReadStableRaw(ctx, r, sampler.Opts{
				MinSamples:      1,
				MaxSamples:      100000,
				MaxStdDevCounts: 1,
			})
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 7)
		})

		Convey("When MinSamples is zero it is raised to one", func() {
			v, err := sampler.ReadStableRaw(ctx, r, sampler.Opts{
				MaxSamples:      10,
				MaxStdDevCounts: 1,
			})
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 7)
		})
	})
}

func TestReadErrorPropagates(t *testing.T) {
	Convey("Given a broken ADC", t, func() {
		ctx := context.Background()
		r := &scriptedReader{err: errors.New("wiring fault")}

		Convey("When reading", func() {
			_, err := sampler.ReadStableRaw(ctx, r, sampler.Opts{MinSamples: 1, MaxSamples: 4})

			Convey("Then the error propagates", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
