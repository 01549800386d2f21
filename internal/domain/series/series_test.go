package series_test

import (
	"testing"

	"github.com/okian/autoscale/internal/domain/series"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMedianAndPercentile(t *testing.T) {
	Convey("Given a small sample set", t, func() {
		xs := []float64{5, 1, 3, 2, 4}

		Convey("When computing the median", func() {
			So(series.Median(xs), ShouldEqual, 3)
		})

		Convey("When the set has even length", func() {
			So(series.Median([]float64{1, 2, 3, 4}), ShouldEqual, 2.5)
		})

		Convey("When the set is empty", func() {
			So(series.Median(nil), ShouldEqual, 0)
		})

		Convey("When computing percentiles", func() {
			So(series.Percentile(xs, 0), ShouldEqual, 1)
			So(series.Percentile(xs, 100), ShouldEqual, 5)
			So(series.Percentile(xs, 50), ShouldEqual, 3)
		})
	})
}

func TestDispersion(t *testing.T) {
	Convey("Given readings with known spread", t, func() {
		xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}

		Convey("Then the sample standard deviation uses divisor n-1", func() {
			So(series.StdDev(xs), ShouldAlmostEqual, 2.13809, 1e-4)
		})

		Convey("Then short slices have zero dispersion", func() {
			So(series.StdDev([]float64{3}), ShouldEqual, 0)
			So(series.StdDev(nil), ShouldEqual, 0)
		})

		Convey("Then the MAD is robust to one outlier", func() {
			So(series.MAD([]float64{1, 1, 1, 1, 100}), ShouldEqual, 0)
		})
	})
}

func TestHampel(t *testing.T) {
	Convey("Given a flat trace with one spike", t, func() {
		xs := make([]float64, 31)
		for i := range xs {
			xs[i] = 5 + 0.001*float64(i%3)
		}
		xs[15] = 50

		Convey("When applying the Hampel filter", func() {
			out := series.Hampel(xs, 7, 4.0)

			Convey("Then the spike is replaced with the window median", func() {
				So(out[15], ShouldBeLessThan, 6)
				So(out[15], ShouldBeGreaterThan, 4)
			})

			Convey("Then inliers are untouched", func() {
				So(out[3], ShouldEqual, xs[3])
				So(out[28], ShouldEqual, xs[28])
			})

			Convey("Then the input is not mutated", func() {
				So(xs[15], ShouldEqual, 50)
			})
		})
	})
}

func TestSmoothingAndDerivative(t *testing.T) {
	Convey("Given a linear ramp", t, func() {
		n := 50
		ts := make([]float64, n)
		ys := make([]float64, n)
		for i := 0; i < n; i++ {
			ts[i] = float64(i) * 0.1
			ys[i] = 2 * ts[i]
		}

		Convey("When smoothing with a moving average", func() {
			out := series.MovingAverage(ys, 5)

			Convey("Then interior points keep the ramp value", func() {
				So(out[25], ShouldAlmostEqual, ys[25], 1e-9)
			})
		})

		Convey("When differentiating", func() {
			d := series.CentralDerivative(ys, ts)

			Convey("Then the slope is recovered everywhere", func() {
				So(d[0], ShouldAlmostEqual, 2, 1e-9)
				So(d[25], ShouldAlmostEqual, 2, 1e-9)
				So(d[n-1], ShouldAlmostEqual, 2, 1e-9)
			})
		})

		Convey("When the trace is a constant", func() {
			flat := make([]float64, n)
			d := series.CentralDerivative(flat, ts)
			So(d[10], ShouldEqual, 0)

			std := series.RollingStd(flat, 10)
			So(std[20], ShouldEqual, 0)
		})
	})
}

func TestSampleRate(t *testing.T) {
	Convey("Given timestamps at 10 Hz", t, func() {
		ts := []float64{0, 0.1, 0.2, 0.3, 0.4}

		Convey("Then the estimated rate is 10", func() {
			So(series.SampleRate(ts, 1), ShouldAlmostEqual, 10, 1e-9)
		})

		Convey("Then duplicate timestamps are ignored", func() {
			So(series.SampleRate([]float64{1, 1, 1.1}, 1), ShouldAlmostEqual, 10, 1e-9)
		})

		Convey("Then degenerate input yields the fallback", func() {
			So(series.SampleRate([]float64{2, 2, 2}, 42), ShouldEqual, 42)
			So(series.SampleRate(nil, 42), ShouldEqual, 42)
		})
	})
}

func TestClamp(t *testing.T) {
	Convey("Given clamp bounds", t, func() {
		So(series.Clamp(0.5, 0, 1), ShouldEqual, 0.5)
		So(series.Clamp(-1, 0, 1), ShouldEqual, 0)
		So(series.Clamp(2, 0, 1), ShouldEqual, 1)
	})
}
