package calibrate_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/autoscale/internal/device/adc"
	"github.com/okian/autoscale/internal/device/calibrate"
	"github.com/okian/autoscale/internal/device/nvs"
	"github.com/okian/autoscale/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// rig is a simulated bench: a settable load on a 1000 counts/gram cell.
type rig struct {
	load  atomic.Value // float64 grams
	sim   *adc.Sim
	conv  *adc.Converter
	store *nvs.Store
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{}
	r.load.Store(0.0)
	r.sim = adc.NewSim(func(time.Duration) float64 {
		return r.load.Load().(float64)
	}, 1000, adc.WithSimRate(adc.Rate80SPS), adc.WithSimSeed(11))
	r.conv = adc.NewConverter(r.sim)
	store, err := nvs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("nvs store: %v", err)
	}
	r.store = store
	return r
}

func (r *rig) place(grams float64) { r.load.Store(grams) }

// holdRecorder collects the ADC-hold events from both fakes in order.
type holdRecorder struct {
	mu     sync.Mutex
	events []string
}

func (h *holdRecorder) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *holdRecorder) sequence() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// fakeCapture records the calibration hold on the state machine.
type fakeCapture struct {
	rec   *holdRecorder
	lastD time.Duration
}

func (f *fakeCapture) Pause() {
	f.rec.record("capture-pause")
}

func (f *fakeCapture) ResumeAfter(d time.Duration) {
	f.lastD = d
	f.rec.record("capture-resume")
}

// fakeRadio records the Wi-Fi power-down around the stability phase.
type fakeRadio struct {
	rec *holdRecorder
}

func (f *fakeRadio) Off() { f.rec.record("radio-off") }
func (f *fakeRadio) On()  { f.rec.record("radio-on") }

func fastEngine(r *rig, opts ...calibrate.Option) *calibrate.Engine {
	opts = append(opts, calibrate.WithTimings(400*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond))
	return calibrate.New(r.conv, r.store, 9863.233, opts...)
}

func TestSinglePointCalibration(t *testing.T) {
	Convey("Given a bench with a 500 g reference mass", t, func() {
		ctx := context.Background()
		r := newRig(t)
		rec := &holdRecorder{}
		hold := &fakeCapture{rec: rec}
		radio := &fakeRadio{rec: rec}
		engine := fastEngine(r, calibrate.WithCapture(hold), calibrate.WithRadio(radio))

		Convey("When calibrating single-point", func() {
			// The operator places the mass after the tare finishes.
			go func() {
				time.Sleep(500 * time.Millisecond)
				r.place(500)
			}()
			factor, err := engine.Calibrate(ctx, 500)
			So(err, ShouldBeNil)

			Convey("Then the factor matches the cell sensitivity", func() {
				So(factor, ShouldAlmostEqual, 1000, 5)
				So(engine.Factor(), ShouldEqual, factor)
			})

			Convey("Then the factor persisted to NVS", func() {
				h, err := r.store.Open(calibrate.Namespace, true)
				So(err, ShouldBeNil)
				defer func() { _ = h.Close() }()
				saved, ok := h.GetFloat32(calibrate.CalKey)
				So(ok, ShouldBeTrue)
				So(saved, ShouldAlmostEqual, factor, 0.001)
			})

			Convey("Then capture pauses and the radio powers down for the hold", func() {
				So(rec.sequence(), ShouldResemble, []string{
					"capture-pause", "radio-off", "radio-on", "capture-resume",
				})
				So(hold.lastD, ShouldBeGreaterThan, 0)
			})
		})

		Convey("When the mass is not positive", func() {
			_, err := engine.Calibrate(ctx, 0)
			So(err, ShouldEqual, calibrate.ErrMassNotPositive)
		})

		Convey("When the operator aborts mid-calibration", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := engine.Calibrate(cancelled, 500)
			So(err, ShouldNotBeNil)

			Convey("Then the hold still releases with the cooldown", func() {
				So(rec.sequence(), ShouldResemble, []string{
					"capture-pause", "radio-off", "radio-on", "capture-resume",
				})
				So(hold.lastD, ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestTwoPointCalibration(t *testing.T) {
	Convey("Given a bench with two reference masses", t, func() {
		ctx := context.Background()
		r := newRig(t)
		engine := fastEngine(r)

		Convey("When recording both points and solving", func() {
			r.place(200)
			So(engine.RecordPoint1(ctx, 200), ShouldBeNil)
			r.place(700)
			So(engine.RecordPoint2(ctx, 700), ShouldBeNil)

			factor, err := engine.SolveTwoPoint(ctx)
			So(err, ShouldBeNil)

			Convey("Then the slope matches the cell sensitivity", func() {
				So(factor, ShouldAlmostEqual, 1000, 5)
			})

			Convey("Then the points cleared and solving again fails", func() {
				_, err := engine.SolveTwoPoint(ctx)
				So(err, ShouldEqual, calibrate.ErrPointsMissing)
			})
		})

		Convey("When solving without both points", func() {
			_, err := engine.SolveTwoPoint(ctx)
			So(err, ShouldEqual, calibrate.ErrPointsMissing)
		})

		Convey("When the two masses are identical", func() {
			r.place(300)
			So(engine.RecordPoint1(ctx, 300), ShouldBeNil)
			So(engine.RecordPoint2(ctx, 300), ShouldBeNil)
			_, err := engine.SolveTwoPoint(ctx)
			So(err, ShouldEqual, calibrate.ErrMassesTooClose)
		})
	})
}

func TestResetAndReload(t *testing.T) {
	Convey("Given an engine with a saved factor", t, func() {
		ctx := context.Background()
		r := newRig(t)
		engine := fastEngine(r)

		go func() {
			time.Sleep(500 * time.Millisecond)
			r.place(500)
		}()
		factor, err := engine.Calibrate(ctx, 500)
		So(err, ShouldBeNil)

		Convey("When a fresh engine boots over the same store", func() {
			engine2 := fastEngine(r)
			loaded, err := engine2.LoadSaved(ctx)
			So(err, ShouldBeNil)

			Convey("Then the saved factor applies", func() {
				So(loaded, ShouldBeTrue)
				So(engine2.Factor(), ShouldAlmostEqual, factor, 0.001)
			})
		})

		Convey("When resetting", func() {
			So(engine.Reset(ctx), ShouldBeNil)

			Convey("Then the factor reverts to the compile-time default", func() {
				So(engine.Factor(), ShouldAlmostEqual, 9863.233, 0.001)
			})

			Convey("Then the key is gone and a boot load finds nothing", func() {
				engine2 := fastEngine(r)
				loaded, err := engine2.LoadSaved(ctx)
				So(err, ShouldBeNil)
				So(loaded, ShouldBeFalse)
			})
		})
	})
}

func TestTare(t *testing.T) {
	Convey("Given a platform holding residue", t, func() {
		ctx := context.Background()
		r := newRig(t)
		engine := fastEngine(r)
		r.place(40) // 40 g of residue
		r.sim.SetScale(1000)

		Convey("When taring", func() {
			So(engine.Tare(ctx), ShouldBeNil)

			Convey("Then subsequent converted reads center on zero", func() {
				kg, err := r.conv.KG(ctx, 8)
				So(err, ShouldBeNil)
				So(kg, ShouldAlmostEqual, 0, 0.01)
			})
		})
	})
}
