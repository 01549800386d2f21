// Package calibrate derives and persists the counts-per-gram factor,
// either from a single known mass or from two-point linear regression.
// All operations take exclusive use of the ADC by pausing event capture
// and impose a cooldown on completion so residual platform motion does
// not trigger a spurious session.
package calibrate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/okian/autoscale/internal/device/adc"
	"github.com/okian/autoscale/internal/device/nvs"
	"github.com/okian/autoscale/internal/device/sampler"
	"github.com/okian/autoscale/pkg/logger"
)

// NVS storage location of the calibration factor.
const (
	Namespace = "autoscale"
	CalKey    = "cal"
)

// Calibration timing and gating constants.
const (
	defaultTareReads       = 20
	calibrationTareReads   = 25
	tareReadTimeout        = 500 * time.Millisecond
	tareTotalTimeout       = 12 * time.Second
	settleWait             = 2 * time.Second
	phaseTimeout           = 60 * time.Second
	cooldownAfter          = 4 * time.Second
	minMassDeltaGrams      = 1e-3
	gateWindowSize         = 16
	gateMaxStdDevCounts    = 800.0
	gateMeanDriftFraction  = 0.01   // 1% of |mean|
	gateMeanDriftFloor     = 2000.0 // counts
	gateMinStableDuration  = 1200 * time.Millisecond
	stableMinSamples       = 20
	stableMaxSamples       = 100
	stableMaxStdDevCounts  = 800.0
	stableMinDuration      = 1200 * time.Millisecond
	twoPointStableMaxReads = 120
)

// Capture is the hold the engine takes on the event-capture machine.
type Capture interface {
	// Pause suspends capture entirely; the machine heartbeats while held.
	Pause()
	// ResumeAfter releases capture once the cooldown lapses.
	ResumeAfter(d time.Duration)
}

// Radio powers the Wi-Fi stack down during the stability phase to keep
// RF noise off the ADC.
type Radio interface {
	Off()
	On()
}

// point is one recorded two-point calibration measurement.
type point struct {
	massGrams float64
	raw       int32
	set       bool
}

// Engine owns the calibration workflow and the persisted factor.
type Engine struct {
	mu sync.Mutex

	conv    *adc.Converter
	store   *nvs.Store
	capture Capture
	radio   Radio

	settleWait    time.Duration
	gateMinStable time.Duration
	stableMinDur  time.Duration

	defaultFactor float32
	factor        float32

	p1, p2 point

	log logger.Logger
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithCapture wires the capture hold.
func WithCapture(c Capture) Option {
	return func(e *Engine) { e.capture = c }
}

// WithRadio wires Wi-Fi power control.
func WithRadio(r Radio) Option {
	return func(e *Engine) { e.radio = r }
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithTimings overrides the settle and stability durations, for tests
// and bench rigs.
func WithTimings(settle, gateStable, stableMin time.Duration) Option {
	return func(e *Engine) {
		if settle >= 0 {
			e.settleWait = settle
		}
		if gateStable > 0 {
			e.gateMinStable = gateStable
		}
		if stableMin >= 0 {
			e.stableMinDur = stableMin
		}
	}
}

// New creates an Engine over the converter and NVS store.
// defaultFactor is the compile-time counts-per-gram used until a saved
// factor exists.
func New(conv *adc.Converter, store *nvs.Store, defaultFactor float32, opts ...Option) *Engine {
	e := &Engine{
		conv:          conv,
		store:         store,
		settleWait:    settleWait,
		gateMinStable: gateMinStableDuration,
		stableMinDur:  stableMinDuration,
		defaultFactor: defaultFactor,
		factor:        defaultFactor,
		log:           logger.Get().Named("calibrate"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.conv.Reader().SetScale(e.factor)
	return e
}

// Factor returns the live counts-per-gram.
func (e *Engine) Factor() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.factor
}

// LoadSaved applies a persisted factor if one exists. Called on boot.
func (e *Engine) LoadSaved(ctx context.Context) (bool, error) {
	h, err := e.store.Open(Namespace, true)
	if err != nil {
		return false, err
	}
	defer func() { _ = h.Close() }()

	saved, ok := h.GetFloat32(CalKey)
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	e.factor = saved
	e.mu.Unlock()
	e.conv.Reader().SetScale(saved)
	e.log.Info(ctx, "loaded saved calibration", logger.Float64("countsPerGram", float64(saved)))
	return true, nil
}

// Tare averages raw readings into a zero offset. Each read has its own
// budget and the whole operation a second one; zero successful reads is
// a failure and leaves the offset untouched.
func (e *Engine) Tare(ctx context.Context) error {
	release := e.hold()
	defer release()

	return e.tare(ctx, defaultTareReads)
}

func (e *Engine) tare(ctx context.Context, reads int) error {
	overall, cancel := context.WithTimeout(ctx, tareTotalTimeout)
	defer cancel()

	r := e.conv.Reader()
	var (
		sum int64
		n   int
	)
	for i := 0; i < reads; i++ {
		if overall.Err() != nil {
			break
		}
		readCtx, readCancel := context.WithTimeout(overall, tareReadTimeout)
		raw, err := r.ReadRaw(readCtx)
		readCancel()
		if err != nil {
			continue
		}
		sum += int64(raw)
		n++
	}
	if n == 0 {
		return ErrTareTimeout
	}
	r.SetOffset(int32(sum / int64(n)))
	return nil
}

// Calibrate performs single-point calibration against a known mass in
// grams: tare, settle, plateau gate, stable read, factor = raw / mass.
// The factor persists to NVS on success.
func (e *Engine) Calibrate(ctx context.Context, massGrams float64) (float32, error) {
	if massGrams <= 0 {
		return 0, ErrMassNotPositive
	}
	release := e.hold()
	defer release()

	if err := e.tare(ctx, calibrationTareReads); err != nil {
		return 0, err
	}
	raw, err := e.stableMeasurement(ctx, stableMaxSamples)
	if err != nil {
		return 0, err
	}

	factor := float32(float64(raw) / massGrams)
	if err := e.apply(ctx, factor); err != nil {
		return 0, err
	}

	check, err := e.conv.Grams(ctx, defaultTareReads)
	if err == nil {
		e.log.Info(ctx, "calibration check read",
			logger.Float64("kg", check/1000),
			logger.Float64("countsPerGram", float64(factor)),
		)
	}
	return factor, nil
}

// RecordPoint1 captures the first two-point measurement.
func (e *Engine) RecordPoint1(ctx context.Context, massGrams float64) error {
	return e.recordPoint(ctx, massGrams, &e.p1)
}

// RecordPoint2 captures the second two-point measurement.
func (e *Engine) RecordPoint2(ctx context.Context, massGrams float64) error {
	return e.recordPoint(ctx, massGrams, &e.p2)
}

func (e *Engine) recordPoint(ctx context.Context, massGrams float64, p *point) error {
	if massGrams <= 0 {
		return ErrMassNotPositive
	}
	release := e.hold()
	defer release()

	raw, err := e.stableMeasurement(ctx, twoPointStableMaxReads)
	if err != nil {
		return err
	}
	e.mu.Lock()
	*p = point{massGrams: massGrams, raw: raw, set: true}
	e.mu.Unlock()
	return nil
}

// SolveTwoPoint computes the factor from both recorded points:
// (r2 - r1) / (m2 - m1). Points clear on success.
func (e *Engine) SolveTwoPoint(ctx context.Context) (float32, error) {
	e.mu.Lock()
	p1, p2 := e.p1, e.p2
	e.mu.Unlock()

	if !p1.set || !p2.set {
		return 0, ErrPointsMissing
	}
	dm := p2.massGrams - p1.massGrams
	if math.Abs(dm) < minMassDeltaGrams {
		return 0, ErrMassesTooClose
	}
	release := e.hold()
	defer release()

	factor := float32(float64(p2.raw-p1.raw) / dm)
	if err := e.apply(ctx, factor); err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.p1, e.p2 = point{}, point{}
	e.mu.Unlock()
	return factor, nil
}

// Reset deletes the persisted factor and reverts to the compile-time
// default.
func (e *Engine) Reset(ctx context.Context) error {
	release := e.hold()
	defer release()

	h, err := e.store.Open(Namespace, false)
	if err != nil {
		return err
	}
	if err := h.Delete(CalKey); err != nil {
		_ = h.Close()
		return err
	}
	if err := h.Close(); err != nil {
		return err
	}

	e.mu.Lock()
	e.factor = e.defaultFactor
	e.mu.Unlock()
	e.conv.Reader().SetScale(e.defaultFactor)
	e.log.Info(ctx, "calibration reset to default",
		logger.Float64("countsPerGram", float64(e.defaultFactor)))
	return nil
}

// hold takes exclusive use of the ADC: capture pauses, Wi-Fi powers
// down. The returned release restores both, with the capture cooldown
// applied even on abort.
func (e *Engine) hold() func() {
	if e.capture != nil {
		e.capture.Pause()
	}
	if e.radio != nil {
		e.radio.Off()
	}
	return func() {
		if e.radio != nil {
			e.radio.On()
		}
		if e.capture != nil {
			e.capture.ResumeAfter(cooldownAfter)
		}
	}
}

// stableMeasurement waits for the operator to settle the mass, gates on
// a raw plateau, then takes the denoised stable reading.
func (e *Engine) stableMeasurement(ctx context.Context, maxSamples int) (int32, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(e.settleWait):
	}

	if err := e.plateauGate(ctx); err != nil {
		return 0, err
	}

	return sampler.ReadStableRaw(ctx, e.conv, sampler.Opts{
		MinSamples:      stableMinSamples,
		MaxSamples:      maxSamples,
		MaxStdDevCounts: stableMaxStdDevCounts,
		MinDuration:     e.stableMinDur,
	})
}

// plateauGate requires two consecutive low-dispersion raw windows whose
// means differ by no more than max(1% of |mean|, 2000 counts) and whose
// combined stable time covers the configured minimum. A timeout
// surfaces as an abort without touching persistent state.
func (e *Engine) plateauGate(ctx context.Context) error {
	gateCtx, cancel := context.WithTimeout(ctx, phaseTimeout)
	defer cancel()

	var (
		prevMean   float64
		prevStable bool
		stableFor  time.Duration
		windowFrom = time.Now()
	)
	window := make([]float64, 0, gateWindowSize)

	for {
		v, err := e.conv.ReadValue(gateCtx)
		if err != nil {
			if gateCtx.Err() != nil {
				return fmt.Errorf("%w: platform never settled", ErrGateTimeout)
			}
			return err
		}
		window = append(window, float64(v))
		if len(window) < gateWindowSize {
			continue
		}

		m := mean(window)
		sd := stdDev(window, m)
		window = window[:0]

		elapsed := time.Since(windowFrom)
		windowFrom = time.Now()

		if sd > gateMaxStdDevCounts {
			prevStable = false
			stableFor = 0
			continue
		}
		if prevStable {
			drift := math.Max(gateMeanDriftFraction*math.Abs(m), gateMeanDriftFloor)
			if math.Abs(m-prevMean) <= drift {
				stableFor += elapsed
				if stableFor >= e.gateMinStable {
					return nil
				}
			} else {
				stableFor = 0
			}
		} else {
			stableFor = elapsed
		}
		prevMean = m
		prevStable = true
	}
}

// apply sets the live factor and persists it.
func (e *Engine) apply(ctx context.Context, factor float32) error {
	e.conv.Reader().SetScale(factor)
	e.mu.Lock()
	e.factor = factor
	e.mu.Unlock()

	h, err := e.store.Open(Namespace, false)
	if err != nil {
		return err
	}
	if err := h.PutFloat32(CalKey, factor); err != nil {
		_ = h.Close()
		return err
	}
	if err := h.Close(); err != nil {
		return err
	}
	e.log.Info(ctx, "calibration saved", logger.Float64("countsPerGram", float64(factor)))
	return nil
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

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
