package adc

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Profile produces the simulated platform load in grams at a moment of
// device uptime. Implementations model weighing sessions: quiet noise,
// a ramp, a plateau, a release.
type Profile func(uptime time.Duration) float64

// Supported HX711-class sample rates.
const (
	Rate10SPS = 10
	Rate80SPS = 80
)

// simNoiseCounts is the 1-sigma electrical noise of the simulated cell.
const simNoiseCounts = 120.0

// rawLimit clips simulated counts to the 24-bit signed range.
const rawLimit = 1 << 23

// Sim is a software HX711: it emits counts from a load profile at the
// configured native rate. It satisfies Reader.
type Sim struct {
	mu sync.Mutex

	profile       Profile
	countsPerGram float64
	period        time.Duration
	started       time.Time
	nextReady     time.Time

	offset int32
	scale  float32

	rng *rand.Rand
}

// SimOption applies a configuration option to the Sim.
type SimOption func(*Sim)

// WithSimSeed makes the noise deterministic, for tests.
func WithSimSeed(seed int64) SimOption {
	return func(s *Sim) { s.rng = rand.New(rand.NewSource(seed)) } //nolint:gosec // simulation noise only
}

// WithSimRate selects 10 or 80 SPS.
func WithSimRate(sps int) SimOption {
	return func(s *Sim) {
		if sps == Rate10SPS || sps == Rate80SPS {
			s.period = time.Second / time.Duration(sps)
		}
	}
}

// NewSim creates a simulated ADC over a load profile. countsPerGram is
// the physical sensitivity of the simulated cell.
func NewSim(profile Profile, countsPerGram float64, opts ...SimOption) *Sim {
	s := &Sim{
		profile:       profile,
		countsPerGram: countsPerGram,
		period:        time.Second / Rate10SPS,
		started:       time.Now(),
		scale:         1,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // simulation noise only
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextReady = s.started.Add(s.period)
	return s
}

// IsReady reports whether the next conversion interval has elapsed.
func (s *Sim) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !time.Now().Before(s.nextReady)
}

// ReadRaw blocks until the next conversion is due and returns it.
func (s *Sim) ReadRaw(ctx context.Context) (int32, error) {
	for {
		s.mu.Lock()
		now := time.Now()
		if !now.Before(s.nextReady) {
			raw := s.sample(now)
			s.nextReady = now.Add(s.period)
			s.mu.Unlock()
			return raw, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

// sample converts the profile load to noisy counts. Callers hold s.mu.
func (s *Sim) sample(now time.Time) int32 {
	grams := s.profile(now.Sub(s.started))
	counts := grams*s.countsPerGram + s.rng.NormFloat64()*simNoiseCounts
	if counts > rawLimit-1 {
		counts = rawLimit - 1
	}
	if counts < -rawLimit {
		counts = -rawLimit
	}
	return int32(counts)
}

// SetOffset stores the tare offset.
func (s *Sim) SetOffset(offset int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
}

// SetScale stores the calibration factor.
func (s *Sim) SetScale(scale float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scale != 0 {
		s.scale = scale
	}
}

// Offset returns the current tare offset.
func (s *Sim) Offset() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Scale returns the current calibration factor.
func (s *Sim) Scale() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}
