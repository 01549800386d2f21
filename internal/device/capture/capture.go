// Package capture implements the IDLE/ACTIVE event-capture state
// machine: hysteresis-gated session boundaries, rising-edge arming and
// post-event cooldown.
package capture

import (
	"sync"
	"time"

	"github.com/okian/autoscale/internal/domain/model"
)

// State is the machine state.
type State int

// Machine states. The machine is re-entrant into Idle.
const (
	Idle State = iota
	Active
)

// Session termination reasons.
const (
	ReasonHysteresis = "hysteresis"
	ReasonTimeout    = "timeout"
)

// Config carries the capture thresholds. Zero values take the reference
// firmware constants.
type Config struct {
	IdlePoll           time.Duration // cadence of the IDLE loop
	TriggerKG          float64       // |EMA| must reach this to enter ACTIVE
	ReleaseKG          float64       // hysteresis exit threshold
	BelowHold          time.Duration // sustained time under ReleaseKG to end
	ActiveMax          time.Duration // hard cap on a session
	MaxSamples         int           // buffer cap; excess samples are dropped
	ArmBandKG          float64       // |EMA| band that earns the arm gate
	ArmStable          time.Duration // time in band required to arm
	RiseMinKG          float64       // minimum EMA rise to trigger
	PostActiveCooldown time.Duration // IDLE lockout after a session
	EMAAlpha           float64       // smoothing factor on the newest reading
}

// Reference firmware constants.
const (
	defaultIdlePoll           = 200 * time.Millisecond
	defaultTriggerKG          = 4.00
	defaultReleaseKG          = 3.00
	defaultBelowHold          = 2 * time.Second
	defaultActiveMax          = 90 * time.Second
	defaultMaxSamples         = 6000
	defaultArmBandKG          = 1.0
	defaultArmStable          = 2500 * time.Millisecond
	defaultRiseMinKG          = 0.20
	defaultPostActiveCooldown = 4 * time.Second
	defaultEMAAlpha           = 0.1
)

// DefaultConfig returns the reference constants.
func DefaultConfig() Config {
	return Config{
		IdlePoll:           defaultIdlePoll,
		TriggerKG:          defaultTriggerKG,
		ReleaseKG:          defaultReleaseKG,
		BelowHold:          defaultBelowHold,
		ActiveMax:          defaultActiveMax,
		MaxSamples:         defaultMaxSamples,
		ArmBandKG:          defaultArmBandKG,
		ArmStable:          defaultArmStable,
		RiseMinKG:          defaultRiseMinKG,
		PostActiveCooldown: defaultPostActiveCooldown,
		EMAAlpha:           defaultEMAAlpha,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.IdlePoll <= 0 {
		c.IdlePoll = d.IdlePoll
	}
	if c.TriggerKG <= 0 {
		c.TriggerKG = d.TriggerKG
	}
	if c.ReleaseKG <= 0 {
		c.ReleaseKG = d.ReleaseKG
	}
	if c.BelowHold <= 0 {
		c.BelowHold = d.BelowHold
	}
	if c.ActiveMax <= 0 {
		c.ActiveMax = d.ActiveMax
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = d.MaxSamples
	}
	if c.ArmBandKG <= 0 {
		c.ArmBandKG = d.ArmBandKG
	}
	if c.ArmStable <= 0 {
		c.ArmStable = d.ArmStable
	}
	if c.RiseMinKG <= 0 {
		c.RiseMinKG = d.RiseMinKG
	}
	if c.PostActiveCooldown <= 0 {
		c.PostActiveCooldown = d.PostActiveCooldown
	}
	if c.EMAAlpha <= 0 {
		c.EMAAlpha = d.EMAAlpha
	}
}

// Session is one finished capture: the buffered samples and the
// session anchor.
type Session struct {
	T0      time.Time
	Samples []model.Sample
	Reason  string
}

// Machine owns the capture state: buffer, EMA, arm gate, cooldown and
// pause flags. All methods are safe for concurrent use; the calibration
// engine calls Pause/ResumeAfter from another goroutine.
type Machine struct {
	mu sync.Mutex

	cfg Config

	state     State
	ema       float64
	emaInit   bool
	armed     bool
	inBand    bool
	bandSince time.Time

	buf        []model.Sample
	sessionT0  time.Time
	belowSince time.Time
	belowSet   bool

	cooldownUntil time.Time
	paused        bool
}

// New creates a Machine. Zero-value Config fields take the reference
// constants.
func New(cfg Config) *Machine {
	cfg.fillDefaults()
	return &Machine{
		cfg: cfg,
		buf: make([]model.Sample, 0, cfg.MaxSamples),
	}
}

// Config returns the effective configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Armed reports whether the arm gate is earned, for diagnostics.
func (m *Machine) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Pause suspends capture entirely. An in-flight session is discarded;
// calibration owns the ADC now.
func (m *Machine) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	m.resetToIdle(time.Time{})
}

// ResumeAfter releases the pause once the cooldown lapses. Arm state is
// re-earned from scratch.
func (m *Machine) ResumeAfter(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	m.cooldownUntil = time.Now().Add(d)
	m.armed = false
	m.inBand = false
}

// Paused reports whether capture is suspended by calibration.
func (m *Machine) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Feed advances the machine with one converted, deadbanded reading.
// IDLE readings are expected at the IdlePoll cadence; ACTIVE readings
// as fast as the ADC is ready. The returned Session is non-nil exactly
// when a capture just terminated.
func (m *Machine) Feed(now time.Time, kg float64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return nil
	}
	switch m.state {
	case Idle:
		m.feedIdle(now, kg)
		return nil
	case Active:
		return m.feedActive(now, kg)
	}
	return nil
}

// feedIdle updates the EMA, the arm gate and the trigger edge.
func (m *Machine) feedIdle(now time.Time, kg float64) {
	prev := m.ema
	if !m.emaInit {
		m.ema = kg
		m.emaInit = true
		prev = kg
	} else {
		m.ema += m.cfg.EMAAlpha * (kg - m.ema)
	}
	rise := m.ema - prev

	inCooldown := now.Before(m.cooldownUntil)

	// Arm gate: continuous time inside the band earns the arm; leaving
	// the band does not revoke it until consumed. Cooldown restarts the
	// stability clock.
	if abs(m.ema) <= m.cfg.ArmBandKG && !inCooldown {
		if !m.inBand {
			m.inBand = true
			m.bandSince = now
		} else if now.Sub(m.bandSince) >= m.cfg.ArmStable {
			m.armed = true
		}
	} else {
		m.inBand = false
	}

	if inCooldown {
		return
	}
	if m.armed && rise >= m.cfg.RiseMinKG && abs(m.ema) >= m.cfg.TriggerKG {
		m.buf = m.buf[:0]
		m.sessionT0 = now
		m.belowSet = false
		m.armed = false
		m.state = Active
	}
}

// feedActive buffers the sample and evaluates both terminations.
func (m *Machine) feedActive(now time.Time, kg float64) *Session {
	if len(m.buf) < m.cfg.MaxSamples {
		m.buf = append(m.buf, model.Sample{
			T:  now.Sub(m.sessionT0).Milliseconds(),
			KG: kg,
		})
	}

	// Hysteresis: sustained time under the release threshold ends the
	// session; any excursion back above resets the timer.
	if abs(kg) < m.cfg.ReleaseKG {
		if !m.belowSet {
			m.belowSince = now
			m.belowSet = true
		} else if now.Sub(m.belowSince) >= m.cfg.BelowHold {
			return m.finish(now, ReasonHysteresis)
		}
	} else {
		m.belowSet = false
	}

	if now.Sub(m.sessionT0) >= m.cfg.ActiveMax {
		return m.finish(now, ReasonTimeout)
	}
	return nil
}

// finish snapshots the session and re-enters IDLE under cooldown.
// Callers hold m.mu.
func (m *Machine) finish(now time.Time, reason string) *Session {
	s := &Session{
		T0:      m.sessionT0,
		Samples: append([]model.Sample(nil), m.buf...),
		Reason:  reason,
	}
	m.resetToIdle(now)
	return s
}

// resetToIdle clears the session state. A zero now skips the cooldown
// (used by Pause, which applies its own on resume).
func (m *Machine) resetToIdle(now time.Time) {
	m.state = Idle
	m.buf = m.buf[:0]
	m.belowSet = false
	m.armed = false
	m.inBand = false
	if !now.IsZero() {
		m.cooldownUntil = now.Add(m.cfg.PostActiveCooldown)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
