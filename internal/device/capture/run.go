package capture

import (
	"context"
	"time"

	"github.com/okian/autoscale/internal/device/adc"
	"github.com/okian/autoscale/pkg/logger"
)

// Uploader ships one finished session. Failures are terminal for the
// session: the device keeps no retransmit queue.
type Uploader interface {
	Upload(ctx context.Context, t0 time.Time, s *Session) error
}

// Heartbeat is invoked periodically while capture is paused.
type Heartbeat func(ctx context.Context)

// Runner drives a Machine from the converted ADC read path.
type Runner struct {
	machine   *Machine
	conv      *adc.Converter
	sink      Uploader
	heartbeat Heartbeat
	log       logger.Logger
}

// RunnerOption applies a configuration option to the Runner.
type RunnerOption func(*Runner)

// WithHeartbeat wires the paused-state heartbeat.
func WithHeartbeat(h Heartbeat) RunnerOption {
	return func(r *Runner) { r.heartbeat = h }
}

// WithRunnerLogger sets a custom logger.
func WithRunnerLogger(log logger.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// idleReadAverage is the light averaging used in the IDLE loop.
const idleReadAverage = 3

// NewRunner creates the capture driver.
func NewRunner(m *Machine, conv *adc.Converter, sink Uploader, opts ...RunnerOption) *Runner {
	r := &Runner{
		machine: m,
		conv:    conv,
		sink:    sink,
		log:     logger.Get().Named("capture"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls the ADC until ctx is cancelled: IDLE at the configured
// cadence, ACTIVE as fast as the converter is ready. Finished sessions
// upload inline; the buffer clears regardless of the outcome.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.machine.Config()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.machine.Paused() {
			if r.heartbeat != nil {
				r.heartbeat(ctx)
			}
			if err := sleep(ctx, cfg.IdlePoll); err != nil {
				return err
			}
			continue
		}

		switch r.machine.State() {
		case Idle:
			kg, err := r.conv.KG(ctx, idleReadAverage)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn(ctx, "idle read failed", logger.Error(err))
				continue
			}
			r.machine.Feed(time.Now(), kg)
			if err := sleep(ctx, cfg.IdlePoll); err != nil {
				return err
			}

		case Active:
			kg, err := r.conv.KG(ctx, 1)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn(ctx, "active read failed", logger.Error(err))
				continue
			}
			if s := r.machine.Feed(time.Now(), kg); s != nil {
				r.uploadSession(ctx, s)
			}
		}
	}
}

// uploadSession ships the session; the event is lost on failure by
// design.
func (r *Runner) uploadSession(ctx context.Context, s *Session) {
	r.log.Info(ctx, "session ended",
		logger.String("reason", s.Reason),
		logger.Int("samples", len(s.Samples)),
	)
	if err := r.sink.Upload(ctx, s.T0, s); err != nil {
		r.log.Error(ctx, "upload failed; event dropped", logger.Error(err))
		return
	}
	r.log.Info(ctx, "upload ok", logger.Int("samples", len(s.Samples)))
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
