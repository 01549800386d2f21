// Command scale runs the firmware simulator: a software HX711 behind
// the real capture, calibration and upload stack, with the serial
// console on stdin.
package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/autoscale/internal/config"
	"github.com/okian/autoscale/internal/device/adc"
	"github.com/okian/autoscale/internal/device/calibrate"
	"github.com/okian/autoscale/internal/device/capture"
	"github.com/okian/autoscale/internal/device/cli"
	"github.com/okian/autoscale/internal/device/heartbeat"
	"github.com/okian/autoscale/internal/device/nvs"
	"github.com/okian/autoscale/internal/device/transport"
	"github.com/okian/autoscale/pkg/logger"
)

// Synthetic load profile timing.
const (
	sessionEvery   = 45 * time.Second
	rampDuration   = 2 * time.Second
	holdDuration   = 8 * time.Second
	releaseTime    = 500 * time.Millisecond
	baseMassGrams  = 11000.0
	massJitter     = 1500.0
	adcBootRetries = 3
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get().Named("scale")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDevice(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load device config: " + err.Error() + "\n")
		return
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
	}

	sim := adc.NewSim(weighingProfile(), cfg.CountsPerGram, adc.WithSimRate(cfg.SampleRateSPS))
	conv := adc.NewConverter(sim, adc.WithInvert(cfg.InvertSignal))

	// The HX711 occasionally needs a power cycle to come up; retry a few
	// times before running without calibration.
	ready := false
	for i := 0; i < adcBootRetries; i++ {
		if err := adc.WaitReady(ctx, sim, time.Second); err == nil {
			ready = true
			break
		}
	}
	if !ready {
		log.Warn(ctx, "adc not ready at startup; check wiring/power")
	}

	store, err := nvs.NewStore(cfg.DataDir)
	if err != nil {
		os.Stderr.WriteString("failed to open NVS store: " + err.Error() + "\n")
		return
	}

	machine := capture.New(capture.DefaultConfig())
	engine := calibrate.New(conv, store, float32(cfg.CountsPerGram),
		calibrate.WithCapture(machine),
		calibrate.WithRadio(&simRadio{log: log}),
	)
	if ready {
		if loaded, err := engine.LoadSaved(ctx); err != nil {
			log.Warn(ctx, "loading saved calibration", logger.Error(err))
		} else if !loaded {
			log.Info(ctx, "no saved factor; using default",
				logger.Float64("countsPerGram", cfg.CountsPerGram))
		}
		if err := conv.Tare(ctx, 20); err != nil {
			log.Warn(ctx, "boot tare failed", logger.Error(err))
		}
	}

	uploader := transport.New(cfg.IngestURL, cfg.FunctionSecret, cfg.ScaleID)

	var runnerOpts []capture.RunnerOption
	if cfg.HeartbeatBroker != "" {
		hb, err := heartbeat.New(cfg.HeartbeatBroker, cfg.ScaleID, cfg.HeartbeatTopic)
		if err != nil {
			log.Warn(ctx, "heartbeat disabled", logger.Error(err))
		} else {
			defer hb.Close()
			runnerOpts = append(runnerOpts, capture.WithHeartbeat(func(ctx context.Context) {
				hb.Beat(ctx, "paused")
			}))
		}
	}

	runner := capture.NewRunner(machine, conv, uploader, runnerOpts...)
	go func() {
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error(ctx, "capture loop exited", logger.Error(err))
		}
	}()

	log.Info(ctx, "scale ready",
		logger.String("scaleID", cfg.ScaleID),
		logger.Float64("countsPerGram", float64(engine.Factor())),
	)

	console := cli.New(engine, os.Stdin, os.Stdout)
	go func() {
		if err := console.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn(ctx, "console exited", logger.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "scale stopped")
}

// simRadio stands in for the Wi-Fi stack. The simulator has no RF to
// quiet, but calibration drives the same power-down path the hardware
// uses to keep radio noise off the ADC.
type simRadio struct {
	log logger.Logger
}

func (r *simRadio) Off() {
	r.log.Info(context.Background(), "wifi powered down for calibration")
}

func (r *simRadio) On() {
	r.log.Info(context.Background(), "wifi restored")
}

// weighingProfile models a platform that is quiet most of the time and
// carries a load for a few seconds at a fixed cadence: ramp, hold,
// release.
func weighingProfile() adc.Profile {
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // simulation only
	mass := baseMassGrams + rng.Float64()*massJitter

	return func(uptime time.Duration) float64 {
		phase := uptime % sessionEvery
		switch {
		case phase < rampDuration:
			frac := float64(phase) / float64(rampDuration)
			return mass * frac
		case phase < rampDuration+holdDuration:
			return mass
		case phase < rampDuration+holdDuration+releaseTime:
			frac := 1 - float64(phase-rampDuration-holdDuration)/float64(releaseTime)
			return math.Max(0, mass*frac)
		default:
			return 0
		}
	}
}
