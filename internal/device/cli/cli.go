// Package cli is the line-oriented serial command interpreter for
// calibration: help, tare, cal, cal1, cal2, solve, resetcal.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Calibrator is the subset of the calibration engine driven from the
// serial console.
type Calibrator interface {
	Tare(ctx context.Context) error
	Calibrate(ctx context.Context, massGrams float64) (float32, error)
	RecordPoint1(ctx context.Context, massGrams float64) error
	RecordPoint2(ctx context.Context, massGrams float64) error
	SolveTwoPoint(ctx context.Context) (float32, error)
	Reset(ctx context.Context) error
	Factor() float32
}

// Runner reads commands from one stream and prints outcomes to another.
type Runner struct {
	engine Calibrator
	in     io.Reader
	out    io.Writer
}

// New creates a command runner.
func New(engine Calibrator, in io.Reader, out io.Writer) *Runner {
	return &Runner{engine: engine, in: in, out: out}
}

// Run consumes lines until the stream ends or ctx is cancelled.
// Commands are case-insensitive.
func (r *Runner) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.dispatch(ctx, line)
	}
	return scanner.Err()
}

// dispatch executes one command line.
func (r *Runner) dispatch(ctx context.Context, line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	cmd = strings.ToLower(cmd)
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "help":
		r.printHelp()
	case "tare":
		if err := r.engine.Tare(ctx); err != nil {
			r.printf("tare failed: %v\n", err)
			return
		}
		r.printf("tare done\n")
	case "cal":
		if arg == "" {
			r.printf("usage: cal <grams> (e.g., cal 500)\n")
			return
		}
		grams, ok := r.parseGrams(arg)
		if !ok {
			return
		}
		factor, err := r.engine.Calibrate(ctx, grams)
		if err != nil {
			r.printf("calibration failed: %v\n", err)
			return
		}
		r.printf("new factor (counts/gram): %.6f (saved)\n", factor)
	case "cal1":
		r.recordPoint(ctx, arg, 1, r.engine.RecordPoint1)
	case "cal2":
		r.recordPoint(ctx, arg, 2, r.engine.RecordPoint2)
	case "solve":
		factor, err := r.engine.SolveTwoPoint(ctx)
		if err != nil {
			r.printf("solve failed: %v\n", err)
			return
		}
		r.printf("two-point factor (counts/gram): %.6f (saved)\n", factor)
	case "resetcal":
		if err := r.engine.Reset(ctx); err != nil {
			r.printf("reset failed: %v\n", err)
			return
		}
		r.printf("calibration reset; factor %.6f\n", r.engine.Factor())
	default:
		r.printf("unknown command: %s\n", line)
		r.printHelp()
	}
}

func (r *Runner) recordPoint(ctx context.Context, arg string, n int, record func(context.Context, float64) error) {
	grams, ok := r.parseGrams(arg)
	if !ok {
		return
	}
	if err := record(ctx, grams); err != nil {
		r.printf("cal%d failed: %v\n", n, err)
		return
	}
	r.printf("cal%d recorded at %.2f g\n", n, grams)
}

func (r *Runner) parseGrams(arg string) (float64, bool) {
	grams, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		r.printf("invalid mass: %q\n", arg)
		return 0, false
	}
	return grams, true
}

func (r *Runner) printHelp() {
	r.printf("commands:\n")
	r.printf("  help              - show this help\n")
	r.printf("  tare              - tare the empty platform\n")
	r.printf("  cal <g>           - single-point calibration (quick)\n")
	r.printf("  cal1 <g>          - two-point: record point 1 at <g>\n")
	r.printf("  cal2 <g>          - two-point: record point 2 at <g>\n")
	r.printf("  solve             - solve two-point factor from cal1/cal2\n")
	r.printf("  resetcal          - erase saved factor, revert to default\n")
	r.printf("readings print in kilograms (kg)\n")
}

func (r *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}
