// Package adc defines the raw load-cell ADC contract and the converted
// read path shared by calibration and event capture.
package adc

import (
	"context"
	"sync"
	"time"
)

// Reader is the raw ADC contract. Implementations produce 24-bit signed
// counts at the converter's native rate (10 or 80 SPS for HX711-class
// parts).
type Reader interface {
	// IsReady reports whether a conversion is available right now.
	IsReady() bool

	// ReadRaw blocks until data is ready, then returns one raw count.
	// The wait is bounded by ctx.
	ReadRaw(ctx context.Context) (int32, error)

	// SetOffset stores the tare offset in counts.
	SetOffset(offset int32)

	// SetScale stores the calibration factor in counts per gram.
	SetScale(scale float32)

	// Offset returns the current tare offset.
	Offset() int32

	// Scale returns the current calibration factor.
	Scale() float32
}

// readyPollInterval is the spin cadence while waiting on the converter.
const readyPollInterval = time.Millisecond

// WaitReady polls the reader until data is ready or the timeout lapses.
func WaitReady(ctx context.Context, r Reader, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !r.IsReady() {
		if time.Now().After(deadline) {
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
	return nil
}

// deadbandKG zeroes readings under ~5 g after conversion.
const deadbandKG = 0.005

// gramsPerKG converts converted grams to kilograms.
const gramsPerKG = 1000.0

// Converter turns raw counts into grams and kilograms using the
// reader's offset and scale. Inversion handles reversed cell polarity
// without rewiring; it is runtime-only state.
type Converter struct {
	r      Reader
	invert bool
	mu     sync.Mutex
}

// ConverterOption applies a configuration option to the Converter.
type ConverterOption func(*Converter)

// WithInvert flips the sign of all converted reads.
func WithInvert(invert bool) ConverterOption {
	return func(c *Converter) { c.invert = invert }
}

// NewConverter wraps a reader.
func NewConverter(r Reader, opts ...ConverterOption) *Converter {
	c := &Converter{r: r}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reader exposes the wrapped raw reader.
func (c *Converter) Reader() Reader { return c.r }

// ReadValue returns one offset-compensated raw reading.
func (c *Converter) ReadValue(ctx context.Context) (int64, error) {
	raw, err := c.r.ReadRaw(ctx)
	if err != nil {
		return 0, err
	}
	return int64(raw) - int64(c.r.Offset()), nil
}

// Grams averages n converted readings: (raw - offset) / scale.
func (c *Converter) Grams(ctx context.Context, n int) (float64, error) {
	if n < 1 {
		n = 1
	}
	var sum float64
	for i := 0; i < n; i++ {
		v, err := c.ReadValue(ctx)
		if err != nil {
			return 0, err
		}
		sum += float64(v)
	}
	g := sum / float64(n) / float64(c.r.Scale())
	if c.invert {
		g = -g
	}
	return g, nil
}

// KG averages n converted readings in kilograms with the post-conversion
// deadband applied.
func (c *Converter) KG(ctx context.Context, n int) (float64, error) {
	g, err := c.Grams(ctx, n)
	if err != nil {
		return 0, err
	}
	kg := g / gramsPerKG
	if kg > -deadbandKG && kg < deadbandKG {
		kg = 0
	}
	return kg, nil
}

// Tare averages n raw readings and stores the result as the offset.
func (c *Converter) Tare(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 1 {
		n = 1
	}
	var sum int64
	for i := 0; i < n; i++ {
		raw, err := c.r.ReadRaw(ctx)
		if err != nil {
			return err
		}
		sum += int64(raw)
	}
	c.r.SetOffset(int32(sum / int64(n)))
	return nil
}
