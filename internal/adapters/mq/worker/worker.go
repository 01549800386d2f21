// Package worker drains the job table in bounded batches, running the
// plateau detector and the consensus refiner over each claimed event and
// appending the result rows.
package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/autoscale/internal/adapters/mq/queue"
	"github.com/okian/autoscale/internal/adapters/repository"
	"github.com/okian/autoscale/internal/domain/consensus"
	"github.com/okian/autoscale/internal/domain/detect"
	"github.com/okian/autoscale/internal/domain/model"
	"github.com/okian/autoscale/pkg/logger"
	"github.com/okian/autoscale/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultBatchSize      = 10
	workerShutdownTimeout = 5 * time.Second

	noSamplesNote = "no samples"

	// Result rounding precision per field family.
	weightDecimals = 5 // 1e-5 kg
	windowDecimals = 3 // 1e-3 s
	slopeDecimals  = 6 // 1e-6 kg/s
)

// Processor runs the detection pipeline over claimed jobs.
type Processor struct {
	store   repository.Store
	bandKG  float64
	recentN int
	log     logger.Logger
}

// ProcessorOption applies a configuration option to the Processor.
type ProcessorOption func(*Processor)

// WithBand sets the consensus tolerance band in kilograms.
func WithBand(band float64) ProcessorOption {
	return func(p *Processor) {
		if band > 0 {
			p.bandKG = band
		}
	}
}

// WithRecentHistory sets how many prior raw weights feed the consensus.
func WithRecentHistory(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.recentN = n
		}
	}
}

// WithProcessorLogger sets a custom logger.
func WithProcessorLogger(log logger.Logger) ProcessorOption {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProcessor creates a Processor over the given store.
func NewProcessor(store repository.Store, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:   store,
		bandKG:  consensus.DefaultBandKG,
		recentN: consensus.MaxHistory,
		log:     logger.Get().Named("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessBatch claims up to batch pending jobs and processes them
// sequentially. Per-job failures mark the job failed and do not abort
// the batch. Returns the number of claimed jobs.
func (p *Processor) ProcessBatch(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = defaultBatchSize
	}
	start := time.Now()
	defer func() {
		metrics.RecordProcessBatchLatency(float64(time.Since(start).Milliseconds()))
	}()

	jobs, err := p.store.ClaimJobs(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}
	metrics.RecordJobsClaimed(len(jobs))

	for _, job := range jobs {
		if err := p.processJob(ctx, job); err != nil {
			metrics.RecordJobFailed()
			p.log.Error(ctx, "job failed",
				logger.String("jobID", job.ID),
				logger.String("eventID", job.EventID),
				logger.Error(err),
			)
			if markErr := p.store.MarkJobFailed(ctx, job.ID, err.Error()); markErr != nil {
				p.log.Error(ctx, "marking job failed", logger.String("jobID", job.ID), logger.Error(markErr))
			}
		}
	}
	return len(jobs), nil
}

// processJob runs detect -> refine -> insert result for one job.
// Panics in the detector surface as job failures, not batch aborts.
func (p *Processor) processJob(ctx context.Context, job model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	event, err := p.store.Event(ctx, job.EventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}

	if len(event.Samples) == 0 {
		metrics.RecordJobEmpty()
		if err := p.store.MarkJobDone(ctx, job.ID, noSamplesNote); err != nil {
			return fmt.Errorf("mark done: %w", err)
		}
		return nil
	}

	detectStart := time.Now()
	raw, err := detect.Detect(ctx, event.Samples)
	metrics.RecordDetectLatency(float64(time.Since(detectStart).Milliseconds()))
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	metrics.RecordDetection(raw.Mode)

	recent, err := p.store.RecentRawWeights(ctx, event.DeviceID, event.ID, p.recentN)
	if err != nil {
		return fmt.Errorf("recent weights: %w", err)
	}

	consensusKG, refined := consensus.Refine(ctx, event.Samples, raw, recent, p.bandKG)
	if refined != nil {
		metrics.RecordConsensusRefined()
	} else {
		metrics.RecordConsensusPreserved()
	}

	result := model.Result{
		EventID:   event.ID,
		Raw:       roundEstimate(raw),
		Consensus: roundConsensus(refined),
		Meta: model.ResultMeta{
			ConsensusSources: len(recent) + 1,
			ConsensusKG:      roundTo(consensusKG, weightDecimals),
		},
	}
	if _, err := p.store.InsertResult(ctx, result); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if err := p.store.MarkJobDone(ctx, job.ID, ""); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	metrics.RecordJobDone()
	return nil
}

func roundEstimate(e model.Estimate) model.Estimate {
	e.WeightKG = roundTo(e.WeightKG, weightDecimals)
	e.UncertaintyKG = roundTo(e.UncertaintyKG, weightDecimals)
	e.StartS = roundTo(e.StartS, windowDecimals)
	e.EndS = roundTo(e.EndS, windowDecimals)
	e.DurationS = roundTo(e.DurationS, windowDecimals)
	e.MeanAbsSlope = roundTo(e.MeanAbsSlope, slopeDecimals)
	e.MeanStd = roundTo(e.MeanStd, weightDecimals)
	return e
}

func roundConsensus(c *model.ConsensusEstimate) *model.ConsensusEstimate {
	if c == nil {
		return nil
	}
	out := *c
	out.WeightKG = roundTo(out.WeightKG, weightDecimals)
	out.UncertaintyKG = roundTo(out.UncertaintyKG, weightDecimals)
	out.StartS = roundTo(out.StartS, windowDecimals)
	out.EndS = roundTo(out.EndS, windowDecimals)
	out.DurationS = roundTo(out.DurationS, windowDecimals)
	return &out
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}

// Pool runs a fixed number of workers, each claiming one job per
// wakeup. The pool is an accelerator: jobs missed by wakeups are still
// drained by explicit ProcessBatch invocations.
type Pool struct {
	processor *Processor
	queue     queue.Queue
	size      int

	shutdown chan struct{}
	done     []chan struct{}

	log logger.Logger
}

// NewPool creates a worker pool of the given size.
func NewPool(size int, q queue.Queue, processor *Processor) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		processor: processor,
		queue:     q,
		size:      size,
		shutdown:  make(chan struct{}),
		log:       logger.Get().Named("worker-pool"),
	}
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	metrics.UpdateWorkerCount(p.size)
	p.done = make([]chan struct{}, p.size)
	for i := 0; i < p.size; i++ {
		done := make(chan struct{})
		p.done[i] = done
		go p.run(ctx, done)
	}
}

func (p *Pool) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	wakeups := p.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case _, ok := <-wakeups:
			if !ok {
				return
			}
			if _, err := p.processor.ProcessBatch(ctx, 1); err != nil {
				p.log.Error(ctx, "batch processing failed", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the pool, waiting briefly for in-flight jobs.
func (p *Pool) Shutdown(ctx context.Context) error {
	close(p.shutdown)
	deadline := time.After(workerShutdownTimeout)
	for _, done := range p.done {
		select {
		case <-done:
		case <-deadline:
			return fmt.Errorf("pool shutdown timed out: %w", ctx.Err())
		}
	}
	return nil
}
