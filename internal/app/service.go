// Package app provides the core business service implementing the
// dependencies required by the HTTP API.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/autoscale/internal/adapters/http/api"
	jobqueue "github.com/okian/autoscale/internal/adapters/mq/queue"
	workerpool "github.com/okian/autoscale/internal/adapters/mq/worker"
	"github.com/okian/autoscale/internal/adapters/repository"
	"github.com/okian/autoscale/internal/domain/consensus"
	"github.com/okian/autoscale/internal/domain/model"
	"github.com/okian/autoscale/pkg/logger"
	"github.com/okian/autoscale/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize       = 10000
	defaultWorkerCount     = 4
	defaultRegistryTimeout = 7 * time.Second
)

// Service wires the repository, the wakeup queue and the worker pool,
// and implements api.Dependencies.
type Service struct {
	mu sync.RWMutex

	store     repository.Store
	queue     jobqueue.Queue
	processor *workerpool.Processor
	pool      *workerpool.Pool

	workerCount        int
	queueSize          int
	registryTimeout    time.Duration
	defaultHouseholdID string
	bandKG             float64
	recentN            int

	started bool
	log     logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects a Store implementation, for tests or alternative
// backends.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWorkerCount sets the number of pool workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize bounds the wakeup queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithRegistryTimeout bounds device-registry writes.
func WithRegistryTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.registryTimeout = d
		}
	}
}

// WithDefaultHousehold enables auto-registration of unknown devices.
func WithDefaultHousehold(id string) Option {
	return func(s *Service) {
		s.defaultHouseholdID = id
	}
}

// WithConsensusBand sets the refiner tolerance band.
func WithConsensusBand(band float64) Option {
	return func(s *Service) {
		if band > 0 {
			s.bandKG = band
		}
	}
}

// WithRecentResults caps the consensus history depth.
func WithRecentResults(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recentN = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     defaultWorkerCount,
		queueSize:       defaultQueueSize,
		registryTimeout: defaultRegistryTimeout,
		bandKG:          consensus.DefaultBandKG,
		recentN:         consensus.MaxHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.log == nil {
		s.log = logger.Get().Named("app")
	}
	if s.store == nil {
		s.store = repository.NewMemStore()
	}
	s.queue = jobqueue.NewInMemoryQueue(jobqueue.WithCapacity(s.queueSize))
	s.processor = workerpool.NewProcessor(s.store,
		workerpool.WithBand(s.bandKG),
		workerpool.WithRecentHistory(s.recentN),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.processor)
	s.pool.Start(ctx)

	s.started = true
	s.log.Info(ctx, "pipeline service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.log.Warn(ctx, "pool shutdown", logger.Error(err))
		}
	}
	s.started = false
	s.log.Info(ctx, "pipeline service stopped")
}

// IngestEvent resolves the device, persists the event with its pending
// job and nudges the worker pool. A nil error implies both the event
// and the job are durable.
func (s *Service) IngestEvent(ctx context.Context, deviceID string, t0 *int64, samples []model.Sample) (model.Event, error) {
	device, err := s.resolveDevice(ctx, deviceID)
	if err != nil {
		return model.Event{}, err
	}

	event, job, err := s.store.InsertEventWithJob(ctx, model.Event{
		DeviceID:  device.DeviceID,
		T0EpochMS: t0,
		Samples:   samples,
	})
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}

	// Wakeups are best-effort; the job table retains the truth.
	if ok := s.queue.Enqueue(ctx, jobqueue.Wakeup{JobID: job.ID}); !ok {
		s.log.Warn(ctx, "wakeup queue full; job waits for next batch",
			logger.String("jobID", job.ID))
	}
	metrics.UpdateQueueDepth(s.store.JobCounts(ctx)[model.JobPending])
	return event, nil
}

// resolveDevice maps a hardware id to its registry row, auto-registering
// when a default household is configured.
func (s *Service) resolveDevice(ctx context.Context, deviceID string) (model.Device, error) {
	device, err := s.store.DeviceByDeviceID(ctx, deviceID)
	if err == nil {
		return device, nil
	}
	if s.defaultHouseholdID == "" {
		return model.Device{}, fmt.Errorf("%w: %s", api.ErrUnknownDevice, deviceID)
	}
	device, err = s.store.UpsertDevice(ctx, deviceID, s.defaultHouseholdID, deviceID)
	if err != nil {
		return model.Device{}, fmt.Errorf("auto-register: %w", err)
	}
	s.log.Info(ctx, "auto-registered device", logger.String("deviceID", deviceID))
	return device, nil
}

// ProcessBatch drains up to batch pending jobs.
func (s *Service) ProcessBatch(ctx context.Context, batch int) (int, error) {
	picked, err := s.processor.ProcessBatch(ctx, batch)
	metrics.UpdateQueueDepth(s.store.JobCounts(ctx)[model.JobPending])
	return picked, err
}

// RegisterDevice upserts a device row under the registry time bound.
func (s *Service) RegisterDevice(ctx context.Context, deviceID, householdID, displayName string) (model.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.registryTimeout)
	defer cancel()
	return s.store.UpsertDevice(ctx, deviceID, householdID, displayName)
}

// EventResult returns an event and its latest result.
func (s *Service) EventResult(ctx context.Context, eventID string) (model.Event, model.Result, error) {
	event, err := s.store.Event(ctx, eventID)
	if err != nil {
		return model.Event{}, model.Result{}, err
	}
	result, err := s.store.LatestResult(ctx, eventID)
	if err != nil {
		return model.Event{}, model.Result{}, err
	}
	return event, result, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
	}
	if s.started {
		ctx := context.Background()
		counts := s.store.JobCounts(ctx)
		stats["jobsPending"] = counts[model.JobPending]
		stats["jobsProcessing"] = counts[model.JobProcessing]
		stats["jobsDone"] = counts[model.JobDone]
		stats["jobsFailed"] = counts[model.JobFailed]
		stats["wakeupQueueLen"] = s.queue.Len(ctx)
	}
	return stats
}
