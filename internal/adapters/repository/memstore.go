package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/autoscale/internal/domain/model"
)

// MemStore is the in-memory reference Store. All state lives behind one
// RWMutex; the job claim runs under the write lock, which gives it the
// same effect as a conditional UPDATE keyed on status = 'pending'.
type MemStore struct {
	mu sync.RWMutex

	devices map[string]model.Device // keyed by hardware device id
	events  map[string]model.Event
	jobs    map[string]*model.Job
	jobIDs  []string // insertion order == created_at order
	results []model.Result

	now Clock
}

// Option applies a configuration option to the MemStore.
type Option func(*MemStore)

// WithClock overrides the time source, for tests.
func WithClock(now Clock) Option {
	return func(s *MemStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		devices: make(map[string]model.Device),
		events:  make(map[string]model.Event),
		jobs:    make(map[string]*model.Job),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertDevice registers or refreshes a device row. Idempotent under the
// hardware identifier: the internal row id is assigned once.
func (s *MemStore) UpsertDevice(ctx context.Context, deviceID, householdID, displayName string) (model.Device, error) {
	if err := ctx.Err(); err != nil {
		return model.Device{}, err
	}
	if deviceID == "" {
		return model.Device{}, ErrEmptyDeviceID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		d = model.Device{ID: uuid.NewString(), DeviceID: deviceID}
	}
	if householdID != "" {
		d.HouseholdID = householdID
	}
	if displayName != "" {
		d.DisplayName = displayName
	}
	s.devices[deviceID] = d
	return d, nil
}

// DeviceByDeviceID resolves a hardware identifier to its row.
func (s *MemStore) DeviceByDeviceID(ctx context.Context, deviceID string) (model.Device, error) {
	if err := ctx.Err(); err != nil {
		return model.Device{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return d, nil
}

// InsertEventWithJob persists the event and its pending job under one
// lock acquisition, so a successful return implies both exist.
func (s *MemStore) InsertEventWithJob(ctx context.Context, e model.Event) (model.Event, model.Job, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, model.Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.now()
	}
	e.SampleCount = len(e.Samples)
	e.PeakKG = model.PeakKG(e.Samples)
	s.events[e.ID] = e

	j := model.Job{
		ID:        uuid.NewString(),
		EventID:   e.ID,
		Status:    model.JobPending,
		CreatedAt: s.now(),
	}
	s.jobs[j.ID] = &j
	s.jobIDs = append(s.jobIDs, j.ID)
	return e, j, nil
}

// Event loads an event by id.
func (s *MemStore) Event(ctx context.Context, id string) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return e, nil
}

// ClaimJobs flips up to limit pending jobs to processing, oldest first.
// The write lock makes the status check and the flip one atomic step.
func (s *MemStore) ClaimJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []model.Job
	for _, id := range s.jobIDs {
		if len(claimed) >= limit {
			break
		}
		j := s.jobs[id]
		if j.Status != model.JobPending {
			continue
		}
		now := s.now()
		j.Status = model.JobProcessing
		j.PickedAt = &now
		j.Attempts++
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

// MarkJobDone finalizes a job as done.
func (s *MemStore) MarkJobDone(ctx context.Context, jobID, note string) error {
	return s.finishJob(ctx, jobID, model.JobDone, note)
}

// MarkJobFailed finalizes a job as failed.
func (s *MemStore) MarkJobFailed(ctx context.Context, jobID, msg string) error {
	return s.finishJob(ctx, jobID, model.JobFailed, msg)
}

func (s *MemStore) finishJob(ctx context.Context, jobID string, status model.JobStatus, note string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	j.Status = status
	j.DoneAt = &now
	j.Error = note
	return nil
}

// Job returns a copy of the job row, for tests and stats.
func (s *MemStore) Job(ctx context.Context, jobID string) (model.Job, error) {
	if err := ctx.Err(); err != nil {
		return model.Job{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return *j, nil
}

// InsertResult appends a result row.
func (s *MemStore) InsertResult(ctx context.Context, r model.Result) (model.Result, error) {
	if err := ctx.Err(); err != nil {
		return model.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ComputedAt.IsZero() {
		r.ComputedAt = s.now()
	}
	s.results = append(s.results, r)
	return r, nil
}

// LatestResult returns the most recent result for an event.
func (s *MemStore) LatestResult(ctx context.Context, eventID string) (model.Result, error) {
	if err := ctx.Err(); err != nil {
		return model.Result{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest model.Result
		found  bool
	)
	for _, r := range s.results {
		if r.EventID != eventID {
			continue
		}
		if !found || r.ComputedAt.After(latest.ComputedAt) {
			latest = r
			found = true
		}
	}
	if !found {
		return model.Result{}, ErrNotFound
	}
	return latest, nil
}

// RecentRawWeights returns up to n raw detector weights for the device,
// newest first, excluding the event currently being processed.
func (s *MemStore) RecentRawWeights(ctx context.Context, deviceID, excludeEventID string, n int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type weighted struct {
		at time.Time
		kg float64
	}
	var rows []weighted
	for _, r := range s.results {
		if r.EventID == excludeEventID {
			continue
		}
		e, ok := s.events[r.EventID]
		if !ok || e.DeviceID != deviceID {
			continue
		}
		rows = append(rows, weighted{at: r.ComputedAt, kg: r.Raw.WeightKG})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].at.After(rows[j].at) })
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	out := make([]float64, len(rows))
	for i, w := range rows {
		out[i] = w.kg
	}
	return out, nil
}

// JobCounts reports the number of jobs per status.
func (s *MemStore) JobCounts(ctx context.Context) map[model.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.JobStatus]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts
}
