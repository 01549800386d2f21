// Package repository defines the storage contracts for devices, events,
// jobs and results, plus the reference in-memory implementation. The
// backing store is substitutable; the only non-trivial coordination it
// must honor is the conditional job claim.
package repository

import (
	"context"
	"time"

	"github.com/okian/autoscale/internal/domain/model"
)

// Store provides read/write access to the pipeline state.
type Store interface {
	// UpsertDevice registers or refreshes a device row keyed on its
	// stable hardware identifier. Idempotent.
	UpsertDevice(ctx context.Context, deviceID, householdID, displayName string) (model.Device, error)

	// DeviceByDeviceID resolves a hardware identifier to its row.
	// Returns ErrNotFound for unknown devices.
	DeviceByDeviceID(ctx context.Context, deviceID string) (model.Device, error)

	// InsertEventWithJob persists an event and its pending job as one
	// consistent write. The returned values carry the assigned ids.
	InsertEventWithJob(ctx context.Context, e model.Event) (model.Event, model.Job, error)

	// Event loads an event by id. Returns ErrNotFound when absent.
	Event(ctx context.Context, id string) (model.Event, error)

	// ClaimJobs atomically flips up to limit pending jobs to processing,
	// oldest first, stamping picked_at and incrementing attempts. Two
	// concurrent claimers never receive the same job.
	ClaimJobs(ctx context.Context, limit int) ([]model.Job, error)

	// MarkJobDone finalizes a job, optionally with a note such as
	// "no samples".
	MarkJobDone(ctx context.Context, jobID, note string) error

	// MarkJobFailed finalizes a job with the failure message.
	MarkJobFailed(ctx context.Context, jobID, msg string) error

	// InsertResult appends a result row. Results are never mutated.
	InsertResult(ctx context.Context, r model.Result) (model.Result, error)

	// LatestResult returns the most recent result for an event by
	// ComputedAt. Returns ErrNotFound when none exists.
	LatestResult(ctx context.Context, eventID string) (model.Result, error)

	// RecentRawWeights returns up to n raw detector weights for the
	// device, newest first, excluding results for excludeEventID.
	RecentRawWeights(ctx context.Context, deviceID, excludeEventID string, n int) ([]float64, error)

	// JobCounts reports the number of jobs per status.
	JobCounts(ctx context.Context) map[model.JobStatus]int
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
