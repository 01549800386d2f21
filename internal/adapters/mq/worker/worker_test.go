package worker_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/okian/autoscale/internal/adapters/mq/worker"
	"github.com/okian/autoscale/internal/adapters/repository"
	"github.com/okian/autoscale/internal/domain/model"
	"github.com/okian/autoscale/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// steadySamples builds a 10 Hz hold at kg for seconds.
func steadySamples(kg float64, seconds int) []model.Sample {
	var samples []model.Sample
	for t := int64(0); t <= int64(seconds*1000); t += 100 {
		samples = append(samples, model.Sample{T: t, KG: kg + 0.004*math.Sin(float64(t)/1500)})
	}
	return samples
}

func TestProcessBatch(t *testing.T) {
	Convey("Given a store with one pending weighing event", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		event, job, err := store.InsertEventWithJob(ctx, model.Event{
			DeviceID: "SCALE-001",
			Samples:  steadySamples(5.0, 8),
		})
		So(err, ShouldBeNil)

		processor := worker.NewProcessor(store)

		Convey("When processing a batch", func() {
			picked, err := processor.ProcessBatch(ctx, 10)
			So(err, ShouldBeNil)

			Convey("Then the job was picked and finished", func() {
				So(picked, ShouldEqual, 1)
				got, err := store.Job(ctx, job.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.JobDone)
				So(got.Attempts, ShouldEqual, 1)
			})

			Convey("Then a result row exists with rounded values", func() {
				result, err := store.LatestResult(ctx, event.ID)
				So(err, ShouldBeNil)
				So(result.Raw.WeightKG, ShouldAlmostEqual, 5.0, 0.02)
				// Rounded to 1e-5 kg and 1e-3 s.
				So(result.Raw.WeightKG*1e5, ShouldAlmostEqual, math.Round(result.Raw.WeightKG*1e5), 1e-6)
				So(result.Raw.StartS*1e3, ShouldAlmostEqual, math.Round(result.Raw.StartS*1e3), 1e-6)
				So(result.Meta.ConsensusSources, ShouldEqual, 1)
			})

			Convey("Then replaying an identical event yields the same weight", func() {
				event2, _, err := store.InsertEventWithJob(ctx, model.Event{
					DeviceID: "SCALE-OTHER",
					Samples:  steadySamples(5.0, 8),
				})
				So(err, ShouldBeNil)
				_, err = processor.ProcessBatch(ctx, 10)
				So(err, ShouldBeNil)

				first, _ := store.LatestResult(ctx, event.ID)
				second, _ := store.LatestResult(ctx, event2.ID)
				So(second.Raw.WeightKG, ShouldEqual, first.Raw.WeightKG)
				So(second.Raw.UncertaintyKG, ShouldEqual, first.Raw.UncertaintyKG)
			})
		})
	})
}

func TestProcessEmptyEvent(t *testing.T) {
	Convey("Given an event with no samples", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		event, job, err := store.InsertEventWithJob(ctx, model.Event{DeviceID: "SCALE-001"})
		So(err, ShouldBeNil)

		processor := worker.NewProcessor(store)

		Convey("When processing", func() {
			picked, err := processor.ProcessBatch(ctx, 10)
			So(err, ShouldBeNil)
			So(picked, ShouldEqual, 1)

			Convey("Then the job is done with a note and no result exists", func() {
				got, _ := store.Job(ctx, job.ID)
				So(got.Status, ShouldEqual, model.JobDone)
				So(got.Error, ShouldEqual, "no samples")

				_, err := store.LatestResult(ctx, event.ID)
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})
	})
}

func TestConsensusUsesHistory(t *testing.T) {
	Convey("Given a device with history far from the fresh detection", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		processor := worker.NewProcessor(store)

		// Five prior events around 10 kg.
		for i := 0; i < 5; i++ {
			_, _, err := store.InsertEventWithJob(ctx, model.Event{
				DeviceID: "SCALE-001",
				Samples:  steadySamples(10.0, 8),
			})
			So(err, ShouldBeNil)
		}
		_, err := processor.ProcessBatch(ctx, 10)
		So(err, ShouldBeNil)

		Convey("When a 7.9 kg event arrives", func() {
			event, _, err := store.InsertEventWithJob(ctx, model.Event{
				DeviceID: "SCALE-001",
				Samples:  steadySamples(7.9, 8),
			})
			So(err, ShouldBeNil)
			_, err = processor.ProcessBatch(ctx, 10)
			So(err, ShouldBeNil)

			Convey("Then the raw detection stands and the consensus is recorded", func() {
				result, err := store.LatestResult(ctx, event.ID)
				So(err, ShouldBeNil)
				So(result.Consensus, ShouldBeNil)
				So(result.Raw.WeightKG, ShouldAlmostEqual, 7.9, 0.02)
				So(result.Meta.ConsensusSources, ShouldEqual, 6)
				So(result.Meta.ConsensusKG, ShouldAlmostEqual, 10.0, 0.02)
			})
		})
	})
}

// failingStore wraps a MemStore and breaks event loading.
type failingStore struct {
	*repository.MemStore
}

func (f *failingStore) Event(ctx context.Context, id string) (model.Event, error) {
	return model.Event{}, errors.New("storage offline")
}

func TestPerJobFailureDoesNotAbortBatch(t *testing.T) {
	Convey("Given a store whose event reads fail", t, func() {
		ctx := context.Background()
		mem := repository.NewMemStore()
		var jobs []model.Job
		for i := 0; i < 2; i++ {
			_, j, err := mem.InsertEventWithJob(ctx, model.Event{DeviceID: "SCALE-001", Samples: steadySamples(5, 8)})
			So(err, ShouldBeNil)
			jobs = append(jobs, j)
		}
		processor := worker.NewProcessor(&failingStore{MemStore: mem})

		Convey("When processing the batch", func() {
			picked, err := processor.ProcessBatch(ctx, 10)
			So(err, ShouldBeNil)

			Convey("Then both jobs were attempted and marked failed", func() {
				So(picked, ShouldEqual, 2)
				for _, j := range jobs {
					got, err := mem.Job(ctx, j.ID)
					So(err, ShouldBeNil)
					So(got.Status, ShouldEqual, model.JobFailed)
					So(got.Error, ShouldContainSubstring, "storage offline")
				}
			})
		})
	})
}
