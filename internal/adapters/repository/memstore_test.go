package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/okian/autoscale/internal/adapters/repository"
	"github.com/okian/autoscale/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDeviceUpsert(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()

		Convey("When registering the same device twice", func() {
			first, err := store.UpsertDevice(ctx, "SCALE-001", "hh-1", "kitchen")
			So(err, ShouldBeNil)
			second, err := store.UpsertDevice(ctx, "SCALE-001", "hh-1", "kitchen")
			So(err, ShouldBeNil)

			Convey("Then both calls return the same canonical row", func() {
				So(second.ID, ShouldEqual, first.ID)
				So(second.DeviceID, ShouldEqual, "SCALE-001")
				So(second.HouseholdID, ShouldEqual, "hh-1")
			})
		})

		Convey("When re-registering with new details", func() {
			first, _ := store.UpsertDevice(ctx, "SCALE-001", "hh-1", "kitchen")
			updated, err := store.UpsertDevice(ctx, "SCALE-001", "hh-2", "bathroom")
			So(err, ShouldBeNil)

			Convey("Then the row keeps its id and takes the new fields", func() {
				So(updated.ID, ShouldEqual, first.ID)
				So(updated.HouseholdID, ShouldEqual, "hh-2")
				So(updated.DisplayName, ShouldEqual, "bathroom")
			})
		})

		Convey("When the device id is empty", func() {
			_, err := store.UpsertDevice(ctx, "", "hh-1", "x")
			So(err, ShouldEqual, repository.ErrEmptyDeviceID)
		})

		Convey("When looking up an unknown device", func() {
			_, err := store.DeviceByDeviceID(ctx, "SCALE-404")
			So(err, ShouldEqual, repository.ErrNotFound)
		})
	})
}

func TestEventInsertDerivesAggregates(t *testing.T) {
	Convey("Given a store", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()

		Convey("When inserting an event", func() {
			event, job, err := store.InsertEventWithJob(ctx, model.Event{
				DeviceID: "SCALE-001",
				Samples: []model.Sample{
					{T: 0, KG: 1.0},
					{T: 100, KG: 7.5},
					{T: 200, KG: 3.0},
				},
			})
			So(err, ShouldBeNil)

			Convey("Then the aggregates are derived server-side", func() {
				So(event.SampleCount, ShouldEqual, 3)
				So(event.PeakKG, ShouldEqual, 7.5)
			})

			Convey("Then a pending job exists for the event", func() {
				So(job.EventID, ShouldEqual, event.ID)
				So(job.Status, ShouldEqual, model.JobPending)
				So(job.Attempts, ShouldEqual, 0)
			})

			Convey("Then the event can be loaded back", func() {
				got, err := store.Event(ctx, event.ID)
				So(err, ShouldBeNil)
				So(got.PeakKG, ShouldEqual, 7.5)
			})
		})

		Convey("When inserting an empty event", func() {
			event, _, err := store.InsertEventWithJob(ctx, model.Event{DeviceID: "SCALE-001"})
			So(err, ShouldBeNil)
			So(event.SampleCount, ShouldEqual, 0)
			So(event.PeakKG, ShouldEqual, 0)
		})
	})
}

func TestJobClaim(t *testing.T) {
	Convey("Given three pending jobs", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		var jobs []model.Job
		for i := 0; i < 3; i++ {
			_, j, err := store.InsertEventWithJob(ctx, model.Event{DeviceID: "SCALE-001"})
			So(err, ShouldBeNil)
			jobs = append(jobs, j)
		}

		Convey("When claiming two", func() {
			claimed, err := store.ClaimJobs(ctx, 2)
			So(err, ShouldBeNil)

			Convey("Then the two oldest flip to processing with attempts stamped", func() {
				So(len(claimed), ShouldEqual, 2)
				So(claimed[0].ID, ShouldEqual, jobs[0].ID)
				So(claimed[1].ID, ShouldEqual, jobs[1].ID)
				So(claimed[0].Status, ShouldEqual, model.JobProcessing)
				So(claimed[0].Attempts, ShouldEqual, 1)
				So(claimed[0].PickedAt, ShouldNotBeNil)
			})

			Convey("Then a second claim only sees the remainder", func() {
				rest, err := store.ClaimJobs(ctx, 10)
				So(err, ShouldBeNil)
				So(len(rest), ShouldEqual, 1)
				So(rest[0].ID, ShouldEqual, jobs[2].ID)
			})
		})

		Convey("When many claimers race", func() {
			var (
				mu  sync.Mutex
				all []model.Job
				wg  sync.WaitGroup
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					claimed, err := store.ClaimJobs(ctx, 2)
					if err != nil {
						return
					}
					mu.Lock()
					all = append(all, claimed...)
					mu.Unlock()
				}()
			}
			wg.Wait()

			Convey("Then no job is claimed twice", func() {
				seen := map[string]bool{}
				for _, j := range all {
					So(seen[j.ID], ShouldBeFalse)
					seen[j.ID] = true
				}
				So(len(all), ShouldEqual, 3)
			})
		})

		Convey("When finishing jobs", func() {
			claimed, _ := store.ClaimJobs(ctx, 3)
			So(store.MarkJobDone(ctx, claimed[0].ID, ""), ShouldBeNil)
			So(store.MarkJobDone(ctx, claimed[1].ID, "no samples"), ShouldBeNil)
			So(store.MarkJobFailed(ctx, claimed[2].ID, "boom"), ShouldBeNil)

			Convey("Then terminal states and notes stick", func() {
				done, _ := store.Job(ctx, claimed[0].ID)
				So(done.Status, ShouldEqual, model.JobDone)
				So(done.Terminal(), ShouldBeTrue)
				So(done.DoneAt, ShouldNotBeNil)

				noted, _ := store.Job(ctx, claimed[1].ID)
				So(noted.Error, ShouldEqual, "no samples")

				failed, _ := store.Job(ctx, claimed[2].ID)
				So(failed.Status, ShouldEqual, model.JobFailed)
				So(failed.Error, ShouldEqual, "boom")
			})

			Convey("Then finished jobs are not claimable", func() {
				again, err := store.ClaimJobs(ctx, 10)
				So(err, ShouldBeNil)
				So(again, ShouldBeEmpty)
			})
		})
	})
}

func TestResults(t *testing.T) {
	Convey("Given events with results", t, func() {
		ctx := context.Background()
		base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		tick := 0
		store := repository.NewMemStore(repository.WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		}))

		eventA, _, _ := store.InsertEventWithJob(ctx, model.Event{DeviceID: "SCALE-001", Samples: []model.Sample{{T: 0, KG: 5}}})
		eventB, _, _ := store.InsertEventWithJob(ctx, model.Event{DeviceID: "SCALE-001", Samples: []model.Sample{{T: 0, KG: 6}}})
		other, _, _ := store.InsertEventWithJob(ctx, model.Event{DeviceID: "SCALE-OTHER", Samples: []model.Sample{{T: 0, KG: 9}}})

		_, err := store.InsertResult(ctx, model.Result{EventID: eventA.ID, Raw: model.Estimate{WeightKG: 5.0}})
		So(err, ShouldBeNil)
		_, err = store.InsertResult(ctx, model.Result{EventID: eventA.ID, Raw: model.Estimate{WeightKG: 5.1}})
		So(err, ShouldBeNil)
		_, err = store.InsertResult(ctx, model.Result{EventID: other.ID, Raw: model.Estimate{WeightKG: 9.0}})
		So(err, ShouldBeNil)

		Convey("When reading the latest result", func() {
			latest, err := store.LatestResult(ctx, eventA.ID)
			So(err, ShouldBeNil)

			Convey("Then the newest ComputedAt wins", func() {
				So(latest.Raw.WeightKG, ShouldEqual, 5.1)
			})
		})

		Convey("When an event has no result", func() {
			_, err := store.LatestResult(ctx, eventB.ID)
			So(err, ShouldEqual, repository.ErrNotFound)
		})

		Convey("When fetching recent raw weights", func() {
			recent, err := store.RecentRawWeights(ctx, "SCALE-001", eventB.ID, 10)
			So(err, ShouldBeNil)

			Convey("Then only this device's history returns, newest first", func() {
				So(recent, ShouldResemble, []float64{5.1, 5.0})
			})
		})

		Convey("When excluding the event under processing", func() {
			recent, err := store.RecentRawWeights(ctx, "SCALE-001", eventA.ID, 10)
			So(err, ShouldBeNil)
			So(recent, ShouldBeEmpty)
		})

		Convey("When capping the history depth", func() {
			recent, err := store.RecentRawWeights(ctx, "SCALE-001", eventB.ID, 1)
			So(err, ShouldBeNil)
			So(recent, ShouldResemble, []float64{5.1})
		})
	})
}

func TestJobCounts(t *testing.T) {
	Convey("Given a mixed job population", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		for i := 0; i < 3; i++ {
			_, _, err := store.InsertEventWithJob(ctx, model.Event{DeviceID: "SCALE-001"})
			So(err, ShouldBeNil)
		}
		claimed, _ := store.ClaimJobs(ctx, 1)
		So(store.MarkJobDone(ctx, claimed[0].ID, ""), ShouldBeNil)

		Convey("Then the counts reflect each status", func() {
			counts := store.JobCounts(ctx)
			So(counts[model.JobPending], ShouldEqual, 2)
			So(counts[model.JobDone], ShouldEqual, 1)
		})
	})
}
