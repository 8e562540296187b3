package jobstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestAdvanceWinsOnlyFromExpectedState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "a.bin", "/in/a.bin", []string{"normalize"})

	won, err := store.Advance(ctx, job.ID, Transition{From: Uploaded(), To: Queued()})
	if err != nil || !won {
		t.Fatalf("first transition: won=%v err=%v", won, err)
	}

	won, err = store.Advance(ctx, job.ID, Transition{From: Uploaded(), To: Queued()})
	if err != nil {
		t.Fatalf("stale transition returned error: %v", err)
	}
	if won {
		t.Fatal("transition from stale state must not win")
	}
}

func TestAdvanceSetsLifecycleTimestamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "a.bin", "/in/a.bin", []string{"normalize"})
	mustAdvance(t, store, job.ID, Transition{From: Uploaded(), To: Queued()})
	mustAdvance(t, store, job.ID, Transition{From: Queued(), To: Running(0)})

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.StartedAt == nil {
		t.Fatal("running job should have a start time")
	}
	firstStart := *loaded.StartedAt

	mustAdvance(t, store, job.ID, Transition{From: Running(0), To: StageCompleted(0)})
	mustAdvance(t, store, job.ID, Transition{From: StageCompleted(0), To: Completed()})

	loaded, _ = store.GetByID(ctx, job.ID)
	if loaded.CompletedAt == nil {
		t.Fatal("completed job should have a completion time")
	}
	if !loaded.StartedAt.Equal(firstStart) {
		t.Fatal("start time must not move on later transitions")
	}
}

func TestAdvanceToFailedRecordsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "a.bin", "/in/a.bin", []string{"normalize"})
	mustAdvance(t, store, job.ID, Transition{From: Uploaded(), To: Queued()})
	mustAdvance(t, store, job.ID, Transition{
		From:         Queued(),
		To:           Failed(),
		ErrorMessage: "stage normalize exited with code 2",
	})

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.Status != Failed() {
		t.Fatalf("expected failed status, got %s", loaded.Status)
	}
	if loaded.ErrorMessage != "stage normalize exited with code 2" {
		t.Fatalf("unexpected error message %q", loaded.ErrorMessage)
	}
}

func TestAdvanceUpdatesCurrentArtifact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "a.bin", "/in/a.bin", []string{"normalize"})
	mustAdvance(t, store, job.ID, Transition{From: Uploaded(), To: Queued()})
	mustAdvance(t, store, job.ID, Transition{From: Queued(), To: Running(0)})
	mustAdvance(t, store, job.ID, Transition{
		From:               Running(0),
		To:                 StageCompleted(0),
		SetCurrentArtifact: true,
		CurrentArtifact:    "/data/outputs/job_1/a.bin",
	})

	loaded, _ := store.GetByID(ctx, job.ID)
	if loaded.CurrentArtifactPath != "/data/outputs/job_1/a.bin" {
		t.Fatalf("unexpected current artifact %q", loaded.CurrentArtifactPath)
	}
}

func TestAdvanceAppendsStageRunAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "a.bin", "/in/a.bin", []string{"normalize"})
	mustAdvance(t, store, job.ID, Transition{From: Uploaded(), To: Queued()})
	mustAdvance(t, store, job.ID, Transition{From: Queued(), To: Running(0)})

	started := time.Now().Add(-time.Second)
	run := &StageRun{
		StageIndex: 0,
		StageID:    "normalize",
		InputPath:  "/tmp/job_1/stage_normalize/input_a.bin",
		OutputPath: "/data/outputs/job_1/a.bin",
		Outcome:    OutcomeSuccess,
		Detail:     json.RawMessage(`{"exit_code":0}`),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	mustAdvance(t, store, job.ID, Transition{From: Running(0), To: StageCompleted(0), StageRun: run})

	runs, err := store.StageRuns(ctx, job.ID)
	if err != nil {
		t.Fatalf("StageRuns returned error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 stage run, got %d", len(runs))
	}
	if runs[0].StageID != "normalize" || runs[0].Outcome != OutcomeSuccess {
		t.Fatalf("unexpected stage run %+v", runs[0])
	}

	// A losing transition must not leave a stage run behind.
	won, err := store.Advance(ctx, job.ID, Transition{
		From:     Running(0),
		To:       StageCompleted(0),
		StageRun: &StageRun{StageID: "normalize", Outcome: OutcomeFailure, StartedAt: started, FinishedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if won {
		t.Fatal("stale transition must not win")
	}
	runs, _ = store.StageRuns(ctx, job.ID)
	if len(runs) != 1 {
		t.Fatalf("losing transition appended a stage run: %d runs", len(runs))
	}
}

func TestConcurrentClaimAdmitsExactlyOne(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "a.bin", "/in/a.bin", []string{"normalize"})
	mustAdvance(t, store, job.ID, Transition{From: Uploaded(), To: Queued()})

	const claimants = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.Advance(ctx, job.ID, Transition{From: Queued(), To: Running(0)})
			if err != nil {
				t.Errorf("Advance returned error: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	total := 0
	for won := range wins {
		if won {
			total++
		}
	}
	if total != 1 {
		t.Fatalf("expected exactly one winner, got %d", total)
	}
}

func mustAdvance(t *testing.T, store *Store, id int64, tr Transition) {
	t.Helper()
	won, err := store.Advance(context.Background(), id, tr)
	if err != nil {
		t.Fatalf("Advance %s -> %s returned error: %v", tr.From, tr.To, err)
	}
	if !won {
		t.Fatalf("Advance %s -> %s did not win", tr.From, tr.To)
	}
}
