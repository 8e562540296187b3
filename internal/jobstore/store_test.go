package jobstore

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "report.csv", "/data/inputs/job_1/report.csv", []string{"normalize", "publish"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected non-zero job id")
	}
	if created.Status != Uploaded() {
		t.Fatalf("expected uploaded status, got %s", created.Status)
	}

	loaded, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected job, got nil")
	}
	if loaded.SourceName != "report.csv" {
		t.Fatalf("unexpected source name %q", loaded.SourceName)
	}
	if len(loaded.StagePlan) != 2 || loaded.StagePlan[0] != "normalize" {
		t.Fatalf("unexpected stage plan %v", loaded.StagePlan)
	}
	if loaded.StartedAt != nil || loaded.CompletedAt != nil {
		t.Fatal("new job should have no start or completion time")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	job, err := store.GetByID(context.Background(), 9999)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %+v", job)
	}
}

func TestListFiltersByPhase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "a.bin", "/in/a.bin", []string{"normalize"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := store.Create(ctx, "b.bin", "/in/b.bin", []string{"normalize"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	won, err := store.Advance(ctx, first.ID, Transition{From: Uploaded(), To: Queued()})
	if err != nil || !won {
		t.Fatalf("Advance uploaded -> queued: won=%v err=%v", won, err)
	}

	queued, err := store.List(ctx, PhaseQueued)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != first.ID {
		t.Fatalf("expected only job %d queued, got %d jobs", first.ID, len(queued))
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
}

func TestStatsCountsAllPhases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "a.bin", "/in/a.bin", nil); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	counts, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if len(counts) != len(AllPhases()) {
		t.Fatalf("expected a count for every phase, got %d entries", len(counts))
	}
	if counts[PhaseUploaded] != 1 {
		t.Fatalf("expected 1 uploaded job, got %d", counts[PhaseUploaded])
	}
	if counts[PhaseFailed] != 0 {
		t.Fatalf("expected 0 failed jobs, got %d", counts[PhaseFailed])
	}
}

func TestRemoveAndClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, _ := store.Create(ctx, "a.bin", "/in/a.bin", nil)

	removed, err := store.Remove(ctx, job.ID)
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	removed, err = store.Remove(ctx, job.ID)
	if err != nil || removed {
		t.Fatalf("second Remove should be a no-op: removed=%v err=%v", removed, err)
	}

	store.Create(ctx, "b.bin", "/in/b.bin", nil)
	store.Create(ctx, "c.bin", "/in/c.bin", nil)
	deleted, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 cleared jobs, got %d", deleted)
	}
}

func TestParsePhase(t *testing.T) {
	if phase, ok := ParsePhase("  Running "); !ok || phase != PhaseRunning {
		t.Fatalf("expected running, got %q ok=%v", phase, ok)
	}
	if _, ok := ParsePhase("exploded"); ok {
		t.Fatal("unknown phase should not parse")
	}
}

func TestStatusString(t *testing.T) {
	if got := Running(2).String(); got != "running[2]" {
		t.Fatalf("unexpected status string %q", got)
	}
	if got := Completed().String(); got != "completed" {
		t.Fatalf("unexpected status string %q", got)
	}
}
