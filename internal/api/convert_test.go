package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"conveyor/internal/jobstore"
)

func TestFromJobFormatsTimestampsAndStatus(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	job := &jobstore.Job{
		ID:                 7,
		SourceName:         "report.csv",
		SourceArtifactPath: "/in/report.csv",
		StagePlan:          []string{"normalize", "publish"},
		Status:             jobstore.Running(1),
		CreatedAt:          started.Add(-time.Minute),
		UpdatedAt:          started,
		StartedAt:          &started,
	}

	view := FromJob(job)
	if view.Status != "running[1]" || view.StageIndex != 1 {
		t.Fatalf("unexpected status %q index %d", view.Status, view.StageIndex)
	}
	if view.StartedAt != "2026-03-01T10:30:00.000Z" {
		t.Fatalf("unexpected startedAt %q", view.StartedAt)
	}
	if view.CompletedAt != "" {
		t.Fatalf("unfinished job should have empty completedAt, got %q", view.CompletedAt)
	}
	if len(view.StagePlan) != 2 {
		t.Fatalf("unexpected stage plan %v", view.StagePlan)
	}
}

func TestFromStatsTotals(t *testing.T) {
	view := FromStats(map[jobstore.Phase]int{
		jobstore.PhaseQueued:    2,
		jobstore.PhaseCompleted: 3,
	})
	if view.Total != 5 {
		t.Fatalf("expected total 5, got %d", view.Total)
	}
	if view.Counts["queued"] != 2 {
		t.Fatalf("unexpected counts %v", view.Counts)
	}
}

func TestJobServiceDescribe(t *testing.T) {
	ctx := context.Background()
	store, err := jobstore.Open(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	job, err := store.Create(ctx, "a.bin", "/in/a.bin", []string{"normalize"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	now := time.Now()
	if err := store.AppendStageRun(ctx, job.ID, &jobstore.StageRun{
		StageID:    "normalize",
		Outcome:    jobstore.OutcomeSuccess,
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
	}); err != nil {
		t.Fatalf("AppendStageRun returned error: %v", err)
	}

	service := NewJobService(store)
	view, err := service.Describe(ctx, job.ID)
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if view == nil || view.ID != job.ID {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(view.StageRuns) != 1 || view.StageRuns[0].StageLabel != "Normalize" {
		t.Fatalf("unexpected stage runs %+v", view.StageRuns)
	}

	missing, err := service.Describe(ctx, 999)
	if err != nil || missing != nil {
		t.Fatalf("missing job should yield nil, nil; got %v, %v", missing, err)
	}
}
