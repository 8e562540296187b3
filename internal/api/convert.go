package api

import (
	"time"

	"conveyor/internal/jobstore"
	"conveyor/internal/stage"
)

// FromJob converts a job record to its API representation.
func FromJob(job *jobstore.Job) JobView {
	if job == nil {
		return JobView{}
	}

	view := JobView{
		ID:              job.ID,
		SourceName:      job.SourceName,
		SourcePath:      job.SourceArtifactPath,
		StagePlan:       append([]string(nil), job.StagePlan...),
		Status:          job.Status.String(),
		StageIndex:      job.Status.StageIndex,
		CurrentArtifact: job.CurrentArtifactPath,
		ErrorMessage:    job.ErrorMessage,
	}
	view.CreatedAt = formatTime(job.CreatedAt)
	view.UpdatedAt = formatTime(job.UpdatedAt)
	if job.StartedAt != nil {
		view.StartedAt = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		view.CompletedAt = formatTime(*job.CompletedAt)
	}
	return view
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(jobs []*jobstore.Job) []JobView {
	if len(jobs) == 0 {
		return nil
	}
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, FromJob(job))
	}
	return views
}

// FromStageRun converts a stage run record to its API representation.
func FromStageRun(run *jobstore.StageRun) StageRunView {
	if run == nil {
		return StageRunView{}
	}
	return StageRunView{
		StageIndex: run.StageIndex,
		StageID:    run.StageID,
		StageLabel: stage.Label(run.StageID),
		InputPath:  run.InputPath,
		OutputPath: run.OutputPath,
		Outcome:    string(run.Outcome),
		Detail:     run.Detail,
		StartedAt:  formatTime(run.StartedAt),
		FinishedAt: formatTime(run.FinishedAt),
	}
}

// FromStageRuns converts stage run records into API DTOs.
func FromStageRuns(runs []*jobstore.StageRun) []StageRunView {
	if len(runs) == 0 {
		return nil
	}
	views := make([]StageRunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, FromStageRun(run))
	}
	return views
}

// FromStats normalizes phase counts into the stats payload.
func FromStats(counts map[jobstore.Phase]int) StatsView {
	view := StatsView{Counts: make(map[string]int, len(counts))}
	for phase, count := range counts {
		view.Counts[string(phase)] = count
		view.Total += count
	}
	return view
}

// FromStageHealth converts processor health records.
func FromStageHealth(healths []stage.Health) []StageHealthView {
	if len(healths) == 0 {
		return nil
	}
	views := make([]StageHealthView, 0, len(healths))
	for _, h := range healths {
		views = append(views, StageHealthView{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return views
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}
