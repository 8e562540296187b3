package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a job in a transport-friendly format.
type JobView struct {
	ID              int64           `json:"id"`
	SourceName      string          `json:"sourceName"`
	SourcePath      string          `json:"sourcePath"`
	StagePlan       []string        `json:"stagePlan"`
	Status          string          `json:"status"`
	StageIndex      int             `json:"stageIndex"`
	CurrentArtifact string          `json:"currentArtifact,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
	StartedAt       string          `json:"startedAt,omitempty"`
	CompletedAt     string          `json:"completedAt,omitempty"`
	StageRuns       []StageRunView  `json:"stageRuns,omitempty"`
	Extra           json.RawMessage `json:"extra,omitempty"`
}

// StageRunView describes one stage execution of a job.
type StageRunView struct {
	StageIndex int             `json:"stageIndex"`
	StageID    string          `json:"stageId"`
	StageLabel string          `json:"stageLabel"`
	InputPath  string          `json:"inputPath,omitempty"`
	OutputPath string          `json:"outputPath,omitempty"`
	Outcome    string          `json:"outcome"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	StartedAt  string          `json:"startedAt,omitempty"`
	FinishedAt string          `json:"finishedAt,omitempty"`
}

// StatsView provides a normalized job stats payload.
type StatsView struct {
	Counts   map[string]int `json:"counts"`
	Total    int            `json:"total"`
	InFlight int            `json:"inFlight"`
	Capacity int            `json:"capacity"`
}

// StageHealthView mirrors processor readiness reporting.
type StageHealthView struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool              `json:"running"`
	PID          int               `json:"pid"`
	JobDBPath    string            `json:"jobDbPath"`
	LockFilePath string            `json:"lockFilePath"`
	Stats        StatsView         `json:"stats"`
	StageHealth  []StageHealthView `json:"stageHealth"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// BatchRequest submits a set of artifacts through one stage plan.
type BatchRequest struct {
	ArtifactPaths []string `json:"artifactPaths,omitempty"`
	Directory     string   `json:"directory,omitempty"`
	StagePlan     []string `json:"stagePlan"`
}

// BatchResponse reports the jobs created for a batch submission.
type BatchResponse struct {
	JobIDs []int64 `json:"jobIds"`
}

// ClearRequest selects which jobs a clear operation removes.
type ClearRequest struct {
	Scope string `json:"scope"`
}

// ClearResponse reports how many jobs were deleted.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// ErrorResponse is the uniform error envelope for API failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
