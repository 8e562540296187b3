package jobstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Phase is the coarse lifecycle position of a job.
type Phase string

const (
	PhaseUploaded       Phase = "uploaded"
	PhaseQueued         Phase = "queued"
	PhaseRunning        Phase = "running"
	PhaseStageCompleted Phase = "stage_completed"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

var allPhases = []Phase{
	PhaseUploaded,
	PhaseQueued,
	PhaseRunning,
	PhaseStageCompleted,
	PhaseCompleted,
	PhaseFailed,
}

var phaseSet = func() map[Phase]struct{} {
	set := make(map[Phase]struct{}, len(allPhases))
	for _, phase := range allPhases {
		set[phase] = struct{}{}
	}
	return set
}()

// AllPhases returns the ordered list of known phases.
func AllPhases() []Phase {
	cp := make([]Phase, len(allPhases))
	copy(cp, allPhases)
	return cp
}

// ParsePhase converts a string into a known Phase.
func ParsePhase(value string) (Phase, bool) {
	normalized := Phase(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := phaseSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a phase admits no further transitions.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// NonTerminalPhases returns every phase a crashed process could have left behind.
func NonTerminalPhases() []Phase {
	return []Phase{PhaseUploaded, PhaseQueued, PhaseRunning, PhaseStageCompleted}
}

// Status is a phase plus the stage index it is parameterized by. StageIndex is
// meaningful only for running and stage_completed; it is zero elsewhere.
type Status struct {
	Phase      Phase
	StageIndex int
}

func Uploaded() Status             { return Status{Phase: PhaseUploaded} }
func Queued() Status               { return Status{Phase: PhaseQueued} }
func Running(index int) Status     { return Status{Phase: PhaseRunning, StageIndex: index} }
func StageCompleted(i int) Status  { return Status{Phase: PhaseStageCompleted, StageIndex: i} }
func Completed() Status            { return Status{Phase: PhaseCompleted} }
func Failed() Status               { return Status{Phase: PhaseFailed} }

// String renders the status with its stage parameter, e.g. "running[2]".
func (s Status) String() string {
	switch s.Phase {
	case PhaseRunning, PhaseStageCompleted:
		return fmt.Sprintf("%s[%d]", s.Phase, s.StageIndex)
	default:
		return string(s.Phase)
	}
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s.Phase.IsTerminal()
}

// Outcome records how a stage run ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Job is one unit of work: an artifact plus an ordered stage plan.
type Job struct {
	ID                  int64
	SourceName          string
	SourceArtifactPath  string
	StagePlan           []string
	Status              Status
	CurrentArtifactPath string
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

// StageRun is one stage execution record, owned by its parent job.
type StageRun struct {
	ID         int64
	JobID      int64
	StageIndex int
	StageID    string
	InputPath  string
	OutputPath string
	Outcome    Outcome
	Detail     json.RawMessage
	StartedAt  time.Time
	FinishedAt time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Pending   int
	Active    int
	Failed    int
	Completed int
}

func encodeStagePlan(plan []string) (string, error) {
	if plan == nil {
		plan = []string{}
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("marshal stage plan: %w", err)
	}
	return string(data), nil
}

func decodeStagePlan(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	var plan []string
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal stage plan: %w", err)
	}
	return plan, nil
}
