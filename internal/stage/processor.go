// Package stage defines the contract between the pipeline orchestrator
// and the units of work it schedules. A processor receives a staged
// input file and a private scratch directory, and must leave its result
// at the returned output path.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Request carries everything a processor may touch for one run.
type Request struct {
	JobID      int64
	StageID    string
	InputPath  string
	ScratchDir string
}

// Result reports where the processor left its artifact, with optional
// machine-readable detail recorded on the stage run.
type Result struct {
	OutputPath string
	Detail     json.RawMessage
}

// Processor executes one stage of a job's plan. Run is treated as
// opaque by the orchestrator: no retries, and errors fail the job.
type Processor interface {
	Run(ctx context.Context, req Request) (Result, error)
	HealthCheck(ctx context.Context) Health
}

// ErrExecution marks a failure inside a processor, as opposed to the
// staging work around it.
var ErrExecution = errors.New("stage: execution failed")

// ExecError wraps err as a stage execution failure.
func ExecError(stageID string, err error) error {
	return fmt.Errorf("%w: stage %s: %v", ErrExecution, stageID, err)
}
