// Package pipeline drives jobs through their stage plans. The
// coordinator admits batches and bounds concurrency; the executor owns
// a single job from its queued claim to a terminal state.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/broadcast"
	"conveyor/internal/jobstore"
	"conveyor/internal/logging"
	"conveyor/internal/stage"
	"conveyor/internal/staging"
)

// failureDetail is recorded on a stage run when the processor produced
// no detail of its own.
type failureDetail struct {
	Error string `json:"error"`
}

// Executor runs one job's stage plan to completion or failure.
type Executor struct {
	store    *jobstore.Store
	stager   *staging.Stager
	registry *stage.Registry
	events   *publisher
	logger   *slog.Logger
}

// NewExecutor wires an executor over the store, stager and registry.
func NewExecutor(store *jobstore.Store, stager *staging.Stager, registry *stage.Registry, hub *broadcast.Hub, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		store:    store,
		stager:   stager,
		registry: registry,
		events:   newPublisher(store, hub, logger),
		logger:   logger.With(logging.String(logging.FieldComponent, "executor")),
	}
}

// Run claims the job out of queued and executes its plan. A lost claim
// returns nil: some other executor owns the job. Stage errors are
// terminal for the job, never for the process.
func (e *Executor) Run(ctx context.Context, jobID int64) error {
	ctx = logging.WithJobID(ctx, jobID)
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, e.logger)

	job, err := e.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %d not found", jobID)
	}

	if len(job.StagePlan) == 0 {
		won, err := e.store.Advance(ctx, jobID, jobstore.Transition{
			From: jobstore.Queued(),
			To:   jobstore.Completed(),
		})
		if err != nil {
			return err
		}
		if won {
			logger.InfoContext(ctx, "job completed with empty plan")
			e.events.jobUpdate(ctx, jobID)
			e.events.statsUpdate(ctx)
		}
		return nil
	}

	won, err := e.store.Advance(ctx, jobID, jobstore.Transition{
		From: jobstore.Queued(),
		To:   jobstore.Running(0),
	})
	if err != nil {
		return err
	}
	if !won {
		logger.DebugContext(ctx, "job already claimed elsewhere")
		return nil
	}
	e.events.jobUpdate(ctx, jobID)

	current := job.CurrentArtifactPath
	if current == "" {
		current = job.SourceArtifactPath
	}

	for index, stageID := range job.StagePlan {
		next, err := e.runStage(ctx, job, index, stageID, current)
		if err != nil {
			// runStage already recorded the failure on the row.
			return nil
		}
		current = next

		last := index == len(job.StagePlan)-1
		to := jobstore.Running(index + 1)
		if last {
			to = jobstore.Completed()
		}
		won, err := e.store.Advance(ctx, job.ID, jobstore.Transition{
			From: jobstore.StageCompleted(index),
			To:   to,
		})
		if err != nil || !won {
			logger.WarnContext(ctx, "lost job ownership between stages",
				logging.Int(logging.FieldStageIndex, index), logging.Error(err))
			return err
		}
		e.events.jobUpdate(ctx, job.ID)
		if last {
			e.events.statsUpdate(ctx)
			if err := e.stager.Cleanup(job.ID); err != nil {
				logger.WarnContext(ctx, "temp cleanup failed", logging.Error(err))
			}
			logger.InfoContext(ctx, "job completed",
				logging.String("artifact", current))
		}
	}
	return nil
}

// runStage executes one stage and commits its outcome. On success it
// returns the promoted artifact path; on failure the job row is already
// failed and a non-nil error signals the caller to stop.
func (e *Executor) runStage(ctx context.Context, job *jobstore.Job, index int, stageID, current string) (string, error) {
	ctx = logging.WithStage(ctx, stageID)
	logger := logging.WithContext(ctx, e.logger)
	started := time.Now().UTC()
	logger.InfoContext(ctx, "stage starting",
		logging.Int(logging.FieldStageIndex, index))

	fail := func(run *jobstore.StageRun, cause error) error {
		return e.failJob(ctx, job.ID, index, run, cause)
	}
	newRun := func(input, output string, outcome jobstore.Outcome, detail []byte) *jobstore.StageRun {
		return &jobstore.StageRun{
			StageIndex: index,
			StageID:    stageID,
			InputPath:  input,
			OutputPath: output,
			Outcome:    outcome,
			Detail:     detail,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}
	}

	if _, err := e.stager.Prepare(job.ID); err != nil {
		return "", fail(newRun("", "", jobstore.OutcomeFailure, nil), err)
	}
	input, err := e.stager.StageInput(ctx, job.ID, stageID, current)
	if err != nil {
		return "", fail(newRun("", "", jobstore.OutcomeFailure, nil), err)
	}
	scratch, err := e.stager.ScratchDir(job.ID, stageID)
	if err != nil {
		return "", fail(newRun(input, "", jobstore.OutcomeFailure, nil), err)
	}

	processor, err := e.registry.Resolve(stageID)
	if err != nil {
		return "", fail(newRun(input, "", jobstore.OutcomeFailure, nil), err)
	}

	result, err := processor.Run(ctx, stage.Request{
		JobID:      job.ID,
		StageID:    stageID,
		InputPath:  input,
		ScratchDir: scratch,
	})
	if err != nil {
		return "", fail(newRun(input, "", jobstore.OutcomeFailure, nil), err)
	}
	if _, statErr := os.Stat(result.OutputPath); statErr != nil {
		return "", fail(newRun(input, "", jobstore.OutcomeFailure, result.Detail),
			stage.ExecError(stageID, fmt.Errorf("output %s missing after run", result.OutputPath)))
	}

	promoted, err := e.stager.PromoteOutput(ctx, job.ID, stageID, result.OutputPath)
	if err != nil {
		return "", fail(newRun(input, result.OutputPath, jobstore.OutcomeFailure, result.Detail), err)
	}

	won, err := e.store.Advance(ctx, job.ID, jobstore.Transition{
		From:               jobstore.Running(index),
		To:                 jobstore.StageCompleted(index),
		SetCurrentArtifact: true,
		CurrentArtifact:    promoted,
		StageRun:           newRun(input, promoted, jobstore.OutcomeSuccess, result.Detail),
	})
	if err != nil {
		return "", err
	}
	if !won {
		return "", fmt.Errorf("job %d no longer running stage %d", job.ID, index)
	}
	e.events.jobUpdate(ctx, job.ID)
	logger.InfoContext(ctx, "stage completed",
		logging.Int(logging.FieldStageIndex, index),
		logging.Duration("elapsed", time.Since(started)),
		logging.String("artifact", promoted))
	return promoted, nil
}

// failJob commits the failure transition with its stage run and emits
// terminal events. The returned error propagates the cause upward.
func (e *Executor) failJob(ctx context.Context, jobID int64, index int, run *jobstore.StageRun, cause error) error {
	logger := logging.WithContext(ctx, e.logger)
	if run != nil && len(run.Detail) == 0 {
		if detail, err := json.Marshal(failureDetail{Error: cause.Error()}); err == nil {
			run.Detail = detail
		}
	}
	won, err := e.store.Advance(ctx, jobID, jobstore.Transition{
		From:         jobstore.Running(index),
		To:           jobstore.Failed(),
		ErrorMessage: cause.Error(),
		StageRun:     run,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to record stage failure",
			logging.Error(err), logging.String("cause", cause.Error()))
		return cause
	}
	if won {
		logger.ErrorContext(ctx, "stage failed",
			logging.Int(logging.FieldStageIndex, index),
			logging.Error(cause))
		e.events.jobUpdate(ctx, jobID)
		e.events.statsUpdate(ctx)
	}
	return cause
}
