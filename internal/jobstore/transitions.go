package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Transition describes one status change. The update applies only while the
// job still holds From; a stale From means another actor won the job.
type Transition struct {
	From Status
	To   Status

	// ErrorMessage is recorded when To is failed and cleared otherwise.
	ErrorMessage string

	// SetCurrentArtifact, when true, rewrites the job's current artifact
	// pointer as part of the same update.
	SetCurrentArtifact bool
	CurrentArtifact    string

	// StageRun, when non-nil, is appended in the same transaction so the
	// status change and its execution record commit together.
	StageRun *StageRun
}

// Advance applies a compare-and-set status transition. The boolean result
// reports whether this caller won the update; false with a nil error means the
// job was no longer in the expected state.
func (s *Store) Advance(ctx context.Context, id int64, t Transition) (bool, error) {
	now := time.Now().UTC()

	var won bool
	err := retryOnBusy(ctx, func() error {
		won = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer tx.Rollback()

		result, err := applyTransition(ctx, tx, id, t, now)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("read affected rows: %w", err)
		}
		if affected == 0 {
			return tx.Commit()
		}

		if t.StageRun != nil {
			if err := insertStageRun(ctx, tx, id, t.StageRun); err != nil {
				return err
			}
		}
		won = true
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func applyTransition(ctx context.Context, tx *sql.Tx, id int64, t Transition, now time.Time) (sql.Result, error) {
	query := `UPDATE jobs SET status = ?, stage_index = ?, updated_at = ?`
	args := []any{string(t.To.Phase), t.To.StageIndex, now.Format(timeFormat)}

	switch t.To.Phase {
	case PhaseRunning:
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now.Format(timeFormat))
	case PhaseCompleted, PhaseFailed:
		query += `, completed_at = ?`
		args = append(args, now.Format(timeFormat))
	}

	if t.To.Phase == PhaseFailed {
		query += `, error_message = ?`
		args = append(args, nullableString(t.ErrorMessage))
	} else {
		query += `, error_message = NULL`
	}

	if t.SetCurrentArtifact {
		query += `, current_artifact = ?`
		args = append(args, nullableString(t.CurrentArtifact))
	}

	query += ` WHERE id = ? AND status = ? AND stage_index = ?`
	args = append(args, id, string(t.From.Phase), t.From.StageIndex)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transition job %d %s -> %s: %w", id, t.From, t.To, err)
	}
	return result, nil
}

func insertStageRun(ctx context.Context, tx *sql.Tx, jobID int64, run *StageRun) error {
	detail := any(nil)
	if len(run.Detail) > 0 {
		detail = string(run.Detail)
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO stage_runs (job_id, stage_index, stage_id, input_path, output_path, outcome, detail, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, run.StageIndex, run.StageID,
		nullableString(run.InputPath), nullableString(run.OutputPath),
		string(run.Outcome), detail,
		run.StartedAt.UTC().Format(timeFormat), run.FinishedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("record stage run for job %d: %w", jobID, err)
	}
	if run.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("read stage run id: %w", err)
	}
	run.JobID = jobID
	return nil
}

// AppendStageRun records a stage execution outside any transition. The
// executor normally bundles runs into Advance; this path serves tooling
// and backfills.
func (s *Store) AppendStageRun(ctx context.Context, jobID int64, run *StageRun) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin stage run tx: %w", err)
		}
		defer tx.Rollback()
		if err := insertStageRun(ctx, tx, jobID, run); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// StageRuns returns the execution records for a job in run order.
func (s *Store) StageRuns(ctx context.Context, jobID int64) ([]*StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, stage_index, stage_id, input_path, output_path, outcome, detail, started_at, finished_at
		 FROM stage_runs WHERE job_id = ? ORDER BY id ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []*StageRun
	for rows.Next() {
		var (
			run        StageRun
			input      sql.NullString
			output     sql.NullString
			outcome    string
			detail     sql.NullString
			startedAt  string
			finishedAt string
		)
		if err := rows.Scan(&run.ID, &run.JobID, &run.StageIndex, &run.StageID,
			&input, &output, &outcome, &detail, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		run.InputPath = input.String
		run.OutputPath = output.String
		run.Outcome = Outcome(outcome)
		if detail.Valid {
			run.Detail = []byte(detail.String)
		}
		if run.StartedAt, err = parseTimeString(startedAt); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseTimeString(finishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
