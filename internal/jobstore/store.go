package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

// Store is the durable job ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the job database at path and
// ensures the schema is current.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("jobstore: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new job in the uploaded state and returns it with its
// assigned identifier and timestamps populated.
func (s *Store) Create(ctx context.Context, sourceName, artifactPath string, plan []string) (*Job, error) {
	planJSON, err := encodeStagePlan(plan)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	status := Uploaded()

	result, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (source_name, source_artifact, stage_plan, status, stage_index, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sourceName, artifactPath, planJSON, string(status.Phase), status.StageIndex,
		now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read job id: %w", err)
	}

	return &Job{
		ID:                 id,
		SourceName:         sourceName,
		SourceArtifactPath: artifactPath,
		StagePlan:          append([]string(nil), plan...),
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// GetByID returns the job or (nil, nil) when no row exists.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", id, err)
	}
	return job, nil
}

// List returns jobs ordered by creation time, optionally filtered by phase.
func (s *Store) List(ctx context.Context, phases ...Phase) ([]*Job, error) {
	query := selectJobColumns + ` FROM jobs`
	var args []any
	if len(phases) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(phases)) + `)`
		for _, phase := range phases {
			args = append(args, string(phase))
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListNonTerminal returns every job that has not reached a final state.
func (s *Store) ListNonTerminal(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, NonTerminalPhases()...)
}

// Stats returns job counts keyed by phase, including zero counts.
func (s *Store) Stats(ctx context.Context) (map[Phase]int, error) {
	counts := make(map[Phase]int, len(allPhases))
	for _, phase := range allPhases {
		counts[phase] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("collect stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		if phase, ok := ParsePhase(status); ok {
			counts[phase] = count
		}
	}
	return counts, rows.Err()
}

// Health aggregates the stats into a summary suitable for status endpoints.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	counts, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	summary := HealthSummary{
		Pending:   counts[PhaseUploaded] + counts[PhaseQueued],
		Active:    counts[PhaseRunning] + counts[PhaseStageCompleted],
		Failed:    counts[PhaseFailed],
		Completed: counts[PhaseCompleted],
	}
	for _, count := range counts {
		summary.Total += count
	}
	return summary, nil
}

const selectJobColumns = `SELECT id, source_name, source_artifact, stage_plan, status, stage_index,
	current_artifact, error_message, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job             Job
		planJSON        string
		statusRaw       string
		currentArtifact sql.NullString
		errorMessage    sql.NullString
		createdAt       string
		updatedAt       string
		startedAt       sql.NullString
		completedAt     sql.NullString
	)
	if err := row.Scan(
		&job.ID, &job.SourceName, &job.SourceArtifactPath, &planJSON,
		&statusRaw, &job.Status.StageIndex,
		&currentArtifact, &errorMessage,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	phase, ok := ParsePhase(statusRaw)
	if !ok {
		return nil, fmt.Errorf("unknown job status %q", statusRaw)
	}
	job.Status.Phase = phase

	plan, err := decodeStagePlan(planJSON)
	if err != nil {
		return nil, err
	}
	job.StagePlan = plan
	job.CurrentArtifactPath = currentArtifact.String
	job.ErrorMessage = errorMessage.String

	if job.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTimeString(updatedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func parseTimeString(value string) (time.Time, error) {
	parsed, err := time.Parse(timeFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return parsed, nil
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.Repeat("?, ", count-1) + "?"
}
