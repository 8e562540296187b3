package jobstore

import (
	"context"
	"fmt"
)

// Remove deletes a job and its stage runs, returning whether a row existed.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	result, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove job %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read affected rows: %w", err)
	}
	return affected > 0, nil
}

// Clear deletes every job regardless of state.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, ``, nil)
}

// ClearCompleted deletes jobs that finished successfully.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, ` WHERE status = ?`, []any{string(PhaseCompleted)})
}

// ClearFailed deletes failed jobs.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, ` WHERE status = ?`, []any{string(PhaseFailed)})
}

func (s *Store) deleteWhere(ctx context.Context, clause string, args []any) (int64, error) {
	result, err := s.execWithRetry(ctx, `DELETE FROM jobs`+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read affected rows: %w", err)
	}
	return affected, nil
}
