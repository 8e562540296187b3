package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteBusyCode   = 5
	busyRetryMax     = 6
	busyRetryInitial = 10 * time.Millisecond
	busyRetryCeiling = 200 * time.Millisecond
)

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteBusyCode
	}
	return false
}

// retryOnBusy runs fn, backing off and retrying while SQLite reports the
// database locked. Any other error returns immediately.
func retryOnBusy(ctx context.Context, fn func() error) error {
	delay := busyRetryInitial
	var err error
	for attempt := 0; attempt < busyRetryMax; attempt++ {
		err = fn()
		if err == nil || !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > busyRetryCeiling {
			delay = busyRetryCeiling
		}
	}
	return err
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

func (s *Store) queryRowScan(ctx context.Context, query string, args []any, dest ...any) error {
	return retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}
