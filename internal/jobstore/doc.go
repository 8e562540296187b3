// Package jobstore persists jobs and their stage execution history in
// SQLite. The status column is the single source of truth for job
// ownership: every lifecycle change goes through a guarded update that
// only succeeds while the job still holds the expected status, so at
// most one worker can win any given transition.
package jobstore
