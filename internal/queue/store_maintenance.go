package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tweetcast/internal/pipeline"
)

// LeaseExpiredReason is recorded on jobs failed by the reclaimer after their
// final attempt's lease lapsed.
const LeaseExpiredReason = "lease expired"

// Counts returns the per-state breakdown for jobType. Waiting and delayed are
// derived from run_at so a due retry counts as waiting.
func (s *Store) Counts(ctx context.Context, jobType pipeline.JobType) (Counts, error) {
	all, err := s.countsWhere(ctx, "WHERE type = ?", jobType)
	if err != nil {
		return Counts{}, err
	}
	return all[jobType], nil
}

// AllCounts returns counts for every job type present in the store.
func (s *Store) AllCounts(ctx context.Context) (map[pipeline.JobType]Counts, error) {
	return s.countsWhere(ctx, "")
}

func (s *Store) countsWhere(ctx context.Context, where string, args ...any) (map[pipeline.JobType]Counts, error) {
	now := formatTime(s.clock())
	query := `SELECT type,
            SUM(CASE WHEN state IN ('waiting','delayed') AND run_at <= ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN state = 'active' THEN 1 ELSE 0 END),
            SUM(CASE WHEN state IN ('waiting','delayed') AND run_at > ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END),
            SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END)
        FROM jobs ` + where + ` GROUP BY type`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, append([]any{now, now}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[pipeline.JobType]Counts)
	for rows.Next() {
		var (
			jobType string
			c       Counts
		)
		if err := rows.Scan(&jobType, &c.Waiting, &c.Active, &c.Delayed, &c.Completed, &c.Failed); err != nil {
			return nil, err
		}
		counts[pipeline.JobType(jobType)] = c
	}
	return counts, rows.Err()
}

// Pause stops new leases for jobType. In-flight jobs are unaffected.
func (s *Store) Pause(ctx context.Context, jobType pipeline.JobType) error {
	if _, err := s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO paused_queues (type, paused_at) VALUES (?, ?)`,
		jobType,
		formatTime(s.clock()),
	); err != nil {
		return fmt.Errorf("pause %s: %w", jobType, err)
	}
	return nil
}

// Resume re-enables leasing for jobType.
func (s *Store) Resume(ctx context.Context, jobType pipeline.JobType) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM paused_queues WHERE type = ?`, jobType); err != nil {
		return fmt.Errorf("resume %s: %w", jobType, err)
	}
	return nil
}

// IsPaused reports whether leasing is paused for jobType.
func (s *Store) IsPaused(ctx context.Context, jobType pipeline.JobType) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM paused_queues WHERE type = ?`,
		jobType,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("paused state: %w", err)
	}
	return count > 0, nil
}

// PausedTypes lists every paused job type.
func (s *Store) PausedTypes(ctx context.Context) ([]pipeline.JobType, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT type FROM paused_queues ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("paused types: %w", err)
	}
	defer rows.Close()
	var types []pipeline.JobType
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		types = append(types, pipeline.JobType(value))
	}
	return types, rows.Err()
}

// Clean deletes completed and failed jobs of jobType that finished before
// cutoff, at most limit per state. It returns the removed ids.
func (s *Store) Clean(ctx context.Context, jobType pipeline.JobType, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var removed []string
	for _, state := range []State{StateCompleted, StateFailed} {
		rows, err := s.db.QueryContext(
			ensureContext(ctx),
			`DELETE FROM jobs WHERE seq IN (
                SELECT seq FROM jobs
                WHERE type = ? AND state = ? AND finished_at IS NOT NULL AND finished_at < ?
                ORDER BY finished_at ASC, seq ASC
                LIMIT ?
            ) RETURNING id`,
			jobType,
			state,
			formatTime(cutoff),
			limit,
		)
		if err != nil {
			return removed, fmt.Errorf("clean %s %s: %w", jobType, state, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return removed, err
			}
			removed = append(removed, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return removed, err
		}
		rows.Close()
	}
	return removed, nil
}

// Trim keeps the newest keep jobs of jobType in a terminal state and deletes the rest.
func (s *Store) Trim(ctx context.Context, jobType pipeline.JobType, state State, keep int) (int64, error) {
	if !state.Terminal() {
		return 0, fmt.Errorf("trim: state %q is not terminal", state)
	}
	if keep < 0 {
		keep = 0
	}
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE seq IN (
            SELECT seq FROM jobs
            WHERE type = ? AND state = ?
            ORDER BY finished_at DESC, seq DESC
            LIMIT -1 OFFSET ?
        )`,
		jobType,
		state,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("trim %s %s: %w", jobType, state, err)
	}
	return res.RowsAffected()
}

// ReclaimExpiredLeases returns active jobs of jobType whose lease lapsed to
// waiting. Jobs that already used every attempt are failed instead.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, jobType pipeline.JobType) (ReclaimResult, error) {
	ctx = ensureContext(ctx)
	now := formatTime(s.clock())
	var result ReclaimResult

	failed, err := s.updateReturningIDs(ctx,
		`UPDATE jobs
        SET state = ?, failure_reason = ?, lease_owner = NULL, lease_expires_at = NULL,
            finished_at = ?, updated_at = ?
        WHERE type = ? AND state = ? AND lease_expires_at < ? AND attempts >= max_attempts
        RETURNING id`,
		StateFailed, LeaseExpiredReason, now, now, jobType, StateActive, now,
	)
	if err != nil {
		return result, fmt.Errorf("fail expired leases: %w", err)
	}
	result.Failed = failed

	requeued, err := s.updateReturningIDs(ctx,
		`UPDATE jobs
        SET state = ?, run_at = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
        WHERE type = ? AND state = ? AND lease_expires_at < ?
        RETURNING id`,
		StateWaiting, now, now, jobType, StateActive, now,
	)
	if err != nil {
		return result, fmt.Errorf("requeue expired leases: %w", err)
	}
	result.Requeued = requeued
	return result, nil
}

func (s *Store) updateReturningIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	var ids []string
	err := retryOnBusy(ctx, func() error {
		ids = ids[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// Unchained returns terminal jobs the orchestrator has not handled yet, oldest first.
func (s *Store) Unchained(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs
        WHERE state IN (?, ?) AND chained_at IS NULL
        ORDER BY finished_at ASC, seq ASC
        LIMIT ?`,
		StateCompleted,
		StateFailed,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("unchained jobs: %w", err)
	}
	return scanJobs(rows)
}

// MarkChained records that the orchestrator handled the job's outcome.
func (s *Store) MarkChained(ctx context.Context, id string) error {
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET chained_at = ? WHERE id = ? AND chained_at IS NULL`,
		formatTime(s.clock()),
		id,
	); err != nil {
		return fmt.Errorf("mark chained: %w", err)
	}
	return nil
}

var expectedColumns = []string{
	"seq", "id", "type", "priority", "payload", "state", "attempts", "max_attempts",
	"progress", "result", "failure_reason", "created_at", "updated_at", "run_at",
	"lease_owner", "lease_expires_at", "finished_at", "dedupe_key", "chained_at",
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, ErrClosed
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	colsRows, err := s.db.QueryContext(connCtx, "PRAGMA table_info(jobs)")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("table info: %w", err)
	}
	var columns []string
	for colsRows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    any
			pk      int
		)
		if err := colsRows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			colsRows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table info: %w", err)
		}
		columns = append(columns, name)
	}
	colsRows.Close()
	health.TableExists = len(columns) > 0
	health.ColumnsPresent = columns

	present := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		present[col] = struct{}{}
	}
	for _, col := range expectedColumns {
		if _, ok := present[col]; !ok {
			health.MissingColumns = append(health.MissingColumns, col)
		}
	}

	if health.TableExists {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM jobs").Scan(&health.TotalJobs); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count jobs: %w", err)
		}
	}

	paused, err := s.PausedTypes(connCtx)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	for _, jobType := range paused {
		health.PausedTypes = append(health.PausedTypes, string(jobType))
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
