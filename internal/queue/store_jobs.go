package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tweetcast/internal/pipeline"
)

// Insert stores a waiting job. When spec.DedupeKey matches an existing
// non-failed job of the same type, that job is returned with created=false.
func (s *Store) Insert(ctx context.Context, spec NewJob) (*Job, bool, error) {
	if spec.Type == "" {
		return nil, false, errors.New("insert job: type is required")
	}
	if spec.MaxAttempts < 1 {
		return nil, false, errors.New("insert job: max attempts must be >= 1")
	}
	now := s.clock()
	runAt := now
	if !spec.RunAt.IsZero() && spec.RunAt.After(now) {
		runAt = spec.RunAt.UTC()
	}
	state := StateWaiting
	if runAt.After(now) {
		state = StateDelayed
	}
	id := uuid.NewString()
	timestamp := formatTime(now)

	res, err := s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO jobs (
            id, type, priority, payload, state, attempts, max_attempts, progress,
            created_at, updated_at, run_at, dedupe_key
        ) VALUES (?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?, ?)`,
		id,
		spec.Type,
		spec.Priority,
		string(spec.Payload),
		state,
		spec.MaxAttempts,
		timestamp,
		timestamp,
		formatTime(runAt),
		nullableString(spec.DedupeKey),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}
	if affected == 0 {
		if spec.DedupeKey == "" {
			return nil, false, errors.New("insert job: row ignored")
		}
		existing, err := s.findByDedupeKey(ctx, spec.Type, spec.DedupeKey)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("insert job: dedupe key %q conflicted but no live job found", spec.DedupeKey)
		}
		return existing, false, nil
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *Store) findByDedupeKey(ctx context.Context, jobType pipeline.JobType, key string) (*Job, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE type = ? AND dedupe_key = ? AND state <> ? ORDER BY seq DESC LIMIT 1`,
		jobType, key, StateFailed,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by dedupe key: %w", err)
	}
	return job, nil
}

// Get fetches a job by identifier. A missing job returns nil without error.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs of a type, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}
	if len(filter.States) > 0 {
		clauses = append(clauses, "state IN ("+makePlaceholders(len(filter.States))+")")
		for _, state := range filter.States {
			args = append(args, state)
		}
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// Lease atomically claims the highest-priority due job of jobType for owner.
// Ties are broken by enqueue order. It returns nil when nothing is due or the
// type is paused.
func (s *Store) Lease(ctx context.Context, jobType pipeline.JobType, owner string, ttl time.Duration) (*Job, error) {
	if owner == "" {
		return nil, errors.New("lease: owner is required")
	}
	ctx = ensureContext(ctx)
	now := s.clock()
	timestamp := formatTime(now)

	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE jobs
            SET state = ?, attempts = attempts + 1, progress = 0,
                lease_owner = ?, lease_expires_at = ?, updated_at = ?
            WHERE seq = (
                SELECT seq FROM jobs
                WHERE type = ? AND state IN (?, ?) AND run_at <= ?
                ORDER BY priority DESC, seq ASC
                LIMIT 1
            )
            AND NOT EXISTS (SELECT 1 FROM paused_queues WHERE type = ?)
            RETURNING `+jobColumns,
			StateActive,
			owner,
			formatTime(now.Add(ttl)),
			timestamp,
			jobType,
			StateWaiting,
			StateDelayed,
			timestamp,
			jobType,
		)
		leased, scanErr := scanJob(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		job = leased
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	return job, nil
}

// ExtendLease pushes the lease expiry forward for a job still owned by owner.
func (s *Store) ExtendLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	now := s.clock()
	err := s.execGuarded(
		ctx,
		`UPDATE jobs SET lease_expires_at = ?, updated_at = ?
        WHERE id = ? AND lease_owner = ? AND state = ?`,
		formatTime(now.Add(ttl)),
		formatTime(now),
		id,
		owner,
		StateActive,
	)
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		return fmt.Errorf("extend lease: %w", err)
	}
	return err
}

// UpdateProgress records progress for an active job. Progress never decreases.
func (s *Store) UpdateProgress(ctx context.Context, id, owner string, progress int) error {
	progress = clampProgress(progress)
	err := s.execGuarded(
		ctx,
		`UPDATE jobs SET progress = MAX(progress, ?), updated_at = ?
        WHERE id = ? AND lease_owner = ? AND state = ?`,
		progress,
		formatTime(s.clock()),
		id,
		owner,
		StateActive,
	)
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		return fmt.Errorf("update progress: %w", err)
	}
	return err
}

// Complete stores the result and marks the job completed.
func (s *Store) Complete(ctx context.Context, id, owner string, result []byte) error {
	timestamp := formatTime(s.clock())
	err := s.execGuarded(
		ctx,
		`UPDATE jobs
        SET state = ?, progress = 100, result = ?, failure_reason = NULL,
            lease_owner = NULL, lease_expires_at = NULL, finished_at = ?, updated_at = ?
        WHERE id = ? AND lease_owner = ? AND state = ?`,
		StateCompleted,
		nullableBytes(result),
		timestamp,
		timestamp,
		id,
		owner,
		StateActive,
	)
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		return fmt.Errorf("complete job: %w", err)
	}
	return err
}

// Retry records a failed attempt and schedules the job for runAt.
func (s *Store) Retry(ctx context.Context, id, owner, reason string, runAt time.Time) error {
	err := s.execGuarded(
		ctx,
		`UPDATE jobs
        SET state = ?, failure_reason = ?, run_at = ?,
            lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
        WHERE id = ? AND lease_owner = ? AND state = ?`,
		StateDelayed,
		reason,
		formatTime(runAt),
		formatTime(s.clock()),
		id,
		owner,
		StateActive,
	)
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		return fmt.Errorf("retry job: %w", err)
	}
	return err
}

// Fail marks the job permanently failed.
func (s *Store) Fail(ctx context.Context, id, owner, reason string) error {
	timestamp := formatTime(s.clock())
	err := s.execGuarded(
		ctx,
		`UPDATE jobs
        SET state = ?, failure_reason = ?,
            lease_owner = NULL, lease_expires_at = NULL, finished_at = ?, updated_at = ?
        WHERE id = ? AND lease_owner = ? AND state = ?`,
		StateFailed,
		reason,
		timestamp,
		timestamp,
		id,
		owner,
		StateActive,
	)
	if err != nil && !errors.Is(err, ErrLeaseLost) {
		return fmt.Errorf("fail job: %w", err)
	}
	return err
}

func clampProgress(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
