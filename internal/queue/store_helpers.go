package queue

import (
	"database/sql"
	"errors"
	"time"

	"tweetcast/internal/pipeline"
)

const jobColumns = "seq, id, type, priority, payload, state, attempts, max_attempts, progress, result, failure_reason, created_at, updated_at, run_at, lease_owner, lease_expires_at, finished_at, dedupe_key, chained_at"

// timeLayout is fixed width so stored timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		seq            int64
		id             string
		jobType        string
		priority       int
		payload        string
		state          string
		attempts       int
		maxAttempts    int
		progress       int
		result         sql.NullString
		failureReason  sql.NullString
		createdRaw     string
		updatedRaw     string
		runAtRaw       string
		leaseOwner     sql.NullString
		leaseExpiryRaw sql.NullString
		finishedRaw    sql.NullString
		dedupeKey      sql.NullString
		chainedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&seq,
		&id,
		&jobType,
		&priority,
		&payload,
		&state,
		&attempts,
		&maxAttempts,
		&progress,
		&result,
		&failureReason,
		&createdRaw,
		&updatedRaw,
		&runAtRaw,
		&leaseOwner,
		&leaseExpiryRaw,
		&finishedRaw,
		&dedupeKey,
		&chainedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		Seq:            seq,
		Type:           pipeline.JobType(jobType),
		Priority:       priority,
		Payload:        []byte(payload),
		State:          State(state),
		Attempts:       attempts,
		MaxAttempts:    maxAttempts,
		Progress:       progress,
		FailureReason:  failureReason.String,
		LeaseOwner:     leaseOwner.String,
		DedupeKey:      dedupeKey.String,
		LeaseExpiresAt: parseNullableTime(leaseExpiryRaw),
		FinishedAt:     parseNullableTime(finishedRaw),
		ChainedAt:      parseNullableTime(chainedRaw),
	}
	if result.Valid && result.String != "" {
		job.Result = []byte(result.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if runAt, err := parseTimeString(runAtRaw); err == nil {
		job.RunAt = runAt
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableBytes(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
