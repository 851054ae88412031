package podcasts

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

var _ Repository = (*SQLiteRepository)(nil)

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository stores podcast records in a local SQLite database.
type SQLiteRepository struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens or creates the podcast database at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open podcast db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create podcast schema: %w", err)
	}
	return &SQLiteRepository{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file location.
func (r *SQLiteRepository) Path() string { return r.path }

func (r *SQLiteRepository) stamp() string {
	return formatSQLiteTime(r.now())
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, user NewUser) (*User, error) {
	if err := validateNewUser(user); err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (twitter_username, display_name, subscription_tier, voice_preference, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		strings.TrimPrefix(strings.TrimSpace(user.TwitterUsername), "@"),
		user.DisplayName,
		user.tier(),
		nullable(user.VoicePreference),
		r.stamp(),
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return r.GetUser(ctx, id)
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	var (
		user      User
		display   sql.NullString
		voice     sql.NullString
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, twitter_username, display_name, subscription_tier, voice_preference, created_at
        FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.TwitterUsername, &display, &user.SubscriptionTier, &voice, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundUser(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.DisplayName = display.String
	user.VoicePreference = voice.String
	user.CreatedAt = parseSQLiteTime(createdAt)
	return &user, nil
}

func (r *SQLiteRepository) CreatePodcast(ctx context.Context, podcast NewPodcast) (*Podcast, error) {
	if err := validateNewPodcast(podcast); err != nil {
		return nil, err
	}
	if _, err := r.GetUser(ctx, podcast.UserID); err != nil {
		return nil, err
	}
	now := r.stamp()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO podcasts (user_id, title, description, source_type, source_identifier, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		podcast.UserID,
		podcast.Title,
		nullable(podcast.Description),
		podcast.SourceType,
		podcast.SourceIdentifier,
		StatusProcessing,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("create podcast: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create podcast: %w", err)
	}
	return r.GetPodcast(ctx, id)
}

func (r *SQLiteRepository) GetPodcast(ctx context.Context, id int64) (*Podcast, error) {
	var (
		p           Podcast
		description sql.NullString
		audioURL    sql.NullString
		status      string
		createdAt   string
		updatedAt   string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, source_type, source_identifier, status,
            tweet_count, audio_url, duration_seconds, created_at, updated_at
        FROM podcasts WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.Title, &description, &p.SourceType, &p.SourceIdentifier, &status,
		&p.TweetCount, &audioURL, &p.DurationSeconds, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, podcastNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get podcast: %w", err)
	}
	p.Description = description.String
	p.AudioURL = audioURL.String
	p.Status = Status(status)
	p.CreatedAt = parseSQLiteTime(createdAt)
	p.UpdatedAt = parseSQLiteTime(updatedAt)
	return &p, nil
}

func (r *SQLiteRepository) CacheTweet(ctx context.Context, tweet Tweet) (bool, error) {
	if err := validateTweet(tweet); err != nil {
		return false, err
	}
	createdAt := tweet.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tweets (id, author_username, text, created_at, like_count, retweet_count, cached_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tweet.ID,
		tweet.AuthorUsername,
		tweet.Text,
		formatSQLiteTime(createdAt),
		tweet.LikeCount,
		tweet.RetweetCount,
		r.stamp(),
	)
	if err != nil {
		return false, fmt.Errorf("cache tweet %s: %w", tweet.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache tweet %s: %w", tweet.ID, err)
	}
	return affected > 0, nil
}

const sqliteTweetColumns = `t.id, t.author_username, t.text, t.created_at, t.like_count, t.retweet_count,
    t.emotion_type, t.emotion_confidence, t.cached_at`

func scanSQLiteTweet(scanner interface{ Scan(dest ...any) error }) (*Tweet, error) {
	var (
		tweet      Tweet
		createdAt  string
		cachedAt   string
		emotion    sql.NullString
		confidence sql.NullFloat64
	)
	if err := scanner.Scan(&tweet.ID, &tweet.AuthorUsername, &tweet.Text, &createdAt,
		&tweet.LikeCount, &tweet.RetweetCount, &emotion, &confidence, &cachedAt); err != nil {
		return nil, err
	}
	tweet.CreatedAt = parseSQLiteTime(createdAt)
	tweet.CachedAt = parseSQLiteTime(cachedAt)
	tweet.EmotionType = emotion.String
	tweet.EmotionConfidence = confidence.Float64
	return &tweet, nil
}

func (r *SQLiteRepository) GetTweet(ctx context.Context, id string) (*Tweet, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteTweetColumns+` FROM tweets t WHERE t.id = ?`, id)
	tweet, err := scanSQLiteTweet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundTweet(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tweet: %w", err)
	}
	return tweet, nil
}

func (r *SQLiteRepository) SetTweetEmotion(ctx context.Context, id, emotion string, confidence float64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tweets SET emotion_type = ?, emotion_confidence = ? WHERE id = ?`,
		emotion, roundConfidence(confidence), id,
	)
	if err != nil {
		return fmt.Errorf("set tweet emotion: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return notFoundTweet(id)
	}
	return nil
}

func (r *SQLiteRepository) LinkTweets(ctx context.Context, podcastID int64, tweetIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("link tweets: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM podcast_tweets WHERE podcast_id = ?`, podcastID); err != nil {
		return fmt.Errorf("link tweets: clear: %w", err)
	}
	for order, id := range dedupeIDs(tweetIDs) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO podcast_tweets (podcast_id, tweet_id, sequence_order) VALUES (?, ?, ?)`,
			podcastID, id, order,
		); err != nil {
			return fmt.Errorf("link tweet %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) PodcastTweets(ctx context.Context, podcastID int64) ([]Tweet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteTweetColumns+`
        FROM podcast_tweets pt JOIN tweets t ON t.id = pt.tweet_id
        WHERE pt.podcast_id = ?
        ORDER BY pt.sequence_order ASC`, podcastID)
	if err != nil {
		return nil, fmt.Errorf("podcast tweets: %w", err)
	}
	defer rows.Close()
	var tweets []Tweet
	for rows.Next() {
		tweet, err := scanSQLiteTweet(rows)
		if err != nil {
			return nil, fmt.Errorf("podcast tweets: %w", err)
		}
		tweets = append(tweets, *tweet)
	}
	return tweets, rows.Err()
}

func (r *SQLiteRepository) SetTweetCount(ctx context.Context, podcastID int64, count int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE podcasts SET tweet_count = ?, updated_at = ? WHERE id = ?`,
		count, r.stamp(), podcastID,
	)
	if err != nil {
		return fmt.Errorf("set tweet count: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return podcastNotFound(podcastID)
	}
	return nil
}

func (r *SQLiteRepository) CompletePodcast(ctx context.Context, podcastID int64, audioURL string, durationSeconds int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE podcasts SET status = ?, audio_url = ?, duration_seconds = ?, updated_at = ?
        WHERE id = ? AND status <> ?`,
		StatusCompleted, audioURL, durationSeconds, r.stamp(), podcastID, StatusCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("complete podcast: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete podcast: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := r.GetPodcast(ctx, podcastID); err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, podcastID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE podcasts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusFailed, r.stamp(), podcastID, StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("mark podcast failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark podcast failed: %w", err)
	}
	return affected > 0, nil
}

func (r *SQLiteRepository) LogUsage(ctx context.Context, userID int64, action string, credits int) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO usage_logs (user_id, action, credits_used, created_at) VALUES (?, ?, ?, ?)`,
		userID, action, credits, r.stamp(),
	); err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Usage(ctx context.Context, userID int64) ([]UsageEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, action, credits_used, created_at FROM usage_logs WHERE user_id = ? ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}
	defer rows.Close()
	var entries []UsageEntry
	for rows.Next() {
		var (
			entry     UsageEntry
			createdAt string
		)
		if err := rows.Scan(&entry.UserID, &entry.Action, &entry.CreditsUsed, &createdAt); err != nil {
			return nil, fmt.Errorf("usage: %w", err)
		}
		entry.CreatedAt = parseSQLiteTime(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func nullable(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
