package podcasts

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres_schema.sql
var postgresSchema string

const postgresMaxConns = 8

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository stores podcast records in Postgres through a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolConfig.MaxConns = postgresMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create podcast schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user NewUser) (*User, error) {
	if err := validateNewUser(user); err != nil {
		return nil, err
	}
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (twitter_username, display_name, subscription_tier, voice_preference)
        VALUES ($1, $2, $3, $4) RETURNING id`,
		strings.TrimPrefix(strings.TrimSpace(user.TwitterUsername), "@"),
		user.DisplayName,
		user.tier(),
		nullable(user.VoicePreference),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return r.GetUser(ctx, id)
}

func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	var (
		user    User
		display *string
		voice   *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, twitter_username, display_name, subscription_tier, voice_preference, created_at
        FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.TwitterUsername, &display, &user.SubscriptionTier, &voice, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundUser(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.DisplayName = deref(display)
	user.VoicePreference = deref(voice)
	return &user, nil
}

func (r *PostgresRepository) CreatePodcast(ctx context.Context, podcast NewPodcast) (*Podcast, error) {
	if err := validateNewPodcast(podcast); err != nil {
		return nil, err
	}
	if _, err := r.GetUser(ctx, podcast.UserID); err != nil {
		return nil, err
	}
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO podcasts (user_id, title, description, source_type, source_identifier, status)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		podcast.UserID,
		podcast.Title,
		nullable(podcast.Description),
		podcast.SourceType,
		podcast.SourceIdentifier,
		string(StatusProcessing),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create podcast: %w", err)
	}
	return r.GetPodcast(ctx, id)
}

func (r *PostgresRepository) GetPodcast(ctx context.Context, id int64) (*Podcast, error) {
	var (
		p           Podcast
		description *string
		audioURL    *string
		status      string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, title, description, source_type, source_identifier, status,
            tweet_count, audio_url, duration_seconds, created_at, updated_at
        FROM podcasts WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.Title, &description, &p.SourceType, &p.SourceIdentifier, &status,
		&p.TweetCount, &audioURL, &p.DurationSeconds, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, podcastNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get podcast: %w", err)
	}
	p.Description = deref(description)
	p.AudioURL = deref(audioURL)
	p.Status = Status(status)
	return &p, nil
}

func (r *PostgresRepository) CacheTweet(ctx context.Context, tweet Tweet) (bool, error) {
	if err := validateTweet(tweet); err != nil {
		return false, err
	}
	createdAt := tweet.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO tweets (id, author_username, text, created_at, like_count, retweet_count)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING`,
		tweet.ID, tweet.AuthorUsername, tweet.Text, createdAt.UTC(), tweet.LikeCount, tweet.RetweetCount,
	)
	if err != nil {
		return false, fmt.Errorf("cache tweet %s: %w", tweet.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

const postgresTweetColumns = `t.id, t.author_username, t.text, t.created_at, t.like_count, t.retweet_count,
    t.emotion_type, t.emotion_confidence::float8, t.cached_at`

func scanPostgresTweet(row pgx.Row) (*Tweet, error) {
	var (
		tweet      Tweet
		emotion    *string
		confidence *float64
	)
	if err := row.Scan(&tweet.ID, &tweet.AuthorUsername, &tweet.Text, &tweet.CreatedAt,
		&tweet.LikeCount, &tweet.RetweetCount, &emotion, &confidence, &tweet.CachedAt); err != nil {
		return nil, err
	}
	tweet.EmotionType = deref(emotion)
	if confidence != nil {
		tweet.EmotionConfidence = *confidence
	}
	return &tweet, nil
}

func (r *PostgresRepository) GetTweet(ctx context.Context, id string) (*Tweet, error) {
	tweet, err := scanPostgresTweet(r.pool.QueryRow(ctx,
		`SELECT `+postgresTweetColumns+` FROM tweets t WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundTweet(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tweet: %w", err)
	}
	return tweet, nil
}

func (r *PostgresRepository) SetTweetEmotion(ctx context.Context, id, emotion string, confidence float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tweets SET emotion_type = $1, emotion_confidence = $2 WHERE id = $3`,
		emotion, roundConfidence(confidence), id,
	)
	if err != nil {
		return fmt.Errorf("set tweet emotion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundTweet(id)
	}
	return nil
}

func (r *PostgresRepository) LinkTweets(ctx context.Context, podcastID int64, tweetIDs []string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM podcast_tweets WHERE podcast_id = $1`, podcastID); err != nil {
			return fmt.Errorf("link tweets: clear: %w", err)
		}
		batch := &pgx.Batch{}
		for order, id := range dedupeIDs(tweetIDs) {
			batch.Queue(
				`INSERT INTO podcast_tweets (podcast_id, tweet_id, sequence_order) VALUES ($1, $2, $3)`,
				podcastID, id, order,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("link tweets: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) PodcastTweets(ctx context.Context, podcastID int64) ([]Tweet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+postgresTweetColumns+`
        FROM podcast_tweets pt JOIN tweets t ON t.id = pt.tweet_id
        WHERE pt.podcast_id = $1
        ORDER BY pt.sequence_order ASC`, podcastID)
	if err != nil {
		return nil, fmt.Errorf("podcast tweets: %w", err)
	}
	defer rows.Close()
	var tweets []Tweet
	for rows.Next() {
		tweet, err := scanPostgresTweet(rows)
		if err != nil {
			return nil, fmt.Errorf("podcast tweets: %w", err)
		}
		tweets = append(tweets, *tweet)
	}
	return tweets, rows.Err()
}

func (r *PostgresRepository) SetTweetCount(ctx context.Context, podcastID int64, count int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE podcasts SET tweet_count = $1, updated_at = now() WHERE id = $2`,
		count, podcastID,
	)
	if err != nil {
		return fmt.Errorf("set tweet count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return podcastNotFound(podcastID)
	}
	return nil
}

func (r *PostgresRepository) CompletePodcast(ctx context.Context, podcastID int64, audioURL string, durationSeconds int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE podcasts SET status = $1, audio_url = $2, duration_seconds = $3, updated_at = now()
        WHERE id = $4 AND status <> $1`,
		string(StatusCompleted), audioURL, durationSeconds, podcastID,
	)
	if err != nil {
		return false, fmt.Errorf("complete podcast: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}
	if _, err := r.GetPodcast(ctx, podcastID); err != nil {
		return false, err
	}
	return true, nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, podcastID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE podcasts SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(StatusFailed), podcastID, string(StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("mark podcast failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) LogUsage(ctx context.Context, userID int64, action string, credits int) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO usage_logs (user_id, action, credits_used) VALUES ($1, $2, $3)`,
		userID, action, credits,
	); err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Usage(ctx context.Context, userID int64) ([]UsageEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, action, credits_used, created_at FROM usage_logs WHERE user_id = $1 ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UsageEntry, error) {
		var entry UsageEntry
		err := row.Scan(&entry.UserID, &entry.Action, &entry.CreditsUsed, &entry.CreatedAt)
		return entry, err
	})
	if err != nil {
		return nil, fmt.Errorf("usage: %w", err)
	}
	return entries, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() error {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
