// Package podcasts stores the durable podcast records the pipeline stages
// read and update: users, podcasts, the tweet cache, ordered podcast/tweet
// links and usage logs.
//
// Two Repository implementations ship: SQLite (the default, alongside the
// queue database) and Postgres through pgxpool when storage.postgres_dsn is
// configured. Both honour the completion rule: a podcast moves from
// processing to completed exactly once.
package podcasts
