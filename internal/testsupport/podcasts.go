package testsupport

import (
	"context"
	"testing"

	"tweetcast/internal/config"
	"tweetcast/internal/podcasts"
)

// MustOpenRepository opens the SQLite podcast repository under cfg's data dir.
func MustOpenRepository(t testing.TB, cfg *config.Config) *podcasts.SQLiteRepository {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	repo, err := podcasts.OpenSQLite(cfg.PodcastDBPath())
	if err != nil {
		t.Fatalf("podcasts.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// SeedPodcast creates a user and a processing podcast owned by it.
func SeedPodcast(t testing.TB, repo podcasts.Repository, sourceType, sourceValue string) (*podcasts.User, *podcasts.Podcast) {
	t.Helper()

	ctx := context.Background()
	user, err := repo.CreateUser(ctx, podcasts.NewUser{
		TwitterUsername: "listener",
		DisplayName:     "Listener",
		VoicePreference: "voice-pref",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	podcast, err := repo.CreatePodcast(ctx, podcasts.NewPodcast{
		UserID:           user.ID,
		Title:            "morning digest",
		Description:      "What happened overnight",
		SourceType:       sourceType,
		SourceIdentifier: sourceValue,
	})
	if err != nil {
		t.Fatalf("CreatePodcast: %v", err)
	}
	return user, podcast
}
