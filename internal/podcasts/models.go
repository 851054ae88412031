package podcasts

import "time"

// Status is the lifecycle position of a podcast.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// User owns podcasts and is billed through usage logs.
type User struct {
	ID               int64
	TwitterUsername  string
	DisplayName      string
	SubscriptionTier string
	VoicePreference  string
	CreatedAt        time.Time
}

// NewUser describes a user to create.
type NewUser struct {
	TwitterUsername  string
	DisplayName      string
	SubscriptionTier string
	VoicePreference  string
}

// Podcast is one requested episode.
type Podcast struct {
	ID               int64
	UserID           int64
	Title            string
	Description      string
	SourceType       string
	SourceIdentifier string
	Status           Status
	TweetCount       int
	AudioURL         string
	DurationSeconds  int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewPodcast describes a podcast to create. Status starts as processing.
type NewPodcast struct {
	UserID           int64
	Title            string
	Description      string
	SourceType       string
	SourceIdentifier string
}

// Tweet is a cached post. EmotionType is empty until analysis has run.
type Tweet struct {
	ID                string
	AuthorUsername    string
	Text              string
	CreatedAt         time.Time
	LikeCount         int
	RetweetCount      int
	EmotionType       string
	EmotionConfidence float64
	CachedAt          time.Time
}

// UsageEntry is one billed action.
type UsageEntry struct {
	UserID      int64
	Action      string
	CreditsUsed int
	CreatedAt   time.Time
}

const defaultTier = "free"

func (u NewUser) tier() string {
	if u.SubscriptionTier == "" {
		return defaultTier
	}
	return u.SubscriptionTier
}
