package twitter

import "time"

// SourceKind selects how posts are gathered.
type SourceKind string

const (
	SourceTimeline SourceKind = "timeline"
	SourceUsername SourceKind = "username"
	SourceHashtag  SourceKind = "hashtag"
	SourceURL      SourceKind = "url"
)

// Query describes one fetch.
type Query struct {
	Kind  SourceKind
	Value string
	// Owner is the username whose timeline is read for SourceTimeline when
	// Value is empty.
	Owner           string
	MaxResults      int
	Start           *time.Time
	End             *time.Time
	ExcludeRetweets bool
	ExcludeReplies  bool
}

// Tweet is a post with the fields the pipeline caches.
type Tweet struct {
	ID             string
	AuthorID       string
	AuthorUsername string
	Text           string
	CreatedAt      time.Time
	ConversationID string
	LikeCount      int
	RetweetCount   int
	ReplyCount     int
	IsRetweet      bool
	IsReply        bool
}

type apiTweet struct {
	ID               string    `json:"id"`
	AuthorID         string    `json:"author_id"`
	Text             string    `json:"text"`
	CreatedAt        time.Time `json:"created_at"`
	ConversationID   string    `json:"conversation_id"`
	InReplyToUserID  string    `json:"in_reply_to_user_id"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
	PublicMetrics struct {
		LikeCount    int `json:"like_count"`
		RetweetCount int `json:"retweet_count"`
		ReplyCount   int `json:"reply_count"`
	} `json:"public_metrics"`
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type listResponse struct {
	Data     []apiTweet `json:"data"`
	Includes struct {
		Users []apiUser `json:"users"`
	} `json:"includes"`
	Errors []apiError `json:"errors"`
	Meta   struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type singleTweetResponse struct {
	Data     *apiTweet `json:"data"`
	Includes struct {
		Users []apiUser `json:"users"`
	} `json:"includes"`
	Errors []apiError `json:"errors"`
}

type userResponse struct {
	Data   *apiUser   `json:"data"`
	Errors []apiError `json:"errors"`
}

func (t apiTweet) convert(users map[string]string) Tweet {
	tweet := Tweet{
		ID:             t.ID,
		AuthorID:       t.AuthorID,
		AuthorUsername: users[t.AuthorID],
		Text:           t.Text,
		CreatedAt:      t.CreatedAt.UTC(),
		ConversationID: t.ConversationID,
		LikeCount:      t.PublicMetrics.LikeCount,
		RetweetCount:   t.PublicMetrics.RetweetCount,
		ReplyCount:     t.PublicMetrics.ReplyCount,
		IsReply:        t.InReplyToUserID != "",
	}
	for _, ref := range t.ReferencedTweets {
		switch ref.Type {
		case "retweeted":
			tweet.IsRetweet = true
		case "replied_to":
			tweet.IsReply = true
		}
	}
	return tweet
}

func userIndex(users []apiUser) map[string]string {
	index := make(map[string]string, len(users))
	for _, u := range users {
		index[u.ID] = u.Username
	}
	return index
}
