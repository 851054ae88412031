package fetching

import (
	"strings"

	"tweetcast/internal/pipeline"
	"tweetcast/internal/twitter"
)

// Apply keeps the posts that pass every filter, preserving order. A nil
// filter set keeps everything. Posts without an id or text are always dropped,
// as are repeated ids.
func Apply(filters *pipeline.Filters, tweets []twitter.Tweet) []twitter.Tweet {
	kept := make([]twitter.Tweet, 0, len(tweets))
	seen := make(map[string]struct{}, len(tweets))
	keywords := lowerKeywords(filters)
	for _, tweet := range tweets {
		if strings.TrimSpace(tweet.ID) == "" || strings.TrimSpace(tweet.Text) == "" {
			continue
		}
		if _, dup := seen[tweet.ID]; dup {
			continue
		}
		if !passes(filters, keywords, tweet) {
			continue
		}
		seen[tweet.ID] = struct{}{}
		kept = append(kept, tweet)
	}
	return kept
}

func passes(f *pipeline.Filters, keywords []string, tweet twitter.Tweet) bool {
	if f == nil {
		return true
	}
	if tweet.IsRetweet && !f.IncludeRetweets {
		return false
	}
	if tweet.IsReply && !f.IncludeReplies {
		return false
	}
	if tweet.LikeCount < f.MinimumLikes {
		return false
	}
	if r := f.DateRange; r != nil && !tweet.CreatedAt.IsZero() {
		if tweet.CreatedAt.Before(r.Start) || tweet.CreatedAt.After(r.End) {
			return false
		}
	}
	if len(keywords) > 0 {
		text := strings.ToLower(tweet.Text)
		for _, keyword := range keywords {
			if strings.Contains(text, keyword) {
				return false
			}
		}
	}
	return true
}

func lowerKeywords(f *pipeline.Filters) []string {
	if f == nil {
		return nil
	}
	var out []string
	for _, keyword := range f.ExcludeKeywords {
		if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
			out = append(out, keyword)
		}
	}
	return out
}
