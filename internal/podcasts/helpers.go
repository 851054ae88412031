package podcasts

import (
	"math"
	"strings"

	"tweetcast/internal/services"
)

func notFoundUser(id int64) error {
	return services.NotFound(stageName, "user", id)
}

func notFoundTweet(id string) error {
	return services.NotFound(stageName, "tweet", id)
}

// roundConfidence keeps two decimals to match the NUMERIC(3,2) column.
func roundConfidence(value float64) float64 {
	switch {
	case value < 0:
		value = 0
	case value > 1:
		value = 1
	}
	return math.Round(value*100) / 100
}

// dedupeIDs drops blanks and repeats while keeping first-seen order.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
