package content

import (
	"sort"
	"time"
)

type CommunityCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary is the activity overview shown alongside the persona.
type Summary struct {
	Deleted        int              `json:"deleted"`
	TopCommunities []CommunityCount `json:"top_communities"`
	MeanSentiment  float64          `json:"mean_sentiment"`
	Earliest       time.Time        `json:"earliest,omitzero"`
	Latest         time.Time        `json:"latest,omitzero"`
}

// Summarize counts deleted items, ranks the n most active communities (ties
// by name) and averages sentiment over non-deleted items.
func Summarize(items []Item, n int) Summary {
	var s Summary
	counts := make(map[string]int)
	var total float64
	var scored int

	for _, it := range items {
		if it.Kind == KindDeleted {
			s.Deleted++
		}
		if it.Community != "" {
			counts[it.Community]++
		}
		if it.Kind != KindDeleted {
			total += it.Sentiment
			scored++
		}
		if !it.CreatedAt.IsZero() {
			if s.Earliest.IsZero() || it.CreatedAt.Before(s.Earliest) {
				s.Earliest = it.CreatedAt
			}
			if it.CreatedAt.After(s.Latest) {
				s.Latest = it.CreatedAt
			}
		}
	}
	if scored > 0 {
		s.MeanSentiment = total / float64(scored)
	}

	for name, c := range counts {
		s.TopCommunities = append(s.TopCommunities, CommunityCount{Name: name, Count: c})
	}
	sort.Slice(s.TopCommunities, func(i, j int) bool {
		a, b := s.TopCommunities[i], s.TopCommunities[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})
	if n >= 0 && len(s.TopCommunities) > n {
		s.TopCommunities = s.TopCommunities[:n]
	}
	return s
}

// SentimentLabel buckets a compound score the way the sentiment pipeline
// labels headlines.
func SentimentLabel(score float64) string {
	switch {
	case score >= 0.20:
		return "positive"
	case score <= -0.20:
		return "negative"
	default:
		return "neutral"
	}
}
