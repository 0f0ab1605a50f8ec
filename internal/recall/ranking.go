package recall

import (
	"sort"

	"github.com/nidhogg/mnemo/internal/memory"
)

// ScoredMemory is one recall result with its live salience and its
// graph connectedness to the query context.
type ScoredMemory struct {
	Event     *memory.Event `json:"event"`
	Salience  float64       `json:"salience"`
	Connected float64       `json:"connected,omitempty"`
}

// Rank orders candidates by live salience, then recency, then graph
// connectedness to the conversation context, then creation order. The
// ordering is total, so equal inputs always produce the same result
// list.
func Rank(items []ScoredMemory) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Salience != items[j].Salience {
			return items[i].Salience > items[j].Salience
		}
		if !items[i].Event.Timestamp.Equal(items[j].Event.Timestamp) {
			return items[i].Event.Timestamp.After(items[j].Event.Timestamp)
		}
		if items[i].Connected != items[j].Connected {
			return items[i].Connected > items[j].Connected
		}
		return items[i].Event.Seq > items[j].Event.Seq
	})
}

func hasEmotion(ev *memory.Event, label string) bool {
	for _, e := range ev.Emotions {
		if e.Label == label {
			return true
		}
	}
	return false
}

// countTypes tallies event types in descending frequency, ties broken
// alphabetically.
func countTypes(events []*memory.Event) []TypeCount {
	counts := make(map[string]int)
	for _, ev := range events {
		if ev.EventType != "" {
			counts[ev.EventType]++
		}
	}
	out := make([]TypeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TypeCount{Type: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}
