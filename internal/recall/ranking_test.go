package recall

import (
	"testing"
	"time"

	"github.com/nidhogg/mnemo/internal/memory"
)

func TestRankOrdering(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	items := []ScoredMemory{
		{Event: &memory.Event{ID: "older-tie", Seq: 1, Timestamp: base}, Salience: 0.5, Connected: 0.2},
		{Event: &memory.Event{ID: "top", Seq: 2, Timestamp: base}, Salience: 0.9},
		{Event: &memory.Event{ID: "recent-tie", Seq: 3, Timestamp: base.Add(time.Hour)}, Salience: 0.5},
		{Event: &memory.Event{ID: "connected-tie", Seq: 4, Timestamp: base}, Salience: 0.5, Connected: 0.8},
	}
	Rank(items)

	// salience first, recency breaks the 0.5 tie, connectedness breaks
	// the equal-timestamp tie, creation order last
	want := []string{"top", "recent-tie", "connected-tie", "older-tie"}
	for i, id := range want {
		if items[i].Event.ID != id {
			t.Fatalf("rank[%d] = %s, want %s (full order %v)", i, items[i].Event.ID, id, items)
		}
	}
}

func TestRankDeterministic(t *testing.T) {
	mk := func() []ScoredMemory {
		return []ScoredMemory{
			{Event: &memory.Event{ID: "a", Seq: 1}, Salience: 0.5},
			{Event: &memory.Event{ID: "b", Seq: 2}, Salience: 0.5},
			{Event: &memory.Event{ID: "c", Seq: 3}, Salience: 0.5},
		}
	}
	first := mk()
	second := mk()
	Rank(first)
	Rank(second)
	for i := range first {
		if first[i].Event.ID != second[i].Event.ID {
			t.Fatalf("identical inputs ranked differently at %d", i)
		}
	}
}

func TestCountTypes(t *testing.T) {
	events := []*memory.Event{
		{EventType: "learning"},
		{EventType: "learning"},
		{EventType: "conversation"},
		{EventType: ""},
	}
	got := countTypes(events)
	if len(got) != 2 {
		t.Fatalf("types = %v, want 2 entries", got)
	}
	if got[0].Type != "learning" || got[0].Count != 2 {
		t.Errorf("top type = %+v, want learning x2", got[0])
	}
}
