// Package graph maintains the incremental relationship index over memory
// events in Neo4j. New events are compared against a bounded recent
// window only, keeping insertion cost O(window); global statistics are
// computed lazily on demand, never on the insert path.
package graph

import (
	"math"
	"strings"
	"time"

	"github.com/nidhogg/mnemo/internal/memory"
)

// Config holds the similarity thresholds and bounds for edge building.
type Config struct {
	SemanticThreshold float64       // τ_sem: min cosine similarity
	TemporalWindow    time.Duration // Δt for same-actor/thread clustering
	EmotionalDistance float64       // max distribution distance
	MaxConnections    int           // per-node edge bound before pruning
}

// Signals are the per-pair relationship signals, each in [0,1] with 0
// meaning "signal not active". A signal that cannot be computed (missing
// embedding, no emotions) is simply left at zero; it never blocks the
// others.
type Signals struct {
	Semantic  float64
	Temporal  float64
	Emotional float64
	Actor     float64
	Causal    float64
}

// signal slot weights; causal stays deliberately low because marker
// detection is noisy.
const (
	wSemantic  = 0.35
	wTemporal  = 0.20
	wEmotional = 0.20
	wActor     = 0.10
	wCausal    = 0.15
)

// Weight combines the active signals into one edge weight in [0,1].
func (s Signals) Weight() float64 {
	w := wSemantic*s.Semantic +
		wTemporal*s.Temporal +
		wEmotional*s.Emotional +
		wActor*s.Actor +
		wCausal*s.Causal
	if w > 1 {
		return 1
	}
	return w
}

// Kinds lists the active signal names, for edge annotation.
func (s Signals) Kinds() []string {
	var kinds []string
	if s.Semantic > 0 {
		kinds = append(kinds, "semantic")
	}
	if s.Temporal > 0 {
		kinds = append(kinds, "temporal")
	}
	if s.Emotional > 0 {
		kinds = append(kinds, "emotional")
	}
	if s.Actor > 0 {
		kinds = append(kinds, "actor")
	}
	if s.Causal > 0 {
		kinds = append(kinds, "causal")
	}
	return kinds
}

// minEdgeWeight is the floor below which no edge is created at all.
const minEdgeWeight = 0.1

// Compare computes the relationship signals between a new event and one
// candidate from the recent window. prevEvent marks the immediately
// preceding event, the only legal target of the causal heuristic.
func Compare(ev, candidate *memory.Event, prevEvent bool, cfg Config) Signals {
	var s Signals

	if cos, ok := cosine32(ev.Embedding, candidate.Embedding); ok && cos >= cfg.SemanticThreshold {
		s.Semantic = cos
	}

	if cfg.TemporalWindow > 0 {
		gap := ev.Timestamp.Sub(candidate.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		sameThread := ev.Actor == candidate.Actor ||
			(ev.ConversationID != "" && ev.ConversationID == candidate.ConversationID)
		if sameThread && gap <= cfg.TemporalWindow {
			s.Temporal = 1 - gap.Seconds()/cfg.TemporalWindow.Seconds()
		}
	}

	if dist, ok := emotionDistance(ev.Emotions, candidate.Emotions); ok && dist <= cfg.EmotionalDistance {
		s.Emotional = 1 - dist
	}

	if ev.Actor == candidate.Actor {
		s.Actor = 0.6
	}
	if hasReferenceMarker(ev.Content) {
		s.Actor = 1
	}

	if prevEvent && hasCausalMarker(ev.Content) {
		s.Causal = 1
	}

	return s
}

// cosine32 returns the cosine similarity of two vectors, or ok=false when
// either is missing or the lengths differ — the caller skips the signal.
func cosine32(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos < 0 {
		cos = 0
	}
	return cos, true
}

// emotionDistance measures how far apart two emotion distributions are,
// in [0,1]. ok=false when either side has no emotions tagged.
func emotionDistance(a, b []memory.EmotionScore) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	labels := make(map[string]struct{}, len(a)+len(b))
	am := make(map[string]float64, len(a))
	bm := make(map[string]float64, len(b))
	for _, e := range a {
		am[e.Label] = e.Intensity
		labels[e.Label] = struct{}{}
	}
	for _, e := range b {
		bm[e.Label] = e.Intensity
		labels[e.Label] = struct{}{}
	}

	var dot, na, nb float64
	for l := range labels {
		x, y := am[l], bm[l]
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1, true
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), true
}

// causalMarkers link a turn to its immediate predecessor. Best-effort
// only: the signal carries a low slot weight and is never required.
var causalMarkers = []string{
	"because", "that's why", "thats why", "therefore", "as a result",
	"which is why", "so that's", "so thats", "that is why",
}

func hasCausalMarker(text string) bool {
	t := strings.ToLower(text)
	for _, m := range causalMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	// bare "so" only counts at the start of the turn
	return strings.HasPrefix(strings.TrimSpace(t), "so ")
}

// referenceMarkers signal an explicit callback to earlier conversation.
var referenceMarkers = []string{
	"you said", "you mentioned", "you told me", "i said", "i told you",
	"earlier", "last time", "remember when", "like i said", "as i mentioned",
}

func hasReferenceMarker(text string) bool {
	t := strings.ToLower(text)
	for _, m := range referenceMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
