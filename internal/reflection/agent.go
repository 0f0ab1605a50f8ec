// Package reflection distills windows of memory events into structured
// summaries. Reflections are assembled from fields the events already
// carry; no text is generated.
package reflection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/salience"
)

// EventSource is the slice of the store the agent reads and writes.
type EventSource interface {
	EventsBetween(ctx context.Context, namespace string, start, end time.Time) ([]*memory.Event, error)
	SaveReflection(ctx context.Context, r *memory.Reflection) error
}

// EdgeSource exposes graph membership for theme clustering.
type EdgeSource interface {
	EdgesAmong(ctx context.Context, namespace string, ids []string) ([]graph.Edge, error)
}

// Config tunes reflection assembly.
type Config struct {
	TopN              int     // key events per window
	LearningThreshold float64 // min live salience for a learning moment
}

// insightTypes mark events that qualify as learning moments.
var insightTypes = map[string]bool{
	"learning":    true,
	"insight":     true,
	"realization": true,
	"discovery":   true,
	"decision":    true,
}

// Agent generates reflections over store windows. A failed window is
// discarded whole: nothing is persisted unless assembly succeeded.
type Agent struct {
	events EventSource
	edges  EdgeSource
	scorer *salience.Scorer
	cfg    Config
	logger *zap.Logger

	now func() time.Time
}

// New creates an Agent. edges may be nil; themes then degrade to
// singleton clusters.
func New(events EventSource, edges EdgeSource, scorer *salience.Scorer, cfg Config, logger *zap.Logger) *Agent {
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	return &Agent{
		events: events,
		edges:  edges,
		scorer: scorer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Generate builds and persists the reflection for one window,
// replacing any prior version of the same window.
func (a *Agent) Generate(ctx context.Context, namespace string, kind memory.ReflectionKind, periodStart time.Time) (*memory.Reflection, error) {
	periodStart = periodStart.UTC()
	periodEnd := windowEnd(kind, periodStart)

	events, err := a.events.EventsBetween(ctx, namespace, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("reflection window %s: %w", periodStart.Format("2006-01-02"), err)
	}

	var prior []*memory.Event
	if kind == memory.ReflectionWeekly {
		priorStart := periodStart.AddDate(0, 0, -7)
		prior, err = a.events.EventsBetween(ctx, namespace, priorStart, periodStart)
		if err != nil {
			return nil, fmt.Errorf("prior window %s: %w", priorStart.Format("2006-01-02"), err)
		}
	}

	r := a.assemble(ctx, namespace, kind, periodStart, periodEnd, events, prior)

	if err := a.events.SaveReflection(ctx, r); err != nil {
		return nil, err
	}
	a.logger.Info("reflection generated",
		zap.String("namespace", namespace),
		zap.String("kind", string(kind)),
		zap.Time("period_start", periodStart),
		zap.Int("events", len(events)),
		zap.Bool("empty", r.Empty))
	return r, nil
}

func (a *Agent) assemble(ctx context.Context, namespace string, kind memory.ReflectionKind, start, end time.Time, events, prior []*memory.Event) *memory.Reflection {
	r := &memory.Reflection{
		ID:          uuid.New().String(),
		Namespace:   namespace,
		Kind:        kind,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedAt:   a.now().UTC(),
	}

	if len(events) == 0 {
		// an empty window is a defined neutral artifact, not an error
		r.Empty = true
		r.Tone = memory.Tone{Dominant: "neutral"}
		if kind == memory.ReflectionWeekly {
			r.Trend = memory.TrendStable
		}
		return r
	}

	asOf := a.now()
	top := TopEvents(events, a.scorer, asOf, a.cfg.TopN)
	for _, se := range top {
		r.KeyEvents = append(r.KeyEvents, se.Event.ID)
	}

	var edges []graph.Edge
	if a.edges != nil && len(r.KeyEvents) > 1 {
		var err error
		edges, err = a.edges.EdgesAmong(ctx, namespace, r.KeyEvents)
		if err != nil {
			// themes degrade to singletons; the reflection still assembles
			a.logger.Warn("theme clustering degraded", zap.Error(err))
			edges = nil
		}
	}
	r.Themes = Themes(top, edges)
	r.LearningMoments = LearningMoments(top, a.cfg.LearningThreshold)
	r.Tone = AggregateTone(events)

	if kind == memory.ReflectionWeekly {
		r.Trend = ClassifyTrend(events, prior)
	}
	return r
}

func windowEnd(kind memory.ReflectionKind, start time.Time) time.Time {
	if kind == memory.ReflectionWeekly {
		return start.AddDate(0, 0, 7)
	}
	return start.AddDate(0, 0, 1)
}

// ScoredEvent pairs an event with its live salience.
type ScoredEvent struct {
	Event *memory.Event
	Live  float64
}

// TopEvents ranks a window by live salience and keeps the top n.
func TopEvents(events []*memory.Event, scorer *salience.Scorer, asOf time.Time, n int) []ScoredEvent {
	scored := make([]ScoredEvent, 0, len(events))
	for _, ev := range events {
		scored = append(scored, ScoredEvent{
			Event: ev,
			Live:  scorer.Score(ev.Factors, asOf.Sub(ev.Timestamp)),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Live != scored[j].Live {
			return scored[i].Live > scored[j].Live
		}
		return scored[i].Event.Seq > scored[j].Event.Seq
	})
	if n < len(scored) {
		scored = scored[:n]
	}
	return scored
}

// Themes groups key events into clusters using graph membership. Events
// with no edges inside the selection become singleton themes.
func Themes(top []ScoredEvent, edges []graph.Edge) []memory.Theme {
	byID := make(map[string]*memory.Event, len(top))
	for _, se := range top {
		byID[se.Event.ID] = se.Event
	}

	var themes []memory.Theme
	clustered := make(map[string]bool)
	for _, members := range graph.Clusters(edges) {
		theme := memory.Theme{EventIDs: members}
		theme.Label = themeLabel(members, byID)
		for _, id := range members {
			clustered[id] = true
		}
		themes = append(themes, theme)
	}
	for _, se := range top {
		if clustered[se.Event.ID] {
			continue
		}
		themes = append(themes, memory.Theme{
			Label:    themeLabel([]string{se.Event.ID}, byID),
			EventIDs: []string{se.Event.ID},
		})
	}
	return themes
}

// themeLabel names a cluster by its most common event type, falling back
// to the dominant emotion, then "general".
func themeLabel(ids []string, byID map[string]*memory.Event) string {
	typeCounts := make(map[string]int)
	emotionCounts := make(map[string]int)
	for _, id := range ids {
		ev, ok := byID[id]
		if !ok {
			continue
		}
		if ev.EventType != "" {
			typeCounts[ev.EventType]++
		}
		if ev.Dominant != "" && ev.Dominant != "neutral" {
			emotionCounts[ev.Dominant]++
		}
	}
	if label := mostCommon(typeCounts); label != "" {
		return label
	}
	if label := mostCommon(emotionCounts); label != "" {
		return label
	}
	return "general"
}

func mostCommon(counts map[string]int) string {
	var best string
	var bestN int
	for label, n := range counts {
		if n > bestN || (n == bestN && label < best) {
			best, bestN = label, n
		}
	}
	return best
}

// LearningMoments returns the insight-tagged key events above the
// salience threshold, preserving key-event order.
func LearningMoments(top []ScoredEvent, threshold float64) []string {
	var out []string
	for _, se := range top {
		if insightTypes[se.Event.EventType] && se.Live >= threshold {
			out = append(out, se.Event.ID)
		}
	}
	return out
}

// AggregateTone computes the intensity-weighted emotional average of a
// window.
func AggregateTone(events []*memory.Event) memory.Tone {
	if len(events) == 0 {
		return memory.Tone{Dominant: "neutral"}
	}

	sums := make(map[string]float64)
	var sentimentSum, sentimentWeight float64
	for _, ev := range events {
		var maxIntensity float64
		for _, e := range ev.Emotions {
			sums[e.Label] += e.Intensity
			if e.Intensity > maxIntensity {
				maxIntensity = e.Intensity
			}
		}
		w := maxIntensity
		if w == 0 {
			w = 0.1 // neutral turns still pull sentiment toward zero
		}
		sentimentSum += ev.Sentiment * w
		sentimentWeight += w
	}

	tone := memory.Tone{Dominant: "neutral"}
	if sentimentWeight > 0 {
		tone.Sentiment = sentimentSum / sentimentWeight
	}

	n := float64(len(events))
	for label, total := range sums {
		tone.Emotions = append(tone.Emotions, memory.EmotionScore{Label: label, Intensity: total / n})
	}
	sort.Slice(tone.Emotions, func(i, j int) bool {
		if tone.Emotions[i].Intensity != tone.Emotions[j].Intensity {
			return tone.Emotions[i].Intensity > tone.Emotions[j].Intensity
		}
		return tone.Emotions[i].Label < tone.Emotions[j].Label
	})
	if len(tone.Emotions) > 0 {
		tone.Dominant = tone.Emotions[0].Label
	}
	return tone
}

// trendEpsilon separates real movement from noise between windows.
const trendEpsilon = 0.05

// ClassifyTrend compares a window against the prior one on a blend of
// stored salience and sentiment.
func ClassifyTrend(current, prior []*memory.Event) memory.Trend {
	if len(current) == 0 || len(prior) == 0 {
		return memory.TrendStable
	}
	delta := wellbeing(current) - wellbeing(prior)
	switch {
	case delta > trendEpsilon:
		return memory.TrendImproving
	case delta < -trendEpsilon:
		return memory.TrendDeclining
	default:
		return memory.TrendStable
	}
}

// wellbeing blends mean stored salience with mean sentiment, in [0,1].
func wellbeing(events []*memory.Event) float64 {
	var sal, sent float64
	for _, ev := range events {
		sal += ev.Salience
		sent += ev.Sentiment
	}
	n := float64(len(events))
	return 0.5*(sal/n) + 0.5*((sent/n)+1)/2
}
