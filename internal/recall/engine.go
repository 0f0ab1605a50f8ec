// Package recall is the write and read front of the memory subsystem.
// StoreMemory runs the full ingestion pipeline (tag, score, persist,
// index, link); RecallMemories re-scores stored events live and ranks
// them. The Postgres event log is the only required dependency, the
// vector and graph indexes degrade to weaker recall when absent.
package recall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/emotion"
	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/reflection"
	"github.com/nidhogg/mnemo/internal/salience"
	"github.com/nidhogg/mnemo/internal/vectorstore"
)

// Store is the durable event log the engine requires.
type Store interface {
	Insert(ctx context.Context, ev *memory.Event, terms []string) error
	GetByID(ctx context.Context, namespace, id string) (*memory.Event, error)
	GetByIDs(ctx context.Context, namespace string, ids []string) ([]*memory.Event, error)
	Query(ctx context.Context, namespace string, f memory.Filter) ([]*memory.Event, error)
	Recent(ctx context.Context, namespace string, n int) ([]*memory.Event, error)
	EventsAfter(ctx context.Context, namespace string, afterSeq int64, limit int) ([]*memory.Event, error)
	TermCounts(ctx context.Context, namespace string, terms []string) (map[string]int64, error)
	Reflection(ctx context.Context, namespace string, kind memory.ReflectionKind, periodStart time.Time) (*memory.Reflection, error)
	Reflections(ctx context.Context, namespace string, kind memory.ReflectionKind, limit int) ([]*memory.Reflection, error)
	Cleanup(ctx context.Context, namespace string, cutoff time.Time) ([]string, error)
	Stats(ctx context.Context, namespace string) (*memory.StoreStats, error)
	Namespaces(ctx context.Context) ([]string, error)
}

// Graph is the optional relationship index.
type Graph interface {
	Link(ctx context.Context, ev *memory.Event, window []*memory.Event) ([]memory.Relation, error)
	Relations(ctx context.Context, namespace, id string) ([]memory.Relation, error)
	Connectedness(ctx context.Context, namespace string, candidates, contextIDs []string) (map[string]float64, error)
	ComputeStats(ctx context.Context, namespace string) (*graph.Stats, error)
	RemoveEvents(ctx context.Context, namespace string, ids []string) error
}

// Vectors is the optional similarity index.
type Vectors interface {
	Upsert(ctx context.Context, collection, namespace, id string, vector []float32) error
	Search(ctx context.Context, collection, namespace string, vector []float32, topK uint64) ([]vectorstore.Hit, error)
	Delete(ctx context.Context, collection string, ids []string) error
}

// Reflector generates a reflection on demand when none is stored yet.
type Reflector interface {
	Generate(ctx context.Context, namespace string, kind memory.ReflectionKind, periodStart time.Time) (*memory.Reflection, error)
}

// Config tunes the engine.
type Config struct {
	Collection      string // qdrant collection name
	TopEmotions     int    // emotions kept per event
	RecentWindow    int    // events compared on insert
	RetentionDays   int
	CandidateFactor int // recall candidate pool = limit * factor
}

func (c *Config) applyDefaults() {
	if c.Collection == "" {
		c.Collection = "memories"
	}
	if c.TopEmotions <= 0 {
		c.TopEmotions = 3
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 25
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 365
	}
	if c.CandidateFactor <= 0 {
		c.CandidateFactor = 4
	}
}

// Deps bundles the engine's collaborators. Graph, Vectors, Embedder and
// Reflector may be nil.
type Deps struct {
	Store     Store
	Graph     Graph
	Vectors   Vectors
	Embedder  embedding.Provider
	Tagger    *emotion.Tagger
	Scorer    *salience.Scorer
	Reflector Reflector
}

// Engine serializes writes per namespace and keeps reads lock-free
// against the store. Writers in different namespaces never contend.
type Engine struct {
	store    Store
	graph    Graph
	vectors  Vectors
	embedder embedding.Provider
	tagger   *emotion.Tagger
	scorer   *salience.Scorer
	reflect  Reflector
	cfg      Config
	logger   *zap.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	lastTurn map[string]time.Time

	now func() time.Time
}

// New wires an Engine from its dependencies.
func New(deps Deps, cfg Config, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:    deps.Store,
		graph:    deps.Graph,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		tagger:   deps.Tagger,
		scorer:   deps.Scorer,
		reflect:  deps.Reflector,
		cfg:      cfg,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		lastTurn: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (e *Engine) nsLock(namespace string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[namespace]
	if !ok {
		l = &sync.Mutex{}
		e.locks[namespace] = l
	}
	return l
}

func (e *Engine) prevTurn(namespace string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTurn[namespace]
}

func (e *Engine) setPrevTurn(namespace string, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ts.After(e.lastTurn[namespace]) {
		e.lastTurn[namespace] = ts
	}
}

const insertAttempts = 3

// StoreMemory runs one turn through the ingestion pipeline. When it
// returns without error the event is durably committed and immediately
// visible to recall; vector and graph indexing are best effort on top.
func (e *Engine) StoreMemory(ctx context.Context, turn memory.Turn) (*memory.Event, error) {
	if turn.Namespace == "" {
		return nil, fmt.Errorf("turn namespace is required")
	}
	if turn.Actor == "" {
		turn.Actor = memory.ActorUser
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = e.now().UTC()
	}

	lock := e.nsLock(turn.Namespace)
	lock.Lock()
	defer lock.Unlock()

	tagged := e.tagger.Tag(turn.Text, emotion.TurnContext{
		Actor:            turn.Actor,
		Timestamp:        turn.Timestamp,
		ConversationType: turn.EventType,
		PrevTurn:         e.prevTurn(turn.Namespace),
	})

	tokens := emotion.Tokenize(turn.Text)
	terms := contentTerms(tokens)
	counts, err := e.store.TermCounts(ctx, turn.Namespace, terms)
	if err != nil {
		// novelty data is a scoring input, not a durability requirement
		e.logger.Warn("term counts unavailable", zap.Error(err))
		counts = nil
	}

	factors := e.scorer.Factors(turn.Text, tokens, tagged.Emotions, counts)
	ev := &memory.Event{
		Namespace:      turn.Namespace,
		ConversationID: turn.ConversationID,
		Content:        turn.Text,
		Actor:          turn.Actor,
		EventType:      turn.EventType,
		Timestamp:      turn.Timestamp,
		Emotions:       tagged.Primary(e.cfg.TopEmotions),
		Dominant:       tagged.Dominant,
		Sentiment:      tagged.Sentiment,
		Factors:        factors,
		Salience:       e.scorer.Score(factors, 0),
	}

	if e.embedder != nil && turn.Text != "" {
		vecs, err := e.embedder.Embed(ctx, []string{turn.Text})
		if err != nil {
			e.logger.Warn("embedding failed, event stored without vector",
				zap.String("namespace", turn.Namespace), zap.Error(err))
		} else if len(vecs) == 1 {
			ev.Embedding = vecs[0]
		}
	}

	if err := e.insertWithRetry(ctx, ev, terms); err != nil {
		return nil, err
	}
	e.setPrevTurn(turn.Namespace, ev.Timestamp)

	// secondary indexes are derivative; failures degrade recall quality
	// but the committed event is already the source of truth
	if e.vectors != nil && len(ev.Embedding) > 0 {
		if err := e.vectors.Upsert(ctx, e.cfg.Collection, ev.Namespace, ev.ID, ev.Embedding); err != nil {
			e.logger.Warn("vector index update failed",
				zap.String("id", ev.ID), zap.Error(err))
		}
	}
	if e.graph != nil {
		window, err := e.store.Recent(ctx, ev.Namespace, e.cfg.RecentWindow+1)
		if err != nil {
			e.logger.Warn("recent window unavailable, event not linked", zap.Error(err))
		} else if rels, err := e.graph.Link(ctx, ev, trimSelf(window, ev.ID)); err != nil {
			e.logger.Warn("graph linking failed", zap.String("id", ev.ID), zap.Error(err))
		} else {
			ev.Relations = rels
		}
	}
	return ev, nil
}

// insertWithRetry retries transient storage failures with exponential
// backoff. Anything else fails fast.
func (e *Engine) insertWithRetry(ctx context.Context, ev *memory.Event, terms []string) error {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = e.store.Insert(ctx, ev, terms); err == nil {
			return nil
		}
		if !memory.IsStorage(err) {
			return err
		}
		e.logger.Warn("event insert failed",
			zap.String("namespace", ev.Namespace),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("insert after %d attempts: %w", insertAttempts, err)
}

// trimSelf drops the just-inserted event from its own recent window.
func trimSelf(window []*memory.Event, id string) []*memory.Event {
	out := window[:0]
	for _, ev := range window {
		if ev.ID != id {
			out = append(out, ev)
		}
	}
	return out
}

// contentTerms returns the unique tokens worth tracking in term
// statistics.
func contentTerms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, tok := range tokens {
		if len(tok) < 3 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// GetMemory fetches one stored event and attaches its graph relations
// when the index is reachable.
func (e *Engine) GetMemory(ctx context.Context, namespace, id string) (*memory.Event, error) {
	ev, err := e.store.GetByID(ctx, namespace, id)
	if err != nil {
		return nil, err
	}
	if e.graph != nil {
		rels, err := e.graph.Relations(ctx, namespace, id)
		if err != nil {
			e.logger.Warn("relations unavailable", zap.String("id", id), zap.Error(err))
		} else {
			ev.Relations = rels
		}
	}
	return ev, nil
}

// Query describes one recall request.
type Query struct {
	Namespace   string   `json:"namespace"`
	Text        string   `json:"text"`
	Limit       int      `json:"limit"`
	MinSalience float64  `json:"min_salience"`
	Emotion     string   `json:"emotion"`
	ContextIDs  []string `json:"context_ids"` // recent conversation events, for graph-aware ranking
}

// RecallMemories gathers candidates from the vector index and the event
// log, re-scores them with live recency decay, filters, and ranks. The
// stored salience snapshot is never modified.
func (e *Engine) RecallMemories(ctx context.Context, q Query) ([]ScoredMemory, error) {
	if q.Namespace == "" {
		return nil, fmt.Errorf("query namespace is required")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	pool := q.Limit * e.cfg.CandidateFactor

	candidates := make(map[string]*memory.Event)

	if e.vectors != nil && e.embedder != nil && q.Text != "" {
		if ids, err := e.vectorCandidates(ctx, q, pool); err != nil {
			e.logger.Warn("vector search degraded to text recall", zap.Error(err))
		} else if len(ids) > 0 {
			events, err := e.store.GetByIDs(ctx, q.Namespace, ids)
			if err != nil {
				return nil, err
			}
			for _, ev := range events {
				candidates[ev.ID] = ev
			}
		}
	}

	events, err := e.store.Query(ctx, q.Namespace, memory.Filter{
		TextSearch: q.Text,
		Emotion:    q.Emotion,
		Limit:      pool,
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		candidates[ev.ID] = ev
	}

	now := e.now()
	scored := make([]ScoredMemory, 0, len(candidates))
	for _, ev := range candidates {
		if q.Emotion != "" && !hasEmotion(ev, q.Emotion) {
			continue
		}
		live := e.scorer.Score(ev.Factors, now.Sub(ev.Timestamp))
		if live < q.MinSalience {
			continue
		}
		scored = append(scored, ScoredMemory{Event: ev, Salience: live})
	}

	if e.graph != nil && len(q.ContextIDs) > 0 && len(scored) > 0 {
		ids := make([]string, 0, len(scored))
		for _, sm := range scored {
			ids = append(ids, sm.Event.ID)
		}
		conn, err := e.graph.Connectedness(ctx, q.Namespace, ids, q.ContextIDs)
		if err != nil {
			e.logger.Warn("connectedness unavailable", zap.Error(err))
		} else {
			for i := range scored {
				scored[i].Connected = conn[scored[i].Event.ID]
			}
		}
	}

	Rank(scored)
	if len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}
	return scored, nil
}

func (e *Engine) vectorCandidates(ctx context.Context, q Query, pool int) ([]string, error) {
	vecs, err := e.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one text", len(vecs))
	}
	hits, err := e.vectors.Search(ctx, e.cfg.Collection, q.Namespace, vecs[0], uint64(pool))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// DailyReflection returns the stored daily reflection for date,
// generating it on demand when missing.
func (e *Engine) DailyReflection(ctx context.Context, namespace string, date time.Time) (*memory.Reflection, error) {
	return e.reflection(ctx, namespace, memory.ReflectionDaily, dayStart(date))
}

// WeeklyReflection returns the weekly reflection for the week containing
// date, generating it on demand when missing.
func (e *Engine) WeeklyReflection(ctx context.Context, namespace string, date time.Time) (*memory.Reflection, error) {
	return e.reflection(ctx, namespace, memory.ReflectionWeekly, weekStart(date))
}

func (e *Engine) reflection(ctx context.Context, namespace string, kind memory.ReflectionKind, start time.Time) (*memory.Reflection, error) {
	r, err := e.store.Reflection(ctx, namespace, kind, start)
	if err == nil {
		return r, nil
	}
	if err != memory.ErrNotFound {
		return nil, err
	}
	if e.reflect == nil {
		return nil, memory.ErrNotFound
	}
	return e.reflect.Generate(ctx, namespace, kind, start)
}

// ListReflections pages a namespace's stored reflections, newest first.
func (e *Engine) ListReflections(ctx context.Context, namespace string, kind memory.ReflectionKind, limit int) ([]*memory.Reflection, error) {
	return e.store.Reflections(ctx, namespace, kind, limit)
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday-based
	return d.AddDate(0, 0, -offset)
}

// TypeCount is one event-type frequency inside a pattern window.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Patterns summarizes recurring structure over a trailing window.
type Patterns struct {
	Namespace  string       `json:"namespace"`
	WindowDays int          `json:"window_days"`
	EventCount int          `json:"event_count"`
	Tone       memory.Tone  `json:"emotional_tone"`
	EventTypes []TypeCount  `json:"event_types"`
	Graph      *graph.Stats `json:"graph,omitempty"`
}

// AnalyzePatterns aggregates tone, event-type mix, and graph structure
// over the trailing window. Graph stats are best effort.
func (e *Engine) AnalyzePatterns(ctx context.Context, namespace string, days int) (*Patterns, error) {
	if days <= 0 {
		days = 30
	}
	since := e.now().AddDate(0, 0, -days)
	events, err := e.store.Query(ctx, namespace, memory.Filter{Since: since})
	if err != nil {
		return nil, err
	}

	p := &Patterns{
		Namespace:  namespace,
		WindowDays: days,
		EventCount: len(events),
		Tone:       reflection.AggregateTone(events),
		EventTypes: countTypes(events),
	}

	if e.graph != nil {
		stats, err := e.graph.ComputeStats(ctx, namespace)
		if err != nil {
			e.logger.Warn("graph stats unavailable", zap.Error(err))
		} else {
			p.Graph = stats
		}
	}
	return p, nil
}

// Statistics combines stored-state and graph-structure summaries.
type Statistics struct {
	Store *memory.StoreStats `json:"store"`
	Graph *graph.Stats       `json:"graph,omitempty"`
}

// Statistics reports a namespace's stored state; graph structure is
// included when the graph index is reachable.
func (e *Engine) Statistics(ctx context.Context, namespace string) (*Statistics, error) {
	st, err := e.store.Stats(ctx, namespace)
	if err != nil {
		return nil, err
	}
	out := &Statistics{Store: st}
	if e.graph != nil {
		gs, err := e.graph.ComputeStats(ctx, namespace)
		if err != nil {
			e.logger.Warn("graph stats unavailable", zap.Error(err))
		} else {
			out.Graph = gs
		}
	}
	return out, nil
}

// Cleanup hard-deletes events past the retention horizon and evicts them
// from the secondary indexes. Holds the namespace write lock so no
// concurrent ingestion races the deletion.
func (e *Engine) Cleanup(ctx context.Context, namespace string) (int, error) {
	lock := e.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	cutoff := e.now().AddDate(0, 0, -e.cfg.RetentionDays)
	ids, err := e.store.Cleanup(ctx, namespace, cutoff)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if e.vectors != nil {
		if err := e.vectors.Delete(ctx, e.cfg.Collection, ids); err != nil {
			e.logger.Warn("vector eviction incomplete", zap.Error(err))
		}
	}
	if e.graph != nil {
		if err := e.graph.RemoveEvents(ctx, namespace, ids); err != nil {
			e.logger.Warn("graph eviction incomplete", zap.Error(err))
		}
	}
	return len(ids), nil
}

// Namespaces lists every namespace with stored events.
func (e *Engine) Namespaces(ctx context.Context) ([]string, error) {
	return e.store.Namespaces(ctx)
}

// RebuildIndex replays the event log in creation order, repopulating the
// vector index and graph edges from durable state. Returns the number of
// events replayed.
func (e *Engine) RebuildIndex(ctx context.Context, namespace string) (int, error) {
	lock := e.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	var after int64
	var replayed int
	var window []*memory.Event // newest first, bounded by RecentWindow

	for {
		batch, err := e.store.EventsAfter(ctx, namespace, after, 200)
		if err != nil {
			return replayed, err
		}
		if len(batch) == 0 {
			break
		}
		for _, ev := range batch {
			after = ev.Seq

			if e.vectors != nil {
				vec := ev.Embedding
				if len(vec) == 0 && e.embedder != nil {
					if vecs, err := e.embedder.Embed(ctx, []string{ev.Content}); err == nil && len(vecs) == 1 {
						vec = vecs[0]
					}
				}
				if len(vec) > 0 {
					if err := e.vectors.Upsert(ctx, e.cfg.Collection, namespace, ev.ID, vec); err != nil {
						e.logger.Warn("rebuild upsert failed", zap.String("id", ev.ID), zap.Error(err))
					}
				}
			}
			if e.graph != nil && len(window) > 0 {
				if _, err := e.graph.Link(ctx, ev, window); err != nil {
					e.logger.Warn("rebuild link failed", zap.String("id", ev.ID), zap.Error(err))
				}
			}

			window = append([]*memory.Event{ev}, window...)
			if len(window) > e.cfg.RecentWindow {
				window = window[:e.cfg.RecentWindow]
			}
			replayed++
		}
	}
	e.logger.Info("index rebuilt",
		zap.String("namespace", namespace),
		zap.Int("events", replayed))
	return replayed, nil
}
