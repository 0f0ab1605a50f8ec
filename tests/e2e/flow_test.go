package e2e

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/jobs"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/recall"
	"github.com/nidhogg/mnemo/internal/store"
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	// 1. Start PostgreSQL
	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}
	defer pgCleanup()

	testStore, err = store.New(ctx, pgDSN, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer testStore.Close()

	if err := testStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	// 2. Start Neo4j
	neo4jURI, neo4jCleanup, err := startNeo4j(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "neo4j: %v\n", err)
		os.Exit(1)
	}
	defer neo4jCleanup()

	testGraph, err = graph.New(neo4jURI, "", "", graph.Config{
		SemanticThreshold: 0.75,
		TemporalWindow:    30 * time.Minute,
		EmotionalDistance: 0.5,
		MaxConnections:    10,
	}, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graph: %v\n", err)
		os.Exit(1)
	}
	defer testGraph.Close(ctx)
	if err := testGraph.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "graph ping: %v\n", err)
		os.Exit(1)
	}

	// 3. Start Redis
	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer redisCleanup()
	testRedisURL = redisURL

	buildEngine()

	os.Exit(m.Run())
}

func TestMemoryFlow(t *testing.T) {
	ctx := context.Background()
	const ns = "e2e:user-1"

	seeded, err := seedTurns(ctx, ns)
	if err != nil {
		t.Fatalf("seed turns: %v", err)
	}
	t.Logf("Seeded %d events into %s", len(seeded), ns)

	t.Run("StoreDurability", func(t *testing.T) {
		first := seeded[0]
		if first.ID == "" || first.Seq == 0 {
			t.Fatalf("event not assigned durable identity: id=%q seq=%d", first.ID, first.Seq)
		}
		if first.Dominant != "joy" {
			t.Errorf("dominant = %q, want joy for an excited booking message", first.Dominant)
		}
		if first.Salience <= 0 || first.Salience > 1 {
			t.Errorf("salience snapshot = %f, want (0,1]", first.Salience)
		}

		got, err := testEngine.GetMemory(ctx, ns, first.ID)
		if err != nil {
			t.Fatalf("GetMemory after ack: %v", err)
		}
		if got.Content != first.Content {
			t.Errorf("round-tripped content = %q, want %q", got.Content, first.Content)
		}
	})

	t.Run("TextRecall", func(t *testing.T) {
		res, err := testEngine.RecallMemories(ctx, recall.Query{
			Namespace: ns,
			Text:      "piano recital",
			Limit:     5,
		})
		if err != nil {
			t.Fatalf("RecallMemories: %v", err)
		}
		if len(res) == 0 {
			t.Fatal("expected recital memories, got 0")
		}
		for i, sm := range res {
			if !strings.Contains(strings.ToLower(sm.Event.Content), "recital") {
				t.Errorf("result %d does not mention the recital: %q", i, sm.Event.Content)
			}
			if i > 0 && res[i].Salience > res[i-1].Salience {
				t.Errorf("results not sorted: [%d]=%f > [%d]=%f",
					i, res[i].Salience, i-1, res[i-1].Salience)
			}
		}
		t.Logf("Recalled %d recital memories, top salience %.3f", len(res), res[0].Salience)
	})

	t.Run("EmotionFilter", func(t *testing.T) {
		res, err := testEngine.RecallMemories(ctx, recall.Query{
			Namespace: ns,
			Emotion:   "joy",
			Limit:     10,
		})
		if err != nil {
			t.Fatalf("RecallMemories: %v", err)
		}
		if len(res) == 0 {
			t.Fatal("expected joyful memories, got 0")
		}
		for _, sm := range res {
			found := false
			for _, e := range sm.Event.Emotions {
				if e.Label == "joy" {
					found = true
				}
			}
			if !found {
				t.Errorf("event %q passed the joy filter without a joy tag", sm.Event.Content)
			}
		}
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		res, err := testEngine.RecallMemories(ctx, recall.Query{
			Namespace: "e2e:somebody-else",
			Text:      "recital",
			Limit:     10,
		})
		if err != nil {
			t.Fatalf("RecallMemories: %v", err)
		}
		if len(res) != 0 {
			t.Errorf("foreign namespace leaked %d events", len(res))
		}
	})

	t.Run("GraphLinks", func(t *testing.T) {
		// later seeds land 15 minutes after a same-thread predecessor,
		// inside the temporal window
		linked := 0
		for _, ev := range seeded[1:] {
			rels, err := testGraph.Relations(ctx, ns, ev.ID)
			if err != nil {
				t.Fatalf("Relations: %v", err)
			}
			if len(rels) > 0 {
				linked++
			}
		}
		if linked == 0 {
			t.Error("no seeded event acquired graph edges")
		}
		t.Logf("%d/%d events linked in the graph", linked, len(seeded)-1)
	})

	t.Run("DailyReflection", func(t *testing.T) {
		ref, err := testEngine.DailyReflection(ctx, ns, time.Now().UTC())
		if err != nil {
			t.Fatalf("DailyReflection: %v", err)
		}
		if ref.Empty {
			t.Fatal("reflection empty despite seeded events today")
		}
		if len(ref.KeyEvents) == 0 {
			t.Error("expected key events in the daily reflection")
		}
		if ref.Tone.Dominant == "" {
			t.Error("expected an aggregated dominant tone")
		}

		// second read must serve the stored reflection, not regenerate
		again, err := testEngine.DailyReflection(ctx, ns, time.Now().UTC())
		if err != nil {
			t.Fatalf("DailyReflection (cached): %v", err)
		}
		if again.ID != ref.ID {
			t.Errorf("reflection regenerated: id %s != %s", again.ID, ref.ID)
		}
		t.Logf("Reflection %s: tone=%s, %d key events, %d themes",
			ref.ID, ref.Tone.Dominant, len(ref.KeyEvents), len(ref.Themes))
	})

	t.Run("PatternsAndStats", func(t *testing.T) {
		p, err := testEngine.AnalyzePatterns(ctx, ns, 7)
		if err != nil {
			t.Fatalf("AnalyzePatterns: %v", err)
		}
		if p.EventCount < len(seeded) {
			t.Errorf("pattern window saw %d events, want >= %d", p.EventCount, len(seeded))
		}
		types := make(map[string]bool)
		for _, tc := range p.EventTypes {
			types[tc.Type] = true
		}
		if !types["conversation"] || !types["insight"] {
			t.Errorf("event type mix incomplete: %v", p.EventTypes)
		}

		st, err := testEngine.Statistics(ctx, ns)
		if err != nil {
			t.Fatalf("Statistics: %v", err)
		}
		if st.Store.EventCount < int64(len(seeded)) {
			t.Errorf("store stats count %d, want >= %d", st.Store.EventCount, len(seeded))
		}
		if st.Graph == nil {
			t.Error("expected graph stats with a live graph")
		}
	})

	t.Run("JobBus", func(t *testing.T) {
		bus, err := jobs.NewBus(testRedisURL, testLogger)
		if err != nil {
			t.Fatalf("create bus: %v", err)
		}
		t.Cleanup(func() { bus.Close() })

		subCtx, cancel := context.WithCancel(ctx)
		t.Cleanup(cancel)
		ch := bus.Subscribe(subCtx)
		time.Sleep(200 * time.Millisecond) // let the reader block on the stream

		job := &jobs.Job{Kind: jobs.KindCleanup, Namespace: ns}
		if err := bus.Publish(ctx, job); err != nil {
			t.Fatalf("publish: %v", err)
		}

		select {
		case got := <-ch:
			if got.Kind != jobs.KindCleanup || got.Namespace != ns {
				t.Errorf("received job %+v, want cleanup for %s", got, ns)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("job never arrived on the stream")
		}
	})

	t.Run("RetentionCleanup", func(t *testing.T) {
		old, err := testEngine.StoreMemory(ctx, memory.Turn{
			Namespace: ns,
			Text:      "An old note about a dentist appointment.",
			Actor:     memory.ActorUser,
			Timestamp: time.Now().UTC().AddDate(0, 0, -45),
		})
		if err != nil {
			t.Fatalf("store old event: %v", err)
		}

		removed, err := testEngine.Cleanup(ctx, ns)
		if err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
		if removed == 0 {
			t.Fatal("expected at least the 45-day-old event to be removed")
		}
		if _, err := testEngine.GetMemory(ctx, ns, old.ID); err != memory.ErrNotFound {
			t.Errorf("old event still readable after cleanup: err=%v", err)
		}

		// fresh seeds stay inside the retention horizon
		if _, err := testEngine.GetMemory(ctx, ns, seeded[0].ID); err != nil {
			t.Errorf("recent event lost in cleanup: %v", err)
		}
	})

	t.Run("RebuildIndex", func(t *testing.T) {
		replayed, err := testEngine.RebuildIndex(ctx, ns)
		if err != nil {
			t.Fatalf("RebuildIndex: %v", err)
		}
		if replayed < len(seeded) {
			t.Errorf("replayed %d events, want >= %d", replayed, len(seeded))
		}

		res, err := testEngine.RecallMemories(ctx, recall.Query{
			Namespace: ns,
			Text:      "recital",
			Limit:     5,
		})
		if err != nil {
			t.Fatalf("recall after rebuild: %v", err)
		}
		if len(res) == 0 {
			t.Error("recall empty after rebuild")
		}
	})
}
