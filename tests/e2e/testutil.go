package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/emotion"
	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/recall"
	"github.com/nidhogg/mnemo/internal/reflection"
	"github.com/nidhogg/mnemo/internal/salience"
	"github.com/nidhogg/mnemo/internal/store"
)

// Suppress unused import warning for testcontainers base package.
var _ = testcontainers.GenericContainerRequest{}

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger    *zap.Logger
	testStore     *store.Store
	testGraph     *graph.Graph
	testEngine    *recall.Engine
	testReflector *reflection.Agent
	testRedisURL  string
)

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("mnemo_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// buildEngine wires the full pipeline against the live containers.
// Qdrant is deliberately absent so recall exercises the text fallback.
func buildEngine() {
	embedder := embedding.NewHashProvider(64)
	tagger := emotion.NewTagger(emotion.DefaultLexicon())
	scorer := salience.NewScorer(salience.DefaultWeights(), 168, nil)

	testReflector = reflection.New(testStore, testGraph, scorer, reflection.Config{}, testLogger)

	deps := recall.Deps{
		Store:     testStore,
		Embedder:  embedder,
		Tagger:    tagger,
		Scorer:    scorer,
		Reflector: testReflector,
	}
	if testGraph != nil {
		deps.Graph = testGraph
	}
	testEngine = recall.New(deps, recall.Config{
		RetentionDays: 30,
	}, testLogger)
}

type seedTurn struct {
	Text      string  `json:"text"`
	Actor     string  `json:"actor"`
	EventType string  `json:"event_type"`
	HoursAgo  float64 `json:"hours_ago"`
}

// seedTurns replays the scripted conversation from testdata into the
// namespace. Returns the stored events in insertion order.
func seedTurns(ctx context.Context, namespace string) ([]*memory.Event, error) {
	data, err := os.ReadFile("testdata/seed_turns.json")
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var turns []seedTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse seed data: %w", err)
	}

	now := time.Now().UTC()
	events := make([]*memory.Event, 0, len(turns))
	for _, st := range turns {
		ev, err := testEngine.StoreMemory(ctx, memory.Turn{
			Namespace:      namespace,
			ConversationID: "seed-conv",
			Text:           st.Text,
			Actor:          memory.Actor(st.Actor),
			EventType:      st.EventType,
			Timestamp:      now.Add(-time.Duration(st.HoursAgo * float64(time.Hour))),
		})
		if err != nil {
			return nil, fmt.Errorf("store turn %q: %w", st.Text, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
