package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/api"
	"github.com/nidhogg/mnemo/internal/config"
	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/emotion"
	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/ingest"
	"github.com/nidhogg/mnemo/internal/jobs"
	"github.com/nidhogg/mnemo/internal/recall"
	"github.com/nidhogg/mnemo/internal/reflection"
	"github.com/nidhogg/mnemo/internal/salience"
	"github.com/nidhogg/mnemo/internal/store"
	"github.com/nidhogg/mnemo/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting mnemo...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mnemo.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// Postgres is the source of truth; without it there is nothing to run.
	st, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	if err := st.Migrate(ctx, "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Everything below degrades gracefully when unreachable.
	var memGraph *graph.Graph
	if cfg.Database.Neo4j.URI != "" {
		g, gErr := graph.New(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password,
			graph.Config{
				SemanticThreshold: cfg.Memory.Graph.SemanticThreshold,
				TemporalWindow:    time.Duration(cfg.Memory.Graph.TemporalWindowMins) * time.Minute,
				EmotionalDistance: cfg.Memory.Graph.EmotionalDistance,
				MaxConnections:    cfg.Memory.Graph.MaxConnections,
			}, logger)
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without the memory graph", zap.Error(gErr))
		} else if pErr := g.Ping(ctx); pErr != nil {
			logger.Warn("Neo4j unreachable, running without the memory graph", zap.Error(pErr))
			g.Close(ctx)
		} else {
			memGraph = g
		}
	}

	embedder := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})

	var vectors *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		vc, vErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if vErr != nil {
			logger.Warn("Qdrant unavailable, running without vector recall", zap.Error(vErr))
		} else if cErr := vc.EnsureCollection(ctx, "memories", uint64(embedder.Dimension())); cErr != nil {
			logger.Warn("Qdrant collection setup failed, running without vector recall", zap.Error(cErr))
			vc.Close()
		} else {
			vectors = vc
		}
	}

	tagger := emotion.NewTagger(emotion.DefaultLexicon())
	scorer := salience.NewScorer(salience.Weights{
		Recency:    cfg.Memory.SalienceWeights.Recency,
		Frequency:  cfg.Memory.SalienceWeights.Frequency,
		Emotional:  cfg.Memory.SalienceWeights.Emotional,
		Engagement: cfg.Memory.SalienceWeights.Engagement,
		Contextual: cfg.Memory.SalienceWeights.Contextual,
	}, cfg.Memory.HalfLifeHours, cfg.Memory.TopicCategories)

	var edgeSource reflection.EdgeSource
	if memGraph != nil {
		edgeSource = memGraph
	}
	reflector := reflection.New(st, edgeSource, scorer, reflection.Config{
		TopN:              cfg.Memory.Reflection.TopN,
		LearningThreshold: cfg.Memory.Reflection.LearningThreshold,
	}, logger)

	deps := recall.Deps{
		Store:     st,
		Embedder:  embedder,
		Tagger:    tagger,
		Scorer:    scorer,
		Reflector: reflector,
	}
	if memGraph != nil {
		deps.Graph = memGraph
	}
	if vectors != nil {
		deps.Vectors = vectors
	}
	engine := recall.New(deps, recall.Config{
		Collection:    "memories",
		TopEmotions:   cfg.Memory.TopEmotions,
		RecentWindow:  cfg.Memory.Graph.RecentWindow,
		RetentionDays: cfg.Memory.RetentionDays,
	}, logger)

	var bus *jobs.Bus
	if cfg.Database.Redis.URL != "" {
		b, bErr := jobs.NewBus(cfg.Database.Redis.URL, logger)
		if bErr != nil {
			logger.Warn("Redis unavailable, jobs run in-process only", zap.Error(bErr))
		} else {
			bus = b
		}
	}

	schedCtx, stopSched := context.WithCancel(ctx)
	scheduler := jobs.NewScheduler(engine, reflector, bus, jobs.Config{
		Schedule: cfg.Memory.Reflection.Schedule,
	}, logger)
	go scheduler.Run(schedCtx)

	ingestor := ingest.NewIngestor(logger)
	if cfg.Ingest.Discord.Enabled && cfg.Ingest.Discord.BotToken != "" {
		ingestor.Register(ingest.NewDiscordAdapter(cfg.Ingest.Discord.BotToken, engine, logger))
	}
	if cfg.Ingest.Slack.Enabled && cfg.Ingest.Slack.BotToken != "" {
		ingestor.Register(ingest.NewSlackAdapter(cfg.Ingest.Slack.BotToken, cfg.Ingest.Slack.AppToken, engine, logger))
	}
	ingestor.ConnectAll(ctx)

	handler := api.NewHandler(engine, bus, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("mnemo listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down mnemo...")
	stopSched()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	ingestor.Close()
	if bus != nil {
		bus.Close()
	}
	if vectors != nil {
		vectors.Close()
	}
	if memGraph != nil {
		memGraph.Close(context.Background())
	}
	st.Close()
}
