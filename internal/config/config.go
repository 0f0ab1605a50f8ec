package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	Memory    MemoryConfig    `json:"memory"`
	Ingest    IngestConfig    `json:"ingest"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api", "local", or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// MemoryConfig is the externally settable tuning surface of the engine.
type MemoryConfig struct {
	SalienceWeights SalienceWeights     `json:"salience_weights"`
	HalfLifeHours   float64             `json:"half_life_hours"`
	TopicCategories map[string][]string `json:"topic_categories"`
	TopEmotions     int                 `json:"top_emotions"`
	Graph           GraphConfig         `json:"graph"`
	RetentionDays   int                 `json:"retention_days"`
	Reflection      ReflectionConfig    `json:"reflection"`
}

type SalienceWeights struct {
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
	Emotional  float64 `json:"emotional"`
	Engagement float64 `json:"engagement"`
	Contextual float64 `json:"contextual"`
}

type GraphConfig struct {
	SemanticThreshold  float64 `json:"semantic_threshold"`   // τ_sem
	TemporalWindowMins int     `json:"temporal_window_mins"` // Δt for temporal clustering
	EmotionalDistance  float64 `json:"emotional_distance"`
	MaxConnections     int     `json:"max_connections"`
	RecentWindow       int     `json:"recent_window"` // events compared on insert
}

type ReflectionConfig struct {
	Schedule          string  `json:"schedule"` // "daily", "weekly", "manual"
	TopN              int     `json:"top_n"`
	LearningThreshold float64 `json:"learning_threshold"`
}

type IngestConfig struct {
	Discord DiscordIngestConfig `json:"discord"`
	Slack   SlackIngestConfig   `json:"slack"`
}

type DiscordIngestConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type SlackIngestConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their standard values.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	w := &c.Memory.SalienceWeights
	if w.Recency == 0 && w.Frequency == 0 && w.Emotional == 0 && w.Engagement == 0 && w.Contextual == 0 {
		*w = SalienceWeights{Recency: 0.30, Frequency: 0.15, Emotional: 0.25, Engagement: 0.15, Contextual: 0.15}
	}
	if c.Memory.HalfLifeHours == 0 {
		c.Memory.HalfLifeHours = 168
	}
	if c.Memory.TopEmotions == 0 {
		c.Memory.TopEmotions = 3
	}
	g := &c.Memory.Graph
	if g.SemanticThreshold == 0 {
		g.SemanticThreshold = 0.75
	}
	if g.TemporalWindowMins == 0 {
		g.TemporalWindowMins = 90
	}
	if g.EmotionalDistance == 0 {
		g.EmotionalDistance = 0.4
	}
	if g.MaxConnections == 0 {
		g.MaxConnections = 12
	}
	if g.RecentWindow == 0 {
		g.RecentWindow = 25
	}
	if c.Memory.RetentionDays == 0 {
		c.Memory.RetentionDays = 365
	}
	r := &c.Memory.Reflection
	if r.Schedule == "" {
		r.Schedule = "daily"
	}
	if r.TopN == 0 {
		r.TopN = 5
	}
	if r.LearningThreshold == 0 {
		r.LearningThreshold = 0.5
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hash"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 256
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	w := c.Memory.SalienceWeights
	sum := w.Recency + w.Frequency + w.Emotional + w.Engagement + w.Contextual
	for _, v := range []float64{w.Recency, w.Frequency, w.Emotional, w.Engagement, w.Contextual} {
		if v < 0 || v > 1 {
			return fmt.Errorf("salience weights must be in [0,1], got %+v", w)
		}
	}
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("salience weights must sum to ~1.0, got %.3f", sum)
	}
	if c.Memory.HalfLifeHours <= 0 {
		return fmt.Errorf("half_life_hours must be positive, got %v", c.Memory.HalfLifeHours)
	}
	g := c.Memory.Graph
	if g.SemanticThreshold < 0 || g.SemanticThreshold > 1 {
		return fmt.Errorf("semantic_threshold must be in [0,1], got %v", g.SemanticThreshold)
	}
	if g.EmotionalDistance < 0 || g.EmotionalDistance > 1 {
		return fmt.Errorf("emotional_distance must be in [0,1], got %v", g.EmotionalDistance)
	}
	if g.TemporalWindowMins < 0 {
		return fmt.Errorf("temporal_window_mins must be non-negative, got %d", g.TemporalWindowMins)
	}
	if g.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", g.MaxConnections)
	}
	if c.Memory.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be at least 1, got %d", c.Memory.RetentionDays)
	}
	switch c.Memory.Reflection.Schedule {
	case "daily", "weekly", "manual":
	default:
		return fmt.Errorf("reflection schedule must be daily, weekly or manual, got %q", c.Memory.Reflection.Schedule)
	}
	switch c.Embedding.Provider {
	case "api", "local", "hash":
	default:
		return fmt.Errorf("embedding provider must be api, local or hash, got %q", c.Embedding.Provider)
	}
	return nil
}
