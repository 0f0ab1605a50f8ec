package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mnemo.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{"database": {"postgres": {"dsn": "postgres://x"}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 3210 {
		t.Errorf("default port = %d, want 3210", cfg.Server.Port)
	}
	w := cfg.Memory.SalienceWeights
	sum := w.Recency + w.Frequency + w.Emotional + w.Engagement + w.Contextual
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("default weights sum = %v, want ~1.0", sum)
	}
	if cfg.Memory.Graph.MaxConnections != 12 {
		t.Errorf("default max_connections = %d, want 12", cfg.Memory.Graph.MaxConnections)
	}
	if cfg.Memory.Reflection.Schedule != "daily" {
		t.Errorf("default schedule = %q, want daily", cfg.Memory.Reflection.Schedule)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("MNEMO_TEST_DSN", "postgres://from-env")
	path := writeConfig(t, `{
		"database": {
			"postgres": {"dsn": "${MNEMO_TEST_DSN}"},
			"redis": {"url": "${MNEMO_TEST_MISSING:redis://fallback}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Postgres.DSN != "postgres://from-env" {
		t.Errorf("dsn = %q, want env value", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://fallback" {
		t.Errorf("redis url = %q, want default fallback", cfg.Database.Redis.URL)
	}
}

func TestLoadRejectsBadWeights(t *testing.T) {
	path := writeConfig(t, `{
		"memory": {"salience_weights": {"recency": 0.9, "frequency": 0.9, "emotional": 0.1, "engagement": 0.1, "contextual": 0.1}}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("weights summing to 2.1 should fail validation")
	}
}

func TestLoadRejectsBadSchedule(t *testing.T) {
	path := writeConfig(t, `{"memory": {"reflection": {"schedule": "hourly"}}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("unknown reflection schedule should fail validation")
	}
}

func TestValidateThresholdRange(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Memory.Graph.SemanticThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("semantic_threshold above 1 should fail validation")
	}
}
