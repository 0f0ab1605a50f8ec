// Package embedding turns text into fixed-length vectors for the
// similarity index. Providers are interchangeable; the engine only needs
// Embed and Dimension.
package embedding

import "context"

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api", "local" or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New constructs the provider named by cfg.Provider. Unknown names fall
// back to the deterministic hash provider so the engine always has a
// working similarity signal.
func New(cfg Config) Provider {
	switch cfg.Provider {
	case "api":
		return NewAPIProvider(cfg)
	case "local":
		return NewLocalProvider(cfg)
	default:
		return NewHashProvider(cfg.Dimension)
	}
}
