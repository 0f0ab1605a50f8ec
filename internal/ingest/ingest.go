// Package ingest feeds dialogue turns from chat platforms into the
// memory engine. Adapters listen only; nothing is ever posted back to
// the platform.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

// Sink receives captured turns. Satisfied by the recall engine.
type Sink interface {
	StoreMemory(ctx context.Context, turn memory.Turn) (*memory.Event, error)
}

// Adapter is one platform listener.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Close() error
}

// Ingestor manages the configured platform adapters.
type Ingestor struct {
	adapters []Adapter
	logger   *zap.Logger
}

// NewIngestor creates an empty Ingestor.
func NewIngestor(logger *zap.Logger) *Ingestor {
	return &Ingestor{logger: logger}
}

// Register adds an adapter.
func (in *Ingestor) Register(a Adapter) {
	in.adapters = append(in.adapters, a)
}

// ConnectAll starts every adapter. A failing adapter is logged and
// skipped; the rest keep running.
func (in *Ingestor) ConnectAll(ctx context.Context) {
	for _, a := range in.adapters {
		if err := a.Connect(ctx); err != nil {
			in.logger.Error("ingest adapter failed to connect",
				zap.String("platform", a.Platform()), zap.Error(err))
			continue
		}
		in.logger.Info("ingest adapter connected", zap.String("platform", a.Platform()))
	}
}

// Close shuts down every adapter.
func (in *Ingestor) Close() {
	for _, a := range in.adapters {
		if err := a.Close(); err != nil {
			in.logger.Warn("ingest adapter close",
				zap.String("platform", a.Platform()), zap.Error(err))
		}
	}
}

// turnFromMessage maps one platform message onto an engine turn. Each
// platform user gets an isolated namespace.
func turnFromMessage(platform, userID, channelID, text string, ts time.Time) memory.Turn {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return memory.Turn{
		Namespace:      platform + ":" + userID,
		ConversationID: channelID,
		Text:           text,
		Actor:          memory.ActorUser,
		EventType:      "conversation",
		Timestamp:      ts.UTC(),
	}
}
