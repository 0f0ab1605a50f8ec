package ingest

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter captures guild and direct messages over the bot
// gateway and stores them as memory turns.
type DiscordAdapter struct {
	token   string
	session *discordgo.Session
	sink    Sink
	logger  *zap.Logger
}

// NewDiscordAdapter creates a Discord ingest adapter.
func NewDiscordAdapter(token string, sink Sink, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{token: token, sink: sink, logger: logger}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	a.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}

	if len(a.session.State.Guilds) == 0 {
		a.logger.Warn("discord bot not added to any server")
	}
	return nil
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// skip the bot's own traffic and other bots
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	turn := turnFromMessage("discord", m.Author.ID, m.ChannelID, m.Content, m.Timestamp)
	if _, err := a.sink.StoreMemory(context.Background(), turn); err != nil {
		a.logger.Error("discord turn not stored",
			zap.String("namespace", turn.Namespace), zap.Error(err))
	}
}

// Close shuts down the gateway session.
func (a *DiscordAdapter) Close() error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}
