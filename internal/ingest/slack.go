package ingest

import (
	"context"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter captures workspace messages via Socket Mode and stores
// them as memory turns.
type SlackAdapter struct {
	client *slack.Client
	socket *socketmode.Client
	sink   Sink
	logger *zap.Logger
}

// NewSlackAdapter creates a Slack ingest adapter. botToken is the Bot
// User OAuth Token (xoxb-...), appToken the App-Level Token (xapp-...)
// for Socket Mode.
func NewSlackAdapter(botToken, appToken string, sink Sink, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)
	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)
	return &SlackAdapter{client: client, socket: socket, sink: sink, logger: logger}
}

func (a *SlackAdapter) Platform() string { return "slack" }

// Connect starts the Socket Mode event loop in a background goroutine.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil {
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(ctx, evt)
		}
	}
}

func (a *SlackAdapter) processEvent(ctx context.Context, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	a.socket.Ack(*evt.Request)

	if eventsAPI.Type != slackevents.CallbackEvent {
		return
	}
	inner, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// bot traffic would loop the pipeline back on itself
	if inner.BotID != "" || inner.Text == "" {
		return
	}

	turn := turnFromMessage("slack", inner.User, inner.Channel, inner.Text, time.Now())
	if _, err := a.sink.StoreMemory(ctx, turn); err != nil {
		a.logger.Error("slack turn not stored",
			zap.String("namespace", turn.Namespace), zap.Error(err))
	}
}

// Close is a no-op; the socket loop stops with its context.
func (a *SlackAdapter) Close() error { return nil }
