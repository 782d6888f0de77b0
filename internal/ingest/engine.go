// Package ingest consumes transport message events from the bus, archives
// them and drives the downstream stages: analysis enqueueing and bot reply
// generation. The registry publishes events; it never calls in here.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/analysis"
	"github.com/hondutalent/bridge/internal/bus"
	"github.com/hondutalent/bridge/internal/registry"
	"github.com/hondutalent/bridge/internal/store"
)

// Replier produces the bot's answer to an archived inbound message. An
// empty string means stay silent.
type Replier interface {
	Reply(ctx context.Context, conv *store.Conversation, body string) string
}

// TextSender delivers replies through the originating session.
type TextSender interface {
	SendText(ctx context.Context, sessionID, chatID, body string) (*registry.Receipt, error)
}

// Engine subscribes to "wa." events and processes each message through
// archive, analysis and reply.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	replier  Replier
	sender   TextSender
	analysis *analysis.Queue
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewEngine creates an ingest engine.
func NewEngine(db *store.DB, b *bus.Bus, replier Replier, sender TextSender, queue *analysis.Queue, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		bus:      b,
		replier:  replier,
		sender:   sender,
		analysis: queue,
		logger:   logger,
	}
}

// Start subscribes to transport message events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(256, "wa.")

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	if evt.Kind != "wa.message" {
		return
	}
	msg, ok := evt.Payload.(*registry.InboundMessage)
	if !ok {
		return
	}
	if err := e.Ingest(ctx, evt.SessionID, evt.TenantID, msg); err != nil {
		e.logger.Error("ingest message failed",
			zap.String("session", evt.SessionID),
			zap.String("chat", msg.ChatID),
			zap.Error(err))
	}
}

// Ingest archives a message and runs the inbound pipeline. Every message is
// archived regardless of what the reply stage decides; replies only happen
// for inbound messages in bot-active conversations.
func (e *Engine) Ingest(ctx context.Context, sessionID, tenantID string, msg *registry.InboundMessage) error {
	sender := msg.Sender
	if msg.FromMe {
		sender = "me"
	}

	conv, err := e.db.ArchiveMessage(&store.Message{
		ChatID:    msg.ChatID,
		Sender:    sender,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
		FromMe:    msg.FromMe,
	}, msg.PushName)
	if err != nil {
		return err
	}

	e.bus.Publish(bus.Event{
		Kind:      "message.new",
		SessionID: sessionID,
		TenantID:  tenantID,
		Timestamp: evtTime(msg.Timestamp),
		Payload: map[string]any{
			"chat_id":      msg.ChatID,
			"contact_name": conv.ContactName,
			"body":         msg.Body,
			"from_me":      msg.FromMe,
		},
	})

	if msg.FromMe {
		return nil
	}

	e.analysis.Add(msg.ChatID)

	if !conv.BotActive {
		return nil
	}

	text := e.replier.Reply(ctx, conv, msg.Body)
	if text == "" {
		return nil
	}

	if _, err := e.sender.SendText(ctx, sessionID, msg.ChatID, text); err != nil {
		// The reply is lost but the archive already holds the inbound
		// message; the contact can be answered manually.
		e.logger.Error("send reply failed",
			zap.String("session", sessionID),
			zap.String("chat", msg.ChatID),
			zap.Error(err))
	}
	return nil
}

func evtTime(unix int64) time.Time {
	if unix <= 0 {
		return time.Now()
	}
	return time.Unix(unix, 0)
}
