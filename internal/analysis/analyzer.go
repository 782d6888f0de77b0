// Package analysis periodically summarizes recent conversation activity
// with the model and raises notifications for chats that need a human.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/bus"
	"github.com/hondutalent/bridge/internal/store"
)

const historyDepth = 5

// NotificationType marks notifications produced by the analyzer.
const NotificationType = "human_intervention_required"

// Analysis is the model's verdict on a conversation's recent turns.
type Analysis struct {
	Sentiment string `json:"sentiment"`
	Topic     string `json:"topic"`
	Urgency   string `json:"urgency"`
	Summary   string `json:"summary"`
}

// NeedsHuman reports whether the verdict crosses the escalation threshold.
func (a Analysis) NeedsHuman() bool {
	return a.Sentiment == "negative" || a.Urgency == "high"
}

// Generator is the completion surface the analyzer needs.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Analyzer drains the queue on a timer and analyzes each chat
// independently. Runs never overlap: if one is still going when the timer
// fires, the tick is skipped and the queued chats wait for the next one.
type Analyzer struct {
	db      *store.DB
	model   Generator
	queue   *Queue
	bus     *bus.Bus
	logger  *zap.Logger
	name    string
	running atomic.Bool
	cancel  context.CancelFunc
}

// NewAnalyzer creates an analyzer using the given model name.
func NewAnalyzer(db *store.DB, model Generator, queue *Queue, b *bus.Bus, modelName string, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		db:     db,
		model:  model,
		queue:  queue,
		bus:    b,
		logger: logger,
		name:   modelName,
	}
}

// Start begins the periodic analysis loop.
func (a *Analyzer) Start(ctx context.Context, interval time.Duration) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.loop(ctx, interval)
}

// Stop stops the loop.
func (a *Analyzer) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Analyzer) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce drains the queue and analyzes every drained chat. A chat whose
// analysis fails is logged and skipped; it does not block the others.
func (a *Analyzer) RunOnce(ctx context.Context) {
	if !a.running.CompareAndSwap(false, true) {
		return
	}
	defer a.running.Store(false)

	chats := a.queue.Drain()
	for _, chatID := range chats {
		if err := a.analyzeChat(ctx, chatID); err != nil {
			a.logger.Error("conversation analysis failed",
				zap.String("chat", chatID), zap.Error(err))
		}
	}
}

func (a *Analyzer) analyzeChat(ctx context.Context, chatID string) error {
	history, err := a.db.RecentMessages(chatID, historyDepth)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	raw, err := a.model.Generate(ctx, a.name, buildPrompt(history))
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return fmt.Errorf("parse verdict: %w", err)
	}

	if !verdict.NeedsHuman() {
		return nil
	}

	conv, err := a.db.Conversation(chatID)
	if err != nil {
		return err
	}
	contactName := chatID
	if conv != nil && conv.ContactName != "" {
		contactName = conv.ContactName
	}

	id, err := a.db.CreateNotification(&store.Notification{
		ChatID:      chatID,
		ContactName: contactName,
		Type:        NotificationType,
		Summary:     verdict.Summary,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	a.logger.Warn("conversation escalated",
		zap.String("chat", chatID),
		zap.String("sentiment", verdict.Sentiment),
		zap.String("urgency", verdict.Urgency))

	a.bus.Publish(bus.Event{
		Kind:      "notification.created",
		Timestamp: time.Now(),
		Payload: map[string]any{
			"notification_id": id,
			"chat_id":         chatID,
			"contact_name":    contactName,
			"type":            NotificationType,
			"summary":         verdict.Summary,
		},
	})
	return nil
}

// buildPrompt renders the last turns of a chat into the analysis prompt.
// The model must answer with a single JSON object.
func buildPrompt(history []store.Message) string {
	var b strings.Builder
	b.WriteString("Analiza la siguiente conversación entre un contacto y el asistente de una agencia de empleo.\n\n")
	for _, m := range history {
		speaker := "Contacto"
		if m.FromMe {
			speaker = "Asistente"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Body)
	}
	b.WriteString("\nResponde únicamente con un objeto JSON con estas claves:\n")
	b.WriteString(`{"sentiment": "positive|neutral|negative", "topic": "tema principal", "urgency": "low|medium|high", "summary": "resumen de una frase"}`)
	return b.String()
}

// parseVerdict extracts the JSON object from the model's answer. Models
// routinely wrap it in prose or code fences, so only the outermost braces
// are considered.
func parseVerdict(raw string) (Analysis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Analysis{}, fmt.Errorf("no JSON object in %q", raw)
	}
	var verdict Analysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &verdict); err != nil {
		return Analysis{}, err
	}
	return verdict, nil
}
