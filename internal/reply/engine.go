// Package reply generates bot replies for inbound conversation messages.
// The model only ever sees the chat history plus a state context block;
// conversation status transitions happen exclusively through tool-call
// outcomes observed here.
package reply

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/llm"
	"github.com/hondutalent/bridge/internal/store"
)

// Apology is sent when reply generation fails outright. Tool failures are
// surfaced to the model instead and never trigger it.
const Apology = "Lo siento, tengo un problema técnico. Un asesor revisará su caso."

const historyTurns = 8

const (
	defaultModel = "gpt-4o-mini"

	defaultNewUserPrompt = "Eres el asistente de una agencia de empleo en Honduras. " +
		"Saluda, pregunta si la persona ya está afiliada y pide su número de identidad para verificarla. " +
		"Si no está afiliada, orienta sobre vacantes según su ciudad y área de interés. " +
		"Responde siempre en español, breve y cordial."

	defaultAffiliatePrompt = "Eres el asistente de una agencia de empleo en Honduras atendiendo a un afiliado verificado. " +
		"Ayúdale a consultar vacantes, detalles de puestos y el estado de sus postulaciones usando las herramientas disponibles. " +
		"Responde siempre en español, breve y cordial."
)

// ChatModel is the completion surface the engine needs.
type ChatModel interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ToolCaller executes a named CRM tool.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]string) (json.RawMessage, error)
}

// Engine turns an inbound message into at most one reply.
type Engine struct {
	db     *store.DB
	model  ChatModel
	tools  ToolCaller
	logger *zap.Logger
}

// NewEngine creates a reply engine.
func NewEngine(db *store.DB, model ChatModel, tools ToolCaller, logger *zap.Logger) *Engine {
	return &Engine{db: db, model: model, tools: tools, logger: logger}
}

// Reply produces the bot's answer to the latest inbound message of conv,
// which must already be archived. An empty return means stay silent. Errors
// never propagate as errors to the contact: generation failures yield the
// apology text.
func (e *Engine) Reply(ctx context.Context, conv *store.Conversation, body string) string {
	if conv == nil || !conv.BotActive {
		return ""
	}
	if strings.TrimSpace(body) == "" || isMediaBody(body) {
		return ""
	}

	settings, err := e.db.Settings()
	if err != nil {
		e.logger.Error("load settings", zap.Error(err))
		return Apology
	}

	req := llm.Request{
		Model:    setting(settings, "model", defaultModel),
		Messages: e.assemble(conv, settings, body),
		Tools:    Catalog(),
	}

	resp, err := e.model.Chat(ctx, req)
	if err != nil {
		e.logger.Error("completion failed", zap.String("chat", conv.ChatID), zap.Error(err))
		return Apology
	}

	if len(resp.ToolCalls) > 0 {
		resp, err = e.runTools(ctx, conv, req, resp)
		if err != nil {
			e.logger.Error("tool round failed", zap.String("chat", conv.ChatID), zap.Error(err))
			return Apology
		}
	}

	return strings.TrimSpace(resp.Content)
}

// assemble builds the completion messages: system prompt by conversation
// status, recent history, then a state context turn carrying the message
// being answered.
func (e *Engine) assemble(conv *store.Conversation, settings map[string]string, body string) []llm.Message {
	system := setting(settings, "prompt_new_user", defaultNewUserPrompt)
	if conv.Status == store.StatusAffiliateLoggedIn || conv.Status == store.StatusIdentifiedAffiliate {
		system = setting(settings, "prompt_affiliate", defaultAffiliatePrompt)
	}

	msgs := []llm.Message{{Role: "system", Content: system}}

	history, err := e.db.RecentMessages(conv.ChatID, historyTurns)
	if err != nil {
		e.logger.Warn("load history", zap.String("chat", conv.ChatID), zap.Error(err))
	}
	for _, m := range history {
		role := "user"
		if m.FromMe {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Body})
	}

	return append(msgs, llm.Message{Role: "user", Content: stateContext(conv, body)})
}

// runTools executes every requested tool, applies their side effects to the
// conversation and re-invokes the model exactly once with the results.
func (e *Engine) runTools(ctx context.Context, conv *store.Conversation, req llm.Request, resp *llm.Response) (*llm.Response, error) {
	req.Messages = append(req.Messages, llm.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	for _, call := range resp.ToolCalls {
		args := parseArgs(call.Function.Arguments)
		result, err := e.tools.CallTool(ctx, call.Function.Name, args)
		if err != nil {
			e.logger.Warn("tool call failed",
				zap.String("chat", conv.ChatID),
				zap.String("tool", call.Function.Name),
				zap.Error(err))
			result, _ = json.Marshal(map[string]string{"error": err.Error()})
		} else {
			e.applyToolEffects(conv, call.Function.Name, args, result)
		}
		req.Messages = append(req.Messages, llm.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Content:    string(result),
		})
	}

	// One round only. Further tool requests in the follow-up are ignored.
	req.Tools = nil
	return e.model.Chat(ctx, req)
}

// applyToolEffects persists the conversation state changes a successful
// tool call implies.
func (e *Engine) applyToolEffects(conv *store.Conversation, tool string, args map[string]string, result json.RawMessage) {
	switch tool {
	case "search_vacancies_tool":
		city, area := args["city"], args["keyword"]
		if city != "" || area != "" {
			if err := e.db.SaveContext(conv.ChatID, city, area); err != nil {
				e.logger.Warn("save context", zap.String("chat", conv.ChatID), zap.Error(err))
			}
		}
	case "validate_registration_tool":
		var verdict struct {
			Success bool `json:"success"`
		}
		if err := json.Unmarshal(result, &verdict); err != nil {
			return
		}
		if verdict.Success {
			if err := e.db.MarkIdentityValidated(conv.ChatID, args["identity_number"]); err != nil {
				e.logger.Error("mark identity validated", zap.String("chat", conv.ChatID), zap.Error(err))
				return
			}
			conv.Status = store.StatusAffiliateLoggedIn
			conv.KnownIdentity = args["identity_number"]
			if tagID, err := e.db.EnsureTag("Afiliado Verificado", "#28a745"); err == nil {
				_ = e.db.EnsureTagAssigned(conv.ChatID, tagID)
			}
		} else {
			if err := e.db.SetConversationStatus(conv.ChatID, store.StatusValidationFailed); err != nil {
				e.logger.Error("set status", zap.String("chat", conv.ChatID), zap.Error(err))
				return
			}
			conv.Status = store.StatusValidationFailed
		}
	}
}

// stateContext renders the durable conversation state plus the raw message
// as the final user turn so the model answers with both in view.
func stateContext(conv *store.Conversation, body string) string {
	var b strings.Builder
	b.WriteString("[Contexto de la conversación]\n")
	fmt.Fprintf(&b, "Estado del contacto: %s\n", conv.Status)
	if conv.ContactName != "" {
		fmt.Fprintf(&b, "Nombre: %s\n", conv.ContactName)
	}
	if conv.KnownIdentity != "" {
		fmt.Fprintf(&b, "Identidad verificada: %s\n", conv.KnownIdentity)
	}
	if conv.ContextCity != "" {
		fmt.Fprintf(&b, "Ciudad de interés: %s\n", conv.ContextCity)
	}
	if conv.ContextArea != "" {
		fmt.Fprintf(&b, "Área de interés: %s\n", conv.ContextArea)
	}
	fmt.Fprintf(&b, "Mensaje del contacto: %q\n", body)
	b.WriteString("Responde a ese mensaje.")
	return b.String()
}

// isMediaBody reports whether the message body is a media marker the bot
// must not answer.
func isMediaBody(body string) bool {
	return strings.Contains(body, "📷") ||
		strings.Contains(body, "Fotografía") ||
		strings.Contains(body, "image/")
}

func parseArgs(raw string) map[string]string {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return map[string]string{}
	}
	args := make(map[string]string, len(decoded))
	for k, v := range decoded {
		if s, ok := v.(string); ok {
			args[k] = s
		} else {
			args[k] = fmt.Sprintf("%v", v)
		}
	}
	return args
}

func setting(settings map[string]string, key, fallback string) string {
	if v, ok := settings[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
