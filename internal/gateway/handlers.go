package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/outbound"
	"github.com/hondutalent/bridge/internal/registry"
	"github.com/hondutalent/bridge/internal/store"
)

func (s *Server) handleInitSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		TenantID  string `json:"tenant_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	snap, err := s.registry.Initialize(r.Context(), req.SessionID, req.TenantID)
	if err != nil {
		s.logger.Error("initialize session", zap.String("session", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Status(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Close(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "closed"})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		ChatID string `json:"chat_id"`
		Body   string `json:"body"`
	}
	if err := decodeBody(r, &req); err != nil || req.ChatID == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "chat_id and body are required")
		return
	}

	receipt, err := s.registry.SendText(r.Context(), id, req.ChatID, req.Body)
	switch {
	case errors.Is(err, registry.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrSessionNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		// A human writing into the chat takes over from the bot.
		if err := s.db.SetBotActive(receipt.ChatID, false); err != nil {
			s.logger.Warn("deactivate bot after manual send",
				zap.String("chat", receipt.ChatID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

// handleEnqueue accepts a message for deferred delivery. Without an
// explicit scheduled_for the business-hours rule decides when it goes out.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskType     string `json:"task_type"`
		RelatedID    int64  `json:"related_id"`
		ChatID       string `json:"chat_id"`
		MessageBody  string `json:"message_body"`
		ScheduledFor int64  `json:"scheduled_for"`
	}
	if err := decodeBody(r, &req); err != nil || req.ChatID == "" || req.MessageBody == "" {
		writeError(w, http.StatusBadRequest, "chat_id and message_body are required")
		return
	}

	scheduledFor := req.ScheduledFor
	if scheduledFor == 0 {
		loc, err := time.LoadLocation(s.cfg.Scheduler.Timezone)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		scheduledFor = outbound.NextSendTime(time.Now(), loc,
			s.cfg.Scheduler.OpenHour, s.cfg.Scheduler.CloseHour).Unix()
	}

	id, err := s.db.Enqueue(&store.Task{
		TaskType:     req.TaskType,
		RelatedID:    req.RelatedID,
		ChatID:       req.ChatID,
		MessageBody:  req.MessageBody,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		s.logger.Error("enqueue task", zap.String("chat", req.ChatID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"task_id":       id,
		"scheduled_for": scheduledFor,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	convs, err := s.db.ListConversations(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.db.ListMessages(mux.Vars(r)["chat"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSetBotActive(w http.ResponseWriter, r *http.Request) {
	chat := mux.Vars(r)["chat"]
	var req struct {
		Active bool `json:"active"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.db.SetBotActive(chat, req.Active); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chat, "bot_active": req.Active})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	chat := mux.Vars(r)["chat"]
	if err := s.db.MarkConversationRead(chat); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chat_id": chat})
}

func (s *Server) handleSetPinned(w http.ResponseWriter, r *http.Request) {
	chat := mux.Vars(r)["chat"]
	var req struct {
		Pinned bool `json:"pinned"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.db.SetPinned(chat, req.Pinned); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chat, "pinned": req.Pinned})
}

// handleManualStatus lets an operator override the conversation status,
// optionally attaching a tag in the same transaction.
func (s *Server) handleManualStatus(w http.ResponseWriter, r *http.Request) {
	chat := mux.Vars(r)["chat"]
	var req struct {
		Status string `json:"status"`
		TagID  int64  `json:"tag_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if err := s.db.SetManualStatus(chat, req.Status, req.TagID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chat_id": chat, "status": req.Status})
}

func (s *Server) handleConversationTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.db.ConversationTags(mux.Vars(r)["chat"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleAssignTag(w http.ResponseWriter, r *http.Request) {
	chat := mux.Vars(r)["chat"]
	var req struct {
		TagID int64 `json:"tag_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.TagID == 0 {
		writeError(w, http.StatusBadRequest, "tag_id is required")
		return
	}
	if err := s.db.EnsureTagAssigned(chat, req.TagID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chat, "tag_id": req.TagID})
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	chat := mux.Vars(r)["chat"]
	tagID, err := strconv.ParseInt(mux.Vars(r)["tag"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tag id")
		return
	}
	if err := s.db.RemoveTagAssignment(chat, tagID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chat, "tag_id": tagID})
}

func (s *Server) handleListTags(w http.ResponseWriter, _ *http.Request) {
	tags, err := s.db.ListTags()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := decodeBody(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	id, err := s.db.EnsureTag(req.Name, req.Color)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, store.Tag{ID: id, Name: req.Name, Color: req.Color})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	settings, err := s.db.Settings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := s.db.PutSetting(req.Key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": req.Key})
}

// handleSyncAffiliates bulk-imports CRM-verified candidates so returning
// affiliates land in the logged-in flow without re-validating.
func (s *Server) handleSyncAffiliates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Affiliates []struct {
			Identity string `json:"identity"`
			Phone    string `json:"phone"`
			Name     string `json:"name"`
		} `json:"affiliates"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.Affiliates) == 0 {
		writeError(w, http.StatusBadRequest, "affiliates is required")
		return
	}

	tagID, err := s.db.EnsureTag("Afiliado Verificado", "#28a745")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	affiliates := make([]store.Affiliate, 0, len(req.Affiliates))
	for _, a := range req.Affiliates {
		if a.Phone == "" || a.Identity == "" {
			writeError(w, http.StatusBadRequest, "each affiliate needs phone and identity")
			return
		}
		affiliates = append(affiliates, store.Affiliate{
			Identity: a.Identity,
			Phone:    a.Phone,
			Name:     a.Name,
		})
	}
	if err := s.db.SyncAffiliates(affiliates, tagID); err != nil {
		s.logger.Error("sync affiliates", zap.Int("count", len(affiliates)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": len(affiliates)})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	notifs, err := s.db.UnreadNotifications(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, notifs)
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := s.db.MarkNotificationRead(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}
