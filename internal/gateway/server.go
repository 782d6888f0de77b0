// Package gateway exposes the bridge over HTTP for the CRM backend: session
// lifecycle, message sending, queueing and inbox reads, plus a WebSocket
// event stream.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/bus"
	"github.com/hondutalent/bridge/internal/config"
	"github.com/hondutalent/bridge/internal/registry"
	"github.com/hondutalent/bridge/internal/store"
)

// Server is the HTTP control surface.
type Server struct {
	cfg      *config.Config
	db       *store.DB
	registry *registry.Registry
	bus      *bus.Bus
	logger   *zap.Logger
	httpSrv  *http.Server
}

// NewServer creates the gateway. Start binds the listener.
func NewServer(cfg *config.Config, db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		db:       db,
		registry: reg,
		bus:      b,
		logger:   logger,
	}
	s.httpSrv = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/sessions", s.handleInitSession).Methods("POST")
	r.HandleFunc("/api/sessions", s.handleListSessions).Methods("GET")
	r.HandleFunc("/api/sessions/{id}", s.handleSessionStatus).Methods("GET")
	r.HandleFunc("/api/sessions/{id}", s.handleCloseSession).Methods("DELETE")
	r.HandleFunc("/api/sessions/{id}/messages", s.handleSendMessage).Methods("POST")

	r.HandleFunc("/api/queue", s.handleEnqueue).Methods("POST")

	r.HandleFunc("/api/conversations", s.handleListConversations).Methods("GET")
	r.HandleFunc("/api/conversations/{chat}/messages", s.handleListMessages).Methods("GET")
	r.HandleFunc("/api/conversations/{chat}/bot", s.handleSetBotActive).Methods("POST")
	r.HandleFunc("/api/conversations/{chat}/read", s.handleMarkRead).Methods("POST")
	r.HandleFunc("/api/conversations/{chat}/pin", s.handleSetPinned).Methods("POST")
	r.HandleFunc("/api/conversations/{chat}/status", s.handleManualStatus).Methods("POST")
	r.HandleFunc("/api/conversations/{chat}/tags", s.handleConversationTags).Methods("GET")
	r.HandleFunc("/api/conversations/{chat}/tags", s.handleAssignTag).Methods("POST")
	r.HandleFunc("/api/conversations/{chat}/tags/{tag}", s.handleRemoveTag).Methods("DELETE")

	r.HandleFunc("/api/tags", s.handleListTags).Methods("GET")
	r.HandleFunc("/api/tags", s.handleCreateTag).Methods("POST")

	r.HandleFunc("/api/settings", s.handleGetSettings).Methods("GET")
	r.HandleFunc("/api/settings", s.handlePutSetting).Methods("PUT")

	r.HandleFunc("/api/affiliates/sync", s.handleSyncAffiliates).Methods("POST")

	r.HandleFunc("/api/notifications", s.handleListNotifications).Methods("GET")
	r.HandleFunc("/api/notifications/{id}/read", s.handleNotificationRead).Methods("POST")

	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ws", s.handleWS)

	return r
}

// Start binds the configured address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
