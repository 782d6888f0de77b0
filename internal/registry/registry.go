// Package registry owns the set of live messaging sessions and drives each
// one through its connection lifecycle. It is the only holder of transport
// client handles; everything else reaches the transport through it.
package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/bus"
	"github.com/hondutalent/bridge/internal/proxy"
	"github.com/hondutalent/bridge/internal/store"
)

// DefaultTenant is the tenant used when callers do not supply one.
const DefaultTenant = "default"

// Normalizer converts a recipient identifier to the transport's canonical
// address form.
type Normalizer func(string) (string, error)

type session struct {
	id           string
	tenant       string
	state        State
	proxy        *proxy.Descriptor
	lastActivity time.Time
	qrCode       string
	client       TransportClient
	closing      bool
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID    string    `json:"session_id"`
	TenantID     string    `json:"tenant_id"`
	Status       State     `json:"status"`
	Proxy        string    `json:"proxy"`
	LastActivity time.Time `json:"last_activity"`
	Ready        bool      `json:"ready"`
	QRCode       string    `json:"qr_code,omitempty"`
}

// Registry manages live sessions keyed by session id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	factory   ClientFactory
	proxies   []proxy.Descriptor
	db        *store.DB
	bus       *bus.Bus
	normalize Normalizer
	logger    *zap.Logger
}

// New creates an empty registry.
func New(factory ClientFactory, proxies []proxy.Descriptor, db *store.DB, b *bus.Bus, normalize Normalizer, logger *zap.Logger) *Registry {
	return &Registry{
		sessions:  make(map[string]*session),
		factory:   factory,
		proxies:   proxies,
		db:        db,
		bus:       b,
		normalize: normalize,
		logger:    logger,
	}
}

// Initialize creates and starts a session for the identifier, or returns the
// existing session's snapshot unchanged. A second call never constructs a
// second transport client.
func (r *Registry) Initialize(ctx context.Context, sessionID, tenantID string) (Snapshot, error) {
	if sessionID == "" {
		return Snapshot{}, fmt.Errorf("empty session id")
	}
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	r.mu.Lock()
	if existing, ok := r.sessions[sessionID]; ok {
		snap := existing.snapshot()
		r.mu.Unlock()
		return snap, nil
	}
	sess := &session{
		id:           sessionID,
		tenant:       tenantID,
		state:        StateInitializing,
		proxy:        proxy.Assign(sessionID, r.proxies),
		lastActivity: time.Now(),
	}
	r.sessions[sessionID] = sess
	snap := sess.snapshot()
	r.mu.Unlock()

	r.logger.Info("initializing session",
		zap.String("session", sessionID),
		zap.String("tenant", tenantID),
		zap.String("proxy", sess.proxy.Label()))

	client, err := r.factory.NewClient(ctx, sessionID, tenantID, sess.proxy, func(evt Event) {
		r.dispatch(sessionID, evt)
	})
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		return Snapshot{}, fmt.Errorf("create transport client: %w", err)
	}

	r.mu.Lock()
	sess.client = client
	r.mu.Unlock()

	r.publishStatus(snap, statusMessage(StateInitializing))

	go func() {
		if err := client.Connect(context.Background()); err != nil {
			r.logger.Error("connect failed", zap.String("session", sessionID), zap.Error(err))
			r.dispatch(sessionID, Event{Kind: EventAuthFailure, Reason: err.Error()})
		}
	}()

	return snap, nil
}

// Status returns a snapshot of one session.
func (r *Registry) Status(sessionID string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return Snapshot{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return sess.snapshot(), nil
}

// List returns a snapshot of every live session across all tenants.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.snapshot())
	}
	return out
}

// ReadySession returns the id of any session currently able to send, or
// false when none is. The outbound worker uses this to skip its tick.
func (r *Registry) ReadySession() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, sess := range r.sessions {
		if sess.state == StateReady {
			return id, true
		}
	}
	return "", false
}

// Close destroys a session's transport client and removes it from the
// registry. The session is removed even if destruction fails. Closing an
// unknown session reports ErrSessionNotFound and has no side effects.
func (r *Registry) Close(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok || sess.closing {
		r.mu.Unlock()
		if !ok {
			return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil
	}
	sess.closing = true
	client := sess.client
	tenant := sess.tenant
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		r.bus.Publish(bus.Event{
			Kind:      "session.closed",
			SessionID: sessionID,
			TenantID:  tenant,
			Timestamp: time.Now(),
		})
		r.logger.Info("session closed", zap.String("session", sessionID))
	}()

	if client != nil {
		if err := client.Destroy(ctx); err != nil {
			r.logger.Warn("destroy transport client", zap.String("session", sessionID), zap.Error(err))
		}
	}
	return nil
}

// SendText delivers a message through a ready session, records it in the
// message log and returns the delivery receipt.
func (r *Registry) SendText(ctx context.Context, sessionID, chatID, body string) (*Receipt, error) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	var (
		client TransportClient
		state  State
		tenant string
	)
	if ok {
		client = sess.client
		state = sess.state
		tenant = sess.tenant
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if state != StateReady {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, state, ErrSessionNotReady)
	}

	canonical, err := r.normalize(chatID)
	if err != nil {
		return nil, fmt.Errorf("normalize recipient: %w", err)
	}

	receipt, err := client.SendText(ctx, canonical, body)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", canonical, err)
	}
	receipt.ChatID = canonical

	r.mu.Lock()
	if sess, ok := r.sessions[sessionID]; ok {
		sess.lastActivity = time.Now()
	}
	r.mu.Unlock()

	ts := receipt.Timestamp.Unix()
	if err := r.db.InsertMessage(&store.Message{
		ChatID: canonical, Sender: "me", Body: body, Timestamp: ts, FromMe: true,
	}); err != nil {
		r.logger.Error("record sent message", zap.String("chat", canonical), zap.Error(err))
	}
	if err := r.db.TouchConversation(canonical, ts); err != nil {
		r.logger.Error("touch conversation", zap.String("chat", canonical), zap.Error(err))
	}

	r.bus.Publish(bus.Event{
		Kind:      "message.sent",
		SessionID: sessionID,
		TenantID:  tenant,
		Timestamp: time.Now(),
		Payload:   map[string]any{"chat_id": canonical, "message_id": receipt.MessageID},
	})

	return receipt, nil
}

// Restore re-initializes every session found under the sessions directory
// (one directory per tenant, one per session id). Missing directories are
// not an error.
func (r *Registry) Restore(ctx context.Context, sessionsDir string) int {
	tenants, err := os.ReadDir(sessionsDir)
	if err != nil {
		return 0
	}
	restored := 0
	for _, tenant := range tenants {
		if !tenant.IsDir() {
			continue
		}
		ids, err := os.ReadDir(sessionsDir + "/" + tenant.Name())
		if err != nil {
			continue
		}
		for _, id := range ids {
			if !id.IsDir() {
				continue
			}
			if _, err := r.Initialize(ctx, id.Name(), tenant.Name()); err != nil {
				r.logger.Error("restore session",
					zap.String("session", id.Name()),
					zap.String("tenant", tenant.Name()),
					zap.Error(err))
				continue
			}
			restored++
		}
	}
	return restored
}

// dispatch feeds a transport event through the state machine and executes
// the resulting effects. Events for unknown sessions are dropped; a closed
// session produces no further observable activity.
func (r *Registry) dispatch(sessionID string, evt Event) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok || sess.closing {
		r.mu.Unlock()
		return
	}

	next, effects, err := Apply(sess.state, evt.Kind)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("dropped transport event",
			zap.String("session", sessionID),
			zap.String("event", string(evt.Kind)),
			zap.Error(err))
		return
	}

	sess.state = next
	sess.lastActivity = time.Now()

	var publish, cleanup, handleMsg bool
	for _, eff := range effects {
		switch eff {
		case EffectSetQR:
			sess.qrCode = encodeQR(evt.QRCode)
		case EffectClearQR:
			sess.qrCode = ""
		case EffectPublishStatus:
			publish = true
		case EffectCleanup:
			cleanup = true
		case EffectHandleMessage:
			handleMsg = true
		}
	}
	snap := sess.snapshot()
	tenant := sess.tenant
	r.mu.Unlock()

	if publish {
		msg := statusMessage(next)
		if evt.Reason != "" {
			msg = msg + ": " + evt.Reason
		}
		r.publishStatus(snap, msg)
	}

	if handleMsg && evt.Message != nil {
		r.bus.Publish(bus.Event{
			Kind:      "wa.message",
			SessionID: sessionID,
			TenantID:  tenant,
			Timestamp: time.Now(),
			Payload:   evt.Message,
		})
	}

	if cleanup {
		// Sole removal path driven by external events.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = r.Close(ctx, sessionID)
		}()
	}
}

func (r *Registry) publishStatus(snap Snapshot, message string) {
	payload := map[string]any{
		"session_id": snap.SessionID,
		"status":     snap.Status,
		"message":    message,
		"proxy":      snap.Proxy,
		"tenant_id":  snap.TenantID,
	}
	if snap.QRCode != "" {
		payload["qr"] = snap.QRCode
	}
	r.bus.Publish(bus.Event{
		Kind:      "session.status",
		SessionID: snap.SessionID,
		TenantID:  snap.TenantID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		SessionID:    s.id,
		TenantID:     s.tenant,
		Status:       s.state,
		Proxy:        s.proxy.Label(),
		LastActivity: s.lastActivity,
		Ready:        s.state == StateReady,
		QRCode:       s.qrCode,
	}
}

// encodeQR renders a pairing code as a base64 PNG data URL for the UI. The
// raw code is used as-is if rendering fails.
func encodeQR(code string) string {
	if code == "" {
		return ""
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return code
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
