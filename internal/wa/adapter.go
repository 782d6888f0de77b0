// Package wa implements the WhatsApp transport behind the session registry
// using whatsmeow. Each session owns one client backed by its own sqlite
// credential store under the session directory.
package wa

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/hondutalent/bridge/internal/config"
	"github.com/hondutalent/bridge/internal/proxy"
	"github.com/hondutalent/bridge/internal/registry"

	_ "github.com/mattn/go-sqlite3"
)

var setOSInfo sync.Once

// Client is a single session's WhatsApp connection.
type Client struct {
	session   string
	tenant    string
	client    *whatsmeow.Client
	container *sqlstore.Container
	events    func(registry.Event)
	logger    *zap.Logger
}

// Factory builds WhatsApp clients for the registry.
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a client factory rooted at the configured data dir.
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// NewClient opens (or creates) the session's credential store, configures
// the assigned proxy and wires whatsmeow events into the registry callback.
// The connection itself starts on Connect.
func (f *Factory) NewClient(ctx context.Context, sessionID, tenantID string, p *proxy.Descriptor, events func(registry.Event)) (registry.TransportClient, error) {
	setOSInfo.Do(func() {
		// Device name shown on the phone's linked devices list.
		wastore.SetOSInfo("HonduTalent Bridge", [3]uint32{1, 0, 0})
	})

	dir := f.cfg.SessionDir(tenantID, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	dbPath := filepath.Join(dir, "session.db")

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("get device store: %w", err)
	}

	wm := whatsmeow.NewClient(deviceStore, nil)

	if p != nil {
		addr, err := proxyURL(p)
		if err != nil {
			container.Close()
			return nil, err
		}
		if err := wm.SetProxyAddress(addr); err != nil {
			container.Close()
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}

	c := &Client{
		session:   sessionID,
		tenant:    tenantID,
		client:    wm,
		container: container,
		events:    events,
		logger:    f.logger.With(zap.String("session", sessionID)),
	}
	wm.AddEventHandler(c.handle)
	return c, nil
}

// proxyURL assembles the proxy address with credentials. Descriptor.Server
// may be a bare host:port, which is treated as HTTP.
func proxyURL(p *proxy.Descriptor) (string, error) {
	server := p.Server
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" {
		u, err = url.Parse("http://" + server)
		if err != nil {
			return "", fmt.Errorf("parse proxy %q: %w", server, err)
		}
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String(), nil
}

// Connect establishes the WhatsApp connection. Without stored credentials
// the pairing flow runs first: codes stream to the registry until a phone
// scans one or the flow times out.
func (c *Client) Connect(ctx context.Context) error {
	if c.client.Store.ID != nil {
		c.logger.Info("connecting with stored credentials")
		return c.client.Connect()
	}

	// GetQRChannel must be called before Connect.
	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	for item := range qrChan {
		switch item.Event {
		case "code":
			c.events(registry.Event{Kind: registry.EventQR, QRCode: item.Code})
		case "success":
			c.events(registry.Event{Kind: registry.EventAuthenticated})
			return nil
		case "timeout":
			c.events(registry.Event{Kind: registry.EventAuthFailure, Reason: "pairing timed out"})
			return nil
		default:
			if item.Error != nil {
				c.events(registry.Event{Kind: registry.EventAuthFailure, Reason: item.Error.Error()})
				return nil
			}
		}
	}
	return nil
}

// SendText delivers a text message. The recipient must already be in
// canonical JID form.
func (c *Client) SendText(ctx context.Context, chatID, body string) (*registry.Receipt, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("parse JID %q: %w", chatID, err)
	}
	resp, err := c.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &registry.Receipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// Destroy tears down the connection and closes the credential store. The
// stored credentials stay on disk so the session can be restored later.
func (c *Client) Destroy(ctx context.Context) error {
	c.client.RemoveEventHandlers()
	c.client.Disconnect()
	if err := c.container.Close(); err != nil {
		return fmt.Errorf("close session store: %w", err)
	}
	return nil
}

// handle translates whatsmeow events into registry transport events.
func (c *Client) handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		c.logger.Info("WhatsApp connected")
		c.events(registry.Event{Kind: registry.EventReady})
	case *events.Disconnected:
		c.logger.Warn("WhatsApp disconnected")
		c.events(registry.Event{Kind: registry.EventDisconnected, Reason: "connection lost"})
	case *events.LoggedOut:
		c.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		c.events(registry.Event{Kind: registry.EventAuthFailure, Reason: evt.Reason.String()})
	case *events.Message:
		c.handleMessage(evt)
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	if evt.Info.Chat.Server == types.GroupServer || evt.Info.Chat.Server == types.BroadcastServer {
		return
	}
	c.events(registry.Event{
		Kind: registry.EventMessage,
		Message: &registry.InboundMessage{
			ChatID:    evt.Info.Chat.ToNonAD().String(),
			Sender:    evt.Info.Sender.ToNonAD().String(),
			PushName:  evt.Info.PushName,
			Body:      extractBody(evt.Message),
			Timestamp: evt.Info.Timestamp.Unix(),
			FromMe:    evt.Info.IsFromMe,
		},
	})
}

// extractBody pulls the text content of a message. Media messages yield a
// human-readable marker (with the caption when present) rather than text;
// downstream stages treat those markers as unanswerable.
func extractBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		if caption := img.GetCaption(); caption != "" {
			return "📷 " + caption
		}
		return "📷 Fotografía"
	}
	if msg.GetVideoMessage() != nil || msg.GetAudioMessage() != nil ||
		msg.GetDocumentMessage() != nil || msg.GetStickerMessage() != nil {
		return ""
	}
	return ""
}
