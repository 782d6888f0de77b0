package registry

import (
	"context"
	"time"

	"github.com/hondutalent/bridge/internal/proxy"
)

// Event is a transport lifecycle or message event fed into the registry.
type Event struct {
	Kind    EventKind
	QRCode  string          // pairing code, EventQR only
	Reason  string          // diagnostic text for failures/disconnects
	Message *InboundMessage // EventMessage only
}

// InboundMessage is a transport message normalized for ingestion.
type InboundMessage struct {
	ChatID    string
	Sender    string
	PushName  string
	Body      string
	Timestamp int64
	FromMe    bool
}

// Receipt acknowledges a delivered message. ChatID carries the canonical
// recipient address the registry resolved before sending.
type Receipt struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TransportClient is the messaging connection a session exclusively owns.
// Implementations normalize recipient identifiers to the channel's
// canonical address form before every send.
type TransportClient interface {
	Connect(ctx context.Context) error
	SendText(ctx context.Context, chatID, body string) (*Receipt, error)
	Destroy(ctx context.Context) error
}

// ClientFactory builds a transport client for a new session. The events
// callback receives every lifecycle and message event of that client.
type ClientFactory interface {
	NewClient(ctx context.Context, sessionID, tenantID string, p *proxy.Descriptor, events func(Event)) (TransportClient, error)
}
