package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	SessionID string
	TenantID  string
	Timestamp time.Time
	Payload   any
}

// Envelope is the JSON form of an event pushed to external subscribers.
type Envelope struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// Envelope wraps the event for transport to a UI subscriber.
func (e Event) Envelope() Envelope {
	return Envelope{
		EventID:   uuid.New().String(),
		Type:      e.Kind,
		SessionID: e.SessionID,
		TenantID:  e.TenantID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Payload:   e.Payload,
	}
}
