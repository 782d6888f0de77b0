package registry

import "fmt"

// State is a session connection lifecycle state.
type State string

const (
	StateInitializing  State = "initializing"
	StateQRReady       State = "qr_ready"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateAuthFailed    State = "auth_failed"
	StateDisconnected  State = "disconnected"
)

// Terminal reports whether a state removes the session from the registry.
func (s State) Terminal() bool {
	return s == StateAuthFailed || s == StateDisconnected
}

// EventKind identifies a transport lifecycle event.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventAuthFailure   EventKind = "auth_failure"
	EventReady         EventKind = "ready"
	EventDisconnected  EventKind = "disconnected"
	EventMessage       EventKind = "message"
)

// Effect is a side effect the registry must execute after a transition.
// Keeping the transition function pure keeps the lifecycle testable without
// a live transport.
type Effect int

const (
	EffectPublishStatus Effect = iota
	EffectSetQR
	EffectClearQR
	EffectCleanup
	EffectHandleMessage
)

// Apply computes the state transition for a transport event. It consults
// nothing but its arguments. Invalid transitions return an error and leave
// the caller's state unchanged.
func Apply(current State, kind EventKind) (State, []Effect, error) {
	switch kind {
	case EventQR:
		// The transport refreshes pairing codes, so qr_ready self-loops.
		if current == StateInitializing || current == StateQRReady {
			return StateQRReady, []Effect{EffectSetQR, EffectPublishStatus}, nil
		}
	case EventAuthenticated:
		if current == StateInitializing || current == StateQRReady {
			return StateAuthenticated, []Effect{EffectClearQR, EffectPublishStatus}, nil
		}
	case EventReady:
		// Restored credentials skip the QR phase entirely.
		if current == StateInitializing || current == StateAuthenticated {
			return StateReady, []Effect{EffectClearQR, EffectPublishStatus}, nil
		}
		if current == StateReady {
			return StateReady, nil, nil
		}
	case EventAuthFailure:
		if !current.Terminal() {
			return StateAuthFailed, []Effect{EffectClearQR, EffectPublishStatus, EffectCleanup}, nil
		}
	case EventDisconnected:
		if !current.Terminal() {
			return StateDisconnected, []Effect{EffectClearQR, EffectPublishStatus, EffectCleanup}, nil
		}
	case EventMessage:
		if current == StateReady {
			return StateReady, []Effect{EffectHandleMessage}, nil
		}
	}
	return current, nil, fmt.Errorf("invalid transition: %s on %s", kind, current)
}

// statusMessage is the human-readable text attached to status events.
func statusMessage(s State) string {
	switch s {
	case StateInitializing:
		return "Session starting"
	case StateQRReady:
		return "Scan the QR code to pair"
	case StateAuthenticated:
		return "Session authenticated"
	case StateReady:
		return "Client ready to send messages"
	case StateAuthFailed:
		return "Authentication failed"
	case StateDisconnected:
		return "Client disconnected"
	default:
		return string(s)
	}
}
