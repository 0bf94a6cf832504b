package conversation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
)

// EventType enumerates the provider-sourced events that may drive the session
// state machine. Speaking transitions happen only on explicit
// agent-response events; nothing here is timer-derived.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventSpeakingStarted EventType = "speaking_started"
	EventSpeakingEnded   EventType = "speaking_ended"
	EventDisconnected    EventType = "disconnected"
	EventError           EventType = "error"
)

// Event is one element of the finite, ordered stream a live session produces.
type Event struct {
	Type   EventType
	Reason string
}

// StreamCloser tears down an open event stream. Safe to call more than once.
type StreamCloser func() error

// DialFunc opens the provider event stream for a signed session URL.
// Injectable so the controller is testable without a live socket.
type DialFunc func(ctx context.Context, signedURL string) (<-chan Event, StreamCloser, error)

// wireMessage is the subset of the provider's websocket frames we interpret.
// Unknown message types are skipped, not errors; the provider adds frame
// types (audio chunks, pings, transcripts) we do not care about here.
type wireMessage struct {
	Type string `json:"type"`
}

// DialEventStream connects to the signed conversation URL and decodes provider
// frames into typed events. The channel closes after a Disconnected or Error
// event; the returned closer aborts the stream early.
func DialEventStream(ctx context.Context, signedURL string) (<-chan Event, StreamCloser, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		return nil, nil, &ProviderError{Op: "DialEventStream", Message: err.Error(), Retryable: true}
	}

	events := make(chan Event, 8)
	closer := func() error { return conn.Close() }

	go func() {
		defer close(events)
		defer conn.Close()

		// The first successfully read frame means the session is live.
		connected := false

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					events <- Event{Type: EventDisconnected}
				} else if errors.Is(err, context.Canceled) {
					events <- Event{Type: EventDisconnected, Reason: "cancelled"}
				} else {
					events <- Event{Type: EventError, Reason: err.Error()}
				}
				return
			}

			var msg wireMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				// Binary audio frames arrive on the same socket; skip them.
				continue
			}

			if !connected {
				connected = true
				events <- Event{Type: EventConnected}
			}

			switch msg.Type {
			case "agent_response_started":
				events <- Event{Type: EventSpeakingStarted}
			case "agent_response_ended":
				events <- Event{Type: EventSpeakingEnded}
			case "conversation_ended":
				events <- Event{Type: EventDisconnected}
				return
			case "error":
				events <- Event{Type: EventError, Reason: "provider error frame"}
				return
			default:
				// pings, transcripts, metadata: not state-relevant
			}
		}
	}()

	return events, closer, nil
}
