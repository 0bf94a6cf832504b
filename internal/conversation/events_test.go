package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer upgrades each request and runs script against the connection.
func wsServer(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream never closed; got %+v", out)
		}
	}
}

func TestDialEventStream_MapsProviderFrames(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		frames := []string{
			`{"type":"conversation_initiation_metadata"}`,
			`{"type":"agent_response_started"}`,
			`{"type":"agent_response_ended"}`,
			`{"type":"conversation_ended"}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	})

	events, closer, err := DialEventStream(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer closer()

	got := collectEvents(t, events)
	want := []EventType{EventConnected, EventSpeakingStarted, EventSpeakingEnded, EventDisconnected}
	if len(got) != len(want) {
		t.Fatalf("got %d events %+v, want %d", len(got), got, len(want))
	}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
	}
}

func TestDialEventStream_SkipsBinaryAudioFrames(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		// Audio chunks interleave with control frames on the same socket.
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x04, 0x05})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation_ended"}`))
	})

	events, closer, err := DialEventStream(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer closer()

	got := collectEvents(t, events)
	if len(got) != 2 || got[0].Type != EventConnected || got[1].Type != EventDisconnected {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestDialEventStream_NormalCloseIsDisconnected(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation_initiation_metadata"}`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})

	events, closer, err := DialEventStream(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer closer()

	got := collectEvents(t, events)
	if len(got) == 0 || got[len(got)-1].Type != EventDisconnected {
		t.Fatalf("expected trailing Disconnected, got %+v", got)
	}
}

func TestDialEventStream_AbruptCloseIsError(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation_initiation_metadata"}`))
		// Drop the TCP connection without a close handshake.
		_ = conn.UnderlyingConn().Close()
	})

	events, closer, err := DialEventStream(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer closer()

	got := collectEvents(t, events)
	if len(got) == 0 || got[len(got)-1].Type != EventError {
		t.Fatalf("expected trailing Error, got %+v", got)
	}
}

func TestDialEventStream_DialFailure(t *testing.T) {
	_, _, err := DialEventStream(context.Background(), "ws://127.0.0.1:1/conv")
	if err == nil {
		t.Fatalf("expected dial error")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}
