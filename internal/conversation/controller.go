package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the client-facing state of a live voice session.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateSpeaking     ConnectionState = "speaking"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

func (s ConnectionState) terminal() bool {
	return s == StateDisconnected || s == StateError
}

var ErrInvalidState = errors.New("conversation: operation not valid in current state")

// PermissionFunc confirms audio-capture permission before a session connects.
// Denial or timeout fails the session; it never reaches Connected.
type PermissionFunc func(ctx context.Context) error

// Session is a read-only snapshot of a live voice session.
// Sessions are ephemeral: nothing here is persisted past Disconnected/Error.
type Session struct {
	ID       string          `json:"id"`
	AgentID  string          `json:"agent_id"`
	CallType string          `json:"call_type"`

	// CallSessionID correlates this conversation with a placed call, when one
	// exists. Informational only; the durable call log never references it.
	CallSessionID string `json:"call_session_id,omitempty"`

	State          ConnectionState `json:"state"`
	Volume         float64         `json:"volume"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	MicOn          bool            `json:"mic_on"`
	VideoOn        bool            `json:"video_on"`
}

// StartRequest carries the explicit inputs for starting a voice session.
type StartRequest struct {
	AgentID       string `json:"agent_id"`
	CallType      string `json:"call_type"`
	CallSessionID string `json:"call_session_id,omitempty"`
}

// Controller owns exactly one ConversationSession and drives its state
// machine from provider-sourced events.
//
// State transitions: Idle -> Connecting -> Connected <-> Speaking ->
// Disconnected; Error is reachable from any non-terminal state. Speaking is
// entered only on an explicit provider event, never on a timer.
type Controller struct {
	adapter    Adapter
	dial       DialFunc
	permission PermissionFunc
	log        *slog.Logger
	clock      func() time.Time

	mu sync.Mutex

	id            string
	agentID       string
	callType      string
	callSessionID string

	state   ConnectionState
	volume  float64
	micOn   bool
	videoOn bool

	accumElapsed time.Duration
	activeSince  time.Time

	cancel context.CancelFunc
	closer StreamCloser
}

func NewController(adapter Adapter, dial DialFunc, permission PermissionFunc, log *slog.Logger) *Controller {
	if dial == nil {
		dial = DialEventStream
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		adapter:    adapter,
		dial:       dial,
		permission: permission,
		log:        log,
		clock:      time.Now,
		id:         uuid.NewString(),
		state:      StateIdle,
		volume:     0.8,
		micOn:      true,
		videoOn:    true,
	}
}

// Start acquires capture permission, requests a signed session handle, and
// opens the provider event stream. It returns once the stream is dialing; the
// Connected transition follows from the provider's first event.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, c.state)
	}
	if req.AgentID == "" {
		c.mu.Unlock()
		return errors.New("conversation: agent id is required")
	}
	c.state = StateConnecting
	c.agentID = req.AgentID
	c.callType = req.CallType
	c.callSessionID = req.CallSessionID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if c.permission != nil {
		if err := c.permission(runCtx); err != nil {
			c.fail("microphone permission denied: " + err.Error())
			return err
		}
	}

	grant, err := c.adapter.RequestSession(runCtx, req.AgentID, req.CallType)
	if err != nil {
		// End() mid-Connecting cancels runCtx; the session is then already
		// Disconnected and must stay that way.
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.fail("session grant failed: " + err.Error())
		return err
	}

	events, closer, err := c.dial(runCtx, grant.SignedURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.fail("stream dial failed: " + err.Error())
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Ended while dialing; tear the fresh stream down.
		c.mu.Unlock()
		_ = closer()
		return ErrInvalidState
	}
	c.closer = closer
	c.mu.Unlock()

	go c.consume(events)
	return nil
}

// End tears the session down from any state except Idle. The local transition
// to Disconnected is unconditional; provider-side teardown failure is logged,
// never surfaced as blocking.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: no session to end", ErrInvalidState)
	}
	cancel := c.cancel
	closer := c.closer
	c.cancel = nil
	c.closer = nil
	c.finishLocked(StateDisconnected)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		if err := closer(); err != nil {
			c.log.Warn("conversation teardown failed", "session_id", c.id, "err", err)
		}
	}
	return nil
}

// SetVolume adjusts playback volume, clamped to [0, 1].
// Valid only while Connected or Speaking.
func (c *Controller) SetVolume(v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected && c.state != StateSpeaking {
		return fmt.Errorf("%w: set volume in %s", ErrInvalidState, c.state)
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.volume = v
	return nil
}

// ToggleMic flips the local microphone flag and returns the new value.
func (c *Controller) ToggleMic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.micOn = !c.micOn
	return c.micOn
}

// ToggleVideo flips the local video flag and returns the new value.
func (c *Controller) ToggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoOn = !c.videoOn
	return c.videoOn
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.accumElapsed
	if !c.activeSince.IsZero() {
		elapsed += c.clock().Sub(c.activeSince)
	}
	return Session{
		ID:             c.id,
		AgentID:        c.agentID,
		CallType:       c.callType,
		CallSessionID:  c.callSessionID,
		State:          c.state,
		Volume:         c.volume,
		ElapsedSeconds: int(elapsed / time.Second),
		MicOn:          c.micOn,
		VideoOn:        c.videoOn,
	}
}

func (c *Controller) consume(events <-chan Event) {
	for ev := range events {
		c.apply(ev)
	}
}

// apply advances the state machine on one provider event. Events arriving
// after a terminal state are ignored.
func (c *Controller) apply(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.terminal() {
		return
	}

	switch ev.Type {
	case EventConnected:
		if c.state == StateConnecting {
			c.state = StateConnected
			c.activeSince = c.clock()
		}
	case EventSpeakingStarted:
		if c.state == StateConnected {
			c.state = StateSpeaking
		}
	case EventSpeakingEnded:
		if c.state == StateSpeaking {
			c.state = StateConnected
		}
	case EventDisconnected:
		c.finishLocked(StateDisconnected)
	case EventError:
		c.log.Warn("conversation stream error", "session_id", c.id, "reason", ev.Reason)
		c.finishLocked(StateError)
	}
}

// fail resolves a session that never reached its stream (permission denial,
// grant failure, dial failure).
func (c *Controller) fail(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.terminal() {
		return
	}
	c.log.Warn("conversation failed", "session_id", c.id, "reason", reason)
	c.finishLocked(StateError)
}

// finishLocked moves to a terminal state and stops the elapsed counter.
// Callers hold c.mu.
func (c *Controller) finishLocked(to ConnectionState) {
	if !c.activeSince.IsZero() {
		c.accumElapsed += c.clock().Sub(c.activeSince)
		c.activeSince = time.Time{}
	}
	c.state = to
}
