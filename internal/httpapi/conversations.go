package httpapi

import (
	"errors"
	"sync"

	"counseling-platform/internal/conversation"
)

var ErrConversationNotFound = errors.New("httpapi: conversation not found")

// ConversationHub tracks live voice sessions by id so follow-up requests
// (end, volume, mic) reach the right controller. Sessions are ephemeral;
// terminal controllers are dropped on Remove, never persisted.
type ConversationHub struct {
	mu       sync.Mutex
	sessions map[string]*conversation.Controller

	// NewController builds a fresh controller per session; injected so tests
	// can substitute fakes for the adapter and dialer.
	NewController func() *conversation.Controller
}

func NewConversationHub(newController func() *conversation.Controller) *ConversationHub {
	return &ConversationHub{
		sessions:      map[string]*conversation.Controller{},
		NewController: newController,
	}
}

func (h *ConversationHub) Create() *conversation.Controller {
	c := h.NewController()
	h.mu.Lock()
	h.sessions[c.Snapshot().ID] = c
	h.mu.Unlock()
	return c
}

func (h *ConversationHub) Get(id string) (*conversation.Controller, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.sessions[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

func (h *ConversationHub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}
