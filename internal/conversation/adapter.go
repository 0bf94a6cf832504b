package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const elevenLabsAPIBase = "https://api.elevenlabs.io"

// SessionGrant is a short-lived, provider-signed handle for one live voice
// session. The URL embeds the signature; treat it as a secret.
type SessionGrant struct {
	AgentID   string
	SignedURL string
	TTL       time.Duration
}

// Adapter requests signed session handles from the voice-AI provider.
type Adapter interface {
	RequestSession(ctx context.Context, agentID, callType string) (SessionGrant, error)
}

// ProviderError is an upstream voice-AI failure.
type ProviderError struct {
	Op        string
	Status    int
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("elevenlabs: %s failed (status %d): %s", e.Op, e.Status, e.Message)
}

// ElevenLabsConfig configures the signed-URL adapter.
type ElevenLabsConfig struct {
	APIKey string

	// BaseURL overrides the API base; used by tests.
	BaseURL string

	RequestTimeout time.Duration

	// GrantTTL is the advertised validity of a signed URL. The provider does
	// not return one; fifteen minutes matches its documented behavior.
	GrantTTL time.Duration
}

func (c ElevenLabsConfig) withDefaults() ElevenLabsConfig {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = elevenLabsAPIBase
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 5 * time.Second
	}
	if out.GrantTTL <= 0 {
		out.GrantTTL = 15 * time.Minute
	}
	return out
}

// ElevenLabsAdapter fetches signed conversation URLs for a configured agent.
//
// Retry posture: one immediate retry on transient transport failure only.
// Repeated failure surfaces as a hard error; no voice session is possible for
// this attempt.
type ElevenLabsAdapter struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsAdapter(cfg ElevenLabsConfig) (*ElevenLabsAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("conversation: elevenlabs api key is required")
	}
	cfg = cfg.withDefaults()
	return &ElevenLabsAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

func (a *ElevenLabsAdapter) RequestSession(ctx context.Context, agentID, callType string) (SessionGrant, error) {
	if agentID == "" {
		return SessionGrant{}, &ProviderError{Op: "RequestSession", Message: "agent id is not configured"}
	}

	grant, err := a.fetchSignedURL(ctx, agentID)
	if err != nil && isTransient(err) && ctx.Err() == nil {
		grant, err = a.fetchSignedURL(ctx, agentID)
	}
	if err != nil {
		return SessionGrant{}, err
	}
	return grant, nil
}

func (a *ElevenLabsAdapter) fetchSignedURL(ctx context.Context, agentID string) (SessionGrant, error) {
	u := fmt.Sprintf("%s/v1/convai/conversation/get_signed_url?agent_id=%s",
		a.cfg.BaseURL, url.QueryEscape(agentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SessionGrant{}, err
	}
	req.Header.Set("xi-api-key", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return SessionGrant{}, ctx.Err()
		}
		return SessionGrant{}, &ProviderError{Op: "RequestSession", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SessionGrant{}, &ProviderError{Op: "RequestSession", Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return SessionGrant{}, &ProviderError{
			Op:        "RequestSession",
			Status:    resp.StatusCode,
			Message:   strings.TrimSpace(string(raw)),
			Retryable: resp.StatusCode >= 500,
		}
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return SessionGrant{}, &ProviderError{Op: "RequestSession", Message: "malformed provider response: " + err.Error()}
	}
	if out.SignedURL == "" {
		return SessionGrant{}, &ProviderError{Op: "RequestSession", Message: "provider returned no signed url"}
	}

	return SessionGrant{AgentID: agentID, SignedURL: out.SignedURL, TTL: a.cfg.GrantTTL}, nil
}

func isTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
