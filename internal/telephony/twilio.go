package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// twilioTimeLayout is the RFC1123-with-offset format Twilio uses for
// start_time / end_time.
const twilioTimeLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// TwilioConfig configures the Twilio REST adapter.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the Twilio API base; used by tests.
	BaseURL string

	// AttemptTimeout bounds a single HTTP attempt.
	AttemptTimeout time.Duration

	// MaxRetries is the number of extra attempts on retryable errors.
	MaxRetries int

	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration
}

func (c TwilioConfig) withDefaults() TwilioConfig {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = twilioAPIBase
	}
	if out.AttemptTimeout <= 0 {
		out.AttemptTimeout = 5 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 250 * time.Millisecond
	}
	return out
}

// TwilioProvider places and inspects calls via the Twilio voice REST API.
// It holds no call state; every method is a plain remote call.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	cfg = cfg.withDefaults()
	return &TwilioProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.AttemptTimeout},
	}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	// Fetch the account resource; cheapest authenticated endpoint.
	var out struct {
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/Accounts/%s.json", p.cfg.AccountSID)
	if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	return nil
}

type twilioCallResource struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	Duration  string `json:"duration"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error) {
	if req.To == "" || req.From == "" {
		return "", &ProviderError{Provider: p.Name(), Op: "PlaceCall", Message: "to and from are required"}
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Twiml", CounselingGreetingTwiML())
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	var out twilioCallResource
	path := fmt.Sprintf("/Accounts/%s/Calls.json", p.cfg.AccountSID)
	if err := p.doWithRetry(ctx, http.MethodPost, path, form, &out); err != nil {
		return "", err
	}
	if out.Sid == "" {
		return "", &ProviderError{Provider: p.Name(), Op: "PlaceCall", Message: "provider returned no call sid"}
	}
	return out.Sid, nil
}

func (p *TwilioProvider) GetCallStatus(ctx context.Context, providerCallID string) (CallStatusResult, error) {
	if providerCallID == "" {
		return CallStatusResult{}, &ProviderError{Provider: p.Name(), Op: "GetCallStatus", Message: "provider call id is required"}
	}

	var out twilioCallResource
	path := fmt.Sprintf("/Accounts/%s/Calls/%s.json", p.cfg.AccountSID, providerCallID)
	if err := p.doWithRetry(ctx, http.MethodGet, path, nil, &out); err != nil {
		return CallStatusResult{}, err
	}

	res := CallStatusResult{
		ProviderCallID: out.Sid,
		RawStatus:      out.Status,
	}
	if out.Duration != "" {
		if d, err := strconv.Atoi(out.Duration); err == nil {
			res.DurationSeconds = d
		}
	}
	if t, err := time.Parse(twilioTimeLayout, out.StartTime); err == nil {
		res.StartedAt = t.UTC()
	}
	if t, err := time.Parse(twilioTimeLayout, out.EndTime); err == nil {
		res.EndedAt = t.UTC()
	}
	return res, nil
}

// doWithRetry wraps do with bounded retries on retryable errors only.
// Validation-type rejections (4xx) surface immediately.
func (p *TwilioProvider) doWithRetry(ctx context.Context, method, path string, form url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.RetryBackoff):
			}
		}
		lastErr = p.do(ctx, method, path, form, out)
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (p *TwilioProvider) do(ctx context.Context, method, path string, form url.Values, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Transport-level failure; worth another attempt unless the caller's
		// context is gone.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ProviderError{Provider: p.Name(), Op: method + " " + path, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: method + " " + path, Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode >= 400 {
		return &ProviderError{
			Provider:  p.Name(),
			Op:        method + " " + path,
			Status:    resp.StatusCode,
			Message:   strings.TrimSpace(string(raw)),
			Retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &ProviderError{Provider: p.Name(), Op: method + " " + path, Message: "malformed provider response: " + err.Error()}
		}
	}
	return nil
}
