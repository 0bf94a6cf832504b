package telephony

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"counseling-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusCallbackForm captures the subset of Twilio call-progress callback
// fields we care about. Twilio posts application/x-www-form-urlencoded.
//
// Keep it minimal and provider-adapter-only; reconciliation decisions are not
// made here.
type StatusCallbackForm struct {
	CallSid        string
	CallStatus     string
	CallDuration   int
	Timestamp      time.Time
	SequenceNumber string
}

func ParseStatusCallback(r *http.Request) (StatusCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallbackForm{}, err
	}
	f := StatusCallbackForm{
		CallSid:        strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus:     strings.TrimSpace(r.PostFormValue("CallStatus")),
		SequenceNumber: strings.TrimSpace(r.PostFormValue("SequenceNumber")),
	}
	if f.CallSid == "" {
		return StatusCallbackForm{}, errors.New("telephony: CallSid missing")
	}
	if f.CallStatus == "" {
		return StatusCallbackForm{}, errors.New("telephony: CallStatus missing")
	}
	if v := r.PostFormValue("CallDuration"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			f.CallDuration = d
		}
	}
	if v := r.PostFormValue("Timestamp"); v != "" {
		if t, err := time.Parse(twilioTimeLayout, v); err == nil {
			f.Timestamp = t.UTC()
		}
	}
	return f, nil
}

// ProviderUpdateFunc is the session manager's update entry point, injected as
// a function so this adapter stays decoupled from session internals. The
// wiring layer swallows stale-update errors before they reach here; redelivery
// must answer 200.
type ProviderUpdateFunc func(ctx context.Context, providerCallID, rawStatus string, rawDuration int, ts time.Time) error

// StatusWebhookHandler converts provider status callbacks into session
// updates. Redelivery is harmless: the update path drops stale timestamps.
type StatusWebhookHandler struct {
	Sink ProviderUpdateFunc

	// Secret authenticates callbacks via a shared token query parameter.
	// Empty disables the check (local/dev only).
	Secret string

	Now func() time.Time
}

func (h StatusWebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status sink not configured"})
		return
	}
	if h.Secret != "" {
		got := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
	}

	form, err := ParseStatusCallback(c.Request)
	if err != nil {
		log.Warn("status callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ts := form.Timestamp
	if ts.IsZero() {
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		ts = now().UTC()
	}

	if err := h.Sink(c.Request.Context(), form.CallSid, form.CallStatus, form.CallDuration, ts); err != nil {
		log.Error("status callback apply failed", "provider_call_id", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	c.Status(http.StatusOK)
}
