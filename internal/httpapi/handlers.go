package httpapi

import (
	"errors"
	"net/http"
	"time"

	"counseling-platform/internal/audit"
	"counseling-platform/internal/auth"
	"counseling-platform/internal/callsession"
	"counseling-platform/internal/conversation"
	"counseling-platform/internal/reporting"
	"counseling-platform/internal/students"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth          *auth.Manager
	Calls         *callsession.Manager
	Students      students.Repository
	Reporting     *reporting.Service
	Audit         *audit.Service
	Conversations *ConversationHub
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate
// credentials against the district SSO.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type placeCallRequest struct {
	StudentID string `json:"student_id"`
	CallType  string `json:"call_type"`

	// PhoneNumber overrides the number on file when set.
	PhoneNumber string `json:"phone_number,omitempty"`
}

func (h Handlers) resolveCallRequest(c *gin.Context) (callsession.CallRequest, bool) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return callsession.CallRequest{}, false
	}
	if req.StudentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "student_id required"})
		return callsession.CallRequest{}, false
	}

	callType := callsession.CallType(req.CallType)
	number := req.PhoneNumber
	if number == "" {
		if h.Students == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
			return callsession.CallRequest{}, false
		}
		student, err := h.Students.Get(c.Request.Context(), req.StudentID)
		if err != nil {
			if errors.Is(err, students.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "student not found"})
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "student lookup failed"})
			}
			return callsession.CallRequest{}, false
		}
		number, err = students.PhoneFor(student, callType)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return callsession.CallRequest{}, false
		}
	}

	userID, _ := auth.UserID(c.Request.Context())
	return callsession.CallRequest{
		StudentID:   req.StudentID,
		CallType:    callType,
		PhoneNumber: number,
		InitiatedBy: userID,
	}, true
}

// PlaceCall admits and places an outbound counseling call.
func (h Handlers) PlaceCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	req, ok := h.resolveCallRequest(c)
	if !ok {
		return
	}

	s, err := h.Calls.RequestCall(c.Request.Context(), req)
	if err != nil {
		h.writeCallError(c, err)
		return
	}
	h.auditCallPlaced(c, s)
	c.JSON(http.StatusCreated, s)
}

// RetryCall places a fresh attempt for a student whose last call resolved
// without contact. The prior row is left untouched.
func (h Handlers) RetryCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	req, ok := h.resolveCallRequest(c)
	if !ok {
		return
	}

	s, err := h.Calls.RetryCall(c.Request.Context(), req)
	if err != nil {
		h.writeCallError(c, err)
		return
	}
	h.auditCallPlaced(c, s)
	c.JSON(http.StatusCreated, s)
}

// ReconcileCall pulls the provider's current view of a call and applies it.
// Counselors use it to resolve a session when no status callback arrived
// (callback-less deployments, or a dropped delivery).
func (h Handlers) ReconcileCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	providerCallID := c.Param("provider_call_id")

	s, err := h.Calls.ReconcileByPoll(c.Request.Context(), providerCallID)
	if err != nil {
		switch {
		case errors.Is(err, callsession.ErrStaleUpdate):
			// The provider's view adds nothing; return the row as it stands.
			s, ok, lookupErr := h.Calls.GetByProviderCallID(c.Request.Context(), providerCallID)
			if lookupErr != nil || !ok {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
				return
			}
			c.JSON(http.StatusOK, s)
		case errors.Is(err, callsession.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		case errors.Is(err, callsession.ErrValidation):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider status lookup failed"})
		}
		return
	}
	c.JSON(http.StatusOK, s)
}

// ScheduleCall defers an in-flight call: the row resolves to scheduled and
// the student's slot frees for a later retry.
func (h Handlers) ScheduleCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	providerCallID := c.Param("provider_call_id")

	s, err := h.Calls.MarkScheduled(c.Request.Context(), providerCallID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, callsession.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		case errors.Is(err, callsession.ErrTerminal), errors.Is(err, callsession.ErrStaleUpdate):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already resolved"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "schedule failed"})
		}
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) writeCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, callsession.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, callsession.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already in progress for student"})
	default:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call placement failed"})
	}
}

func (h Handlers) auditCallPlaced(c *gin.Context, s callsession.CallSession) {
	if h.Audit == nil {
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	// Best-effort; never fail the call on audit trouble.
	_ = h.Audit.LogCallPlaced(c.Request.Context(), userID, role, c.ClientIP(), s.StudentID, s.ID)
}

// GetActiveCall returns the student's in-flight session, if any.
func (h Handlers) GetActiveCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	studentID := c.Param("student_id")
	if studentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "student_id required"})
		return
	}

	s, ok, err := h.Calls.GetActiveSession(c.Request.Context(), studentID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active call"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// ListCalls returns the student's call history, most recent first.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	studentID := c.Param("student_id")
	if studentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "student_id required"})
		return
	}

	rows, err := h.Calls.ListByStudent(c.Request.Context(), studentID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows})
}

// --- Students ---

func (h Handlers) GetStudent(c *gin.Context) {
	if h.Students == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "students not configured"})
		return
	}
	s, err := h.Students.Get(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		if errors.Is(err, students.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) ListAtRiskStudents(c *gin.Context) {
	if h.Students == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "students not configured"})
		return
	}
	min := students.RiskLevel(c.DefaultQuery("min_risk", string(students.RiskHigh)))

	rows, err := h.Students.ListAtRisk(c.Request.Context(), min)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": rows})
}

// --- Reporting ---

func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return
	}

	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:     reporting.TimeRange{From: from, To: to},
		StudentID: c.Query("student_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DashboardStats(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	out, err := h.Reporting.DashboardStats(c.Request.Context(), reporting.DashboardStatsRequest{})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Conversations (live voice sessions) ---

type startConversationRequest struct {
	AgentID       string `json:"agent_id"`
	CallType      string `json:"call_type"`
	CallSessionID string `json:"call_session_id,omitempty"`
}

// StartConversation opens a live AI voice session and returns its snapshot.
func (h Handlers) StartConversation(c *gin.Context) {
	if h.Conversations == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversations not configured"})
		return
	}
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required"})
		return
	}

	ctrl := h.Conversations.Create()
	err := ctrl.Start(c.Request.Context(), conversation.StartRequest{
		AgentID:       req.AgentID,
		CallType:      req.CallType,
		CallSessionID: req.CallSessionID,
	})
	if err != nil {
		snap := ctrl.Snapshot()
		h.Conversations.Remove(snap.ID)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "session": snap})
		return
	}
	c.JSON(http.StatusCreated, ctrl.Snapshot())
}

func (h Handlers) conversationByID(c *gin.Context) (*conversation.Controller, bool) {
	if h.Conversations == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "conversations not configured"})
		return nil, false
	}
	ctrl, err := h.Conversations.Get(c.Param("conversation_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	return ctrl, true
}

func (h Handlers) GetConversation(c *gin.Context) {
	ctrl, ok := h.conversationByID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// EndConversation tears the session down. The local disconnect always wins;
// provider-side teardown failures are not surfaced.
func (h Handlers) EndConversation(c *gin.Context) {
	ctrl, ok := h.conversationByID(c)
	if !ok {
		return
	}
	if err := ctrl.End(c.Request.Context()); err != nil {
		if errors.Is(err, conversation.ErrInvalidState) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "end failed"})
		return
	}
	snap := ctrl.Snapshot()
	h.Conversations.Remove(snap.ID)
	c.JSON(http.StatusOK, snap)
}

type setVolumeRequest struct {
	Volume float64 `json:"volume"`
}

func (h Handlers) SetConversationVolume(c *gin.Context) {
	ctrl, ok := h.conversationByID(c)
	if !ok {
		return
	}
	var req setVolumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := ctrl.SetVolume(req.Volume); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h Handlers) ToggleConversationMic(c *gin.Context) {
	ctrl, ok := h.conversationByID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"mic_on": ctrl.ToggleMic()})
}

func (h Handlers) ToggleConversationVideo(c *gin.Context) {
	ctrl, ok := h.conversationByID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_on": ctrl.ToggleVideo()})
}
