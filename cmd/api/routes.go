package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"counseling-platform/internal/callsession"
	"counseling-platform/internal/httpapi"
	"counseling-platform/internal/rbac"
	"counseling-platform/internal/telephony"
	"counseling-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type registerDeps struct {
	handlers       httpapi.Handlers
	authMW         gin.HandlerFunc
	callManager    *callsession.Manager
	callbackSecret string
	db             *sql.DB
	rdb            *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps registerDeps) {
	h := deps.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if deps.db != nil {
			if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": "down"})
				return
			}
		}
		if deps.rdb != nil {
			if err := deps.rdb.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "down"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public, token-authenticated).
	// Stale and duplicate callbacks answer 200 so the provider stops retrying.
	webhook := telephony.StatusWebhookHandler{
		Secret: deps.callbackSecret,
		Sink: func(ctx context.Context, providerCallID, rawStatus string, rawDuration int, ts time.Time) error {
			_, err := deps.callManager.ApplyProviderUpdate(ctx, providerCallID, rawStatus, rawDuration, ts)
			if errors.Is(err, callsession.ErrStaleUpdate) {
				return nil
			}
			return err
		},
	}
	r.POST("/webhooks/twilio/status", webhook.Handle)

	// Token issuance stays outside the auth middleware.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		// STUDENT routes: counselors and mentors read the roster.
		studentsGroup := v1.Group("/students")
		studentsGroup.Use(rbac.RequireAnyRole(rbac.RoleCounselor, rbac.RoleMentor))
		{
			studentsGroup.GET("/at-risk", h.ListAtRiskStudents)
			studentsGroup.GET("/:student_id", h.GetStudent)
			studentsGroup.GET("/:student_id/calls", h.ListCalls)
			studentsGroup.GET("/:student_id/calls/active", h.GetActiveCall)
		}

		// CALL routes: only counselors place outbound calls.
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleCounselor))
		{
			calls.POST("", h.PlaceCall)
			calls.POST("/retry", h.RetryCall)
			calls.POST("/:provider_call_id/reconcile", h.ReconcileCall)
			calls.POST("/:provider_call_id/schedule", h.ScheduleCall)
		}

		// CONVERSATION routes: live AI voice sessions.
		conv := v1.Group("/conversations")
		conv.Use(rbac.RequireAnyRole(rbac.RoleCounselor, rbac.RoleMentor))
		{
			conv.POST("", h.StartConversation)
			conv.GET("/:conversation_id", h.GetConversation)
			conv.POST("/:conversation_id/end", h.EndConversation)
			conv.POST("/:conversation_id/volume", h.SetConversationVolume)
			conv.POST("/:conversation_id/mic", h.ToggleConversationMic)
			conv.POST("/:conversation_id/video", h.ToggleConversationVideo)
		}

		// REPORTING routes: counselors see outreach metrics; admin bypasses.
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleCounselor))
		{
			reports.GET("/calls", h.CallsSummary)
			reports.GET("/dashboard", h.DashboardStats)
		}
	}
}
