package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"counseling-platform/internal/audit"
	"counseling-platform/internal/auth"
	"counseling-platform/internal/callsession"
	"counseling-platform/internal/config"
	"counseling-platform/internal/conversation"
	"counseling-platform/internal/httpapi"
	"counseling-platform/internal/reporting"
	"counseling-platform/internal/students"
	"counseling-platform/internal/telephony"
	"counseling-platform/pkg/logger"
	"counseling-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	twilio, err := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID:     cfg.Twilio.AccountSID,
		AuthToken:      cfg.Twilio.AuthToken,
		AttemptTimeout: cfg.Calls.PlacementTimeout,
		MaxRetries:     cfg.Calls.PlaceRetries,
	})
	if err != nil {
		log.Error("twilio init failed", "err", err)
		os.Exit(1)
	}

	callManager := callsession.NewManager(
		callsession.NewPostgresStore(db),
		callsession.NewRedisLease(rdb),
		twilio,
		callsession.ManagerConfig{
			LeaseTTL:          cfg.Calls.LeaseTTL,
			FromNumber:        cfg.Twilio.FromNumber,
			StatusCallbackURL: cfg.Calls.StatusCallbackURL,
		},
		log,
	)

	// Background sweep for placing rows orphaned by a crashed replica.
	go func() {
		ticker := time.NewTicker(cfg.Calls.LeaseTTL)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if n, err := callManager.SweepStalePlacing(rootCtx); err != nil {
					log.Warn("stale placement sweep failed", "err", err)
				} else if n > 0 {
					log.Info("stale placements swept", "count", n)
				}
			}
		}
	}()

	// Poll the provider for active sessions. With no callback URL configured
	// this is the only way in-flight rows ever resolve; with callbacks it
	// catches dropped deliveries.
	go func() {
		ticker := time.NewTicker(cfg.Calls.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if n, err := callManager.ReconcileActive(rootCtx); err != nil {
					log.Warn("active session reconciliation failed", "err", err)
				} else if n > 0 {
					log.Info("sessions resolved by poll", "count", n)
				}
			}
		}
	}()

	roster := students.NewPostgresRepository(db)

	voiceAdapter, err := conversation.NewElevenLabsAdapter(conversation.ElevenLabsConfig{
		APIKey: cfg.ElevenLabs.APIKey,
	})
	if err != nil {
		log.Error("elevenlabs init failed", "err", err)
		os.Exit(1)
	}
	conversations := httpapi.NewConversationHub(func() *conversation.Controller {
		return conversation.NewController(voiceAdapter, nil, nil, log)
	})

	handlers := httpapi.Handlers{
		Auth:          authManager,
		Calls:         callManager,
		Students:      roster,
		Reporting:     reporting.NewService(callsession.NewPostgresStore(db), roster),
		Audit:         audit.NewService(audit.NewPostgresRepo(db)),
		Conversations: conversations,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, registerDeps{
		handlers:       handlers,
		authMW:         auth.RequireAccessToken(authManager),
		callManager:    callManager,
		callbackSecret: cfg.Twilio.CallbackSecret,
		db:             db,
		rdb:            rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
