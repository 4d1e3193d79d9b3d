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

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"

	"github.com/95percent-ai/butt-dial-sub003/internal/audit"
	"github.com/95percent-ai/butt-dial-sub003/internal/auth"
	"github.com/95percent-ai/butt-dial-sub003/internal/bridge"
	"github.com/95percent-ai/butt-dial-sub003/internal/config"
	"github.com/95percent-ai/butt-dial-sub003/internal/deadletter"
	"github.com/95percent-ai/butt-dial-sub003/internal/directory"
	"github.com/95percent-ai/butt-dial-sub003/internal/outbound"
	"github.com/95percent-ai/butt-dial-sub003/internal/pricing"
	"github.com/95percent-ai/butt-dial-sub003/internal/quota"
	"github.com/95percent-ai/butt-dial-sub003/internal/reporting"
	"github.com/95percent-ai/butt-dial-sub003/internal/session"
	"github.com/95percent-ai/butt-dial-sub003/internal/telephony"
	"github.com/95percent-ai/butt-dial-sub003/internal/voice"
	"github.com/95percent-ai/butt-dial-sub003/pkg/logger"
	"github.com/95percent-ai/butt-dial-sub003/pkg/utils"
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

	// Auth: credential store, brute-force guard, bearer resolver.
	creds := auth.NewSQLRepo(db)
	guard := auth.NewRedisGuard(rdb, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutWindow)
	resolver := auth.NewResolver(creds, guard, cfg.Auth.OperatorToken)

	// Directory, quota, pricing, audit.
	agents := directory.NewService(directory.NewSQLTenantRepo(db), directory.NewSQLAgentRepo(db), cfg.App.EmailDomain, log)
	ledger := quota.NewSQLLedger(db)
	limits := quota.NewSQLLimitsRepo(db)
	gate := quota.NewGate(ledger, limits)
	pricingSvc := pricing.NewService(pricing.NewSQLTierRepo(db))
	auditSvc := audit.NewService(audit.NewSQLRepo(db), log)

	// Delivery plumbing: session registry, dead letters, redelivery.
	registry := session.NewRegistry()
	letters := deadletter.NewSQLStore(db)
	redeliverer := deadletter.NewRedeliverer(letters, registry, log)

	// Carrier boundary. The in-memory provider records submissions; swap
	// in a real adapter behind the same interfaces for live traffic.
	provider := telephony.NewMemoryProvider()

	var verifier *telephony.Verifier
	if cfg.Provider.WebhookSecret != "" {
		verifier = telephony.NewVerifier(cfg.Provider.WebhookSecret, cfg.Provider.ReplayWindow, telephony.NewRedisNonceGuard(rdb))
	} else {
		log.Warn("webhook signature verification disabled, no secret configured")
	}

	out := outbound.NewService(agents, gate, ledger, pricingSvc, provider, provider, provider, log)
	reportingSvc := reporting.NewService(ledger, pricingSvc)

	// Bridge routing for leg-to-leg forwarding.
	router := bridge.NewRouter(bridge.NewSQLRouteRepo(db), bridge.NewSQLRecordRepo(db), log)

	// Voice relay; without a model key the relay answers with a fixed
	// unavailable utterance.
	var completer voice.Completer
	if cfg.Model.APIKey != "" {
		completer = voice.NewOpenAICompleter(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Model)
	}
	relay := voice.NewRelay(registry, completer, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:         cfg,
		log:         log,
		resolver:    resolver,
		creds:       creds,
		agents:      agents,
		gate:        gate,
		limits:      limits,
		letters:     letters,
		registry:    registry,
		redeliverer: redeliverer,
		outbound:    out,
		reporting:   reportingSvc,
		pricing:     pricingSvc,
		audit:       auditSvc,
		router:      router,
		relay:       relay,
		verifier:    verifier,
	})

	// Nightly dead-letter purge; entries older than the retention window
	// are gone for good.
	purge := cron.New()
	if _, err := purge.AddFunc(cfg.Retain.PurgeSpec, func() {
		cutoff := time.Now().AddDate(0, 0, -cfg.Retain.DeadLetterDays)
		n, err := letters.PurgeOlderThan(context.Background(), cutoff)
		if err != nil {
			log.Error("dead letter purge failed", "err", err)
			return
		}
		if n > 0 {
			log.Info("dead letters purged", "count", n, "cutoff", cutoff)
		}
	}); err != nil {
		log.Error("purge schedule invalid", "spec", cfg.Retain.PurgeSpec, "err", err)
		os.Exit(1)
	}
	purge.Start()
	defer purge.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gateway listening", "addr", srv.Addr, "env", cfg.App.Env)
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
