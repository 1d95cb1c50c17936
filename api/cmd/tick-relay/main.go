package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tick-relay/api/internal/config"
	"tick-relay/api/internal/handle"
	"tick-relay/api/internal/httpserver"
	"tick-relay/api/internal/logger"
	"tick-relay/api/internal/store"
	"tick-relay/api/internal/telegram"
	"tick-relay/api/internal/vision"
	"tick-relay/api/internal/vision/azure"
	"tick-relay/api/internal/vision/gemini"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engines := vision.Engines{
		Azure: azure.New(cfg.Azure.Endpoint, cfg.Azure.Deployment, cfg.Azure.APIKey, cfg.Azure.APIKeyHeader, cfg.Azure.Timeout),
	}
	if cfg.Gemini.APIKey != "" {
		engines.Gemini = gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model)
	}
	def, err := engines.GetEngine(cfg.Engine)
	if err != nil {
		log.Fatal("failed to select engine", zap.Error(err))
	}
	relay := vision.NewRelay(def)
	log.Info("engine ready", zap.String("engine", def.Name()), zap.String("model", def.GetModel()))

	var auditRepo *store.AuditRepo
	if cfg.Database.URL != "" {
		db, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()
		auditRepo = store.NewAuditRepo(db)
		if err := auditRepo.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to create audit schema", zap.Error(err))
		}
		log.Info("db connected", zap.String("dsn", store.SafeDSNSummary(cfg.Database.URL)))
	}

	var audit handle.AuditLog
	if auditRepo != nil {
		audit = auditRepo
	}
	h := handle.New(relay, audit, cfg.Server.MaxUploadBytes, log).WithAuditEndpoint(cfg.Server.AuditEndpoint)
	srv := httpserver.New(cfg, h, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			log.Fatal("failed to start telegram bot", zap.Error(err))
		}
		r := &telegram.Router{
			Bot:        bot,
			Relay:      relay,
			EngManager: vision.NewManager(def),
			Engines:    engines,
			Log:        log.Named("telegram"),
		}
		if auditRepo != nil {
			r.Audit = auditRepo
		}
		g.Go(func() error { return r.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server exited")
}
