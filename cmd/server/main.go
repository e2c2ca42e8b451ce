package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/adiouf/wabridge/internal/config"
	"github.com/adiouf/wabridge/internal/conversation"
	"github.com/adiouf/wabridge/internal/domain/models"
	"github.com/adiouf/wabridge/internal/scheduler"
	"github.com/adiouf/wabridge/internal/server/handlers"
	"github.com/adiouf/wabridge/internal/server/router"
	messagingsvc "github.com/adiouf/wabridge/internal/service/messaging"
	"github.com/adiouf/wabridge/internal/storage"
	"github.com/adiouf/wabridge/internal/storage/memory"
	"github.com/adiouf/wabridge/internal/storage/mongodb"
	"github.com/adiouf/wabridge/internal/webhook"
	whatsappclient "github.com/adiouf/wabridge/pkg/clients/whatsapp"
	"github.com/adiouf/wabridge/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New())
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	messages, closeStore, err := newMessageStore(ctx, cfg.Storage, baseLogger)
	if err != nil {
		baseLogger.Fatal("failed to init message store", zap.Error(err))
	}
	defer closeStore()

	conversations := conversation.NewStore()
	whatsClient := whatsappclient.NewClient(cfg.WhatsApp, baseLogger.Named("client.whatsapp"))

	messagingSvc := messagingsvc.NewService(cfg.Queue, whatsClient, messages, conversations, baseLogger.Named("svc.messaging"))
	messagingSvc.Start(ctx)
	defer messagingSvc.Stop()

	dispatcher := webhook.NewDispatcher(cfg.Webhook, conversations, messages, whatsClient, baseLogger.Named("svc.dispatch"))
	dispatcher.SetHandlers(webhook.Handlers{
		Message: func(ctx context.Context, event models.ExtractedEvent) error {
			baseLogger.Info("inbound message",
				zap.String("from", event.WaID),
				zap.String("type", string(event.Type)))
			return nil
		},
	})

	webhookHandler := handlers.NewWebhookHandler(dispatcher, messagingSvc, messages, baseLogger.Named("handlers.webhook"))
	engine := router.New(webhookHandler, baseLogger.Named("router"))

	sched := scheduler.NewScheduler(cfg.Retention, messages, baseLogger.Named("scheduler"))
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newMessageStore(ctx context.Context, cfg config.StorageConfig, baseLogger *zap.Logger) (storage.MessageStore, func(), error) {
	switch cfg.Backend {
	case "mongodb":
		store, err := mongodb.NewStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := store.Close(context.Background()); err != nil {
				baseLogger.Error("failed to close mongodb connection", zap.Error(err))
			}
		}
		return store, closeFn, nil
	default:
		return memory.NewStore(), func() {}, nil
	}
}
