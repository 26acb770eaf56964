package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/cache"
	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/database"
	"github.com/vpnshop/paycore/internal/pkg/env"
	"github.com/vpnshop/paycore/internal/pkg/gateway"
	"github.com/vpnshop/paycore/internal/pkg/jobqueue"
	"github.com/vpnshop/paycore/internal/pkg/metrics/counter"
	"github.com/vpnshop/paycore/internal/pkg/router"
	"github.com/vpnshop/paycore/internal/pkg/s3backup"
)

// Application is the assembled server.
type Application struct {
	Config  *config.Config
	App     *fiber.App
	Workers *jobqueue.Manager
	Redis   *redis.Client
}

func main() {
	application, err := NewApplication()
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}

	if application.Config.Workers.Enabled {
		if err := application.Workers.Start(); err != nil {
			log.Fatalf("[Main] Failed to start workers: %v", err)
		}
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", application.Config.App.Host, application.Config.App.Port)
		if err := application.App.Listen(addr); err != nil {
			log.Fatalf("[Main] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	if err := application.App.ShutdownWithTimeout(15 * time.Second); err != nil {
		log.Errorf("[Main] HTTP shutdown: %v", err)
	}
	application.Workers.Stop()
	_ = application.Redis.Close()
}

func NewApplication() (*Application, error) {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	db, err := database.SetupDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rdb := cache.SetupCache(cfg.Cache)

	registry, err := gateway.FromConfig(cfg.Providers, gateway.Deps{Stars: starsSender(cfg)})
	if err != nil {
		return nil, fmt.Errorf("gateways: %w", err)
	}
	log.Infof("[Main] Payment providers configured: %v", registry.Names())

	service := billing.NewServiceFromDB(db, registry, cfg.Billing).WithCounter(counter.New(rdb))

	relay := jobqueue.NewOutboxRelay(service.Repository(),
		jobqueue.NewStreamPublisher(rdb, cfg.Workers.OutboxStream, cfg.Workers.OutboxMaxLen),
		cfg.Workers.OutboxBatchSize)
	var archiver *jobqueue.DeliveryArchiver
	if cfg.Archive.Enabled {
		client, err := s3backup.NewClient(context.Background(), cfg.Archive, cfg.App.Env)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		archiver = jobqueue.NewDeliveryArchiver(service.Repository(), client, cfg.Archive.Prefix, cfg.Workers.ArchiveOlderThan)
	}
	workers := jobqueue.NewManager(cfg.Workers, service.Engine(), relay, archiver)

	app := fiber.New(router.AppConfig(cfg.App))
	if len(cfg.App.TrustedProxies) == 0 {
		log.Info("[Main] No trusted proxies configured, X-Forwarded-For is ignored")
	}

	// recovery and logging
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.Deps{
		Config:         cfg,
		DB:             db,
		Redis:          rdb,
		LimiterStorage: cache.NewLimiterStorage(cfg.Cache),
		Service:        service,
		Clients:        repository.NewFactory(db).GetAPIClientRepository(),
	})

	return &Application{Config: cfg, App: app, Workers: workers, Redis: rdb}, nil
}

// starsSender opens the bot used for Telegram Stars invoices. Without it
// Stars callbacks are still verified, only invoice creation is unavailable.
func starsSender(cfg *config.Config) gateway.InvoiceSender {
	stars := cfg.Providers.TelegramStars
	if !stars.Enabled || stars.BotToken == "" {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(stars.BotToken)
	if err != nil {
		log.Warnf("[Main] Telegram bot unavailable, Stars invoices disabled: %v", err)
		return nil
	}
	bot.Debug = cfg.IsDev()
	log.Infof("[Main] Telegram Stars invoices sent as @%s", bot.Self.UserName)
	return bot
}
