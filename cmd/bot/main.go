package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"wa_guard_bot/internal/config"
	"wa_guard_bot/internal/guard"
	"wa_guard_bot/internal/health"
	"wa_guard_bot/internal/logging"
	"wa_guard_bot/internal/store"
	"wa_guard_bot/internal/whatsapp"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	whatsappSetupTimeout   = 30 * time.Second
	healthShutdownTimeout  = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	var gate guard.Gate
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		gate = guard.NewRedisGate(redisClient, cfg.PromoteCooldown, logger)
		logger.WithField("event", "cooldown_gate").Info("using shared redis cooldown gate")
	} else {
		gate = guard.NewMemoryGate(cfg.PromoteCooldown)
		logger.WithField("event", "cooldown_gate").Info("using in-process cooldown gate")
	}

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), whatsappSetupTimeout)
	waClient, err := whatsapp.NewClient(setupCtx, cfg, logger)
	cancelSetup()
	if err != nil {
		logger.WithError(err).Error("whatsapp client setup error")
		fmt.Fprintf(os.Stderr, "whatsapp client setup error: %v\n", err)
		os.Exit(1)
	}

	registry := guard.NewRegistry(mongoManager.Protection(), logger)
	listener := guard.NewListener(registry, waClient, gate, logger)
	commands := guard.NewCommands(registry, waClient, cfg.BotOwner, cfg.SudoJIDs, logger)
	waClient.SetHandlers(commands, listener)

	if err := waClient.Connect(context.Background()); err != nil {
		logger.WithError(err).Error("whatsapp connection error")
		fmt.Fprintf(os.Stderr, "whatsapp connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "whatsapp_ready").Info("whatsapp client connected")

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	watchdog := guard.NewWatchdog(registry, waClient, gate, cfg.WatchdogInterval, logger)
	if err := watchdog.Start(runCtx); err != nil {
		logger.WithError(err).Error("watchdog start error")
		fmt.Fprintf(os.Stderr, "watchdog start error: %v\n", err)
		os.Exit(1)
	}

	statsProvider := store.NewStatsProvider(mongoManager.Protection())
	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, waClient, statsProvider, logger)
	healthDone := make(chan struct{})
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
		close(healthDone)
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-signalCtx.Done()
	logger.WithField("event", "shutdown_signal").Info("received termination signal, shutting down")

	cancelRun()
	waClient.Disconnect()
	logger.WithField("event", "whatsapp_disconnect").Info("whatsapp client disconnected")

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()
	<-healthDone

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Error("redis close error")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
