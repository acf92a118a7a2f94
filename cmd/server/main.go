package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/trogers1052/signal-alert-service/internal/api"
	"github.com/trogers1052/signal-alert-service/internal/candles"
	"github.com/trogers1052/signal-alert-service/internal/config"
	"github.com/trogers1052/signal-alert-service/internal/database"
	"github.com/trogers1052/signal-alert-service/internal/kafka"
	"github.com/trogers1052/signal-alert-service/internal/notify"
	"github.com/trogers1052/signal-alert-service/internal/pipeline"
	"github.com/trogers1052/signal-alert-service/internal/redis"
	"github.com/trogers1052/signal-alert-service/internal/scheduler"
	"github.com/trogers1052/signal-alert-service/internal/strategy"
)

func main() {
	// Load .env if present, then configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// Connect to database
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := runMigrations(cfg.Database.ConnectionString()); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}
	log.Println("Connected to PostgreSQL database")

	// Connect to Redis
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v (continuing without cache)", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Connected to Redis cache")
	}

	// Create Kafka producer for signal events
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.SignalsTopic)
	defer producer.Close()
	log.Printf("Kafka producer initialized (brokers: %v, topic: %s)", cfg.Kafka.Brokers, cfg.Kafka.SignalsTopic)

	// Telegram notifier is optional; without it signals are recorded only
	var notifier notify.Notifier
	if cfg.Telegram.Configured() {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Printf("Warning: Failed to initialize Telegram bot: %v (continuing without notifications)", err)
		} else {
			notifier = tg
			log.Println("Telegram notifier initialized")
		}
	} else {
		log.Println("Telegram credentials not set; notifications disabled")
	}

	// Candle source over the configured provider bases. A nil interface must
	// stay nil, so only wrap the Redis client when it exists.
	sourceCfg := candles.SourceConfig{
		BinanceBases:   cfg.Candles.BinanceBases,
		BybitBases:     cfg.Candles.BybitBases,
		RequestTimeout: cfg.Candles.RequestTimeout,
	}
	if redisClient != nil {
		sourceCfg.Preferences = redisClient
		sourceCfg.Cache = redisClient
	}
	source := candles.NewSource(sourceCfg)

	evaluator := strategy.NewHTTPEvaluator(cfg.Evaluator.URL, cfg.Evaluator.Timeout)

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Store:         db,
		Source:        source,
		Evaluator:     evaluator,
		Notifier:      notifier,
		Publisher:     producer,
		MinClosedBars: cfg.Candles.MinClosedBars,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create and start Kafka consumer for subscription commands
	consumer := kafka.NewSubscriptionsConsumer(
		cfg.Kafka.Brokers,
		cfg.Kafka.SubscriptionsTopic,
		cfg.Kafka.ConsumerGroup,
		db,
	)
	go func() {
		log.Printf("Starting Kafka subscriptions consumer for topic: %s (group: %s)",
			cfg.Kafka.SubscriptionsTopic, cfg.Kafka.ConsumerGroup)
		if err := consumer.Start(ctx); err != nil {
			log.Printf("Kafka subscriptions consumer error: %v", err)
		}
	}()

	// Start the alert scheduler
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(db, runner, cfg.Scheduler)
		sched.Start()
	} else {
		log.Println("Scheduler disabled; subscriptions run only via run-now")
	}

	// Set up HTTP handler and routes
	handler := api.NewHandler(api.HandlerConfig{
		Store:         db,
		Runner:        runner,
		Evaluator:     evaluator,
		Notifier:      notifier,
		Source:        source,
		Redis:         redisClient,
		KafkaUp:       true,
		MinClosedBars: cfg.Candles.MinClosedBars,
	})
	router := api.SetupRoutes(handler)

	// Create HTTP server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop scheduling new runs, then stop the Kafka consumer
	if sched != nil {
		sched.Stop()
	}
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := consumer.Close(); err != nil {
		log.Printf("Error closing Kafka subscriptions consumer: %v", err)
	}

	log.Println("Server stopped")
}

func runMigrations(databaseUrl string) error {
	m, err := migrate.New("file://./db/migrations", databaseUrl)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			log.Println("No migrations to apply; database is up to date.")
			return nil
		}
		return err
	}

	return nil
}
