package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/kvstore"
	"github.com/ignite/morpheus/internal/pkg/distlock"
	"github.com/ignite/morpheus/internal/pkg/logger"
	"github.com/ignite/morpheus/internal/provider/mandrill"
	"github.com/ignite/morpheus/internal/provider/messagebird"
	"github.com/ignite/morpheus/internal/provider/pdfsvc"
	"github.com/ignite/morpheus/internal/provider/ses"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/store"
	"github.com/ignite/morpheus/internal/worker"
)

func main() {
	log.Println("Starting Morpheus send worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	log.Println("Connected to redis")

	var sesClient worker.SESAPI
	if cfg.SES.Enabled {
		client, err := ses.NewClient(context.Background(), cfg.SES)
		if err != nil {
			log.Fatalf("Failed to initialize SES: %v", err)
		}
		sesClient = client
	}

	w := worker.New(
		store.New(db),
		kvstore.New(rdb),
		mandrill.NewClient(cfg.Mandrill),
		messagebird.NewClient(cfg.MessageBird),
		sesClient,
		pdfsvc.NewClient(cfg.PDF),
		cfg,
	)

	w.UseAggregationLock(distlock.New(rdb, "aggregation-refresh", 30*time.Minute))

	mux := asynq.NewServeMux()
	w.Register(mux)

	scheduler, err := queue.NewScheduler(cfg.Redis, cfg.Worker)
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	srv := queue.NewServer(cfg.Redis, cfg.Worker)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("Worker error: %v", err)
	}
	log.Println("Worker stopped")
}
