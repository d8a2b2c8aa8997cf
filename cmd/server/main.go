package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/morpheus/internal/api"
	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/kvstore"
	"github.com/ignite/morpheus/internal/pkg/logger"
	"github.com/ignite/morpheus/internal/provider/mandrill"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/store"
)

// mandrillWebhookEvents is the event set we track for email status.
var mandrillWebhookEvents = []string{
	"send", "deferral", "hard_bounce", "soft_bounce", "open", "spam", "unsub", "reject",
}

func main() {
	log.Println("Starting Morpheus API server...")

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

	jobs := queue.NewClient(cfg.Redis, cfg.Worker)
	defer jobs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var subaccounts api.SubaccountAPI
	if cfg.Mandrill.Key != "" {
		mandrillClient := mandrill.NewClient(cfg.Mandrill)
		subaccounts = mandrillClient
		ensureMandrillWebhook(ctx, mandrillClient, cfg.Server.HostName+"/webhook/mandrill/")
	}

	srv := api.NewServer(store.New(db), kvstore.New(rdb), jobs, subaccounts, cfg)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

// ensureMandrillWebhook registers our callback with Mandrill if it is not
// already on the account. Failure is logged, not fatal: status updates catch
// up once the webhook exists.
func ensureMandrillWebhook(ctx context.Context, client *mandrill.Client, url string) {
	hooks, err := client.ListWebhooks(ctx)
	if err != nil {
		log.Printf("[Server] list mandrill webhooks: %v", err)
		return
	}
	for _, h := range hooks {
		if h.URL == url {
			return
		}
	}
	if _, err := client.AddWebhook(ctx, url, "morpheus status updates", mandrillWebhookEvents); err != nil {
		log.Printf("[Server] add mandrill webhook: %v", err)
		return
	}
	log.Printf("[Server] registered mandrill webhook %s", url)
}
