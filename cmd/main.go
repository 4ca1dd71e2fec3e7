/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the chain RPC client, message brokers, repositories,
 * the command intake service, the settlement poller, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Settlement poll schedule.
 * - internal/api, internal/app, internal/config, internal/normalizer, internal/notify, internal/store.
 * - pkg/nimiqclient: Client for the Nimiq node RPC.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nimtipbot/settlement-service/internal/api"
	"github.com/nimtipbot/settlement-service/internal/app"
	"github.com/nimtipbot/settlement-service/internal/config"
	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/normalizer"
	"github.com/nimtipbot/settlement-service/internal/notify"
	"github.com/nimtipbot/settlement-service/internal/store"
	"github.com/nimtipbot/settlement-service/pkg/nimiqclient"
	rmrabbit "github.com/nimtipbot/settlement-service/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s network=%s", cfg.ServerPort, cfg.NimiqNetwork)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for reply events. A missing broker
	// degrades notifications to log lines rather than blocking settlement.
	var notifier notify.Notifier
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using log fallback\" err=%v", err)
		notifier = notify.LogNotifier{}
	} else {
		defer rabbitProducer.Close()
		notifier = notify.NewAMQPNotifier(rabbitProducer, cfg.ReplyExchange)
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Nimiq RPC client and its gateway adapter.
	nimiqClient := nimiqclient.NewClient(cfg.NimiqRPCURL)
	nimiqClient.MempoolSoftCap = cfg.MempoolSoftCap
	nimiqClient.PollInterval = time.Duration(cfg.ConfirmationPollSeconds) * time.Second
	gateway := nimiqclient.NewGateway(nimiqClient)

	// Redis is optional; without it command rate limiting is disabled.
	var redisClient *redis.Client
	if cfg.CommandRateLimit > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; command rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; command rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; command rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the account directory and the command intake service.
	directory := app.NewDirectory(repository, gateway, gateway)
	dust := domain.Luna(cfg.DustThresholdLuna)
	settlementService := app.NewService(
		repository,
		directory,
		gateway,
		cfg.NimiqNetwork,
		normalizer.NewDiscord(dust),
		normalizer.NewReddit(dust),
	)
	if redisClient != nil {
		settlementService.SetRateLimiter(
			app.NewRedisCommandRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.CommandRateLimit,
			time.Duration(cfg.CommandRateWindowSeconds)*time.Second,
		)
	}

	// Initialize the settlement loop and its confirmation tracker.
	tracker := app.NewConfirmationTracker(repository, gateway, notifier)
	poller := app.NewPoller(repository, gateway, notifier, tracker, cfg.PollerMaxItems)
	poller.SetRequeueAfterBlocks(cfg.PendingRequeueAfterBlocks)

	scheduler := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := scheduler.AddFunc(cfg.PollSchedule, func() {
		poller.Tick(context.Background())
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"poll schedule invalid\" schedule=%q err=%v", cfg.PollSchedule, err)
	}
	scheduler.Start()
	log.Printf("level=info component=bootstrap msg=\"settlement poller scheduled\" schedule=%q max_items=%d", cfg.PollSchedule, cfg.PollerMaxItems)

	// Initialize the API handlers and routes.
	settlementHandlers := api.NewSettlementHandlers(settlementService, directory, repository, cfg.NimiqNetwork)

	router := chi.NewRouter()
	router.Mount("/", api.SettlementRoutes(settlementHandlers, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
