/**
 * @description
 * This is the main entry point for the payout-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the Adyen API client, message broker, repository, the core
 * application services, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: To load .env files for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/adyenclient: Client for the Adyen Payout and Balance Platform APIs.
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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/paydesk/payout-service/internal/api"
	"github.com/paydesk/payout-service/internal/app"
	"github.com/paydesk/payout-service/internal/config"
	"github.com/paydesk/payout-service/internal/store"
	"github.com/paydesk/payout-service/pkg/adyenclient"
	rmrabbit "github.com/paydesk/payout-service/pkg/rabbitmq"
)

func main() {
	// Load .env for local development; in deployed environments the variables
	// arrive through the process environment.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found, relying on environment\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.AdyenAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"adyen api key must be configured\" env=ADYEN_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payout-service\" port=%s environment=%s", cfg.ServerPort, cfg.AdyenEnvironment)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish payout lifecycle events.
	// The service only publishes, never consumes.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; events disabled\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Redis client used for webhook rate limiting. A missing or
	// unreachable Redis degrades to no limiting rather than blocking boot.
	var redisClient *redis.Client
	if cfg.WebhookRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the Adyen API client.
	adyenClient := adyenclient.NewClient(cfg.AdyenEnvironment, cfg.AdyenAPIKey, cfg.AdyenMerchantAccount, cfg.AdyenBalanceAccountID)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application services with their dependencies.
	balanceGate := app.NewBalanceGate(adyenClient, cfg.AdyenUseBalanceAccount, cfg.AvailablePayoutBudget)
	payoutService := app.NewService(repository, adyenClient, balanceGate, producer)
	webhookService := app.NewWebhookService(repository, cfg.AdyenHMACKey, producer)
	authService := app.NewAuthService(repository, cfg.JWTSecret)

	var rateLimiter *app.RedisRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Start the stale-initiation reconciler.
	reconciler := app.NewReconciler(
		repository,
		adyenClient,
		cfg.ReconcileSchedule,
		time.Duration(cfg.ReconcileStaleMinutes)*time.Minute,
		time.Duration(cfg.ReconcileGiveUpHours)*time.Hour,
	)
	if err := reconciler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"reconciler start failed\" err=%v", err)
	}

	// Initialize the API handlers and router.
	payoutHandlers := api.NewPayoutHandlers(payoutService, authService)
	webhookHandlers := api.NewWebhookHandlers(webhookService)
	router := api.PayoutRoutes(payoutHandlers, webhookHandlers, api.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		RateLimiter:       rateLimiter,
		WebhookRateLimit:  cfg.WebhookRateLimitPerMinute,
		WebhookRateWindow: time.Minute,
	})

	// Start the HTTP server.
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	// Wait for any in-flight reconcile run to finish.
	<-reconciler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
