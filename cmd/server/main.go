/**
 * @description
 * This is the main entry point for the backing service. It is responsible for
 * initializing all components of the service, including configuration, the
 * ledger repository, the settlement agent and paywall clients, the message
 * broker feed, the realtime broadcaster, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Shared payment rate-limit budget.
 * - github.com/joho/godotenv: Local .env loading.
 * - gopkg.in/natefinch/lumberjack.v2: Rotating log file.
 * - internal/*, pkg/*: Internal packages for the service.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shlawgathon/wishlist-sub000/internal/api"
	"github.com/shlawgathon/wishlist-sub000/internal/app"
	"github.com/shlawgathon/wishlist-sub000/internal/config"
	"github.com/shlawgathon/wishlist-sub000/internal/ledger"
	"github.com/shlawgathon/wishlist-sub000/internal/pubsub"
	"github.com/shlawgathon/wishlist-sub000/internal/realtime"
	"github.com/shlawgathon/wishlist-sub000/internal/store"
	"github.com/shlawgathon/wishlist-sub000/pkg/agentclient"
	"github.com/shlawgathon/wishlist-sub000/pkg/paywall"
	rmrabbit "github.com/shlawgathon/wishlist-sub000/pkg/rabbitmq"
	"github.com/shlawgathon/wishlist-sub000/pkg/scoringclient"
)

const hubBuffer = 32

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}))
	}
	if strings.TrimSpace(cfg.AgentMCPURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"settlement agent url must be configured\" env=AGENT_MCP_URL")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not set; listing writes are unauthenticated\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting backing service\" port=%s instance=%s", cfg.ServerPort, cfg.InstanceID)

	// Initialize the data access layer (repository).
	var repository store.Repository
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; using in-memory ledger\" env=DATABASE_URL")
		repository = store.NewMemoryRepository()
	} else {
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 20
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()

		postgres := store.NewPostgresRepository(dbpool)
		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 15*time.Second)
		if err := postgres.EnsureSchema(schemaCtx); err != nil {
			cancelSchema()
			log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
		}
		cancelSchema()
		repository = postgres
		log.Println("level=info component=bootstrap msg=\"database connected\"")
	}

	// The ledger store announces every write to the local hub and, when a broker
	// is available, to the other instances.
	hub := pubsub.NewHub(hubBuffer)
	ledgerStore := ledger.NewStore(repository, cfg.InstanceID)
	unregisterHub := ledgerStore.Register(hub)
	defer unregisterHub()

	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}
	relay := app.NewLedgerRelay(producer, cfg.LedgerExchange)
	defer relay.Close()
	unregisterRelay := ledgerStore.Register(relay)
	defer unregisterRelay()

	if rabbitProducer != nil {
		feed := app.NewLedgerFeedConsumer(hub, cfg.InstanceID)
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; cross-instance updates disabled\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			if err := rabbitConsumer.ConsumeFanout(cfg.LedgerExchange, feed.Bindings()); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"ledger feed consumer start failed\" err=%v", err)
			}
		}
	}

	// Payment admission uses the shared redis budget when redis is reachable.
	localLimiter := app.NewLocalPaymentRateLimiter()
	var limiter app.PaymentRateLimiter = localLimiter
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; payment rate limiting is per instance\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; payment rate limiting is per instance\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; payment rate limiting is per instance\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisPaymentRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	if _, local := limiter.(*app.LocalPaymentRateLimiter); local {
		scheduler := app.NewScheduler(localLimiter, cfg.RateLimitPruneSchedule)
		if err := scheduler.Start(); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rate-limit pruning disabled\" err=%v", err)
		} else {
			defer scheduler.Stop()
		}
	}

	// Initialize the clients for the settlement agent and paywalled resources.
	agentTimeout := time.Duration(cfg.AgentTimeoutSeconds) * time.Second
	agentClient := agentclient.NewClient(cfg.AgentMCPURL, agentTimeout)
	paywallClient := paywall.NewClient(agentTimeout)
	scoringClient := scoringclient.NewClient(cfg.ScoringServiceURL, 15*time.Second)
	if cfg.ScoringServiceURL == "" {
		log.Println("level=warn component=bootstrap msg=\"scoring service not configured; recommendations disabled\" env=SCORING_SERVICE_URL")
	}

	// Initialize the core payment orchestration.
	executor := app.NewExecutor(
		ledgerStore,
		app.NewResolver(cfg.PaywallBaseURL),
		agentClient,
		paywallClient,
		app.ExecutorConfig{
			Decimals:         int32(cfg.SettlementDecimals),
			Currency:         cfg.SettlementCurrency,
			RateLimitBackoff: time.Duration(cfg.RateLimitBackoffSeconds) * time.Second,
		},
	)
	broadcaster := realtime.NewBroadcaster(hub, ledgerStore, time.Duration(cfg.HeartbeatSeconds)*time.Second)

	// Initialize the API handlers.
	handlers := api.NewHandlers(api.HandlerDeps{
		Listings:     ledgerStore,
		Executor:     executor,
		Batch:        app.NewBatchCoordinator(executor),
		Gate:         app.NewPaymentGate(limiter, cfg.PaymentRateLimitPerMinute),
		Streams:      broadcaster,
		Scorer:       scoringClient,
		MaxBatchSize: cfg.MaxBatchSize,
	})
	router := api.NewRouter(handlers, api.RouterConfig{
		JWKSURL:        cfg.ClerkJWKSURL,
		InternalAPIKey: cfg.InternalAPIKey,
	})

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
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

	// Open streams never go idle, so they are cut once in-flight payments have had their chance.
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=warn component=http msg=\"graceful shutdown timed out; closing open streams\" err=%v", err)
		server.Close()
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
