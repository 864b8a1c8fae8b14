package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/adapters/chain"
	"github.com/layer-3/keyward/adapters/events"
	"github.com/layer-3/keyward/adapters/store"
	"github.com/layer-3/keyward/adapters/tokenizer"
	"github.com/layer-3/keyward/internal/aead"
	"github.com/layer-3/keyward/internal/config"
	"github.com/layer-3/keyward/internal/logging"
	"github.com/layer-3/keyward/internal/metrics"
	"github.com/layer-3/keyward/ports"
	"github.com/layer-3/keyward/service"
	transport "github.com/layer-3/keyward/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server.exit", "error", err)
		os.Exit(1)
	}
}

// sqlStore is what both SQL backends provide
type sqlStore interface {
	ports.SessionStore
	ports.UserStore
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Durable session and user records
	var records sqlStore
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		pool, err := store.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()

		pg, err := store.NewPostgresStore(pool)
		if err != nil {
			return err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to migrate postgres: %w", err)
		}
		records = pg
		logger.Info("store.ready", "backend", "postgres")
	} else {
		path := strings.TrimPrefix(cfg.DatabaseURL, "sqlite://")
		lite, err := store.OpenSQLite(path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite: %w", err)
		}
		defer lite.Close()

		if err := lite.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate sqlite: %w", err)
		}
		records = lite
		logger.Info("store.ready", "backend", "sqlite", "path", path)
	}

	// Ephemeral state and events: Redis when configured, in-process otherwise
	wmLogger := watermill.NewSlogLogger(logger)
	var (
		tokens     ports.TokenStore
		challenges ports.ChallengeStore
		publisher  message.Publisher
		subscriber message.Subscriber
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		redisStore := store.NewRedisStore(redisClient)
		tokens, challenges = redisStore, redisStore

		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		// No consumer group: every instance sees every session event
		sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return fmt.Errorf("failed to create Redis subscriber: %w", err)
		}
		publisher, subscriber = pub, sub
		logger.Info("events.ready", "backend", "redis")
	} else {
		mem := store.NewMemoryStore()
		tokens, challenges = mem, mem

		goChannel := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		publisher, subscriber = goChannel, goChannel
		logger.Info("events.ready", "backend", "memory")
	}
	defer publisher.Close()
	defer subscriber.Close()

	rpc, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", cfg.Chain.Name, err)
	}
	defer rpc.Close()

	sealer, err := aead.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	eventPub := events.NewWatermillPublisher(publisher)
	oracle := chain.NewOracle(rpc, cfg.ValidatorAddress)

	authService := service.NewAuthService(
		service.AuthConfig{
			Domain:    cfg.SIWEDomain,
			Statement: cfg.SIWEStatement,
			URI:       cfg.SIWEURI,
			ChainID:   cfg.SIWEChainID,
			NonceTTL:  cfg.NonceExpiry,
			TokenTTL:  cfg.TokenTTL,
		},
		tokenizer.NewJWTTokenizer([]byte(cfg.JWTSecret)),
		tokens, challenges, records,
		chain.NewSignatureVerifier(rpc),
		eventPub,
		service.SystemClock{},
		logger,
	)

	cache := service.NewClientCache(
		service.CacheConfig{TTL: cfg.CacheTTL, SweepInterval: cfg.CacheSweepInterval},
		records, sealer, oracle, chain.NewTxSubmitter(rpc), service.SystemClock{}, logger, m,
	)
	sessionService := service.NewSessionService(
		service.SessionConfig{NFTAddress: cfg.NFTAddress, SessionTTL: cfg.SessionTTL, FeeLimitEth: cfg.SessionFeeLimit},
		records, sealer, oracle, eventPub, cache, service.SystemClock{}, logger, m,
	)

	router, err := events.NewEvictionRouter(subscriber, cache, wmLogger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: transport.SetupRouter(
			transport.RouterConfig{ClientOrigin: cfg.ClientOrigin, SecureCookies: cfg.IsProd()},
			transport.Services{
				Auth:     authService,
				Sessions: sessionService,
				Mint:     service.NewMintService(cache, cfg.NFTAddress, logger),
			},
			logger, m, reg,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server.start", "port", cfg.Port, "env", cfg.Env, "chain", cfg.Chain.Name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return cache.Run(gctx)
	})
	g.Go(func() error {
		return router.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server.shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
