package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rewards-ledger/internal/badge"
	"github.com/rewards-ledger/internal/completion"
	"github.com/rewards-ledger/internal/config"
	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/handler"
	"github.com/rewards-ledger/internal/kafka"
	"github.com/rewards-ledger/internal/keylock"
	"github.com/rewards-ledger/internal/leaderboard"
	"github.com/rewards-ledger/internal/ledger"
	"github.com/rewards-ledger/internal/postgres"
	"github.com/rewards-ledger/internal/progression"
	"github.com/rewards-ledger/internal/redis"
	"github.com/rewards-ledger/internal/service"
	"github.com/rewards-ledger/internal/store"
	"github.com/rewards-ledger/internal/websocket"
	"github.com/rewards-ledger/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	level.Set(cfg.Log.SlogLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		st      store.Store
		pgRepo  *postgres.Repository
		rclient *goredis.Client
	)

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		pgRepo, err = postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer pgRepo.Close()
		if err := pgRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		pgRepo.SetLockTimeout(cfg.Rewards.LockTimeout)
		st = pgRepo
		logger.Info("connected to PostgreSQL")
	default:
		logger.Warn("using in-memory store; state will not survive a restart")
		st = store.NewMemory()
	}

	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		rclient, err = redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rclient.Close()
		logger.Info("connected to Redis")
	}

	loc := cfg.Rewards.Location()
	locks := keylock.New(cfg.Rewards.LockTimeout)
	retry := store.RetryPolicy{Attempts: cfg.Rewards.RetryAttempts, Delay: cfg.Rewards.RetryDelay}

	walletLedger := ledger.New(st, locks, retry, logger)
	tracker := progression.New(st, walletLedger, locks, retry, progression.Settings{
		XPPerLevel:   cfg.Rewards.XPPerLevel,
		LevelUpBonus: cfg.Rewards.LevelUpBonus,
		Location:     loc,
	}, logger)
	guard := completion.NewGuard(walletLedger, tracker, logger)
	issuer := badge.NewIssuer(st, locks, retry, cfg.Rewards.BadgeCatalog(), logger)

	var index *redis.RankingIndex
	if rclient != nil {
		index = redis.NewRankingIndex(rclient, cfg.Redis.KeyPrefix, loc, logger)
	}

	var source leaderboard.RankingSource = leaderboard.NewStoreSource(st, loc)
	if cfg.Leaderboard.Source == config.SourceRedis {
		if index != nil {
			source = index
		} else {
			logger.Warn("redis ranking source requested but redis is disabled; ranking from the store")
		}
	}
	aggregator := leaderboard.NewAggregator(source, st, leaderboard.NewPositionChangeCache(), cfg.Leaderboard.Limit, logger)

	rewards := service.NewRewardsService(service.Deps{
		Store:       st,
		Locks:       locks,
		Retry:       retry,
		Ledger:      walletLedger,
		Tracker:     tracker,
		Guard:       guard,
		Badges:      issuer,
		Leaderboard: aggregator,
	}, service.Settings{
		ReplayCost:         cfg.Rewards.ReplayCost,
		RecentTransactions: cfg.Rewards.RecentTransactions,
	}, logger)

	wsHub := websocket.NewHub(logger)
	wsHub.SetSnapshots(aggregator.Cache().Last)
	if rclient != nil && cfg.Redis.BusEnabled {
		bus := redis.NewBus(rclient, cfg.Redis.BusChannel, logger)
		if err := bus.StartForwarder(ctx, wsHub.Deliver); err != nil {
			logger.Error("failed to start realtime bus", "error", err)
			os.Exit(1)
		}
		wsHub.SetRelay(bus)
	}
	go wsHub.Run()
	rewards.SetNotifier(wsHub)
	logger.Info("WebSocket hub initialized")

	if index != nil {
		rewards.SetIndex(index)
		indexSync := worker.NewIndexSync(index, st, logger)
		if err := indexSync.SyncFromDatabase(ctx); err != nil {
			logger.Warn("failed to sync ranking index on startup", "error", err)
		}
	}

	periods := make([]domain.Period, 0, len(cfg.Leaderboard.Periods))
	for _, name := range cfg.Leaderboard.Periods {
		p, err := domain.ParsePeriod(name)
		if err != nil {
			logger.Error("invalid leaderboard period in config", "period", name, "error", err)
			os.Exit(1)
		}
		periods = append(periods, p)
	}

	refresher := worker.NewRefresher(aggregator, st, wsHub, periods, cfg.Leaderboard.RefreshInterval, logger)
	wsHub.OnSubscribe(refresher.TriggerPeriod)
	rewards.SetRefreshTrigger(refresher)
	if err := refresher.Start(ctx); err != nil {
		logger.Error("failed to start leaderboard refresher", "error", err)
		os.Exit(1)
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, rewards, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(rewards, aggregator, wsHub, logger)
	if cfg.Auth.JWTSecret != "" {
		httpHandler.SetTokenSecret(cfg.Auth.JWTSecret)
		logger.Info("bearer token authentication enabled")
	}
	if cfg.Auth.PlatformKey != "" {
		httpHandler.SetPlatformKey(cfg.Auth.PlatformKey)
	} else if cfg.Auth.JWTSecret == "" {
		logger.Warn("no platform credential configured; wallet credit route is closed")
	}
	httpHandler.SetReadinessCheck(func(ctx context.Context) error {
		if pgRepo != nil {
			if err := pgRepo.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if rclient != nil {
			if err := rclient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop intake first so in-flight completions can commit and push.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := refresher.Stop(); err != nil {
		logger.Error("failed to stop leaderboard refresher", "error", err)
	}

	wsHub.Stop()
	cancel()

	logger.Info("server stopped")
}
