package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"ms-flashpromo/internal/activation"
	"ms-flashpromo/internal/api"
	"ms-flashpromo/internal/clock"
	"ms-flashpromo/internal/config"
	"ms-flashpromo/internal/database/migrations"
	"ms-flashpromo/internal/db"
	"ms-flashpromo/internal/flashpromo"
	"ms-flashpromo/internal/kafka"
	"ms-flashpromo/internal/logger"
	"ms-flashpromo/internal/notification"
	"ms-flashpromo/internal/pickup"
	"ms-flashpromo/internal/promo"
	rediswrap "ms-flashpromo/internal/redis"
	"ms-flashpromo/internal/reservation"
	"ms-flashpromo/internal/segmentation"
	"ms-flashpromo/internal/worker"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client, nil
}

// watchExpiries logs reservation holds the store evicts. The reconciler does
// the actual cleanup; this only makes expiries visible.
func watchExpiries(ctx context.Context, store *rediswrap.Store, log *logger.Logger) error {
	if err := store.EnableExpiryEvents(ctx); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	}
	err := store.SubscribeExpired(ctx, reservation.ProductKey(""), func(key string) {
		if productID, ok := reservation.ProductFromKey(key); ok {
			log.LogReservation("EXPIRED", productID, "hold evicted by store TTL")
		}
	})
	if err != nil {
		log.Warn("REDIS", fmt.Sprintf("expiry subscription ended: %v", err))
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Dir, logger.ParseLevel(cfg.Log.Level))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("APP", "Starting flash promo service initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := db.Open(ctx, cfg.Database.DSN, db.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  cfg.Database.MaxLifetime,
	}, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.Options{
		MigrationsDir: cfg.Database.MigrationsDir,
		AutoMigrate:   cfg.Database.AutoMigrate,
	}, log)
	if err := runner.Startup(); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}

	redisClient, err := connectRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer redisClient.Close()

	repo := &db.DB{Bun: bunDB}
	store := rediswrap.NewStore(redisClient, log)
	clk := clock.Real{}

	vip, _ := cfg.VIPThreshold()
	policy := segmentation.DefaultPolicy()
	policy.VIPThreshold = vip

	engine := segmentation.NewEngine(repo, clk, policy, log)
	checker := segmentation.NewCachedChecker(engine, store, cfg.Promo.EligibilityCacheTTL, log)

	transport := &notification.MultiChannel{Channels: []notification.Transport{
		&notification.LogTransport{Channel: "email", Logger: log},
		&notification.LogTransport{Channel: "push", Logger: log},
	}}
	deliverer := notification.NewDeliverer(store, transport, repo, clk, log)
	deliverer.MaxRetries = uint64(cfg.Notification.MaxRetries)

	g, gctx := errgroup.WithContext(ctx)

	var queue notification.TaskQueue
	if cfg.Kafka.Enabled {
		topic := cfg.Kafka.NotificationTopic
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{topic}, cfg.Kafka.Partitions, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewQueue(cfg.Kafka.Brokers, topic, log)
		defer producer.Close()
		queue = producer

		g.Go(func() error {
			return kafka.RunGroup(gctx, cfg.Kafka.Consumers, cfg.Kafka.Brokers, topic, cfg.Kafka.GroupID, deliverer, log)
		})
	} else {
		pool := worker.NewPool(deliverer, cfg.Notification.Workers, cfg.Notification.QueueSize, log)
		pool.Start(gctx)
		defer pool.Close()
		queue = pool
	}

	dispatcher := notification.NewDispatcher(queue, cfg.Notification.BatchSize, log)
	trigger := activation.NewTrigger(store, engine, dispatcher, log)
	machine := promo.NewMachine(repo, clk, trigger, log)
	manager := reservation.NewManager(store, machine, checker, repo, clk, log)

	service := flashpromo.NewService(repo, machine, engine, checker, manager, clk, policy, cfg.Reservation.TTL, log)
	handler := api.NewHandler(service, pickup.NewGenerator(cfg.Pickup.Secret), map[string]api.Pinger{
		"postgres": repo,
		"redis":    store,
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("🚀 Flash promo service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return machine.Run(gctx, cfg.Promo.ActivationInterval) })
	g.Go(func() error { return manager.RunReconciler(gctx, cfg.Reservation.SweepInterval) })
	g.Go(func() error { return watchExpiries(gctx, store, log) })

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		log.Error("APP", fmt.Sprintf("stopped with error: %v", err))
		return
	}
	log.Info("HTTP", "✅ Flash promo service shutdown complete")
}
