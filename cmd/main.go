package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/api"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/auth"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/cache"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/config"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/kafka"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/logger"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/metrics"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/offer"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/receipt"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/repository"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/store"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "./config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	sugar, err := logger.New(cfg.App.Env == "development")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer sugar.Sync()
	sugar.Infof("starting negotiation chat service (env=%s)", cfg.App.Env)

	ctx := context.Background()

	// Mongo-backed conversation repository.
	mc, err := repository.NewMongoClient(ctx, cfg)
	if err != nil {
		sugar.Fatalf("mongo connect: %v", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	repo := repository.NewMongoRepository(
		mc.Database(cfg.Mongo.Database).Collection(cfg.Mongo.ConversationsCollection))

	st := store.New(repo, sugar)
	if err := st.Hydrate(ctx); err != nil {
		sugar.Fatalf("store hydrate: %v", err)
	}
	offers := offer.NewMachine(st, sugar)
	receipts := receipt.NewTracker(st, sugar)

	// Redis presence relay.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		sugar.Fatalf("redis ping: %v", err)
	}
	presenceStore := cache.NewPresenceStore(rdb, cfg.Redis.Prefix, cfg.TypingWindow)

	// Kafka event stream.
	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if !cfg.Kafka.Disabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, sugar)
	}

	var validator *auth.Validator
	if cfg.JWT.Secret != "" {
		validator, err = auth.NewValidator(cfg.JWT.Secret)
		if err != nil {
			sugar.Fatalf("jwt validator: %v", err)
		}
	}

	hub := ws.NewHub()
	wsh := ws.NewHandler(ws.HandlerConfig{
		Hub:           hub,
		Store:         st,
		Offers:        offers,
		Receipts:      receipts,
		Presence:      presenceStore,
		Producer:      producer,
		Validator:     validator,
		Logger:        sugar,
		PingInterval:  cfg.PingInterval,
		WriteDeadline: cfg.WriteDeadline,
		MaxMsgSize:    cfg.WS.MaxMessageSizeBytes,
		TypingPerSec:  cfg.WS.TypingRatePerSecond,
	})

	app := api.NewServer(api.ServerConfig{
		Store:    st,
		Offers:   offers,
		Receipts: receipts,
		Hub:      hub,
		WS:       wsh,
		Producer: producer,
		Logger:   sugar,
	})

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if consumer != nil {
		go consumer.Run(consumerCtx, wsh.HandleEvent)
	}

	// Metrics on a side port so the fiber app stays purely chat traffic.
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.App.Port+1000), Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Warnf("metrics server: %v", err)
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		sugar.Infof("listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			sugar.Fatalf("server listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	stopConsumer()
	if consumer != nil {
		_ = consumer.Close()
	}
	if producer != nil {
		_ = producer.Close()
	}
	sugar.Info("shutdown complete")
}
