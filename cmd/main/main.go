package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/eventbus"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/logger"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/minio"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/repository"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/server"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/service"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/watcher"

	database "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/db"
)

const gracefulShutdownTimeout = 15 * time.Second

func main() {
	if err := config.Init(config.ParseConfigFlag()); err != nil {
		log.Fatal(err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zapLogger, err := logger.GetZapLogger()
	if err != nil {
		log.Fatal(err.Error())
	}
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = zapLogger.Sync()
	}()

	db, err := database.GetConnection(&config.Config.Database)
	if err != nil {
		zapLogger.Fatal("Unable to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := repository.AutoMigrate(db); err != nil {
		zapLogger.Fatal("Unable to migrate database", zap.Error(err))
	}

	redisClient := goredis.NewClient(&config.Config.Cache.Redis.RedisOptions)
	defer redisClient.Close()

	objectStorage, err := minio.NewMinioClientAndInitBucket(ctx, &config.Config.Minio, zapLogger)
	if err != nil {
		zapLogger.Fatal("Unable to initialize object storage", zap.Error(err))
	}

	temporalClient, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  config.Config.Temporal.HostPort,
		Namespace: config.Config.Temporal.Namespace,
	})
	if err != nil {
		zapLogger.Fatal("Unable to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	svc := service.NewService(service.Config{
		Repository:     repository.NewRepository(db),
		Cache:          repository.NewCache(redisClient),
		ObjectStorage:  objectStorage,
		TemporalClient: temporalClient,
		Pipeline:       config.Config.Pipeline,
	}, zapLogger)

	bus := eventbus.NewEventBus(redisClient, zapLogger)

	// The watcher shares the process with the gateway: both are stateless,
	// and the dedup window keeps multiple instances from double-triggering.
	wt := watcher.New(objectStorage, svc, config.Config.Pipeline.IngestPrefix, zapLogger)
	go wt.Run(ctx)

	srv := server.NewServer(svc, bus, &config.Config.Server, zapLogger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	case <-quit:
		zapLogger.Info("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			zapLogger.Error("Server shutdown failed", zap.Error(err))
		}
	}
}
