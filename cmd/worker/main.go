package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/ai"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/eventbus"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/logger"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/milvus"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/minio"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/repository"

	database "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/db"
	pipelineworker "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/worker"
)

const gracefulShutdownTimeout = 10 * time.Minute // Maximum time for in-flight workflows to complete

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

	vectorIndex, err := milvus.NewVectorIndex(ctx, config.Config.Milvus.Host, config.Config.Milvus.Port, zapLogger)
	if err != nil {
		zapLogger.Fatal("Unable to connect to vector index", zap.Error(err))
	}
	defer vectorIndex.Close()

	if healthy, err := vectorIndex.GetHealth(ctx); err != nil || !healthy {
		zapLogger.Fatal("Vector index is not healthy", zap.Bool("healthy", healthy), zap.Error(err))
	}

	if err := vectorIndex.EnsureCollection(ctx); err != nil {
		zapLogger.Fatal("Unable to ensure vector collection", zap.Error(err))
	}

	aiProvider, err := ai.NewProvider(ctx, &config.Config.Embedding, zapLogger)
	if err != nil {
		zapLogger.Fatal("Unable to initialize embedding provider", zap.Error(err))
	}
	defer aiProvider.Close()

	temporalClient, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  config.Config.Temporal.HostPort,
		Namespace: config.Config.Temporal.Namespace,
	})
	if err != nil {
		zapLogger.Fatal("Unable to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	cw, err := pipelineworker.New(pipelineworker.Config{
		Repository:    repository.NewRepository(db),
		VectorIndex:   vectorIndex,
		ObjectStorage: objectStorage,
		EventBus:      eventbus.NewEventBus(redisClient, zapLogger),
		AIProvider:    aiProvider,
		Pipeline:      config.Config.Pipeline,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Unable to create worker", zap.Error(err))
	}

	w := worker.New(temporalClient, pipelineworker.TaskQueue, worker.Options{
		WorkflowPanicPolicy: worker.BlockWorkflow,
		WorkerStopTimeout:   gracefulShutdownTimeout,
	})

	w.RegisterWorkflow(cw.EmbedVideoWorkflow)
	w.RegisterWorkflow(cw.SearchWorkflow)

	w.RegisterActivity(cw.UpdateJobStateActivity)
	w.RegisterActivity(cw.ExtractSegmentsActivity)
	w.RegisterActivity(cw.SubmitEmbeddingActivity)
	w.RegisterActivity(cw.CheckEmbeddingActivity)
	w.RegisterActivity(cw.IndexVectorsActivity)
	w.RegisterActivity(cw.PublishIngestEventActivity)

	w.RegisterActivity(cw.EmbedQueryActivity)
	w.RegisterActivity(cw.QueryVectorsActivity)
	w.RegisterActivity(cw.CutClipActivity)
	w.RegisterActivity(cw.CreateCallbackActivity)
	w.RegisterActivity(cw.ResolveCallbackActivity)
	w.RegisterActivity(cw.PublishStatusEventActivity)

	if err := w.Start(); err != nil {
		zapLogger.Fatal("Unable to start worker", zap.Error(err))
	}
	zapLogger.Info("Worker started", zap.String("taskQueue", pipelineworker.TaskQueue))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down worker")
	w.Stop()
}
