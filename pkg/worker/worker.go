package worker

import (
	"time"

	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/ai"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/eventbus"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/milvus"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/minio"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/repository"
)

// TaskQueue is the Temporal task queue name for all workflows and activities.
const TaskQueue = "video-agent"

// IndexBatchSize controls vectors per upsert. Smaller = more round trips. Larger = bigger payloads per call.
const IndexBatchSize = 20

// ActivityTimeoutStandard is timeout for normal activities. ActivityTimeoutLong is for heavy operations
// (clip cutting, vector ingestion). Too short = premature failures. Too long = blocked worker slots.
const (
	ActivityTimeoutStandard = 5 * time.Minute
	ActivityTimeoutLong     = 10 * time.Minute
)

// RetryInitialInterval, RetryBackoffCoefficient, RetryMaximumInterval*, and RetryMaximumAttempts control retry behavior.
// Prevents retry storms under high concurrency.
const (
	RetryInitialInterval         = 1 * time.Second
	RetryBackoffCoefficient      = 2.0
	RetryMaximumIntervalStandard = 30 * time.Second
	RetryMaximumIntervalLong     = 100 * time.Second
	RetryMaximumAttempts         = 3
)

// EmbeddingPollInterval is the pause between polls of an async embedding job.
// EmbeddingPollMaxWait bounds how long a job may stay in progress before the
// workflow gives up on it.
const (
	EmbeddingPollInterval = 15 * time.Second
	EmbeddingPollMaxWait  = 2 * time.Hour
)

// ApprovalSignalName is the signal carrying a human decision into a
// suspended search workflow.
const ApprovalSignalName = "approval-decision"

// Config defines the configuration for the worker
type Config struct {
	Repository    repository.Repository
	VectorIndex   milvus.VectorIndexI
	ObjectStorage minio.ObjectStorageI
	EventBus      eventbus.EventBusI
	AIProvider    ai.Provider
	Pipeline      config.PipelineConfig
}

// Worker implements the Temporal worker with all workflows and activities
type Worker struct {
	repository    repository.Repository
	vectorIndex   milvus.VectorIndexI
	objectStorage minio.ObjectStorageI
	eventBus      eventbus.EventBusI
	aiProvider    ai.Provider
	pipeline      config.PipelineConfig
	log           *zap.Logger
}

// New creates a new worker instance
func New(config Config, log *zap.Logger) (*Worker, error) {
	w := &Worker{
		repository:    config.Repository,
		vectorIndex:   config.VectorIndex,
		objectStorage: config.ObjectStorage,
		eventBus:      config.EventBus,
		aiProvider:    config.AIProvider,
		pipeline:      config.Pipeline,
		log:           log,
	}
	return w, nil
}
