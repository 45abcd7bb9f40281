// Package ai defines the embedding provider boundary. The embedding model
// itself is an opaque external service; providers only expose a
// request/response contract for text and an async-job contract for video.
package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// VideoJobStatus is the lifecycle of an async video embedding job.
type VideoJobStatus string

const (
	// VideoJobInProgress means the job was accepted and is still running.
	VideoJobInProgress VideoJobStatus = "IN_PROGRESS"
	// VideoJobCompleted means vector output is available under OutputPrefix.
	VideoJobCompleted VideoJobStatus = "COMPLETED"
	// VideoJobFailed means the job gave up; FailureMessage explains why.
	VideoJobFailed VideoJobStatus = "FAILED"
)

// SubmitVideoEmbeddingParam describes one async embedding job: the source
// object, the segments to embed, and the object-storage prefix where the
// provider writes its JSONL vector output.
type SubmitVideoEmbeddingParam struct {
	ObjectRef    types.ObjectRef
	Segments     []types.VideoSegment
	OutputPrefix string
}

// VideoEmbeddingJob is the polled state of an async embedding job.
type VideoEmbeddingJob struct {
	Status         VideoJobStatus
	OutputPrefix   string
	FailureMessage string
}

// Provider is the embedding service contract. Text embedding is synchronous;
// video embedding is submit-then-poll, with the poll token persisted by the
// caller across suspensions.
type Provider interface {
	// Name returns the provider name (e.g. "nova", "openai")
	Name() string

	// EmbedTexts generates one vector per input text.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// SupportsVideo reports whether the provider can embed video segments.
	SupportsVideo() bool

	// SubmitVideoEmbedding starts an async job and returns an opaque poll
	// token.
	SubmitVideoEmbedding(ctx context.Context, param SubmitVideoEmbeddingParam) (string, error)

	// GetVideoEmbeddingJob polls a job by its token.
	GetVideoEmbeddingJob(ctx context.Context, pollToken string) (*VideoEmbeddingJob, error)

	// Close releases provider resources
	Close() error
}

// NewProvider builds the provider selected in the configuration.
func NewProvider(ctx context.Context, cfg *config.EmbeddingConfig, log *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "nova":
		return NewNovaProvider(ctx, cfg, log)
	case "openai":
		return NewOpenAIProvider(ctx, cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
