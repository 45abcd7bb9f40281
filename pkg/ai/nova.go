package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
)

const (
	novaReqTimeout    = 60 * time.Second
	novaMaxRetryCount = 3
	novaRetryDelay    = 200 * time.Millisecond
)

// NovaProvider talks to a Nova-style multimodal embedding service: text
// embeddings are synchronous, video embeddings run as async jobs that write
// JSONL vector files under an object-storage output prefix.
type NovaProvider struct {
	client *resty.Client
	model  string
}

// NewNovaProvider returns an initialized Nova HTTP client.
func NewNovaProvider(_ context.Context, cfg *config.EmbeddingConfig, log *zap.Logger) (*NovaProvider, error) {
	if cfg.Nova.BaseURL == "" {
		return nil, fmt.Errorf("nova provider requires a base URL")
	}

	r := resty.New().
		SetLogger(log.Sugar()).
		SetBaseURL(cfg.Nova.BaseURL).
		SetTimeout(novaReqTimeout).
		SetRetryCount(novaMaxRetryCount).
		SetRetryWaitTime(novaRetryDelay)
	if cfg.Nova.APIKey != "" {
		r.SetAuthToken(cfg.Nova.APIKey)
	}

	return &NovaProvider{client: r, model: cfg.Nova.Model}, nil
}

// Name returns the provider name
func (p *NovaProvider) Name() string {
	return "nova"
}

// SupportsVideo returns true: video embedding is the reason this provider
// exists.
func (p *NovaProvider) SupportsVideo() bool {
	return true
}

type novaTextEmbeddingRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
	// Purpose steers the embedding space toward retrieval queries.
	Purpose string `json:"embeddingPurpose"`
}

type novaTextEmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedTexts generates one vector per input text.
func (p *NovaProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text at index %d is empty", i)
		}
	}

	var resp novaTextEmbeddingResponse
	r, err := p.client.R().
		SetContext(ctx).
		SetBody(novaTextEmbeddingRequest{
			Model:   p.model,
			Texts:   texts,
			Purpose: "VIDEO_RETRIEVAL",
		}).
		SetResult(&resp).
		Post("/v1/embeddings/text")
	if err != nil {
		return nil, fmt.Errorf("couldn't connect with embedding service: %w", err)
	}
	if r.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %s", r.Status())
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}

type novaVideoJobRequest struct {
	Model        string        `json:"model"`
	SourceURI    string        `json:"sourceUri"`
	Segments     []novaSegment `json:"segments"`
	OutputPrefix string        `json:"outputPrefix"`
}

type novaSegment struct {
	ID           string  `json:"id"`
	StartSeconds float64 `json:"startSeconds"`
	EndSeconds   float64 `json:"endSeconds"`
}

type novaVideoJobResponse struct {
	InvocationID string `json:"invocationId"`
}

type novaVideoJobStatus struct {
	Status       string `json:"status"`
	OutputPrefix string `json:"outputPrefix"`
	Message      string `json:"message"`
}

// SubmitVideoEmbedding starts an async job and returns its invocation ID as
// the poll token.
func (p *NovaProvider) SubmitVideoEmbedding(ctx context.Context, param SubmitVideoEmbeddingParam) (string, error) {
	segments := make([]novaSegment, len(param.Segments))
	for i, s := range param.Segments {
		segments[i] = novaSegment{
			ID:           s.SegmentUID,
			StartSeconds: s.StartSeconds,
			EndSeconds:   s.EndSeconds,
		}
	}

	var resp novaVideoJobResponse
	r, err := p.client.R().
		SetContext(ctx).
		SetBody(novaVideoJobRequest{
			Model:        p.model,
			SourceURI:    param.ObjectRef.String(),
			Segments:     segments,
			OutputPrefix: param.OutputPrefix,
		}).
		SetResult(&resp).
		Post("/v1/embeddings/video-jobs")
	if err != nil {
		return "", fmt.Errorf("couldn't connect with embedding service: %w", err)
	}
	if r.StatusCode() != http.StatusOK && r.StatusCode() != http.StatusAccepted {
		return "", fmt.Errorf("embedding service returned %s", r.Status())
	}
	if resp.InvocationID == "" {
		return "", fmt.Errorf("embedding service returned no invocation ID")
	}

	return resp.InvocationID, nil
}

// GetVideoEmbeddingJob polls a job by its invocation ID.
func (p *NovaProvider) GetVideoEmbeddingJob(ctx context.Context, pollToken string) (*VideoEmbeddingJob, error) {
	var resp novaVideoJobStatus
	r, err := p.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get("/v1/embeddings/video-jobs/" + pollToken)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect with embedding service: %w", err)
	}
	if r.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %s", r.Status())
	}

	job := &VideoEmbeddingJob{OutputPrefix: resp.OutputPrefix, FailureMessage: resp.Message}
	switch resp.Status {
	case "Completed", "COMPLETED":
		job.Status = VideoJobCompleted
	case "Failed", "FAILED":
		job.Status = VideoJobFailed
	default:
		job.Status = VideoJobInProgress
	}
	return job, nil
}

// Close releases provider resources
func (p *NovaProvider) Close() error {
	return nil
}
