package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const openaiReqTimeout = 30 * time.Second

// OpenAIProvider is a text-only fallback: it can embed search queries but
// cannot embed video, so it only works against an index built elsewhere.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(_ context.Context, apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai provider requires an API key")
	}
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(openaiReqTimeout),
	)

	return &OpenAIProvider{client: client, model: model}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// SupportsVideo returns false: OpenAI has no video embedding API.
func (p *OpenAIProvider) SupportsVideo() bool {
	return false
}

// EmbedTexts generates embeddings for a batch of texts using the OpenAI API.
func (p *OpenAIProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text at index %d is empty", i)
		}
	}

	// Texts are embedded concurrently; results land at their input index to
	// preserve order.
	vectors := make([][]float32, len(texts))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var embeddingErr error

	const maxRetries = 3

	for i, text := range texts {
		wg.Add(1)
		go func(idx int, txt string) {
			defer wg.Done()

			var embedding []float32
			var err error

			for attempt := 0; attempt < maxRetries; attempt++ {
				response, apiErr := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
					Input: openai.EmbeddingNewParamsInputUnion{
						OfArrayOfStrings: []string{txt},
					},
					Model: openai.EmbeddingModel(p.model),
				})
				if apiErr != nil {
					err = fmt.Errorf("openai API call failed for text %d: %w", idx, apiErr)
					continue
				}
				if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
					err = fmt.Errorf("no embedding returned for text %d", idx)
					continue
				}

				emb := response.Data[0].Embedding
				embedding = make([]float32, len(emb))
				for j, val := range emb {
					embedding[j] = float32(val)
				}
				err = nil
				break
			}

			if err != nil {
				mu.Lock()
				if embeddingErr == nil {
					embeddingErr = fmt.Errorf("openai embedding failed after %d attempts: %w", maxRetries, err)
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			vectors[idx] = embedding
			mu.Unlock()
		}(i, text)
	}

	wg.Wait()

	if embeddingErr != nil {
		return nil, embeddingErr
	}
	return vectors, nil
}

// SubmitVideoEmbedding always fails: callers should check SupportsVideo first.
func (p *OpenAIProvider) SubmitVideoEmbedding(_ context.Context, _ SubmitVideoEmbeddingParam) (string, error) {
	return "", fmt.Errorf("openai provider does not support video embedding")
}

// GetVideoEmbeddingJob always fails: no video jobs are ever submitted here.
func (p *OpenAIProvider) GetVideoEmbeddingJob(_ context.Context, _ string) (*VideoEmbeddingJob, error) {
	return nil, fmt.Errorf("openai provider does not support video embedding")
}

// Close releases provider resources
func (p *OpenAIProvider) Close() error {
	return nil
}
