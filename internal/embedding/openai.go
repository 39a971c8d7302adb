package embedding

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/kousei/internal/llm"
	"github.com/hyperjump/kousei/pkg/utils"
	"github.com/openai/openai-go"
)

// maxBatch is the number of inputs sent per embeddings request.
const maxBatch = 64

// OpenAIEmbedder calls an Azure OpenAI embeddings deployment.
type OpenAIEmbedder struct {
	client     openai.Client
	deployment string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder for cfg.Deployment. dimensions is requested from
// the service, so it must be supported by the deployed model.
func NewOpenAIEmbedder(cfg llm.AzureConfig, dimensions int) (*OpenAIEmbedder, error) {
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("embedding deployment is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}
	client, err := llm.NewAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{client: client, deployment: cfg.Deployment, dimensions: dimensions}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts[start:end]},
			Model:      openai.EmbeddingModel(e.deployment),
			Dimensions: openai.Int(int64(e.dimensions)),
		})
		if err != nil {
			return nil, &llm.GenerationError{Op: "embeddings", Retryable: llm.IsRetryable(err), Err: err}
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embeddings: expected %d vectors, got %d", end-start, len(resp.Data))
		}
		data := resp.Data
		sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		for _, d := range data {
			v := utils.Float64To32(d.Embedding)
			utils.NormalizeL2(v)
			out = append(out, v)
		}
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAIEmbedder) Close() error { return nil }
