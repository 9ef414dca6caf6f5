package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/homelab-ops/warden/pkg/config"
)

// Embedder turns incident descriptions into fixed-dimension vectors. The
// same description formula feeds Embed at write time (incident closure) and
// read time (similarity query), so the two sides always compare like with
// like.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// NewEmbedder builds the configured embedding provider.
func NewEmbedder(cfg *config.EmbeddingConfig, apiKey, baseURL string) (Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingProviderOpenAI:
		return newOpenAIEmbedder(cfg, apiKey, baseURL)
	case config.EmbeddingProviderLocal:
		return NewLocalEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// OpenAIEmbedder calls the OpenAI embeddings API (or any compatible
// endpoint selected via base URL).
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

func newOpenAIEmbedder(cfg *config.EmbeddingConfig, apiKey, baseURL string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding provider openai requires an API key")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Embed produces one embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response carried no data")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != e.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), e.dimension)
	}
	return vec, nil
}

// Dimension returns the configured vector width.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// LocalEmbedder produces deterministic token-hash vectors with no network
// dependency. Identical text always embeds identically, and texts sharing
// tokens land near each other, which is all the dev profile and the tests
// need. Not a semantic model.
type LocalEmbedder struct {
	dimension int
}

var _ Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder creates a local embedder with the given dimension.
func NewLocalEmbedder(dimension int) *LocalEmbedder {
	if dimension <= 0 {
		dimension = 1536
	}
	return &LocalEmbedder{dimension: dimension}
}

// Embed hashes each whitespace token into a bucket and L2-normalises the
// result, so cosine similarity behaves sensibly: identical descriptions
// score 1.0 and overlapping label sets score high.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dimension))
		// Sign from a high bit decorrelates buckets that collide.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Empty input still embeds so degenerate alerts do not break writes.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Dimension returns the vector width.
func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}
