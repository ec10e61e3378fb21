// Package embed provides sentence embeddings from an OpenAI-compatible endpoint.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/assessor/internal/metrics"
)

// Embedder turns texts into L2-normalized vectors of a fixed dimension.
// Implementations must be deterministic for identical input and safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// maxBatch is the number of inputs sent per embeddings request.
const maxBatch = 64

// DefaultCacheSize is the number of vectors a Client keeps by default. At 384
// dimensions that is about 15 MB.
const DefaultCacheSize = 10000

// Client wraps an OpenAI-compatible embeddings API. It keeps the most
// recently used vectors by input text, so repeated rubric points and
// representative texts are embedded once.
type Client struct {
	api   *openai.Client
	model string
	cache *lru.Cache[string, []float32]
}

// New creates a new embedding client that caches up to cacheSize vectors.
// A cacheSize of zero or less disables the cache.
func New(baseURL, apiKey, modelName string, cacheSize int) (*Client, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	c := &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, []float32](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return c.model
}

// Cached returns the number of vectors held in the cache.
func (c *Client) Cached() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// Ping checks that the endpoint serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	vecs, err := c.request(ctx, []string{"ping"})
	if err != nil {
		return err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("embedding endpoint returned no vector")
	}
	return nil
}

// Embed returns one normalized vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	slots := make(map[string][]int)

	for i, t := range texts {
		if c.cache != nil {
			if v, ok := c.cache.Get(t); ok {
				out[i] = v
				continue
			}
		}
		if _, ok := slots[t]; !ok {
			missing = append(missing, t)
		}
		slots[t] = append(slots[t], i)
	}

	for start := 0; start < len(missing); start += maxBatch {
		end := min(start+maxBatch, len(missing))
		chunk := missing[start:end]
		vecs, err := c.request(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for i, t := range chunk {
			for _, j := range slots[t] {
				out[j] = vecs[i]
			}
			if c.cache != nil {
				c.cache.Add(t, vecs[i])
			}
		}
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("embeddings API call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	slog.Debug("embedded texts", "count", len(texts), "model", c.model)

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings API returned out-of-range index %d", d.Index)
		}
		vecs[d.Index] = Normalize(d.Embedding)
	}
	return vecs, nil
}

// Normalize returns v scaled to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine returns the dot product of two normalized vectors.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
