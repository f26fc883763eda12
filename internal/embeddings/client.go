// Package embeddings generates text embeddings through an
// OpenAI-compatible /v1/embeddings endpoint, for both memory storage
// and query-time similarity search.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/httpkit"
)

// Client generates embeddings against an OpenAI-compatible vendor API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// Config configures an embedding Client.
type Config struct {
	BaseURL string // e.g. "https://api.openai.com/v1"
	APIKey  string
	Model   string // e.g. "text-embedding-3-small"
}

// New creates an embedding client. Model defaults to a 1536-dimension
// vendor model, matching the schema's fixed vector width.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
		),
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Generate creates an embedding for a single text.
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	out, err := c.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateBatch creates embeddings for multiple texts in one request.
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "marshal embedding request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Internal, err, "build embedding request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Upstream, err, "call embedding vendor")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, coreerr.New(coreerr.Upstream, "embedding vendor returned status %d: %s", resp.StatusCode, errBody)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, coreerr.Wrap(coreerr.Upstream, err, "decode embedding response")
	}
	if len(parsed.Data) != len(texts) {
		return nil, coreerr.New(coreerr.Upstream, "embedding vendor returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// CosineSimilarity computes cosine similarity between two vectors. Used
// by unit tests and any in-process re-ranking; the durable similarity
// search itself runs in Postgres via pgvector's `<=>` operator.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// TopK returns indices of the k vectors most similar to query.
func TopK(query []float32, vectors [][]float32, k int) []int {
	type scored struct {
		idx   int
		score float32
	}

	scores := make([]scored, len(vectors))
	for i, v := range vectors {
		scores[i] = scored{idx: i, score: CosineSimilarity(query, v)}
	}

	for i := 0; i < k && i < len(scores); i++ {
		maxIdx := i
		for j := i + 1; j < len(scores); j++ {
			if scores[j].score > scores[maxIdx].score {
				maxIdx = j
			}
		}
		scores[i], scores[maxIdx] = scores[maxIdx], scores[i]
	}

	result := make([]int, 0, k)
	for i := 0; i < k && i < len(scores); i++ {
		result = append(result, scores[i].idx)
	}
	return result
}
