package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const voyageAPI = "https://api.voyageai.com/v1/embeddings"

// VoyageProvider scores similarity as the cosine of Voyage AI embeddings
type VoyageProvider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewVoyage creates a VoyageProvider. An empty model defaults to voyage-3-lite.
func NewVoyage(apiKey, model string, timeout, rateInterval time.Duration) (*VoyageProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("VOYAGE_API_KEY not set")
	}
	if model == "" {
		model = "voyage-3-lite"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &VoyageProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: voyageAPI,
		client:   &http.Client{Timeout: timeout},
		limiter:  newLimiter(rateInterval),
	}, nil
}

// Similarity embeds both texts in one request and compares the vectors
func (p *VoyageProvider) Similarity(ctx context.Context, a, b string) (float64, error) {
	vectors, err := p.EmbedBatch(ctx, []string{a, b})
	if err != nil {
		return 0, err
	}
	if len(vectors) != 2 {
		return 0, fmt.Errorf("voyage returned %d embeddings, want 2", len(vectors))
	}
	return clamp01(CosineSimilarity(vectors[0], vectors[1])), nil
}

// EmbedBatch generates embeddings for multiple texts.
// Rate-limited and 5xx responses are retried with exponential backoff.
func (p *VoyageProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	jsonBody, err := json.Marshal(embeddingRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var vectors [][]float64
	err = withRetry(ctx, func() error {
		var err error
		vectors, err = p.embedOnce(ctx, jsonBody)
		return err
	})
	return vectors, err
}

func (p *VoyageProvider) embedOnce(ctx context.Context, jsonBody []byte) ([][]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode, Body: string(body)}
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	vectors := make([][]float64, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}

	return vectors, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
