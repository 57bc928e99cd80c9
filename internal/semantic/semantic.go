// Package semantic provides pluggable text similarity oracles used to
// enrich candidate scoring.
package semantic

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Provider returns a similarity in [0, 1] for two snippets of text
type Provider interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Config selects and configures a provider
type Config struct {
	Name            string // "none", "voyage" or "anthropic"
	VoyageAPIKey    string
	VoyageModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	HTTPTimeout     time.Duration
	RateInterval    time.Duration
}

// New builds the provider named in cfg. "none" and "" return a nil provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Name {
	case "", "none":
		return nil, nil
	case "voyage":
		p, err := NewVoyage(cfg.VoyageAPIKey, cfg.VoyageModel, cfg.HTTPTimeout, cfg.RateInterval)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "anthropic":
		p, err := NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.HTTPTimeout, cfg.RateInterval)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown semantic provider %q", cfg.Name)
}

// CosineSimilarity computes similarity between two vectors
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
