package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/pbaille/worklog/internal/domain"
	"github.com/pbaille/worklog/internal/matching"
	"github.com/pbaille/worklog/internal/semantic"
)

// Config holds the settings for worklog.
// Environment variables are parsed with the WORKLOG_ prefix,
// e.g. WORKLOG_DB_PATH, WORKLOG_SEMANTIC_PROVIDER.
type Config struct {
	DBPath   string `envconfig:"DB_PATH"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	UserID   string `envconfig:"USER_ID" default:"local"`
	Timezone string `envconfig:"TIMEZONE" default:""`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Automatic matching
	AutoMatchThreshold float64 `envconfig:"AUTO_MATCH_THRESHOLD" default:"0.8"`
	EndAnchorPolicy    string  `envconfig:"END_ANCHOR_POLICY" default:"first"`

	// Strategy weights; they are not required to sum to 1
	TimeProximityWeight     float64 `envconfig:"TIME_PROXIMITY_WEIGHT" default:"0.3"`
	ContentSimilarityWeight float64 `envconfig:"CONTENT_SIMILARITY_WEIGHT" default:"0.7"`
	KeywordWeight           float64 `envconfig:"KEYWORD_WEIGHT" default:"0.4"`
	SemanticWeight          float64 `envconfig:"SEMANTIC_WEIGHT" default:"0.6"`
	MinSimilarityScore      float64 `envconfig:"MIN_SIMILARITY_SCORE" default:"0.3"`
	MaxDurationHours        float64 `envconfig:"MAX_DURATION_HOURS" default:"24"`
	MaxGapDays              int     `envconfig:"MAX_GAP_DAYS" default:"2"`

	// Semantic similarity provider: none, voyage or anthropic
	SemanticProvider     string        `envconfig:"SEMANTIC_PROVIDER" default:"none"`
	SemanticTimeout      time.Duration `envconfig:"SEMANTIC_TIMEOUT" default:"5s"`
	SemanticRateInterval time.Duration `envconfig:"SEMANTIC_RATE_INTERVAL" default:"750ms"`
	VoyageAPIKey         string        `envconfig:"VOYAGE_API_KEY"`
	VoyageModel          string        `envconfig:"VOYAGE_MODEL" default:"voyage-3-lite"`
	AnthropicAPIKey      string        `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel       string        `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
}

// New creates a Config from WORKLOG_* environment variables.
// API keys also fall back to the unprefixed VOYAGE_API_KEY / ANTHROPIC_API_KEY.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("WORKLOG", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveDefaults fills derived fields and validates the rest
func (c *Config) ResolveDefaults() error {
	if c.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		c.DBPath = filepath.Join(home, ".worklog", "worklog.db")
	}

	if err := c.Strategy().Validate(); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}
	if c.AutoMatchThreshold <= 0 || c.AutoMatchThreshold > 1 {
		return fmt.Errorf("AUTO_MATCH_THRESHOLD must be in (0, 1], got %v", c.AutoMatchThreshold)
	}
	if _, err := matching.ParseEndAnchorPolicy(c.EndAnchorPolicy); err != nil {
		return err
	}
	switch c.SemanticProvider {
	case "", "none", "voyage", "anthropic":
	default:
		return fmt.Errorf("unsupported SEMANTIC_PROVIDER: %s", c.SemanticProvider)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	return nil
}

// Strategy returns the matching weights
func (c *Config) Strategy() domain.MatchingStrategy {
	return domain.MatchingStrategy{
		TimeProximityWeight:     c.TimeProximityWeight,
		ContentSimilarityWeight: c.ContentSimilarityWeight,
		KeywordWeight:           c.KeywordWeight,
		SemanticWeight:          c.SemanticWeight,
		MinSimilarityScore:      c.MinSimilarityScore,
		MaxDurationHours:        c.MaxDurationHours,
		MaxGapDays:              c.MaxGapDays,
	}
}

// MatchingOptions returns the coordinator options
func (c *Config) MatchingOptions() matching.Options {
	policy, _ := matching.ParseEndAnchorPolicy(c.EndAnchorPolicy)
	return matching.Options{
		AutoMatchThreshold: c.AutoMatchThreshold,
		EndAnchorPolicy:    policy,
	}
}

// Semantic returns the provider settings
func (c *Config) Semantic() semantic.Config {
	return semantic.Config{
		Name:            c.SemanticProvider,
		VoyageAPIKey:    c.VoyageAPIKey,
		VoyageModel:     c.VoyageModel,
		AnthropicAPIKey: c.AnthropicAPIKey,
		AnthropicModel:  c.AnthropicModel,
		HTTPTimeout:     c.SemanticTimeout,
		RateInterval:    c.SemanticRateInterval,
	}
}
