// Package scoring ranks opposite-type entries as match candidates for an anchor entry.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pbaille/worklog/internal/domain"
	"github.com/pbaille/worklog/internal/semantic"
)

const (
	keywordConfidenceFactor  = 0.8
	semanticConfidenceFactor = 0.9

	// DefaultSemanticTimeout bounds a single provider call
	DefaultSemanticTimeout = 5 * time.Second
)

// Scorer computes time and content scores for anchor/candidate pairs
type Scorer struct {
	strategy domain.MatchingStrategy
	provider semantic.Provider
	timeout  time.Duration
	log      zerolog.Logger
}

// New creates a Scorer. provider may be nil for keyword-only scoring.
func New(strategy domain.MatchingStrategy, provider semantic.Provider, timeout time.Duration, log zerolog.Logger) *Scorer {
	if timeout <= 0 {
		timeout = DefaultSemanticTimeout
	}
	return &Scorer{
		strategy: strategy,
		provider: provider,
		timeout:  timeout,
		log:      log.With().Str("component", "scorer").Logger(),
	}
}

// Strategy returns the weights the scorer was built with
func (s *Scorer) Strategy() domain.MatchingStrategy {
	return s.strategy
}

// ScoreCandidates scores every eligible entry in opposites against anchor
// and returns them sorted by score, highest first. Eligible entries have the
// complementary log type, are unmatched, and put the end strictly after the start.
func (s *Scorer) ScoreCandidates(ctx context.Context, anchor *domain.ActivityEntry, opposites []*domain.ActivityEntry) []domain.MatchingCandidate {
	if !anchor.LogType.IsMarker() {
		return nil
	}

	var out []domain.MatchingCandidate
	for _, c := range opposites {
		if !eligible(anchor, c) {
			continue
		}
		out = append(out, s.score(ctx, anchor, c))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func eligible(anchor, c *domain.ActivityEntry) bool {
	if c == nil || c.ID == anchor.ID {
		return false
	}
	if c.LogType != anchor.LogType.Opposite() || c.MatchStatus != domain.Unmatched {
		return false
	}
	start, end := orient(anchor, c)
	return end.InputTimestamp.After(start.InputTimestamp)
}

func orient(anchor, c *domain.ActivityEntry) (start, end *domain.ActivityEntry) {
	if anchor.LogType == domain.StartOnly {
		return anchor, c
	}
	return c, anchor
}

func (s *Scorer) score(ctx context.Context, anchor, c *domain.ActivityEntry) domain.MatchingCandidate {
	start, end := orient(anchor, c)
	gap := end.InputTimestamp.Sub(start.InputTimestamp).Hours()

	timeScore := TimeScore(gap)
	keyword := KeywordScore(start.ActivityKey, end.ActivityKey)
	content := keyword
	factor := keywordConfidenceFactor

	sem, ok := s.semanticScore(ctx, start, end)
	if ok {
		content = keyword*s.strategy.KeywordWeight + sem*s.strategy.SemanticWeight
		factor = semanticConfidenceFactor
	}

	total := timeScore*s.strategy.TimeProximityWeight + content*s.strategy.ContentSimilarityWeight

	var reason strings.Builder
	fmt.Fprintf(&reason, "time %.2f (%.1fh apart), keyword %.2f (%s)", timeScore, gap, keyword, keywordReason(start.ActivityKey, end.ActivityKey))
	if ok {
		fmt.Fprintf(&reason, ", semantic %.2f", sem)
	}
	fmt.Fprintf(&reason, ", content %.2f, total %.2f", content, total)

	return domain.MatchingCandidate{
		LogID:        c.ID,
		Score:        total,
		Confidence:   math.Min(timeScore+content, 1) * factor,
		Reason:       reason.String(),
		TimeScore:    timeScore,
		ContentScore: content,
		Semantic:     ok,
	}
}

// semanticScore asks the provider with a bounded timeout. Any failure means
// the caller stays on keyword-only scoring.
func (s *Scorer) semanticScore(ctx context.Context, start, end *domain.ActivityEntry) (float64, bool) {
	if s.provider == nil {
		return 0, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	began := time.Now()
	v, err := s.provider.Similarity(ctx, start.Content, end.Content)
	semanticDuration.Observe(time.Since(began).Seconds())
	if err == nil && (math.IsNaN(v) || v < 0 || v > 1) {
		err = fmt.Errorf("similarity %v out of range", v)
	}
	if err != nil {
		semanticCallsTotal.WithLabelValues("fallback").Inc()
		s.log.Warn().Err(err).
			Str("start_id", start.ID).
			Str("end_id", end.ID).
			Msg("semantic scoring unavailable, using keyword score")
		return 0, false
	}
	semanticCallsTotal.WithLabelValues("ok").Inc()
	return v, true
}

// TimeScore maps the hour gap between start and end onto a step function
func TimeScore(hours float64) float64 {
	switch {
	case hours < 0:
		return 0
	case hours <= 8:
		return 1.0
	case hours <= 16:
		return 0.5
	case hours <= 24:
		return 0.2
	}
	return 0
}

// KeywordScore compares two activity keys
func KeywordScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	switch {
	case a == b:
		return 1.0
	case strings.Contains(a, b) || strings.Contains(b, a):
		return 0.7
	case sameSynonymGroup(a, b):
		return 0.8
	}
	return 0
}

func keywordReason(a, b string) string {
	switch KeywordScore(a, b) {
	case 1.0:
		return fmt.Sprintf("same activity %q", a)
	case 0.7:
		return fmt.Sprintf("%q overlaps %q", a, b)
	case 0.8:
		return fmt.Sprintf("%q and %q are synonyms", a, b)
	}
	return fmt.Sprintf("%q and %q unrelated", a, b)
}
