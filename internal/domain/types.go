package domain

import (
	"fmt"
	"time"
)

// LogType says whether an entry opens an activity, closes one, or stands alone
type LogType int

const (
	Complete LogType = iota
	StartOnly
	EndOnly
)

func (t LogType) String() string {
	switch t {
	case StartOnly:
		return "start_only"
	case EndOnly:
		return "end_only"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("LogType(%d)", int(t))
}

// Opposite returns the type an entry of type t can be matched with.
// Complete entries have no opposite and return themselves.
func (t LogType) Opposite() LogType {
	switch t {
	case StartOnly:
		return EndOnly
	case EndOnly:
		return StartOnly
	}
	return t
}

// IsMarker reports whether t takes part in matching
func (t LogType) IsMarker() bool {
	return t == StartOnly || t == EndOnly
}

// ParseLogType converts the stored string form back to a LogType
func ParseLogType(s string) (LogType, error) {
	switch s {
	case "start_only":
		return StartOnly, nil
	case "end_only":
		return EndOnly, nil
	case "complete":
		return Complete, nil
	}
	return Complete, fmt.Errorf("unknown log type %q", s)
}

func (t LogType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LogType) UnmarshalText(b []byte) error {
	v, err := ParseLogType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MatchStatus is unmatched until the entry is paired, then matched forever
type MatchStatus string

const (
	Unmatched MatchStatus = "unmatched"
	Matched   MatchStatus = "matched"
)

// ActivityEntry is a single user-submitted record
type ActivityEntry struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Content         string      `json:"content"`
	InputTimestamp  time.Time   `json:"input_timestamp"`
	LogType         LogType     `json:"log_type"`
	ActivityKey     string      `json:"activity_key"`
	Keywords        []string    `json:"keywords,omitempty"`
	Confidence      float64     `json:"confidence"`
	MatchStatus     MatchStatus `json:"match_status"`
	MatchedLogID    *string     `json:"matched_log_id,omitempty"`
	SimilarityScore *float64    `json:"similarity_score,omitempty"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
}

// MatchUpdate is the matching triple written to one entry.
// ExpectedVersion must equal the stored version for the write to apply.
type MatchUpdate struct {
	ID              string
	Status          MatchStatus
	MatchedLogID    string
	SimilarityScore float64
	ExpectedVersion int64
}

// MatchingStrategy holds the weights and limits used when scoring pairs
type MatchingStrategy struct {
	TimeProximityWeight     float64 `json:"time_proximity_weight"`
	ContentSimilarityWeight float64 `json:"content_similarity_weight"`
	KeywordWeight           float64 `json:"keyword_weight"`
	SemanticWeight          float64 `json:"semantic_weight"`
	MinSimilarityScore      float64 `json:"min_similarity_score"`
	MaxDurationHours        float64 `json:"max_duration_hours"`
	MaxGapDays              int     `json:"max_gap_days"`
}

// DefaultStrategy returns the weights the engine ships with
func DefaultStrategy() MatchingStrategy {
	return MatchingStrategy{
		TimeProximityWeight:     0.3,
		ContentSimilarityWeight: 0.7,
		KeywordWeight:           0.4,
		SemanticWeight:          0.6,
		MinSimilarityScore:      0.3,
		MaxDurationHours:        24,
		MaxGapDays:              2,
	}
}

// Validate rejects negative weights and limits. Weights are not required to sum to 1.
func (s MatchingStrategy) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"time_proximity_weight", s.TimeProximityWeight},
		{"content_similarity_weight", s.ContentSimilarityWeight},
		{"keyword_weight", s.KeywordWeight},
		{"semantic_weight", s.SemanticWeight},
		{"min_similarity_score", s.MinSimilarityScore},
		{"max_duration_hours", s.MaxDurationHours},
		{"max_gap_days", float64(s.MaxGapDays)},
	}
	for _, c := range checks {
		if c.v < 0 {
			return fmt.Errorf("%s must not be negative (got %v)", c.name, c.v)
		}
	}
	return nil
}

// MatchingCandidate is a scored potential partner for an anchor entry
type MatchingCandidate struct {
	LogID        string  `json:"log_id"`
	Score        float64 `json:"score"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	TimeScore    float64 `json:"time_score"`
	ContentScore float64 `json:"content_score"`
	Semantic     bool    `json:"semantic"`
}

// LogTypeAnalysis is the classifier's verdict for one piece of content
type LogTypeAnalysis struct {
	LogType     LogType   `json:"log_type"`
	Confidence  float64   `json:"confidence"`
	ActivityKey string    `json:"activity_key"`
	Keywords    []string  `json:"keywords"`
	Reasoning   string    `json:"reasoning"`
	LocalTime   time.Time `json:"local_time"`
}

// MatchResult holds both sides of a committed match
type MatchResult struct {
	Start *ActivityEntry `json:"start_entry"`
	End   *ActivityEntry `json:"end_entry"`
}

// PairDuration is a matched start/end pair with the time between them
type PairDuration struct {
	Start    *ActivityEntry `json:"start_entry"`
	End      *ActivityEntry `json:"end_entry"`
	Duration time.Duration  `json:"duration"`
	Overlong bool           `json:"overlong"`
}
