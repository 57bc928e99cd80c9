// Package recorder turns raw activity text into stored, classified entries
// and gives each new start or end entry a chance to pair up.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pbaille/worklog/internal/classifier"
	"github.com/pbaille/worklog/internal/domain"
)

// ErrEmptyContent is returned when there is nothing to record
var ErrEmptyContent = errors.New("content is required")

// EntryStore persists entries
type EntryStore interface {
	AddEntry(ctx context.Context, e domain.ActivityEntry) (*domain.ActivityEntry, error)
	EntryByID(ctx context.Context, id string) (*domain.ActivityEntry, error)
}

// Matcher pairs a new entry with an existing one, best effort
type Matcher interface {
	PerformAutomaticMatching(ctx context.Context, entry *domain.ActivityEntry, userID string)
}

// Recorder classifies, stores and auto-matches entries
type Recorder struct {
	clf      *classifier.Classifier
	store    EntryStore
	matcher  Matcher
	timezone string
	log      zerolog.Logger
}

// New creates a Recorder. timezone is an IANA name used to read timestamps
// as local time; empty means UTC.
func New(store EntryStore, matcher Matcher, timezone string, log zerolog.Logger) *Recorder {
	return &Recorder{
		clf:      classifier.New(),
		store:    store,
		matcher:  matcher,
		timezone: timezone,
		log:      log.With().Str("component", "recorder").Logger(),
	}
}

// Record classifies content, stores it for userID and tries an automatic
// match. A zero ts means now. The returned entry reflects any match made.
func (r *Recorder) Record(ctx context.Context, userID, content string, ts time.Time) (*domain.ActivityEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	analysis, err := r.clf.Classify(content, ts, r.timezone)
	if err != nil {
		return nil, err
	}

	entry, err := r.store.AddEntry(ctx, domain.ActivityEntry{
		UserID:         userID,
		Content:        content,
		InputTimestamp: ts,
		LogType:        analysis.LogType,
		ActivityKey:    analysis.ActivityKey,
		Keywords:       analysis.Keywords,
		Confidence:     analysis.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("record entry: %w", err)
	}

	r.log.Debug().
		Str("entry_id", entry.ID).
		Str("log_type", entry.LogType.String()).
		Str("activity_key", entry.ActivityKey).
		Float64("confidence", entry.Confidence).
		Str("reasoning", analysis.Reasoning).
		Msg("entry recorded")

	if !entry.LogType.IsMarker() || r.matcher == nil {
		return entry, nil
	}

	r.matcher.PerformAutomaticMatching(ctx, entry, userID)

	fresh, err := r.store.EntryByID(ctx, entry.ID)
	if err != nil {
		// Stored fine; only the refresh failed
		r.log.Warn().Err(err).Str("entry_id", entry.ID).Msg("reload after matching failed")
		return entry, nil
	}
	return fresh, nil
}
