// Package matching pairs start and end entries, manually or automatically,
// and keeps the pairing symmetric.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/worklog/internal/domain"
	"github.com/pbaille/worklog/internal/scoring"
)

// DefaultAutoMatchThreshold is the score an automatic match must exceed
const DefaultAutoMatchThreshold = 0.8

// Repository is the persistence the coordinator needs from its host
type Repository interface {
	UnmatchedEntries(ctx context.Context, userID string, logType domain.LogType) ([]*domain.ActivityEntry, error)
	// EntryByID returns domain.ErrNotFound when no entry has the id
	EntryByID(ctx context.Context, id string) (*domain.ActivityEntry, error)
	// UpdateEntryMatching returns domain.ErrVersionConflict when the stored
	// version differs from u.ExpectedVersion
	UpdateEntryMatching(ctx context.Context, u domain.MatchUpdate) error
	MatchedEntries(ctx context.Context, userID string) ([]*domain.ActivityEntry, error)
}

// MatchCommitter is implemented by repositories that can write both sides of
// a match atomically. Others get two UpdateEntryMatching calls, start first.
type MatchCommitter interface {
	CommitMatch(ctx context.Context, a, b domain.MatchUpdate) error
}

// EndAnchorPolicy picks the start entry an end entry is auto-matched with
type EndAnchorPolicy string

const (
	// FirstOverThreshold takes the first start entry, in repository order,
	// whose score exceeds the threshold.
	FirstOverThreshold EndAnchorPolicy = "first"
	// BestOverThreshold takes the highest-scoring start entry, as start anchors do.
	BestOverThreshold EndAnchorPolicy = "best"
)

// ParseEndAnchorPolicy validates a policy name. Empty means FirstOverThreshold.
func ParseEndAnchorPolicy(s string) (EndAnchorPolicy, error) {
	switch EndAnchorPolicy(s) {
	case "", FirstOverThreshold:
		return FirstOverThreshold, nil
	case BestOverThreshold:
		return BestOverThreshold, nil
	}
	return "", fmt.Errorf("unknown end anchor policy %q", s)
}

// Options tunes automatic matching
type Options struct {
	AutoMatchThreshold float64
	EndAnchorPolicy    EndAnchorPolicy
}

// Coordinator lists, validates and commits matches
type Coordinator struct {
	repo     Repository
	scorer   *scoring.Scorer
	strategy domain.MatchingStrategy
	opts     Options
	log      zerolog.Logger
	locks    keyedMutex
}

// New creates a Coordinator. Zero Options fields take their defaults.
func New(repo Repository, scorer *scoring.Scorer, opts Options, log zerolog.Logger) *Coordinator {
	if opts.AutoMatchThreshold <= 0 {
		opts.AutoMatchThreshold = DefaultAutoMatchThreshold
	}
	if opts.EndAnchorPolicy == "" {
		opts.EndAnchorPolicy = FirstOverThreshold
	}
	return &Coordinator{
		repo:     repo,
		scorer:   scorer,
		strategy: scorer.Strategy(),
		opts:     opts,
		log:      log.With().Str("component", "matching").Logger(),
	}
}

// ListUnmatched returns the user's unmatched start and end entries, oldest first
func (c *Coordinator) ListUnmatched(ctx context.Context, userID string) ([]*domain.ActivityEntry, error) {
	const op = "list unmatched"

	var starts, ends []*domain.ActivityEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		starts, err = c.repo.UnmatchedEntries(gctx, userID, domain.StartOnly)
		return err
	})
	g.Go(func() (err error) {
		ends, err = c.repo.UnmatchedEntries(gctx, userID, domain.EndOnly)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, domain.NewError(domain.CodeGetUnmatchedLogsError, op, err, "user_id", userID)
	}

	out := make([]*domain.ActivityEntry, 0, len(starts)+len(ends))
	out = append(out, starts...)
	out = append(out, ends...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].InputTimestamp.Before(out[j].InputTimestamp)
	})
	return out, nil
}

// ManualMatch pairs startID with endID on the user's request. Everything is
// validated before anything is written; the match is stored with score 1.0.
func (c *Coordinator) ManualMatch(ctx context.Context, startID, endID, userID string) (*domain.MatchResult, error) {
	const op = "manual match"

	unlock := c.locks.lock(userID)
	defer unlock()

	start, end, err := c.loadPair(ctx, startID, endID)
	if err != nil {
		var coded *domain.Error
		if errors.As(err, &coded) {
			return nil, err
		}
		return nil, domain.NewError(domain.CodeManualMatchError, op, err, "start_id", startID, "end_id", endID)
	}

	if err := validatePair(op, start, end, userID); err != nil {
		return nil, err
	}

	res, err := c.commit(ctx, start, end, 1.0)
	if err != nil {
		matchFailuresTotal.WithLabelValues("manual").Inc()
	}
	if errors.Is(err, domain.ErrVersionConflict) {
		// Matched by someone else between our read and write
		return nil, domain.NewError(domain.CodeAlreadyMatched, op, err, "start_id", startID, "end_id", endID)
	}
	if err != nil {
		return nil, domain.NewError(domain.CodeManualMatchError, op, err, "start_id", startID, "end_id", endID)
	}

	matchesTotal.WithLabelValues("manual").Inc()
	c.log.Info().
		Str("user_id", userID).
		Str("start_id", startID).
		Str("end_id", endID).
		Msg("manual match committed")
	return res, nil
}

func (c *Coordinator) loadPair(ctx context.Context, startID, endID string) (start, end *domain.ActivityEntry, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		start, err = c.load(gctx, startID)
		return err
	})
	g.Go(func() (err error) {
		end, err = c.load(gctx, endID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func (c *Coordinator) load(ctx context.Context, id string) (*domain.ActivityEntry, error) {
	e, err := c.repo.EntryByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && e == nil) {
		return nil, domain.NewError(domain.CodeLogNotFound, "load entry", nil, "entry_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load entry %s: %w", id, err)
	}
	return e, nil
}

func validatePair(op string, start, end *domain.ActivityEntry, userID string) error {
	for _, e := range []*domain.ActivityEntry{start, end} {
		if e.UserID != userID {
			return domain.NewError(domain.CodeUnauthorizedMatch, op, nil, "entry_id", e.ID, "user_id", userID)
		}
	}
	if start.LogType != domain.StartOnly {
		return domain.NewError(domain.CodeInvalidLogTypeForMatch, op, nil,
			"entry_id", start.ID, "want", domain.StartOnly.String(), "got", start.LogType.String())
	}
	if end.LogType != domain.EndOnly {
		return domain.NewError(domain.CodeInvalidLogTypeForMatch, op, nil,
			"entry_id", end.ID, "want", domain.EndOnly.String(), "got", end.LogType.String())
	}
	for _, e := range []*domain.ActivityEntry{start, end} {
		if e.MatchStatus != domain.Unmatched {
			return domain.NewError(domain.CodeAlreadyMatched, op, nil, "entry_id", e.ID)
		}
	}
	return nil
}

// commit writes the symmetric match state and returns the updated entries
func (c *Coordinator) commit(ctx context.Context, start, end *domain.ActivityEntry, score float64) (*domain.MatchResult, error) {
	us := domain.MatchUpdate{ID: start.ID, Status: domain.Matched, MatchedLogID: end.ID, SimilarityScore: score, ExpectedVersion: start.Version}
	ue := domain.MatchUpdate{ID: end.ID, Status: domain.Matched, MatchedLogID: start.ID, SimilarityScore: score, ExpectedVersion: end.Version}

	if mc, ok := c.repo.(MatchCommitter); ok {
		if err := mc.CommitMatch(ctx, us, ue); err != nil {
			return nil, err
		}
	} else {
		// Start first: a version conflict there leaves both sides untouched
		if err := c.repo.UpdateEntryMatching(ctx, us); err != nil {
			return nil, err
		}
		if err := c.repo.UpdateEntryMatching(ctx, ue); err != nil {
			// No rollback: matched entries never return to unmatched
			c.log.Error().Err(err).
				Str("start_id", start.ID).
				Str("end_id", end.ID).
				Msg("match commit failed after start was written, pair is half written")
			return nil, err
		}
	}

	return &domain.MatchResult{
		Start: applied(start, us),
		End:   applied(end, ue),
	}, nil
}

func applied(e *domain.ActivityEntry, u domain.MatchUpdate) *domain.ActivityEntry {
	out := *e
	out.MatchStatus = u.Status
	matched := u.MatchedLogID
	score := u.SimilarityScore
	out.MatchedLogID = &matched
	out.SimilarityScore = &score
	out.Version = e.Version + 1
	return &out
}

// PerformAutomaticMatching tries to pair a freshly recorded start or end
// entry with an existing opposite entry. It never fails: every problem is
// logged and the entry simply stays unmatched.
func (c *Coordinator) PerformAutomaticMatching(ctx context.Context, entry *domain.ActivityEntry, userID string) {
	log := c.log.With().Str("user_id", userID).Logger()
	if entry != nil {
		log = log.With().Str("entry_id", entry.ID).Logger()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("automatic matching panicked")
		}
	}()

	res, err := c.autoMatch(ctx, entry, userID)
	if err != nil {
		matchFailuresTotal.WithLabelValues("automatic").Inc()
		log.Warn().Err(err).Msg("automatic matching failed")
		return
	}
	if res == nil {
		log.Debug().Msg("no automatic match")
		return
	}
	matchesTotal.WithLabelValues("automatic").Inc()
	log.Info().
		Str("start_id", res.Start.ID).
		Str("end_id", res.End.ID).
		Float64("score", *res.Start.SimilarityScore).
		Msg("automatic match committed")
}

func (c *Coordinator) autoMatch(ctx context.Context, entry *domain.ActivityEntry, userID string) (*domain.MatchResult, error) {
	if entry == nil || !entry.LogType.IsMarker() {
		return nil, nil
	}
	if entry.UserID != userID {
		return nil, fmt.Errorf("entry %s does not belong to user %s", entry.ID, userID)
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	// Re-read so the version and status are current
	anchor, err := c.load(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("reload anchor: %w", err)
	}
	if anchor.MatchStatus != domain.Unmatched {
		return nil, nil
	}

	opposites, err := c.repo.UnmatchedEntries(ctx, userID, anchor.LogType.Opposite())
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	opposites = c.withinGap(anchor, opposites)

	var partner *domain.ActivityEntry
	var score float64

	if anchor.LogType == domain.EndOnly && c.opts.EndAnchorPolicy == FirstOverThreshold {
		for _, o := range opposites {
			cands := c.scorer.ScoreCandidates(ctx, anchor, []*domain.ActivityEntry{o})
			if len(cands) == 1 && cands[0].Score > c.opts.AutoMatchThreshold {
				partner, score = o, cands[0].Score
				break
			}
		}
	} else {
		cands := c.scorer.ScoreCandidates(ctx, anchor, opposites)
		if len(cands) > 0 && cands[0].Score > c.opts.AutoMatchThreshold {
			partner, score = byID(opposites, cands[0].LogID), cands[0].Score
		}
	}

	if partner == nil {
		return nil, nil
	}
	if anchor.LogType == domain.StartOnly {
		return c.commit(ctx, anchor, partner, score)
	}
	return c.commit(ctx, partner, anchor, score)
}

// withinGap drops candidates more than MaxGapDays away from the anchor
func (c *Coordinator) withinGap(anchor *domain.ActivityEntry, entries []*domain.ActivityEntry) []*domain.ActivityEntry {
	if c.strategy.MaxGapDays <= 0 {
		return entries
	}
	limit := time.Duration(c.strategy.MaxGapDays) * 24 * time.Hour

	var out []*domain.ActivityEntry
	for _, e := range entries {
		gap := e.InputTimestamp.Sub(anchor.InputTimestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap <= limit {
			out = append(out, e)
		}
	}
	return out
}

func byID(entries []*domain.ActivityEntry, id string) *domain.ActivityEntry {
	for _, e := range entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// FindCandidates ranks possible partners for one of the user's unmatched
// marker entries, keeping those scoring at least MinSimilarityScore.
func (c *Coordinator) FindCandidates(ctx context.Context, entryID, userID string) ([]domain.MatchingCandidate, error) {
	const op = "find matching candidates"

	anchor, err := c.load(ctx, entryID)
	if err != nil {
		var coded *domain.Error
		if errors.As(err, &coded) {
			return nil, err
		}
		return nil, domain.NewError(domain.CodeFindCandidatesError, op, err, "entry_id", entryID)
	}
	if anchor.UserID != userID {
		return nil, domain.NewError(domain.CodeUnauthorizedMatch, op, nil, "entry_id", entryID, "user_id", userID)
	}
	if !anchor.LogType.IsMarker() {
		return nil, domain.NewError(domain.CodeInvalidLogTypeForMatch, op, nil, "entry_id", entryID, "got", anchor.LogType.String())
	}
	if anchor.MatchStatus != domain.Unmatched {
		return nil, domain.NewError(domain.CodeAlreadyMatched, op, nil, "entry_id", entryID)
	}

	opposites, err := c.repo.UnmatchedEntries(ctx, userID, anchor.LogType.Opposite())
	if err != nil {
		return nil, domain.NewError(domain.CodeFindCandidatesError, op, err, "entry_id", entryID)
	}

	var out []domain.MatchingCandidate
	for _, cand := range c.scorer.ScoreCandidates(ctx, anchor, opposites) {
		if cand.Score >= c.strategy.MinSimilarityScore {
			out = append(out, cand)
		}
	}
	return out, nil
}

// Durations returns the user's matched pairs with the time between start and end
func (c *Coordinator) Durations(ctx context.Context, userID string) ([]domain.PairDuration, error) {
	matched, err := c.repo.MatchedEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("durations: %w", err)
	}

	index := make(map[string]*domain.ActivityEntry, len(matched))
	for _, e := range matched {
		index[e.ID] = e
	}

	maxDur := time.Duration(c.strategy.MaxDurationHours * float64(time.Hour))
	var out []domain.PairDuration
	for _, s := range matched {
		if s.LogType != domain.StartOnly || s.MatchedLogID == nil {
			continue
		}
		e, ok := index[*s.MatchedLogID]
		if !ok {
			c.log.Warn().Str("start_id", s.ID).Str("end_id", *s.MatchedLogID).Msg("matched partner missing")
			continue
		}
		d := e.InputTimestamp.Sub(s.InputTimestamp)
		out = append(out, domain.PairDuration{
			Start:    s,
			End:      e,
			Duration: d,
			Overlong: maxDur > 0 && d > maxDur,
		})
	}
	return out, nil
}
