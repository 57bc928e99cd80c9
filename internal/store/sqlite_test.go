package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/worklog/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "worklog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func add(t *testing.T, s *Store, user string, lt domain.LogType, content string, at time.Time) *domain.ActivityEntry {
	t.Helper()
	e, err := s.AddEntry(context.Background(), domain.ActivityEntry{
		UserID:         user,
		Content:        content,
		InputTimestamp: at,
		LogType:        lt,
		ActivityKey:    "meeting",
		Keywords:       []string{"team", "meeting"},
		Confidence:     0.8,
	})
	require.NoError(t, err)
	return e
}

func TestAddAndGetEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tokyo := time.FixedZone("JST", 9*3600)
	e := add(t, s, "u1", domain.StartOnly, "meeting start", t0.In(tokyo))
	require.NotEmpty(t, e.ID)

	got, err := s.EntryByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, domain.StartOnly, got.LogType)
	assert.Equal(t, domain.Unmatched, got.MatchStatus)
	assert.Equal(t, []string{"team", "meeting"}, got.Keywords)
	assert.True(t, got.InputTimestamp.Equal(t0))
	assert.Nil(t, got.MatchedLogID)
	assert.Nil(t, got.SimilarityScore)
	assert.Equal(t, int64(0), got.Version)

	_, err = s.EntryByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnmatchedEntriesFiltersAndOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	late := add(t, s, "u1", domain.EndOnly, "late", t0.Add(2*time.Hour))
	early := add(t, s, "u1", domain.EndOnly, "early", t0.Add(time.Hour))
	add(t, s, "u1", domain.StartOnly, "start", t0)
	add(t, s, "u2", domain.EndOnly, "other user", t0)
	add(t, s, "u1", domain.Complete, "complete", t0)

	got, err := s.UnmatchedEntries(ctx, "u1", domain.EndOnly)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	assert.Equal(t, late.ID, got[1].ID)
}

func TestUpdateEntryMatchingVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := add(t, s, "u1", domain.StartOnly, "start", t0)
	b := add(t, s, "u1", domain.EndOnly, "end", t0.Add(time.Hour))

	u := domain.MatchUpdate{ID: a.ID, Status: domain.Matched, MatchedLogID: b.ID, SimilarityScore: 0.9, ExpectedVersion: 0}
	require.NoError(t, s.UpdateEntryMatching(ctx, u))

	got, err := s.EntryByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Matched, got.MatchStatus)
	require.NotNil(t, got.MatchedLogID)
	assert.Equal(t, b.ID, *got.MatchedLogID)
	require.NotNil(t, got.SimilarityScore)
	assert.Equal(t, 0.9, *got.SimilarityScore)
	assert.Equal(t, int64(1), got.Version)

	// Stale version loses
	err = s.UpdateEntryMatching(ctx, u)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	u.ID = "missing"
	assert.ErrorIs(t, s.UpdateEntryMatching(ctx, u), domain.ErrNotFound)

	matched, err := s.MatchedEntries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, a.ID, matched[0].ID)
}

func TestCommitMatchIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := add(t, s, "u1", domain.StartOnly, "start", t0)
	b := add(t, s, "u1", domain.EndOnly, "end", t0.Add(time.Hour))

	err := s.CommitMatch(ctx,
		domain.MatchUpdate{ID: a.ID, Status: domain.Matched, MatchedLogID: b.ID, SimilarityScore: 1, ExpectedVersion: 0},
		domain.MatchUpdate{ID: b.ID, Status: domain.Matched, MatchedLogID: a.ID, SimilarityScore: 1, ExpectedVersion: 7},
	)
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := s.EntryByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Unmatched, got.MatchStatus, "first write must roll back")

	err = s.CommitMatch(ctx,
		domain.MatchUpdate{ID: a.ID, Status: domain.Matched, MatchedLogID: b.ID, SimilarityScore: 1, ExpectedVersion: 0},
		domain.MatchUpdate{ID: b.ID, Status: domain.Matched, MatchedLogID: a.ID, SimilarityScore: 1, ExpectedVersion: 0},
	)
	require.NoError(t, err)

	gotB, err := s.EntryByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, gotB.MatchedLogID)
	assert.Equal(t, a.ID, *gotB.MatchedLogID)
}

func TestResolveIDAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := add(t, s, "u1", domain.StartOnly, "design review kickoff", t0)
	add(t, s, "u1", domain.EndOnly, "lunch done", t0.Add(time.Hour))

	id, err := s.ResolveID(ctx, "u1", e.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, e.ID, id)

	_, err = s.ResolveID(ctx, "u2", e.ID[:8])
	assert.ErrorIs(t, err, domain.ErrNotFound)

	found, err := s.SearchEntries(ctx, "u1", "review")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, e.ID, found[0].ID)

	all, err := s.ListEntries(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
