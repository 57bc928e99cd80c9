package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/worklog/internal/domain"
	"github.com/pbaille/worklog/internal/matching"
	"github.com/pbaille/worklog/internal/recorder"
	"github.com/pbaille/worklog/internal/scoring"
	"github.com/pbaille/worklog/internal/store"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "worklog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := zerolog.Nop()
	coord := matching.New(s, scoring.New(domain.DefaultStrategy(), nil, 0, log), matching.Options{}, log)
	rec := recorder.New(s, coord, "UTC", log)
	return New(s, rec, coord, ":0", log).Handler()
}

func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func addEntry(t *testing.T, h http.Handler, user, content string, ts time.Time) domain.ActivityEntry {
	t.Helper()
	w := do(t, h, http.MethodPost, "/entries", user, AddEntryRequest{Content: content, Timestamp: &ts})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var e domain.ActivityEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

var base = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	h := newTestServer(t)
	addEntry(t, h, "u1", "Starting the standup", base)
	addEntry(t, h, "u1", "Standup finished", base.Add(20*time.Minute))

	w := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `worklog_matches_total{kind="automatic"}`)
}

func TestUserHeaderRequired(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodGet, "/entries/unmatched", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAddEntryValidation(t *testing.T) {
	h := newTestServer(t)
	w := do(t, h, http.MethodPost, "/entries", "u1", AddEntryRequest{Content: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/entries", bytes.NewBufferString("{"))
	req.Header.Set(UserHeader, "u1")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestRecordAndAutoMatch(t *testing.T) {
	h := newTestServer(t)

	start := addEntry(t, h, "u1", "Starting the standup", base)
	assert.Equal(t, domain.StartOnly, start.LogType)

	end := addEntry(t, h, "u1", "Standup finished", base.Add(20*time.Minute))
	require.Equal(t, domain.Matched, end.MatchStatus)
	assert.Equal(t, start.ID, *end.MatchedLogID)

	// Prefix lookup
	w := do(t, h, http.MethodGet, "/entries/"+start.ID[:8], "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.ActivityEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, domain.Matched, got.MatchStatus)

	w = do(t, h, http.MethodGet, "/durations", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var durs struct {
		Durations []DurationResponse `json:"durations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &durs))
	require.Len(t, durs.Durations, 1)
	assert.Equal(t, 20.0, durs.Durations[0].Minutes)
	assert.Equal(t, "standup", durs.Durations[0].Activity)
}

func TestUnmatchedCandidatesAndManualMatch(t *testing.T) {
	h := newTestServer(t)

	// Unrelated content keeps the automatic score under the threshold
	start := addEntry(t, h, "u1", "Started the migration", base)
	end := addEntry(t, h, "u1", "Done with lunch", base.Add(3*time.Hour))
	require.Equal(t, domain.Unmatched, end.MatchStatus)

	w := do(t, h, http.MethodGet, "/entries/unmatched", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var unmatched struct {
		Entries []domain.ActivityEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unmatched))
	require.Len(t, unmatched.Entries, 2)
	assert.Equal(t, start.ID, unmatched.Entries[0].ID)

	w = do(t, h, http.MethodGet, "/entries/"+end.ID+"/candidates", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cands struct {
		Candidates []domain.MatchingCandidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cands))
	require.Len(t, cands.Candidates, 1)
	assert.Equal(t, start.ID, cands.Candidates[0].LogID)

	w = do(t, h, http.MethodPost, "/matches", "u1", MatchRequest{StartID: start.ID, EndID: end.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res domain.MatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, end.ID, *res.Start.MatchedLogID)
	assert.Equal(t, 1.0, *res.End.SimilarityScore)

	w = do(t, h, http.MethodPost, "/matches", "u1", MatchRequest{StartID: start.ID, EndID: end.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(domain.CodeAlreadyMatched), decodeError(t, w).Code)
}

func TestManualMatchErrorStatuses(t *testing.T) {
	h := newTestServer(t)

	start := addEntry(t, h, "u1", "Started the migration", base)
	end := addEntry(t, h, "u1", "Done with lunch", base.Add(3*time.Hour))
	other := addEntry(t, h, "u2", "Done with the review", base.Add(time.Hour))

	tests := []struct {
		name   string
		req    MatchRequest
		status int
		code   domain.Code
	}{
		{"missing", MatchRequest{StartID: "ffffffff", EndID: end.ID}, http.StatusNotFound, domain.CodeLogNotFound},
		{"swapped", MatchRequest{StartID: end.ID, EndID: start.ID}, http.StatusUnprocessableEntity, domain.CodeInvalidLogTypeForMatch},
		{"foreign", MatchRequest{StartID: start.ID, EndID: other.ID}, http.StatusForbidden, domain.CodeUnauthorizedMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/matches", "u1", tt.req)
			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, string(tt.code), resp.Code)
			assert.Equal(t, domain.UserMessage(domain.NewError(tt.code, "", nil)), resp.Error)
		})
	}

	w := do(t, h, http.MethodPost, "/matches", "u1", MatchRequest{StartID: start.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEntryOfOtherUser(t *testing.T) {
	h := newTestServer(t)
	e := addEntry(t, h, "u2", "Started the review", base)

	w := do(t, h, http.MethodGet, "/entries/"+e.ID, "u1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, http.MethodGet, "/entries/"+e.ID[:8], "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchAndList(t *testing.T) {
	h := newTestServer(t)
	addEntry(t, h, "u1", "Started the migration", base)
	addEntry(t, h, "u1", "Wrote release notes", base.Add(time.Hour))

	w := do(t, h, http.MethodGet, "/search?q=release", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found struct {
		Entries []domain.ActivityEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
	require.Len(t, found.Entries, 1)
	assert.Equal(t, domain.Complete, found.Entries[0].LogType)

	w = do(t, h, http.MethodGet, "/search", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/entries?limit=1", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Entries []domain.ActivityEntry `json:"entries"`
		Limit   int                    `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Entries, 1)
	assert.Equal(t, 1, list.Limit)
}
