package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pbaille/worklog/internal/domain"
	"github.com/pbaille/worklog/internal/matching"
	"github.com/pbaille/worklog/internal/recorder"
	"github.com/pbaille/worklog/internal/store"
)

// UserHeader carries the id of the calling user
const UserHeader = "X-User-ID"

// Server handles HTTP requests for the worklog API
type Server struct {
	store    *store.Store
	recorder *recorder.Recorder
	matcher  *matching.Coordinator
	addr     string
	log      zerolog.Logger
}

// New creates a new API server
func New(s *store.Store, rec *recorder.Recorder, m *matching.Coordinator, addr string, log zerolog.Logger) *Server {
	return &Server{
		store:    s,
		recorder: rec,
		matcher:  m,
		addr:     addr,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recovery)

	// Entries; the literal paths must come before {id}
	r.HandleFunc("/entries", s.listEntries).Methods(http.MethodGet)
	r.HandleFunc("/entries", s.addEntry).Methods(http.MethodPost)
	r.HandleFunc("/entries/unmatched", s.listUnmatched).Methods(http.MethodGet)
	r.HandleFunc("/entries/{id}", s.getEntry).Methods(http.MethodGet)
	r.HandleFunc("/entries/{id}/candidates", s.candidates).Methods(http.MethodGet)

	// Matches
	r.HandleFunc("/matches", s.manualMatch).Methods(http.MethodPost)
	r.HandleFunc("/durations", s.durations).Methods(http.MethodGet)

	// Search
	r.HandleFunc("/search", s.searchEntries).Methods(http.MethodGet)

	// Health check
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return withCORS(r)
}

// Run starts the HTTP server and shuts it down when ctx is done
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info().Msg("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

// recovery turns handler panics into a 500
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("url", r.URL.String()).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userID reads the caller; it writes the 401 itself when missing
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		writeError(w, http.StatusUnauthorized, UserHeader+" header is required")
		return "", false
	}
	return id, true
}

// resolve expands an id prefix among the caller's entries
func (s *Server) resolve(ctx context.Context, user, prefix string) (string, error) {
	id, err := s.store.ResolveID(ctx, user, prefix)
	if errors.Is(err, domain.ErrNotFound) {
		// Someone else's entry is matched by its full id so ownership is reported
		if e, gerr := s.store.EntryByID(ctx, prefix); gerr == nil {
			return e.ID, nil
		}
		return "", domain.NewError(domain.CodeLogNotFound, "resolve id", nil, "entry_id", prefix)
	}
	return id, err
}

// AddEntryRequest is the request body for adding an entry
type AddEntryRequest struct {
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (s *Server) addEntry(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var req AddEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	entry, err := s.recorder.Record(r.Context(), user, req.Content, ts)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	id, err := s.resolve(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}

	entry, err := s.store.EntryByID(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if entry.UserID != user {
		s.fail(w, domain.NewError(domain.CodeUnauthorizedMatch, "get entry", nil, "entry_id", id))
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := s.store.ListEntries(r.Context(), user, limit, offset)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) listUnmatched(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	entries, err := s.matcher.ListUnmatched(r.Context(), user)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

func (s *Server) candidates(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	id, err := s.resolve(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}

	cands, err := s.matcher.FindCandidates(r.Context(), id, user)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entry_id":   id,
		"candidates": cands,
	})
}

// MatchRequest is the request body for a manual match
type MatchRequest struct {
	StartID string `json:"start_id"`
	EndID   string `json:"end_id"`
}

func (s *Server) manualMatch(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StartID == "" || req.EndID == "" {
		writeError(w, http.StatusBadRequest, "start_id and end_id are required")
		return
	}

	startID, err := s.resolve(r.Context(), user, req.StartID)
	if err != nil {
		s.fail(w, err)
		return
	}
	endID, err := s.resolve(r.Context(), user, req.EndID)
	if err != nil {
		s.fail(w, err)
		return
	}

	res, err := s.matcher.ManualMatch(r.Context(), startID, endID, user)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// DurationResponse is one matched pair in GET /durations
type DurationResponse struct {
	StartID  string    `json:"start_id"`
	EndID    string    `json:"end_id"`
	Activity string    `json:"activity"`
	Started  time.Time `json:"started_at"`
	Ended    time.Time `json:"ended_at"`
	Minutes  float64   `json:"minutes"`
	Overlong bool      `json:"overlong"`
}

func (s *Server) durations(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	pairs, err := s.matcher.Durations(r.Context(), user)
	if err != nil {
		s.fail(w, err)
		return
	}

	out := make([]DurationResponse, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, DurationResponse{
			StartID:  p.Start.ID,
			EndID:    p.End.ID,
			Activity: p.Start.ActivityKey,
			Started:  p.Start.InputTimestamp,
			Ended:    p.End.InputTimestamp,
			Minutes:  p.Duration.Minutes(),
			Overlong: p.Overlong,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"durations": out,
	})
}

func (s *Server) searchEntries(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	entries, err := s.store.SearchEntries(r.Context(), user, query)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"query":   query,
	})
}

// fail maps err to a status and a message safe to show the caller
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := domain.UserMessage(err)
	if domain.CodeOf(err) == "" && status < http.StatusInternalServerError {
		msg = err.Error()
	}

	ev := s.log.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.log.Error()
	}
	ev.Err(err).Str("code", string(domain.CodeOf(err))).Int("status", status).Msg("request failed")

	writeJSON(w, status, ErrorResponse{
		Error:   msg,
		Code:    string(domain.CodeOf(err)),
		Message: http.StatusText(status),
	})
}

func statusFor(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeLogNotFound:
		return http.StatusNotFound
	case domain.CodeUnauthorizedMatch:
		return http.StatusForbidden
	case domain.CodeInvalidLogTypeForMatch:
		return http.StatusUnprocessableEntity
	case domain.CodeAlreadyMatched:
		return http.StatusConflict
	}
	if errors.Is(err, domain.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, recorder.ErrEmptyContent) || errors.Is(err, store.ErrAmbiguousID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Message: http.StatusText(status)})
}
