package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pbaille/worklog/internal/domain"
)

//go:embed schema.sql
var schema string

const entryColumns = `id, user_id, content, input_timestamp, log_type, activity_key, keywords,
	confidence, match_status, matched_log_id, similarity_score, version, created_at`

// ErrAmbiguousID is returned by ResolveID when a prefix matches several entries
var ErrAmbiguousID = errors.New("id prefix is ambiguous")

// Store handles database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would get its own in-memory database
		db.SetMaxOpenConns(1)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddEntry stores a new, unmatched entry and returns it with its id assigned
func (s *Store) AddEntry(ctx context.Context, e domain.ActivityEntry) (*domain.ActivityEntry, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC()
	e.InputTimestamp = e.InputTimestamp.UTC()
	e.MatchStatus = domain.Unmatched
	e.MatchedLogID = nil
	e.SimilarityScore = nil
	e.Version = 0

	keywords, err := json.Marshal(e.Keywords)
	if err != nil {
		return nil, fmt.Errorf("marshal keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (id, user_id, content, input_timestamp, log_type, activity_key, keywords,
			confidence, match_status, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Content, e.InputTimestamp, e.LogType.String(), e.ActivityKey, string(keywords),
		e.Confidence, string(e.MatchStatus), e.Version, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	return &e, nil
}

// EntryByID retrieves an entry. Returns domain.ErrNotFound when missing.
func (s *Store) EntryByID(ctx context.Context, id string) (*domain.ActivityEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// ResolveID expands an id prefix to the full id of one of the user's entries
func (s *Store) ResolveID(ctx context.Context, userID, prefix string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM entries WHERE user_id = ? AND id LIKE ? ORDER BY id LIMIT 2",
		userID, prefix+"%",
	)
	if err != nil {
		return "", fmt.Errorf("resolve id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve id: %w", err)
	}

	switch len(ids) {
	case 0:
		return "", domain.ErrNotFound
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("%w: %q", ErrAmbiguousID, prefix)
}

// ListEntries returns a user's recent entries with pagination
func (s *Store) ListEntries(ctx context.Context, userID string, limit, offset int) ([]*domain.ActivityEntry, error) {
	return s.query(ctx, "list entries",
		"SELECT "+entryColumns+" FROM entries WHERE user_id = ? ORDER BY input_timestamp DESC LIMIT ? OFFSET ?",
		userID, limit, offset,
	)
}

// UnmatchedEntries returns a user's unmatched entries of one type, oldest first
func (s *Store) UnmatchedEntries(ctx context.Context, userID string, logType domain.LogType) ([]*domain.ActivityEntry, error) {
	return s.query(ctx, "unmatched entries",
		"SELECT "+entryColumns+` FROM entries
		WHERE user_id = ? AND log_type = ? AND match_status = 'unmatched'
		ORDER BY input_timestamp, created_at`,
		userID, logType.String(),
	)
}

// MatchedEntries returns a user's matched entries, oldest first
func (s *Store) MatchedEntries(ctx context.Context, userID string) ([]*domain.ActivityEntry, error) {
	return s.query(ctx, "matched entries",
		"SELECT "+entryColumns+` FROM entries
		WHERE user_id = ? AND match_status = 'matched'
		ORDER BY input_timestamp, created_at`,
		userID,
	)
}

// SearchEntries performs a simple text search over a user's entries
func (s *Store) SearchEntries(ctx context.Context, userID, query string) ([]*domain.ActivityEntry, error) {
	return s.query(ctx, "search entries",
		"SELECT "+entryColumns+" FROM entries WHERE user_id = ? AND content LIKE ? ORDER BY input_timestamp DESC",
		userID, "%"+query+"%",
	)
}

// UpdateEntryMatching writes the matching fields of one entry if its
// version still equals u.ExpectedVersion.
func (s *Store) UpdateEntryMatching(ctx context.Context, u domain.MatchUpdate) error {
	return updateMatching(ctx, s.db, u)
}

// CommitMatch writes both sides of a match in one transaction
func (s *Store) CommitMatch(ctx context.Context, a, b domain.MatchUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateMatching(ctx, tx, a); err != nil {
		return err
	}
	if err := updateMatching(ctx, tx, b); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit match: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateMatching(ctx context.Context, db execer, u domain.MatchUpdate) error {
	res, err := db.ExecContext(ctx,
		`UPDATE entries SET match_status = ?, matched_log_id = ?, similarity_score = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(u.Status), u.MatchedLogID, u.SimilarityScore, u.ID, u.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update matching: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update matching: %w", err)
	}
	if n == 1 {
		return nil
	}

	var version int64
	err = db.QueryRowContext(ctx, "SELECT version FROM entries WHERE id = ?", u.ID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	return fmt.Errorf("entry %s at version %d, expected %d: %w", u.ID, version, u.ExpectedVersion, domain.ErrVersionConflict)
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]*domain.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []*domain.ActivityEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*domain.ActivityEntry, error) {
	var (
		e         domain.ActivityEntry
		logType   string
		status    string
		keywords  string
		matchedID sql.NullString
		score     sql.NullFloat64
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Content, &e.InputTimestamp, &logType, &e.ActivityKey, &keywords,
		&e.Confidence, &status, &matchedID, &score, &e.Version, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if e.LogType, err = domain.ParseLogType(logType); err != nil {
		return nil, err
	}
	e.MatchStatus = domain.MatchStatus(status)
	if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	if matchedID.Valid {
		e.MatchedLogID = &matchedID.String
	}
	if score.Valid {
		e.SimilarityScore = &score.Float64
	}

	return &e, nil
}
