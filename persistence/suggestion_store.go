package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/codeforge/framework"
)

// MemorySuggestionStore keeps suggestions in process memory.
type MemorySuggestionStore struct {
	mu    sync.RWMutex
	items map[string]framework.Suggestion
	order []string
}

// NewMemorySuggestionStore builds an empty store.
func NewMemorySuggestionStore() *MemorySuggestionStore {
	return &MemorySuggestionStore{items: make(map[string]framework.Suggestion)}
}

// Add registers a suggestion. Adding an existing ID replaces it.
func (s *MemorySuggestionStore) Add(ctx context.Context, sug framework.Suggestion) error {
	if sug.ID == "" {
		return errors.New("suggestion id required")
	}
	if sug.Status == "" {
		sug.Status = framework.SuggestionPending
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[sug.ID]; !ok {
		s.order = append(s.order, sug.ID)
	}
	s.items[sug.ID] = sug
	return nil
}

// Get returns one suggestion.
func (s *MemorySuggestionStore) Get(ctx context.Context, id string) (framework.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sug, ok := s.items[id]
	if !ok {
		return framework.Suggestion{}, framework.ErrSuggestionNotFound
	}
	return sug, nil
}

// List returns matching suggestions in insertion order.
func (s *MemorySuggestionStore) List(ctx context.Context, filter framework.SuggestionFilter) ([]framework.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []framework.Suggestion
	for _, id := range s.order {
		if sug := s.items[id]; filter.Matches(sug) {
			out = append(out, sug)
		}
	}
	return out, nil
}

// SetStatus applies a lifecycle transition.
func (s *MemorySuggestionStore) SetStatus(ctx context.Context, id string, status framework.SuggestionStatus) (framework.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sug, ok := s.items[id]
	if !ok {
		return framework.Suggestion{}, framework.ErrSuggestionNotFound
	}
	if !framework.CanTransition(sug.Status, status) {
		return sug, &framework.TransitionError{ID: id, From: sug.Status, To: status}
	}
	sug.Status = status
	s.items[id] = sug
	return sug, nil
}

// SQLiteSuggestionStore persists suggestions in a SQLite database.
type SQLiteSuggestionStore struct {
	db *sql.DB
}

// NewSQLiteSuggestionStore opens or creates the database at dbPath.
func NewSQLiteSuggestionStore(dbPath string) (*SQLiteSuggestionStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)
	store := &SQLiteSuggestionStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteSuggestionStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		agent TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		affected_files TEXT,
		suggested_changes TEXT,
		priority TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		seq INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_suggestions_run ON suggestions(run_id);
	CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteSuggestionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add upserts a suggestion.
func (s *SQLiteSuggestionStore) Add(ctx context.Context, sug framework.Suggestion) error {
	if sug.ID == "" {
		return errors.New("suggestion id required")
	}
	if sug.Status == "" {
		sug.Status = framework.SuggestionPending
	}
	if sug.CreatedAt.IsZero() {
		sug.CreatedAt = time.Now().UTC()
	}
	files, err := json.Marshal(sug.AffectedFiles)
	if err != nil {
		return err
	}
	changes, err := json.Marshal(sug.SuggestedChanges)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO suggestions (
		id, run_id, agent, type, title, description, affected_files,
		suggested_changes, priority, status, created_at, seq
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM suggestions))
	ON CONFLICT(id) DO UPDATE SET
		run_id=excluded.run_id,
		agent=excluded.agent,
		type=excluded.type,
		title=excluded.title,
		description=excluded.description,
		affected_files=excluded.affected_files,
		suggested_changes=excluded.suggested_changes,
		priority=excluded.priority,
		status=excluded.status,
		created_at=excluded.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		sug.ID, sug.RunID, sug.Agent, string(sug.Type), sug.Title, sug.Description,
		string(files), string(changes), string(sug.Priority), string(sug.Status), sug.CreatedAt.UTC(),
	)
	return err
}

const suggestionColumns = `id, run_id, agent, type, title, description, affected_files, suggested_changes, priority, status, created_at`

// Get returns one suggestion.
func (s *SQLiteSuggestionStore) Get(ctx context.Context, id string) (framework.Suggestion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id)
	sug, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return framework.Suggestion{}, framework.ErrSuggestionNotFound
	}
	return sug, err
}

// List returns matching suggestions in insertion order.
func (s *SQLiteSuggestionStore) List(ctx context.Context, filter framework.SuggestionFilter) ([]framework.Suggestion, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, filter.Agent)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + suggestionColumns + ` FROM suggestions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []framework.Suggestion
	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sug)
	}
	return out, rows.Err()
}

// SetStatus applies a lifecycle transition inside a transaction.
func (s *SQLiteSuggestionStore) SetStatus(ctx context.Context, id string, status framework.SuggestionStatus) (framework.Suggestion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return framework.Suggestion{}, err
	}
	defer tx.Rollback()
	sug, err := scanSuggestion(tx.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return framework.Suggestion{}, framework.ErrSuggestionNotFound
	}
	if err != nil {
		return framework.Suggestion{}, err
	}
	if !framework.CanTransition(sug.Status, status) {
		return sug, &framework.TransitionError{ID: id, From: sug.Status, To: status}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE suggestions SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return sug, err
	}
	if err := tx.Commit(); err != nil {
		return sug, fmt.Errorf("commit status change: %w", err)
	}
	sug.Status = status
	return sug, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSuggestion(row rowScanner) (framework.Suggestion, error) {
	var (
		sug                                framework.Suggestion
		runID, description, files, changes sql.NullString
		kind, priority, status             string
	)
	if err := row.Scan(&sug.ID, &runID, &sug.Agent, &kind, &sug.Title, &description, &files, &changes, &priority, &status, &sug.CreatedAt); err != nil {
		return sug, err
	}
	sug.RunID = runID.String
	sug.Description = description.String
	sug.Type = framework.SuggestionType(kind)
	sug.Priority = framework.SuggestionPriority(priority)
	sug.Status = framework.SuggestionStatus(status)
	if files.Valid && files.String != "" && files.String != "null" {
		if err := json.Unmarshal([]byte(files.String), &sug.AffectedFiles); err != nil {
			return sug, fmt.Errorf("decode affected files: %w", err)
		}
	}
	if changes.Valid && changes.String != "" && changes.String != "null" {
		if err := json.Unmarshal([]byte(changes.String), &sug.SuggestedChanges); err != nil {
			return sug, fmt.Errorf("decode suggested changes: %w", err)
		}
	}
	return sug, nil
}
