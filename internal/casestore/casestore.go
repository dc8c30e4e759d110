// Package casestore persists handled project cases to SQLite so past
// decompositions and their outcomes can be reviewed and fed back into
// prompts.
package casestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"angela/internal/logging"
)

// ErrNotFound is returned by Get for unknown case IDs.
var ErrNotFound = errors.New("case not found")

// Case is one handled project: the user's request, the subtask plan, the
// raw subtask results, and the integrated response.
type Case struct {
	ID        int64     `json:"id"`
	Query     string    `json:"query"`
	Subtasks  string    `json:"subtasks"` // JSON array of the planned subtasks
	Results   string    `json:"results"`  // JSON array of per-subtask outcomes
	Response  string    `json:"response"` // integrated answer shown to the user
	Succeeded bool      `json:"succeeded"`
	ElapsedMS int64     `json:"elapsed_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the SQLite case database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open initializes the case database at the given path, creating the
// directory and schema as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open case database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		subtasks TEXT,
		results TEXT,
		response TEXT,
		succeeded INTEGER NOT NULL DEFAULT 0,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cases table: %w", err)
	}
	return nil
}

// Save records a handled case and returns its ID. Subtasks and results are
// stored as JSON.
func (s *Store) Save(c Case) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT INTO cases (query, subtasks, results, response, succeeded, elapsed_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Query, c.Subtasks, c.Results, c.Response, boolToInt(c.Succeeded), c.ElapsedMS,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save case: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read case id: %w", err)
	}
	logging.Store("saved case %d (succeeded=%v, %dms)", id, c.Succeeded, c.ElapsedMS)
	return id, nil
}

// Get returns one case by ID.
func (s *Store) Get(id int64) (Case, error) {
	row := s.db.QueryRow(
		`SELECT id, query, subtasks, results, response, succeeded, elapsed_ms, created_at FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	return c, err
}

// Recent returns up to limit cases, newest first.
func (s *Store) Recent(limit int) ([]Case, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, query, subtasks, results, response, succeeded, elapsed_ms, created_at FROM cases ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// Count returns the total number of stored cases.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cases`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarshalField JSON-encodes a value for the Subtasks or Results columns.
func MarshalField(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (Case, error) {
	var c Case
	var succeeded int
	var createdAt string
	if err := row.Scan(&c.ID, &c.Query, &c.Subtasks, &c.Results, &c.Response, &succeeded, &c.ElapsedMS, &createdAt); err != nil {
		return Case{}, err
	}
	c.Succeeded = succeeded != 0
	if ts, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		c.CreatedAt = ts
	} else if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = ts
	}
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
