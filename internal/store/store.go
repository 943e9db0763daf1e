package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crewhall/skilltest/internal/engine"
	"github.com/crewhall/skilltest/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite persistence collaborator. It implements
// engine.Persister and engine.TemplateSource.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		passing_percentage REAL NOT NULL DEFAULT 0,
		definition TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tests (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL DEFAULT '',
		candidate_name TEXT NOT NULL DEFAULT '',
		examiner_id TEXT NOT NULL DEFAULT '',
		examiner_name TEXT NOT NULL DEFAULT '',
		practice INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		result TEXT NOT NULL DEFAULT '',
		elapsed_seconds INTEGER NOT NULL DEFAULT 0,
		overall_score REAL,
		section_results TEXT NOT NULL DEFAULT '[]',
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (template_id) REFERENCES templates(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveTemplate stores a parsed template, assigning an id when the source
// supplied none. Template definitions are immutable once tests exist, so
// callers use the import hash in metadata to avoid re-importing.
func (s *Store) SaveTemplate(tpl model.Template) (string, error) {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	definition, err := json.Marshal(tpl)
	if err != nil {
		return "", fmt.Errorf("marshal template: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO templates (id, name, passing_percentage, definition) VALUES (?, ?, ?, ?)`,
		tpl.ID, tpl.Name, tpl.PassingPercentage, string(definition),
	)
	if err != nil {
		return "", err
	}
	return tpl.ID, nil
}

// GetTemplate returns a template by id.
func (s *Store) GetTemplate(id string) (model.Template, error) {
	var definition string
	err := s.db.QueryRow(`SELECT definition FROM templates WHERE id = ?`, id).Scan(&definition)
	if err == sql.ErrNoRows {
		return model.Template{}, fmt.Errorf("template %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return model.Template{}, err
	}
	var tpl model.Template
	if err := json.Unmarshal([]byte(definition), &tpl); err != nil {
		return model.Template{}, fmt.Errorf("unmarshal template %s: %w", id, err)
	}
	return tpl, nil
}

// ListTemplates returns all stored templates.
func (s *Store) ListTemplates() ([]model.Template, error) {
	rows, err := s.db.Query(`SELECT definition FROM templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var templates []model.Template
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var tpl model.Template
		if err := json.Unmarshal([]byte(definition), &tpl); err != nil {
			return nil, fmt.Errorf("unmarshal template: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// TemplateCount returns the number of stored templates.
func (s *Store) TemplateCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM templates`).Scan(&count)
	return count, err
}

// CreateTest inserts a new test session.
func (s *Store) CreateTest(t model.TestSession) error {
	sections, err := json.Marshal(t.Sections)
	if err != nil {
		return fmt.Errorf("marshal section results: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO tests (id, template_id, candidate_id, candidate_name, examiner_id, examiner_name,
		 practice, status, result, elapsed_seconds, overall_score, section_results, started_at, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TemplateID, t.CandidateID, t.CandidateName, t.ExaminerID, t.ExaminerName,
		t.Practice, t.Status, t.Result, t.ElapsedSeconds, t.OverallScore, string(sections),
		t.StartedAt, t.CompletedAt, t.CreatedAt,
	)
	return err
}

// GetTest returns a test by id. Discarded tests are gone for good: the
// lookup reports not found, never a cached draft.
func (s *Store) GetTest(id string) (model.TestSession, error) {
	return s.scanTest(s.db.QueryRow(
		`SELECT id, template_id, candidate_id, candidate_name, examiner_id, examiner_name,
		 practice, status, result, elapsed_seconds, overall_score, section_results, started_at, completed_at, created_at
		 FROM tests WHERE id = ?`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTest(row rowScanner) (model.TestSession, error) {
	var t model.TestSession
	var sections string
	var started, completed sql.NullTime
	err := row.Scan(&t.ID, &t.TemplateID, &t.CandidateID, &t.CandidateName, &t.ExaminerID, &t.ExaminerName,
		&t.Practice, &t.Status, &t.Result, &t.ElapsedSeconds, &t.OverallScore, &sections, &started, &completed, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return model.TestSession{}, engine.ErrNotFound
	}
	if err != nil {
		return model.TestSession{}, err
	}
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	if err := json.Unmarshal([]byte(sections), &t.Sections); err != nil {
		return model.TestSession{}, fmt.Errorf("unmarshal section results for test %s: %w", t.ID, err)
	}
	return t, nil
}

// ListTests returns all tests, newest first.
func (s *Store) ListTests() ([]model.TestSession, error) {
	rows, err := s.db.Query(
		`SELECT id, template_id, candidate_id, candidate_name, examiner_id, examiner_name,
		 practice, status, result, elapsed_seconds, overall_score, section_results, started_at, completed_at, created_at
		 FROM tests ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []model.TestSession
	for rows.Next() {
		t, err := s.scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// SetStatus updates only the session status.
func (s *Store) SetStatus(id string, status model.SessionStatus) error {
	res, err := s.db.Exec(`UPDATE tests SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return checkFound(res, id)
}

// SaveProgress persists the current section results and elapsed time.
func (s *Store) SaveProgress(id string, sections []model.SectionResult, elapsedSeconds int) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("marshal section results: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE tests SET section_results = ?, elapsed_seconds = ? WHERE id = ?`,
		string(data), elapsedSeconds, id,
	)
	if err != nil {
		return err
	}
	return checkFound(res, id)
}

// CompleteTest finalizes a test in one statement: status, result, score,
// results and completion time land together so the test is never observably
// completed with a missing or stale score.
func (s *Store) CompleteTest(id string, sections []model.SectionResult, elapsedSeconds int, result model.TestResult, score float64, at time.Time) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("marshal section results: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE tests SET status = ?, result = ?, overall_score = ?, section_results = ?, elapsed_seconds = ?, completed_at = ?
		 WHERE id = ?`,
		model.StatusCompleted, result, score, string(data), elapsedSeconds, at, id,
	)
	if err != nil {
		return err
	}
	return checkFound(res, id)
}

// DiscardTest removes a test permanently. There is no undo.
func (s *Store) DiscardTest(id string) error {
	res, err := s.db.Exec(`DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkFound(res, id)
}

func checkFound(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("test %s: %w", id, engine.ErrNotFound)
	}
	return nil
}
