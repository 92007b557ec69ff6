// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists users, sessions, questions and answers with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between the stream goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			full_name     TEXT NOT NULL DEFAULT '',
			is_bot        INTEGER NOT NULL DEFAULT 0,
			language_code TEXT NOT NULL DEFAULT '',
			remark        TEXT NOT NULL DEFAULT '',
			is_ban        INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			is_deleted    INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			factory    TEXT NOT NULL,
			model      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_factory_name
			ON sessions(user_id, factory, name) WHERE is_deleted = 0;

		CREATE TABLE IF NOT EXISTS questions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			parent_id  INTEGER NOT NULL DEFAULT 0,
			type       INTEGER NOT NULL DEFAULT 0,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_questions_session ON questions(session_id);

		CREATE TABLE IF NOT EXISTS answers (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  INTEGER NOT NULL,
			question_id INTEGER NOT NULL,
			type        INTEGER NOT NULL DEFAULT 0,
			content     TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			is_deleted  INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id);
		CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_id, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies column additions for databases created by older builds
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "questions",
			column: "parent_id",
			apply:  `ALTER TABLE questions ADD COLUMN parent_id INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "users",
			column: "remark",
			apply:  `ALTER TABLE users ADD COLUMN remark TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertUser creates the user or refreshes its profile fields.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	query := `
		INSERT INTO users (id, first_name, last_name, full_name, is_bot, language_code, remark, is_ban, created_at, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			full_name = excluded.full_name,
			is_bot = excluded.is_bot,
			language_code = excluded.language_code,
			updated_at = excluded.updated_at,
			is_deleted = 0
	`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.FirstName, u.LastName, u.FullName, u.IsBot, u.LanguageCode, u.Remark, u.IsBan,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// SetUserBan bans or unbans a user.
func (s *SQLiteStore) SetUserBan(ctx context.Context, id string, banned bool, remark string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_ban = ?, remark = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
		banned, remark, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("updating user ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, first_name, last_name, full_name, is_bot, language_code, remark, is_ban, created_at, updated_at
		FROM users
		WHERE id = ? AND is_deleted = 0
	`

	var u User
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.FullName, &u.IsBot, &u.LanguageCode, &u.Remark, &u.IsBan,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateSession inserts a new session and sets its ID.
// Returns ErrDuplicateSession if the user already has a live session with that name.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	query := `
		INSERT INTO sessions (user_id, name, factory, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		sess.UserID, sess.Name, sess.Factory, sess.Model,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading session id: %w", err)
	}
	sess.ID = id
	return nil
}

const sessionColumns = `id, user_id, name, factory, model, created_at, updated_at`

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id int64) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ? AND is_deleted = 0`
	return s.scanSession(s.db.QueryRowContext(ctx, query, id))
}

// GetSessionByName retrieves a session by its user, factory and name.
// Returns ErrNotFound if no live session matches.
func (s *SQLiteStore) GetSessionByName(ctx context.Context, userID, factory, name string) (*Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = ? AND factory = ? AND name = ? AND is_deleted = 0`
	return s.scanSession(s.db.QueryRowContext(ctx, query, userID, factory, name))
}

// ListSessions returns sessions matching the filter, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, f SessionFilter) ([]*Session, error) {
	where, args := sessionWhere(f)
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// CountSessions counts sessions matching the filter, ignoring Limit and Offset.
func (s *SQLiteStore) CountSessions(ctx context.Context, f SessionFilter) (int, error) {
	where, args := sessionWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// DeleteSession soft-deletes a session together with its questions and answers.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now().UTC())
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`, now, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	for _, table := range []string{"questions", "answers"} {
		if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET is_deleted = 1, updated_at = ? WHERE session_id = ?`, now, id); err != nil {
			return fmt.Errorf("deleting %s of session: %w", table, err)
		}
	}

	return tx.Commit()
}

// SaveQuestion inserts a question and sets its ID.
func (s *SQLiteStore) SaveQuestion(ctx context.Context, q *Question) error {
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	query := `
		INSERT INTO questions (session_id, parent_id, type, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		q.SessionID, q.ParentID, int(q.Type), q.Content,
		formatTime(q.CreatedAt), formatTime(q.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting question: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading question id: %w", err)
	}
	q.ID = id
	return nil
}

// BatchSaveAnswers inserts answers in a single transaction and sets their IDs.
func (s *SQLiteStore) BatchSaveAnswers(ctx context.Context, answers []*Answer) error {
	if len(answers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO answers (session_id, question_id, type, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing answer insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, a := range answers {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.UpdatedAt = now

		res, err := stmt.ExecContext(ctx,
			a.SessionID, a.QuestionID, int(a.Type), a.Content,
			formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting answer for question %d: %w", a.QuestionID, err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading answer id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing answers: %w", err)
	}
	return nil
}

// BatchGetQuestionsInSessions returns live questions of the given sessions in ascending id order.
func (s *SQLiteStore) BatchGetQuestionsInSessions(ctx context.Context, sessionIDs []int64) ([]*Question, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, session_id, parent_id, type, content, created_at, updated_at
		FROM questions
		WHERE session_id IN (` + placeholders(len(sessionIDs)) + `) AND is_deleted = 0
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, int64Args(sessionIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	var questions []*Question
	for rows.Next() {
		var q Question
		var typ int
		var createdAt, updatedAt string
		if err := rows.Scan(&q.ID, &q.SessionID, &q.ParentID, &typ, &q.Content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		q.Type = ContentType(typ)
		if q.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if q.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating questions: %w", err)
	}
	return questions, nil
}

// BatchGetAnswersInSessions returns live answers of the given sessions in ascending id order.
func (s *SQLiteStore) BatchGetAnswersInSessions(ctx context.Context, sessionIDs []int64) ([]*Answer, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, session_id, question_id, type, content, created_at, updated_at
		FROM answers
		WHERE session_id IN (` + placeholders(len(sessionIDs)) + `) AND is_deleted = 0
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, int64Args(sessionIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying answers: %w", err)
	}
	defer rows.Close()

	var answers []*Answer
	for rows.Next() {
		var a Answer
		var typ int
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &typ, &a.Content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		a.Type = ContentType(typ)
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating answers: %w", err)
	}
	return answers, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Name, &sess.Factory, &sess.Model, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// sessionWhere builds the shared WHERE clause for session listing and counting
func sessionWhere(f SessionFilter) (string, []any) {
	clauses := []string{"is_deleted = 0"}
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Factory != "" {
		clauses = append(clauses, "factory = ?")
		args = append(args, f.Factory)
	}
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if f.Search != "" {
		clauses = append(clauses, "name LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
