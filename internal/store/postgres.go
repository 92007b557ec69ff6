// ABOUTME: PostgreSQL implementation of the Store interface using a pgx connection pool
// ABOUTME: Mirrors the SQLite schema with BIGSERIAL ids and TIMESTAMPTZ columns

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface on PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn, verifies the connection and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.MaxConns = 10

	// PgBouncer transaction pooling cannot hold prepared statements
	if cfg.ConnConfig.Port == 6543 && cfg.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("PostgreSQL store initialized", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			full_name     TEXT NOT NULL DEFAULT '',
			is_bot        BOOLEAN NOT NULL DEFAULT FALSE,
			language_code TEXT NOT NULL DEFAULT '',
			remark        TEXT NOT NULL DEFAULT '',
			is_ban        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			is_deleted    BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			factory    TEXT NOT NULL,
			model      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_factory_name
			ON sessions(user_id, factory, name) WHERE NOT is_deleted;

		CREATE TABLE IF NOT EXISTS questions (
			id         BIGSERIAL PRIMARY KEY,
			session_id BIGINT NOT NULL REFERENCES sessions(id),
			parent_id  BIGINT NOT NULL DEFAULT 0,
			type       SMALLINT NOT NULL DEFAULT 0,
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_questions_session ON questions(session_id);

		CREATE TABLE IF NOT EXISTS answers (
			id          BIGSERIAL PRIMARY KEY,
			session_id  BIGINT NOT NULL REFERENCES sessions(id),
			question_id BIGINT NOT NULL,
			type        SMALLINT NOT NULL DEFAULT 0,
			content     TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			is_deleted  BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TIMESTAMPTZ NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_id, ts);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL store")
	s.pool.Close()
	return nil
}

// UpsertUser creates the user or refreshes its profile fields.
func (s *PostgresStore) UpsertUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, first_name, last_name, full_name, is_bot, language_code, remark, is_ban, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			full_name = EXCLUDED.full_name,
			is_bot = EXCLUDED.is_bot,
			language_code = EXCLUDED.language_code,
			updated_at = EXCLUDED.updated_at,
			is_deleted = FALSE
	`, u.ID, u.FirstName, u.LastName, u.FullName, u.IsBot, u.LanguageCode, u.Remark, u.IsBan, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// SetUserBan bans or unbans a user.
func (s *PostgresStore) SetUserBan(ctx context.Context, id string, banned bool, remark string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_ban = $1, remark = $2, updated_at = $3 WHERE id = $4 AND NOT is_deleted`,
		banned, remark, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating user ban: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, full_name, is_bot, language_code, remark, is_ban, created_at, updated_at
		FROM users WHERE id = $1 AND NOT is_deleted
	`, id).Scan(&u.ID, &u.FirstName, &u.LastName, &u.FullName, &u.IsBot, &u.LanguageCode, &u.Remark, &u.IsBan, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// CreateSession inserts a session and sets its ID.
func (s *PostgresStore) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, name, factory, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, sess.UserID, sess.Name, sess.Factory, sess.Model, sess.CreatedAt, sess.UpdatedAt).Scan(&sess.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

const pgSessionColumns = `id, user_id, name, factory, model, created_at, updated_at`

// GetSession retrieves a session by ID.
func (s *PostgresStore) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSessionColumns+` FROM sessions WHERE id = $1 AND NOT is_deleted`, id)
	return scanPgSession(row)
}

// GetSessionByName retrieves a session by its user, factory and name.
func (s *PostgresStore) GetSessionByName(ctx context.Context, userID, factory, name string) (*Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND factory = $2 AND name = $3 AND NOT is_deleted`, userID, factory, name)
	return scanPgSession(row)
}

// ListSessions returns sessions matching the filter, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, f SessionFilter) ([]*Session, error) {
	where, args := pgSessionWhere(f)
	query := `SELECT ` + pgSessionColumns + ` FROM sessions WHERE ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanPgSession(rows)
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
func (s *PostgresStore) CountSessions(ctx context.Context, f SessionFilter) (int, error) {
	where, args := pgSessionWhere(f)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// DeleteSession soft-deletes a session together with its questions and answers.
func (s *PostgresStore) DeleteSession(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `UPDATE sessions SET is_deleted = TRUE, updated_at = $1 WHERE id = $2 AND NOT is_deleted`, now, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	for _, table := range []string{"questions", "answers"} {
		if _, err := tx.Exec(ctx, `UPDATE `+table+` SET is_deleted = TRUE, updated_at = $1 WHERE session_id = $2`, now, id); err != nil {
			return fmt.Errorf("deleting %s of session: %w", table, err)
		}
	}

	return tx.Commit(ctx)
}

// SaveQuestion inserts a question and sets its ID.
func (s *PostgresStore) SaveQuestion(ctx context.Context, q *Question) error {
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	err := s.pool.QueryRow(ctx, `
		INSERT INTO questions (session_id, parent_id, type, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, q.SessionID, q.ParentID, int16(q.Type), q.Content, q.CreatedAt, q.UpdatedAt).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("inserting question: %w", err)
	}
	return nil
}

// BatchSaveAnswers inserts answers in a single transaction and sets their IDs.
func (s *PostgresStore) BatchSaveAnswers(ctx context.Context, answers []*Answer) error {
	if len(answers) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, a := range answers {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.UpdatedAt = now

		err := tx.QueryRow(ctx, `
			INSERT INTO answers (session_id, question_id, type, content, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, a.SessionID, a.QuestionID, int16(a.Type), a.Content, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
		if err != nil {
			return fmt.Errorf("inserting answer for question %d: %w", a.QuestionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing answers: %w", err)
	}
	return nil
}

// BatchGetQuestionsInSessions returns live questions of the given sessions in ascending id order.
func (s *PostgresStore) BatchGetQuestionsInSessions(ctx context.Context, sessionIDs []int64) ([]*Question, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, parent_id, type, content, created_at, updated_at
		FROM questions
		WHERE session_id = ANY($1) AND NOT is_deleted
		ORDER BY id ASC
	`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	var questions []*Question
	for rows.Next() {
		var q Question
		var typ int16
		if err := rows.Scan(&q.ID, &q.SessionID, &q.ParentID, &typ, &q.Content, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		q.Type = ContentType(typ)
		questions = append(questions, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating questions: %w", err)
	}
	return questions, nil
}

// BatchGetAnswersInSessions returns live answers of the given sessions in ascending id order.
func (s *PostgresStore) BatchGetAnswersInSessions(ctx context.Context, sessionIDs []int64) ([]*Answer, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, question_id, type, content, created_at, updated_at
		FROM answers
		WHERE session_id = ANY($1) AND NOT is_deleted
		ORDER BY id ASC
	`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("querying answers: %w", err)
	}
	defer rows.Close()

	var answers []*Answer
	for rows.Next() {
		var a Answer
		var typ int16
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &typ, &a.Content, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning answer: %w", err)
		}
		a.Type = ContentType(typ)
		answers = append(answers, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating answers: %w", err)
	}
	return answers, nil
}

func scanPgSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Name, &sess.Factory, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}

// pgSessionWhere numbers its placeholders from $1
func pgSessionWhere(f SessionFilter) (string, []any) {
	clauses := []string{"NOT is_deleted"}
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, strings.ReplaceAll(clause, "$?", "$"+strconv.Itoa(len(args))))
	}
	if f.UserID != "" {
		add("user_id = $?", f.UserID)
	}
	if f.Factory != "" {
		add("factory = $?", f.Factory)
	}
	if f.Model != "" {
		add("model = $?", f.Model)
	}
	if f.Search != "" {
		add("name LIKE $?", "%"+f.Search+"%")
	}
	return strings.Join(clauses, " AND "), args
}

var _ Store = (*PostgresStore)(nil)
