// Package store provides persistent storage for the relay.
//
// # Architecture
//
// Two interfaces split the surface:
//
//   - HistoryStore: the four calls the conversation core makes (SaveQuestion,
//     BatchSaveAnswers, BatchGetQuestionsInSessions, BatchGetAnswersInSessions)
//   - Store: HistoryStore plus user and session management used by the bot router,
//     and the AuditLog of ban and unban actions
//
// SQLiteStore (modernc.org/sqlite) and PostgresStore (pgx pool) implement Store.
// MockStore is an in-memory implementation for tests.
//
// # Data Models
//
// A User owns Sessions. A Session is bound to one model factory and model and
// holds Questions. A Question points at the question it follows up on through
// ParentID (0 for a root). Each Answer belongs to one Question.
//
// The audit_log table is append-only and keyed by uuid.
//
// All deletes are soft: every table carries is_deleted and reads skip deleted rows.
//
// # Timestamps
//
// SQLite stores times as RFC 3339 strings in UTC. PostgreSQL uses TIMESTAMPTZ.
package store
