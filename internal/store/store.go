// ABOUTME: Store interface and data types for coven-relay persistence
// ABOUTME: Defines User, Session, Question, Answer rows and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when a user already has a session with the same name for a factory
var ErrDuplicateSession = errors.New("session already exists")

// ContentType identifies the payload kind of a question or answer
type ContentType int

const (
	ContentText  ContentType = 0
	ContentImage ContentType = 1
)

// User is a frontend user. ID is namespaced by frontend ("telegram:42", "matrix:@bob:example.org").
type User struct {
	ID           string
	FirstName    string
	LastName     string
	FullName     string
	IsBot        bool
	LanguageCode string
	Remark       string
	IsBan        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is a named conversation bound to one model factory and model
type Session struct {
	ID        int64
	UserID    string
	Name      string
	Factory   string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Question is one user prompt. ParentID is the question it follows up on, 0 for a root.
type Question struct {
	ID        int64
	SessionID int64
	ParentID  int64
	Type      ContentType
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Answer is the assistant reply to a question
type Answer struct {
	ID         int64
	SessionID  int64
	QuestionID int64
	Type       ContentType
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionFilter narrows ListSessions and CountSessions.
// Empty fields match everything; Search is a substring match on the name.
type SessionFilter struct {
	UserID  string
	Factory string
	Model   string
	Search  string
	Limit   int
	Offset  int
}

// HistoryStore is the read/write surface the conversation core needs
type HistoryStore interface {
	// SaveQuestion inserts q and sets q.ID.
	SaveQuestion(ctx context.Context, q *Question) error

	// BatchSaveAnswers inserts all answers in one transaction and sets their IDs.
	BatchSaveAnswers(ctx context.Context, answers []*Answer) error

	// BatchGetQuestionsInSessions returns live questions of the sessions in ascending id order.
	BatchGetQuestionsInSessions(ctx context.Context, sessionIDs []int64) ([]*Question, error)

	// BatchGetAnswersInSessions returns live answers of the sessions in ascending id order.
	BatchGetAnswersInSessions(ctx context.Context, sessionIDs []int64) ([]*Answer, error)
}

// Store defines the interface for relay persistence
type Store interface {
	HistoryStore
	AuditLog

	// UpsertUser creates the user or refreshes its profile fields
	UpsertUser(ctx context.Context, u *User) error

	// GetUser returns ErrNotFound for unknown or deleted users
	GetUser(ctx context.Context, id string) (*User, error)

	// SetUserBan sets the ban flag and remark, ErrNotFound for unknown users
	SetUserBan(ctx context.Context, id string, banned bool, remark string) error

	// CreateSession returns ErrDuplicateSession when the name is taken
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns ErrNotFound for unknown or deleted sessions
	GetSession(ctx context.Context, id int64) (*Session, error)

	// GetSessionByName looks a session up by its user, factory and name
	GetSessionByName(ctx context.Context, userID, factory, name string) (*Session, error)

	// ListSessions returns matching sessions, newest first
	ListSessions(ctx context.Context, f SessionFilter) ([]*Session, error)

	// CountSessions counts matching sessions, ignoring Limit and Offset
	CountSessions(ctx context.Context, f SessionFilter) (int, error)

	// DeleteSession soft-deletes a session and its questions and answers
	DeleteSession(ctx context.Context, id int64) error

	// Close releases database resources
	Close() error
}

// LastSession returns the newest session matching f, or ErrNotFound.
func LastSession(ctx context.Context, s Store, f SessionFilter) (*Session, error) {
	f.Limit = 1
	f.Offset = 0
	sessions, err := s.ListSessions(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	return sessions[0], nil
}
