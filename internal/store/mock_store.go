// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and counts answer saves

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	users      map[string]*User
	sessions   map[int64]*Session
	questions  map[int64]*Question
	answers    map[int64]*Answer
	audit      []AuditEntry
	nextID     int64
	answerSave int

	// SaveAnswersErr, when set, is returned by BatchSaveAnswers
	SaveAnswersErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:     make(map[string]*User),
		sessions:  make(map[int64]*Session),
		questions: make(map[int64]*Question),
		answers:   make(map[int64]*Answer),
	}
}

func (m *MockStore) allocID() int64 {
	m.nextID++
	return m.nextID
}

// AnswerSaves reports how many times BatchSaveAnswers was called.
func (m *MockStore) AnswerSaves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.answerSave
}

// UpsertUser stores a copy of the user.
func (m *MockStore) UpsertUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.users[u.ID]; ok {
		// ban state and remark are admin-owned
		u.CreatedAt = existing.CreatedAt
		u.IsBan = existing.IsBan
		u.Remark = existing.Remark
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// SetUserBan sets the ban flag and remark.
func (m *MockStore) SetUserBan(ctx context.Context, id string, banned bool, remark string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsBan = banned
	u.Remark = remark
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// GetUser returns a copy of the user.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateSession stores a session and assigns its ID.
func (m *MockStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.UserID == s.UserID && existing.Factory == s.Factory && existing.Name == s.Name {
			return ErrDuplicateSession
		}
	}

	s.ID = m.allocID()
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// GetSession returns a copy of the session.
func (m *MockStore) GetSession(ctx context.Context, id int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// GetSessionByName finds a session by user, factory and name.
func (m *MockStore) GetSessionByName(ctx context.Context, userID, factory, name string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.UserID == userID && s.Factory == factory && s.Name == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) matchSessions(f SessionFilter) []*Session {
	var out []*Session
	for _, s := range m.sessions {
		if f.UserID != "" && s.UserID != f.UserID {
			continue
		}
		if f.Factory != "" && s.Factory != f.Factory {
			continue
		}
		if f.Model != "" && s.Model != f.Model {
			continue
		}
		if f.Search != "" && !strings.Contains(s.Name, f.Search) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// ListSessions returns matching sessions, newest first.
func (m *MockStore) ListSessions(ctx context.Context, f SessionFilter) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.matchSessions(f)
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountSessions counts matching sessions.
func (m *MockStore) CountSessions(ctx context.Context, f SessionFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matchSessions(f)), nil
}

// DeleteSession removes the session with its questions and answers.
func (m *MockStore) DeleteSession(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	for qid, q := range m.questions {
		if q.SessionID == id {
			delete(m.questions, qid)
		}
	}
	for aid, a := range m.answers {
		if a.SessionID == id {
			delete(m.answers, aid)
		}
	}
	return nil
}

// SaveQuestion stores a question and assigns its ID.
func (m *MockStore) SaveQuestion(ctx context.Context, q *Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q.ID = m.allocID()
	now := time.Now().UTC()
	q.CreatedAt, q.UpdatedAt = now, now
	cp := *q
	m.questions[q.ID] = &cp
	return nil
}

// BatchSaveAnswers stores answers and assigns their IDs.
func (m *MockStore) BatchSaveAnswers(ctx context.Context, answers []*Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.answerSave++
	if m.SaveAnswersErr != nil {
		return m.SaveAnswersErr
	}

	now := time.Now().UTC()
	for _, a := range answers {
		a.ID = m.allocID()
		a.CreatedAt, a.UpdatedAt = now, now
		cp := *a
		m.answers[a.ID] = &cp
	}
	return nil
}

// BatchGetQuestionsInSessions returns questions of the sessions in ascending id order.
func (m *MockStore) BatchGetQuestionsInSessions(ctx context.Context, sessionIDs []int64) ([]*Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := idSet(sessionIDs)
	var out []*Question
	for _, q := range m.questions {
		if wanted[q.SessionID] {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BatchGetAnswersInSessions returns answers of the sessions in ascending id order.
func (m *MockStore) BatchGetAnswersInSessions(ctx context.Context, sessionIDs []int64) ([]*Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := idSet(sessionIDs)
	var out []*Answer
	for _, a := range m.answers {
		if wanted[a.SessionID] {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)

// AppendAuditLog records a copy of the entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if _, err := prepareAuditEntry(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeAuditLimit(f.Limit)
	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		e := m.audit[i]
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
