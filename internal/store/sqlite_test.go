// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers session CRUD, question/answer persistence, soft deletes and batch reads

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a temporary SQLite store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	sess := &Session{UserID: "telegram:1", Name: "work", Factory: "openai", Model: "gpt-4o"}
	require.NoError(t, first.CreateSession(context.Background(), sess))
	require.NoError(t, first.Close())

	// Schema creation and migrations must be idempotent
	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "work", got.Name)
}

func TestSQLiteStore_Users(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &User{ID: "telegram:42", FirstName: "Ada", LastName: "L", FullName: "Ada L", LanguageCode: "en"}
	require.NoError(t, store.UpsertUser(ctx, u))

	u.FirstName = "Grace"
	u.LanguageCode = "zh-hans"
	require.NoError(t, store.UpsertUser(ctx, u))

	got, err := store.GetUser(ctx, "telegram:42")
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.FirstName)
	assert.Equal(t, "zh-hans", got.LanguageCode)
	assert.False(t, got.IsBan)

	_, err = store.GetUser(ctx, "telegram:404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SetUserBan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &User{ID: "telegram:7", FirstName: "Eve"}
	require.NoError(t, store.UpsertUser(ctx, u))
	require.NoError(t, store.SetUserBan(ctx, u.ID, true, "spam"))

	// profile refresh keeps the ban
	u.FirstName = "Eve2"
	require.NoError(t, store.UpsertUser(ctx, u))

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBan)
	assert.Equal(t, "spam", got.Remark)
	assert.Equal(t, "Eve2", got.FirstName)

	assert.ErrorIs(t, store.SetUserBan(ctx, "telegram:404", true, ""), ErrNotFound)
}

func TestSQLiteStore_CreateSession_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{UserID: "telegram:1", Name: "work", Factory: "openai", Model: "gpt-4o"}
	require.NoError(t, store.CreateSession(ctx, sess))
	assert.NotZero(t, sess.ID)

	dup := &Session{UserID: "telegram:1", Name: "work", Factory: "openai", Model: "gpt-4o-mini"}
	assert.ErrorIs(t, store.CreateSession(ctx, dup), ErrDuplicateSession)

	// Same name under another factory is allowed
	other := &Session{UserID: "telegram:1", Name: "work", Factory: "deepseek", Model: "deepseek-chat"}
	assert.NoError(t, store.CreateSession(ctx, other))
}

func TestSQLiteStore_ListSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "alpha_two", "gamma", "alphabet"} {
		require.NoError(t, store.CreateSession(ctx, &Session{UserID: "telegram:1", Name: name, Factory: "openai", Model: "gpt-4o"}))
	}
	require.NoError(t, store.CreateSession(ctx, &Session{UserID: "telegram:2", Name: "alpha", Factory: "openai", Model: "gpt-4o"}))

	filter := SessionFilter{UserID: "telegram:1", Factory: "openai", Search: "alpha", Limit: 2}
	page, err := store.ListSessions(ctx, filter)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "alphabet", page[0].Name)
	assert.Equal(t, "alpha_two", page[1].Name)

	filter.Offset = 2
	page, err = store.ListSessions(ctx, filter)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "alpha", page[0].Name)

	n, err := store.CountSessions(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	last, err := LastSession(ctx, store, SessionFilter{UserID: "telegram:1", Factory: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "alphabet", last.Name)

	_, err = LastSession(ctx, store, SessionFilter{UserID: "telegram:9"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_QuestionsAndAnswers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{UserID: "telegram:1", Name: "work", Factory: "openai", Model: "gpt-4o"}
	require.NoError(t, store.CreateSession(ctx, sess))

	q1 := &Question{SessionID: sess.ID, Content: "hello"}
	require.NoError(t, store.SaveQuestion(ctx, q1))
	q2 := &Question{SessionID: sess.ID, ParentID: q1.ID, Content: "and then?"}
	require.NoError(t, store.SaveQuestion(ctx, q2))
	assert.Greater(t, q2.ID, q1.ID)

	answers := []*Answer{
		{SessionID: sess.ID, QuestionID: q1.ID, Content: "hi"},
		{SessionID: sess.ID, QuestionID: q2.ID, Content: "then this"},
	}
	require.NoError(t, store.BatchSaveAnswers(ctx, answers))
	assert.NotZero(t, answers[0].ID)
	assert.NotZero(t, answers[1].ID)

	questions, err := store.BatchGetQuestionsInSessions(ctx, []int64{sess.ID})
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, q1.ID, questions[0].ID)
	assert.Equal(t, q1.ID, questions[1].ParentID)
	assert.Equal(t, ContentText, questions[1].Type)

	gotAnswers, err := store.BatchGetAnswersInSessions(ctx, []int64{sess.ID})
	require.NoError(t, err)
	require.Len(t, gotAnswers, 2)
	assert.Equal(t, "then this", gotAnswers[1].Content)

	empty, err := store.BatchGetQuestionsInSessions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStore_DeleteSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{UserID: "telegram:1", Name: "work", Factory: "openai", Model: "gpt-4o"}
	require.NoError(t, store.CreateSession(ctx, sess))
	q := &Question{SessionID: sess.ID, Content: "hello"}
	require.NoError(t, store.SaveQuestion(ctx, q))
	require.NoError(t, store.BatchSaveAnswers(ctx, []*Answer{{SessionID: sess.ID, QuestionID: q.ID, Content: "hi"}}))

	require.NoError(t, store.DeleteSession(ctx, sess.ID))

	_, err := store.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	questions, err := store.BatchGetQuestionsInSessions(ctx, []int64{sess.ID})
	require.NoError(t, err)
	assert.Empty(t, questions)

	assert.ErrorIs(t, store.DeleteSession(ctx, sess.ID), ErrNotFound)

	// A deleted name can be reused
	assert.NoError(t, store.CreateSession(ctx, &Session{UserID: "telegram:1", Name: "work", Factory: "openai", Model: "gpt-4o"}))
}
