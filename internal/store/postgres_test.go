// ABOUTME: Integration tests for PostgresStore, run only when RELAY_TEST_POSTGRES_DSN is set
// ABOUTME: Exercises the same session and history paths as the SQLite tests

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("RELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RELAY_TEST_POSTGRES_DSN not set")
	}

	store, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestPostgresStore_History(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	userID := fmt.Sprintf("test:%d", time.Now().UnixNano())

	sess := &Session{UserID: userID, Name: "work", Factory: "openai", Model: "gpt-4o"}
	require.NoError(t, store.CreateSession(ctx, sess))
	assert.ErrorIs(t, store.CreateSession(ctx, &Session{UserID: userID, Name: "work", Factory: "openai", Model: "x"}), ErrDuplicateSession)

	q1 := &Question{SessionID: sess.ID, Content: "hello"}
	require.NoError(t, store.SaveQuestion(ctx, q1))
	q2 := &Question{SessionID: sess.ID, ParentID: q1.ID, Content: "more"}
	require.NoError(t, store.SaveQuestion(ctx, q2))
	require.NoError(t, store.BatchSaveAnswers(ctx, []*Answer{
		{SessionID: sess.ID, QuestionID: q1.ID, Content: "hi"},
		{SessionID: sess.ID, QuestionID: q2.ID, Content: "sure"},
	}))

	questions, err := store.BatchGetQuestionsInSessions(ctx, []int64{sess.ID})
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, q1.ID, questions[1].ParentID)

	answers, err := store.BatchGetAnswersInSessions(ctx, []int64{sess.ID})
	require.NoError(t, err)
	assert.Len(t, answers, 2)

	n, err := store.CountSessions(ctx, SessionFilter{UserID: userID, Search: "wor"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.DeleteSession(ctx, sess.ID))
	_, err = store.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
