// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on duplicate detection, ordering and failure injection

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_CreateSession_Duplicate(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, &Session{UserID: "u", Name: "n", Factory: "openai"}))
	err := store.CreateSession(ctx, &Session{UserID: "u", Name: "n", Factory: "openai"})
	assert.ErrorIs(t, err, ErrDuplicateSession)
}

func TestMockStore_BatchReadsAscending(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	sess := &Session{UserID: "u", Name: "n", Factory: "openai"}
	require.NoError(t, store.CreateSession(ctx, sess))
	for _, content := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveQuestion(ctx, &Question{SessionID: sess.ID, Content: content}))
	}

	questions, err := store.BatchGetQuestionsInSessions(ctx, []int64{sess.ID})
	require.NoError(t, err)
	require.Len(t, questions, 3)
	for i := 1; i < len(questions); i++ {
		assert.Less(t, questions[i-1].ID, questions[i].ID)
	}
}

func TestMockStore_SaveAnswersErr(t *testing.T) {
	store := NewMockStore()
	store.SaveAnswersErr = errors.New("disk full")

	err := store.BatchSaveAnswers(context.Background(), []*Answer{{SessionID: 1, QuestionID: 1}})
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, store.AnswerSaves())

	answers, err := store.BatchGetAnswersInSessions(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestMockStore_ListSessionsPaging(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, store.CreateSession(ctx, &Session{UserID: "u", Name: name, Factory: "openai"}))
	}

	page, err := store.ListSessions(ctx, SessionFilter{UserID: "u", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Name)
	assert.Equal(t, "one", page[1].Name)

	page, err = store.ListSessions(ctx, SessionFilter{UserID: "u", Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)
}
