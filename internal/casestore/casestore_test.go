package casestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndGet(t *testing.T) {
	store := openTestStore(t)

	id, err := store.Save(Case{
		Query:     "summarize this report and analyze sentiment",
		Subtasks:  MarshalField([]map[string]string{{"capability_needed": "text_summarization_v1.0"}}),
		Results:   MarshalField([]string{"ok"}),
		Response:  "The report is positive overall.",
		Succeeded: true,
		ElapsedMS: 1250,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "summarize this report and analyze sentiment", got.Query)
	assert.True(t, got.Succeeded)
	assert.Equal(t, int64(1250), got.ElapsedMS)
	assert.Contains(t, got.Subtasks, "text_summarization_v1.0")
	assert.False(t, got.CreatedAt.IsZero(), "CreatedAt not populated")
}

func TestStore_GetMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecentOrderAndLimit(t *testing.T) {
	store := openTestStore(t)

	for _, query := range []string{"first", "second", "third"} {
		_, err := store.Save(Case{Query: query, Succeeded: true})
		require.NoError(t, err)
	}

	recent, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Query, "newest first")
	assert.Equal(t, "second", recent[1].Query)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.db")

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Save(Case{Query: "persisted"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	cases, err := reopened.Recent(1)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "persisted", cases[0].Query)
}
