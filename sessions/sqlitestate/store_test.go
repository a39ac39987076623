package sqlitestate_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jrsteele09/notifica/sessions/sqlitestate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := sqlitestate.Open(path)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v1"))
	require.NoError(t, store.Set(ctx, "k", "v2"))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", v)

	current, err := store.SetIfAbsent(ctx, "k", "v3")
	require.NoError(t, err)
	require.Equal(t, "v2", current)

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))
	current, err = store.SetIfAbsent(ctx, "k", "v4")
	require.NoError(t, err)
	require.Equal(t, "v4", current)
	require.NoError(t, store.Close())

	t.Run("values survive reopening", func(t *testing.T) {
		reopened, err := sqlitestate.Open(path)
		require.NoError(t, err)
		defer reopened.Close()

		v, ok, err := reopened.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "v4", v)
	})
}

func TestSetIfAbsentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestate.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	const writers = 8
	results := make([]string, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := store.SetIfAbsent(ctx, "marker", string(rune('a'+i)))
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, results[0], r)
	}
}
