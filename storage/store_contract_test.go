package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afom12/Taskflow/domain"
)

func newTestBoard(owner string, members ...string) domain.Board {
	now := time.Now().UTC().Truncate(time.Millisecond)
	b := domain.NewBoard(uuid.NewString(), owner, "Roadmap", "", now)
	b.MemberIDs = append([]string{}, members...)
	b.Columns[0].Cards = []domain.Card{{ID: "c1", Title: "first", Checklist: []domain.ChecklistItem{}}}
	return b
}

// runStoreContract exercises the behaviour every BoardStore must share.
func runStoreContract(t *testing.T, store BoardStore) {
	ctx := context.Background()

	t.Run("createAndLoad", func(t *testing.T) {
		b := newTestBoard("owner-1", "member-1")
		created, err := store.CreateBoard(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)

		loaded, err := store.LoadBoard(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.Title, loaded.Title)
		assert.Equal(t, []string{"member-1"}, loaded.MemberIDs)
		require.Len(t, loaded.Columns, 3)
		assert.Equal(t, "first", loaded.Columns[0].Cards[0].Title)

		_, err = store.CreateBoard(ctx, b)
		assert.True(t, errors.Is(err, ErrBoardExists), "got %v", err)
	})

	t.Run("loadMissing", func(t *testing.T) {
		_, err := store.LoadBoard(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, domain.ErrBoardNotFound), "got %v", err)
	})

	t.Run("replaceBumpsVersion", func(t *testing.T) {
		b, err := store.CreateBoard(ctx, newTestBoard("owner-2"))
		require.NoError(t, err)

		b.Title = "Renamed"
		saved, err := store.ReplaceBoard(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		loaded, err := store.LoadBoard(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", loaded.Title)
		assert.Equal(t, int64(2), loaded.Version)
	})

	t.Run("staleReplaceConflicts", func(t *testing.T) {
		b, err := store.CreateBoard(ctx, newTestBoard("owner-3"))
		require.NoError(t, err)

		first := b.Clone()
		first.Title = "first writer"
		_, err = store.ReplaceBoard(ctx, first)
		require.NoError(t, err)

		second := b.Clone()
		second.Title = "second writer"
		_, err = store.ReplaceBoard(ctx, second)
		assert.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)

		loaded, err := store.LoadBoard(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "first writer", loaded.Title)
	})

	t.Run("concurrentReplaceSingleWinner", func(t *testing.T) {
		b, err := store.CreateBoard(ctx, newTestBoard("owner-4"))
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.ReplaceBoard(ctx, b.Clone())
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("replaceMissing", func(t *testing.T) {
		_, err := store.ReplaceBoard(ctx, newTestBoard("owner-5"))
		assert.True(t, errors.Is(err, domain.ErrBoardNotFound), "got %v", err)
	})

	t.Run("listByAccess", func(t *testing.T) {
		user := "lister-" + uuid.NewString()
		owned, err := store.CreateBoard(ctx, newTestBoard(user))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		shared := newTestBoard("someone-else", user)
		shared.UpdatedAt = time.Now().UTC().Add(time.Second).Truncate(time.Millisecond)
		_, err = store.CreateBoard(ctx, shared)
		require.NoError(t, err)
		_, err = store.CreateBoard(ctx, newTestBoard("someone-else"))
		require.NoError(t, err)

		boards, err := store.ListBoards(ctx, user)
		require.NoError(t, err)
		require.Len(t, boards, 2)
		assert.Equal(t, shared.ID, boards[0].ID)
		assert.Equal(t, owned.ID, boards[1].ID)
	})

	t.Run("delete", func(t *testing.T) {
		b, err := store.CreateBoard(ctx, newTestBoard("owner-6"))
		require.NoError(t, err)
		require.NoError(t, store.DeleteBoard(ctx, b.ID))
		_, err = store.LoadBoard(ctx, b.ID)
		assert.True(t, errors.Is(err, domain.ErrBoardNotFound))
		assert.True(t, errors.Is(store.DeleteBoard(ctx, b.ID), domain.ErrBoardNotFound))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	b, err := store.CreateBoard(ctx, newTestBoard("owner"))
	require.NoError(t, err)

	loaded, err := store.LoadBoard(ctx, b.ID)
	require.NoError(t, err)
	loaded.Columns[0].Cards[0].Title = "mutated"

	again, err := store.LoadBoard(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", again.Columns[0].Cards[0].Title)
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenBadger("")
	require.NoError(t, err)
	defer store.Close()
	runStoreContract(t, store)
}

func TestBadgerStorePersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBadger(dir)
	require.NoError(t, err)
	b, err := store.CreateBoard(context.Background(), newTestBoard("owner"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenBadger(dir)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.LoadBoard(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Title, loaded.Title)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	require.NoError(t, store.EnsureSchema(ctx))
	runStoreContract(t, store)
}

func TestTableStore(t *testing.T) {
	conn := os.Getenv("TEST_STORAGE_CONNECTION_STRING")
	if conn == "" {
		t.Skip("TEST_STORAGE_CONNECTION_STRING not set")
	}
	store, err := NewTableStore(conn, "boardstest")
	require.NoError(t, err)
	require.NoError(t, store.EnsureTable(context.Background()))
	runStoreContract(t, store)
}

func TestWrapKeepsDomainErrors(t *testing.T) {
	assert.Nil(t, wrap("load", nil))
	assert.Equal(t, domain.ErrBoardNotFound, wrap("load", domain.ErrBoardNotFound))
	assert.Equal(t, domain.ErrVersionConflict, wrap("replace", domain.ErrVersionConflict))

	var perr *domain.PersistenceError
	require.True(t, errors.As(wrap("load", errors.New("socket closed")), &perr))
	assert.Equal(t, "load", perr.Op)
}
