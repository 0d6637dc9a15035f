package migrate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestInsertThenTryTake(t *testing.T) {
	r, err := New(time.Minute, []byte("master-secret"))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Insert("key-a", []byte("payload")))

	got, err := r.TryTake("key-a")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	_, err = r.TryTake("key-a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTryTakeUnknownKey(t *testing.T) {
	r, err := New(time.Minute, []byte("master-secret"))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.TryTake("never-inserted")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	r, err := New(20*time.Millisecond, []byte("master-secret"))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Insert("key-b", []byte("value")))
	time.Sleep(50 * time.Millisecond)

	_, err = r.TryTake("key-b")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCleanEvictsExpiredEntries(t *testing.T) {
	r, err := New(10*time.Millisecond, []byte("master-secret"))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Insert("key-c", []byte("value")))
	time.Sleep(30 * time.Millisecond)
	r.Clean()

	r.mu.Lock()
	_, present := r.entries["key-c"]
	r.mu.Unlock()
	require.False(t, present)
}

func TestTakeBlocksUntilInsert(t *testing.T) {
	r, err := New(time.Minute, []byte("master-secret"))
	require.NoError(t, err)
	defer r.Close()

	result := make(chan []byte, 1)
	go func() {
		v, err := r.Take(context.Background(), "key-d")
		require.NoError(t, err)
		result <- v
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Insert("key-d", []byte("late arrival")))

	select {
	case v := <-result:
		require.Equal(t, []byte("late arrival"), v)
	case <-time.After(time.Second):
		t.Fatal("Take did not return after Insert")
	}
}

func TestTakeWithTimeoutExpires(t *testing.T) {
	r, err := New(time.Minute, []byte("master-secret"))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.TakeWithTimeout("never-arrives", 30*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseReleasesWaiters(t *testing.T) {
	r, err := New(time.Minute, []byte("master-secret"))
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := r.Take(context.Background(), "key-e")
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Take did not return after Close")
	}
}

func TestDurableStoreSurvivesTryTakeAfterRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)

	r, err := New(time.Minute, []byte("master-secret"), WithDurableStore(db, "migrate"))
	require.NoError(t, err)
	require.NoError(t, r.Insert("key-f", []byte("durable payload")))
	require.NoError(t, db.Close())

	db2, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	defer db2.Close()

	r2, err := New(time.Minute, []byte("master-secret"), WithDurableStore(db2, "migrate"))
	require.NoError(t, err)
	defer r2.Close()

	got, err := r2.TryTake("key-f")
	require.NoError(t, err)
	require.Equal(t, []byte("durable payload"), got)
}
