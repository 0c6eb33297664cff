package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageReadWrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "tasks/1/description.json", []byte(`{"id":1}`)))

	data, err := s.Read(ctx, "tasks/1/description.json")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(data))

	_, err = s.Read(ctx, "tasks/2/description.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStorageWriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStorage(dir)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "a/file.json", []byte("one")))
	require.NoError(t, s.Write(ctx, "a/file.json", []byte("two")))

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "the temp file never survives the rename")
	assert.Equal(t, "file.json", entries[0].Name())

	data, err := s.Read(ctx, "a/file.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestLocalStorageListAndListDirs(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "tasks/1/description.json", []byte("{}")))
	require.NoError(t, s.Write(ctx, "tasks/2/description.json", []byte("{}")))
	require.NoError(t, s.Write(ctx, "tasks/readme.txt", []byte("x")))

	dirs, err := s.ListDirs(ctx, "tasks")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, dirs)

	files, err := s.List(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks/readme.txt"}, files, "List skips directories")

	// Missing prefixes list as empty, not as errors.
	dirs, err = s.ListDirs(ctx, "nowhere")
	require.NoError(t, err)
	assert.Empty(t, dirs)
	files, err = s.List(ctx, "nowhere")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalStorageDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "tasks/1/description.json", []byte("{}")))
	require.NoError(t, s.Write(ctx, "tasks/1/iterations/1/status.json", []byte("{}")))

	err = s.Delete(ctx, "tasks/1/missing.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.DeleteAll(ctx, "tasks/1"))
	exists, err := s.Exists(ctx, "tasks/1/description.json")
	require.NoError(t, err)
	assert.False(t, exists)

	// DeleteAll on a missing prefix is idempotent.
	require.NoError(t, s.DeleteAll(ctx, "tasks/1"))
}

func TestLocalStorageConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = s.Write(ctx, "shared.json", []byte(`{"full":"document"}`))
			}
		}()
	}
	wg.Wait()

	data, err := s.Read(ctx, "shared.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"full":"document"}`, string(data), "readers never observe a torn write")
}
