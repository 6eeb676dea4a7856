package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedOnDisk(t *testing.T, s *Store, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(TrackedFile{
		Name:     name,
		Path:     path,
		Size:     info.Size(),
		Modified: float64(info.ModTime().Unix()),
	}))
	return path
}

func TestWatcher_FlagsMissingFile(t *testing.T) {
	s := testStore(t)
	bus := NewEventBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	w, err := NewWatcher(s, bus)
	require.NoError(t, err)
	defer w.Close()

	path := trackedOnDisk(t, s, "gone.txt", "data")
	require.NoError(t, os.Remove(path))

	w.evaluate(path)

	rec, err := s.Get("gone.txt")
	require.NoError(t, err)
	assert.Equal(t, FlagMissing, rec.Flag)

	select {
	case ev := <-events:
		assert.Equal(t, EventFileFlagged, ev.Type)
		assert.Equal(t, "gone.txt", ev.Name)
		assert.Equal(t, FlagMissing, ev.Flag)
	case <-time.After(time.Second):
		t.Fatal("no flag event published")
	}
}

func TestWatcher_FlagsChangedFile(t *testing.T) {
	s := testStore(t)
	w, err := NewWatcher(s, nil)
	require.NoError(t, err)
	defer w.Close()

	path := trackedOnDisk(t, s, "edited.txt", "v1")
	require.NoError(t, os.WriteFile(path, []byte("version two, longer"), 0644))

	w.evaluate(path)

	rec, err := s.Get("edited.txt")
	require.NoError(t, err)
	assert.Equal(t, FlagChanged, rec.Flag)
}

func TestWatcher_UnchangedFileStaysClean(t *testing.T) {
	s := testStore(t)
	w, err := NewWatcher(s, nil)
	require.NoError(t, err)
	defer w.Close()

	path := trackedOnDisk(t, s, "same.txt", "stable")
	w.evaluate(path)

	rec, err := s.Get("same.txt")
	require.NoError(t, err)
	assert.Empty(t, rec.Flag)
}

func TestWatcher_UntrackedPathIgnored(t *testing.T) {
	s := testStore(t)
	w, err := NewWatcher(s, nil)
	require.NoError(t, err)
	defer w.Close()

	// Must not panic or create rows for files the store does not know.
	w.evaluate(filepath.Join(t.TempDir(), "random.txt"))

	files, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}
