package coordinator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := openDBAt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestStore_UpsertGet(t *testing.T) {
	s := testStore(t)

	f := TrackedFile{Name: "a.txt", Path: "/home/u/a.txt", Size: 100, Created: 1000, Modified: 1000, AddedAt: 2000}
	require.NoError(t, s.Upsert(f))

	got, err := s.Get("a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/home/u/a.txt", got.Path)
	assert.Equal(t, int64(100), got.Size)
	assert.False(t, got.IsPublished)
	assert.Nil(t, got.PublishedAt)

	missing, err := s.Get("nope.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_UpsertReplacesAndClearsFlag(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Upsert(TrackedFile{Name: "a.txt", Path: "/p/a.txt", Size: 100}))
	require.NoError(t, s.SetFlag("a.txt", FlagChanged))

	// Re-adding the same name refreshes the record and clears the flag.
	require.NoError(t, s.Upsert(TrackedFile{Name: "a.txt", Path: "/p/a.txt", Size: 250}))

	got, err := s.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Size)
	assert.Empty(t, got.Flag)
}

func TestStore_SetPublished(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Upsert(TrackedFile{Name: "a.txt", Path: "/p/a.txt"}))

	at := 3000.5
	require.NoError(t, s.SetPublished("a.txt", true, &at))
	got, err := s.Get("a.txt")
	require.NoError(t, err)
	assert.True(t, got.IsPublished)
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, at, *got.PublishedAt)

	require.NoError(t, s.SetPublished("a.txt", false, nil))
	got, err = s.Get("a.txt")
	require.NoError(t, err)
	assert.False(t, got.IsPublished)
	assert.Nil(t, got.PublishedAt)
}

func TestStore_ListOrdered(t *testing.T) {
	s := testStore(t)
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		require.NoError(t, s.Upsert(TrackedFile{Name: name, Path: "/p/" + name}))
	}

	files, err := s.List()
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "c.txt", files[2].Name)
}

func TestStore_Delete(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Upsert(TrackedFile{Name: "a.txt", Path: "/p/a.txt"}))
	require.NoError(t, s.Delete("a.txt"))

	got, err := s.Get("a.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ByPath(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Upsert(TrackedFile{Name: "a.txt", Path: "/docs/a.txt"}))

	got, err := s.ByPath("/docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a.txt", got.Name)

	got, err = s.ByPath("/docs/other.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Directories(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Upsert(TrackedFile{Name: "a.txt", Path: "/docs/a.txt"}))
	require.NoError(t, s.Upsert(TrackedFile{Name: "b.txt", Path: "/docs/b.txt"}))
	require.NoError(t, s.Upsert(TrackedFile{Name: "c.txt", Path: "/media/c.txt"}))

	dirs, err := s.Directories()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/docs", "/media"}, dirs)
}

func TestStore_Mirror(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Upsert(TrackedFile{Name: "a.txt", Path: "/p/a.txt", Size: 100}))
	require.NoError(t, s.Upsert(TrackedFile{Name: "b.txt", Path: "/p/b.txt", Size: 50}))

	snap := localSnap(
		FileRecord{Name: "a.txt", Size: 120, ModifiedAt: 5000, IsPublished: true, PublishedAt: 6000},
	)
	require.NoError(t, s.Mirror(snap))

	a, err := s.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(120), a.Size)
	assert.True(t, a.IsPublished)

	// Rows the snapshot does not mention are untouched.
	b, err := s.Get("b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.Size)
	assert.False(t, b.IsPublished)
}

func TestStore_AggregateTrackedSize(t *testing.T) {
	s := testStore(t)

	total, err := s.AggregateTrackedSize()
	require.NoError(t, err)
	assert.Zero(t, total)

	require.NoError(t, s.Upsert(TrackedFile{Name: "a", Path: "/p/a", Size: 100}))
	require.NoError(t, s.Upsert(TrackedFile{Name: "b", Path: "/p/b", Size: 50}))

	total, err = s.AggregateTrackedSize()
	require.NoError(t, err)
	assert.Equal(t, int64(150), total)
}
