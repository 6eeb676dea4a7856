package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(baseURL string) *Session {
	return &Session{BaseURL: baseURL, Token: "test-token", User: User{Username: "tester"}}
}

func writeFiles(w http.ResponseWriter, files []FileRecord) {
	json.NewEncoder(w).Encode(map[string]any{"success": true, "files": files})
}

func writeNetworkFiles(w http.ResponseWriter, files []NetworkFileRecord) {
	json.NewEncoder(w).Encode(map[string]any{"success": true, "files": files})
}

func TestCache_GetMissing(t *testing.T) {
	c := NewCache(NewClient(ClientConfig{BaseURL: "http://unreachable"}), 0)
	snap, ok := c.Get(SetLocal)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestCache_RefreshFullReplace(t *testing.T) {
	listings := [][]FileRecord{
		{{Name: "a.txt", Size: 1}, {Name: "b.txt", Size: 2}},
		{{Name: "c.txt", Size: 3}},
	}
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, "/local-files", r.URL.Path)
		writeFiles(w, listings[call])
		call++
	}))
	defer srv.Close()

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	sess := testSession(srv.URL)

	snap, err := c.Refresh(context.Background(), sess, SetLocal)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	assert.Contains(t, snap.Files, "a.txt")

	// Second refresh replaces the whole snapshot; nothing is merged.
	snap, err = c.Refresh(context.Background(), sess, SetLocal)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	assert.Contains(t, snap.Files, "c.txt")
	assert.NotContains(t, snap.Files, "a.txt")
}

func TestCache_NetworkKeyedByOwnerAndName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeNetworkFiles(w, []NetworkFileRecord{
			{Name: "data.csv", OwnerHostname: "alpha", Size: 1},
			{Name: "data.csv", OwnerHostname: "beta", Size: 2},
		})
	}))
	defer srv.Close()

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	snap, err := c.Refresh(context.Background(), testSession(srv.URL), SetNetwork)
	require.NoError(t, err)

	// Same name from two owners must not collapse.
	assert.Equal(t, 2, snap.Len())
	assert.Contains(t, snap.Network, NetworkKey{Owner: "alpha", Name: "data.csv"})
	assert.Contains(t, snap.Network, NetworkKey{Owner: "beta", Name: "data.csv"})
}

func TestCache_StaleRefreshDiscarded(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	first := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if first {
			first = false
			close(entered)
			<-release
			writeFiles(w, []FileRecord{{Name: "old.txt"}})
			return
		}
		writeFiles(w, []FileRecord{{Name: "new.txt"}})
	}))
	defer srv.Close()

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	sess := testSession(srv.URL)

	done := make(chan *Snapshot, 1)
	go func() {
		snap, err := c.Refresh(context.Background(), sess, SetLocal)
		require.NoError(t, err)
		done <- snap
	}()
	<-entered

	// A later-issued refresh lands while the first is still in flight.
	snap, err := c.Refresh(context.Background(), sess, SetLocal)
	require.NoError(t, err)
	assert.Contains(t, snap.Files, "new.txt")

	close(release)
	slow := <-done

	// The slow response is discarded; the resident snapshot wins.
	assert.Contains(t, slow.Files, "new.txt")
	resident, ok := c.Get(SetLocal)
	require.True(t, ok)
	assert.Contains(t, resident.Files, "new.txt")
	assert.NotContains(t, resident.Files, "old.txt")
}

func TestCache_RefreshAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/local-files":
			writeFiles(w, []FileRecord{{Name: "l.txt"}})
		case "/published-files":
			writeFiles(w, []FileRecord{{Name: "p.txt"}})
		case "/network-files":
			writeNetworkFiles(w, []NetworkFileRecord{{Name: "n.txt", OwnerHostname: "peer"}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	require.NoError(t, c.RefreshAll(context.Background(), testSession(srv.URL)))

	for _, set := range []Set{SetLocal, SetPublished, SetNetwork} {
		snap, ok := c.Get(set)
		require.True(t, ok, "set %s missing", set)
		assert.Equal(t, 1, snap.Len())
	}
}

func TestCache_RefreshErrorKeepsResident(t *testing.T) {
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "database connection lost"})
			return
		}
		writeFiles(w, []FileRecord{{Name: "keep.txt"}})
	}))
	defer srv.Close()

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	sess := testSession(srv.URL)

	_, err := c.Refresh(context.Background(), sess, SetLocal)
	require.NoError(t, err)

	fail = true
	_, err = c.Refresh(context.Background(), sess, SetLocal)
	require.Error(t, err)
	assert.Equal(t, KindConnectionFailed, ErrorKind(err))

	resident, ok := c.Get(SetLocal)
	require.True(t, ok)
	assert.Contains(t, resident.Files, "keep.txt")
}

func TestCheckPublishConsistency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/local-files":
			writeFiles(w, []FileRecord{
				{Name: "good.txt", IsPublished: true, PublishedAt: 1000},
				{Name: "ghost.txt", IsPublished: true, PublishedAt: 1000},
				{Name: "sneaky.txt", IsPublished: false},
				{Name: "plain.txt", IsPublished: false},
			})
		case "/published-files":
			writeFiles(w, []FileRecord{
				{Name: "good.txt", IsPublished: true, PublishedAt: 1000},
				{Name: "sneaky.txt"},
			})
		case "/network-files":
			writeNetworkFiles(w, nil)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	require.NoError(t, c.RefreshAll(context.Background(), testSession(srv.URL)))

	violations := c.CheckPublishConsistency()
	require.Len(t, violations, 2)

	names := []string{violations[0].Name, violations[1].Name}
	sort.Strings(names)
	assert.Equal(t, []string{"ghost.txt", "sneaky.txt"}, names)
}

func TestCheckPublishConsistency_NoSnapshots(t *testing.T) {
	c := NewCache(NewClient(ClientConfig{BaseURL: "http://unreachable"}), 0)
	assert.Nil(t, c.CheckPublishConsistency())
}

