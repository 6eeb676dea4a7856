package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSnapshot(c *Cache, set Set, snap *Snapshot) {
	snap.Set = set
	c.items.Set(set, snap, ttlcache.DefaultTTL)
}

func captureAfterFunc(t *testing.T) *[]time.Duration {
	t.Helper()
	restore := afterFunc
	var delays []time.Duration
	afterFunc = func(d time.Duration, fn func()) *time.Timer {
		delays = append(delays, d)
		fn()
		return time.NewTimer(0)
	}
	t.Cleanup(func() { afterFunc = restore })
	return &delays
}

func TestSettleDelays_PerOperation(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, settleDelays[OpAdd])
	assert.Equal(t, 2*time.Second, settleDelays[OpPublish])
	assert.Equal(t, 2*time.Second, settleDelays[OpUnpublish])
	assert.Equal(t, 3*time.Second, settleDelays[OpUpload])
	assert.Equal(t, time.Second, settleDelays[OpFetchCompleted])
}

func TestReconciler_ScheduleUsesSettleDelay(t *testing.T) {
	delays := captureAfterFunc(t)
	r := NewReconciler(NewCache(NewClient(ClientConfig{BaseURL: "http://unreachable"}), 0), nil)

	r.Schedule(nil, OpPublish, "a.txt")
	r.Schedule(nil, OpAdd, "b.txt")

	require.Len(t, *delays, 2)
	assert.Equal(t, settleDelays[OpPublish], (*delays)[0])
	assert.Equal(t, settleDelays[OpAdd], (*delays)[1])
	assert.Equal(t, 2, r.Queue().Len())
}

func TestReconciler_FetchCompletionTakesPriorityLane(t *testing.T) {
	captureAfterFunc(t)
	r := NewReconciler(NewCache(NewClient(ClientConfig{BaseURL: "http://unreachable"}), 0), nil)

	r.Schedule(nil, OpPublish, "slow.txt")
	r.Schedule(nil, OpFetchCompleted, "urgent.bin")

	j, ok := r.Queue().Pop(make(chan struct{}))
	require.True(t, ok)
	assert.Equal(t, OpFetchCompleted, j.op)
}

func TestReconciler_IndependentSettleTimers(t *testing.T) {
	// Two mutations scheduled back to back each get their own timer; a
	// long publish settle must not delay a short add settle.
	delays := captureAfterFunc(t)
	r := NewReconciler(NewCache(NewClient(ClientConfig{BaseURL: "http://unreachable"}), 0), nil)

	r.Schedule(nil, OpUpload, "big.iso")
	r.Schedule(nil, OpAdd, "note.txt")

	require.Len(t, *delays, 2)
	assert.Equal(t, settleDelays[OpUpload], (*delays)[0])
	assert.Equal(t, settleDelays[OpAdd], (*delays)[1])
}

func TestReconciler_ScheduleCoalescesPendingPasses(t *testing.T) {
	captureAfterFunc(t)
	r := NewReconciler(NewCache(NewClient(ClientConfig{BaseURL: "http://unreachable"}), 0), nil)

	// Two schedules for the same mutation verify the same thing; only
	// one job may sit in the queue. A different op still queues.
	r.Schedule(nil, OpPublish, "dup.txt")
	r.Schedule(nil, OpPublish, "dup.txt")
	r.Schedule(nil, OpAdd, "dup.txt")

	assert.Equal(t, 2, r.Queue().Len())
}

func TestReconciler_ConsistencyPredicates(t *testing.T) {
	c := NewCache(NewClient(ClientConfig{BaseURL: "http://unreachable"}), 0)
	r := NewReconciler(c, nil)

	seedSnapshot(c, SetLocal, localSnap(FileRecord{Name: "local.txt"}))
	seedSnapshot(c, SetPublished, localSnap(FileRecord{Name: "pub.txt"}))

	tests := []struct {
		name string
		job  reconcileJob
		want bool
	}{
		{"publish landed", reconcileJob{op: OpPublish, names: []string{"pub.txt"}}, true},
		{"publish pending", reconcileJob{op: OpPublish, names: []string{"other.txt"}}, false},
		{"unpublish landed", reconcileJob{op: OpUnpublish, names: []string{"gone.txt"}}, true},
		{"unpublish pending", reconcileJob{op: OpUnpublish, names: []string{"pub.txt"}}, false},
		{"add landed", reconcileJob{op: OpAdd, names: []string{"local.txt"}}, true},
		{"fetch landed", reconcileJob{op: OpFetchCompleted, names: []string{"local.txt"}}, true},
		{"fetch pending", reconcileJob{op: OpFetchCompleted, names: []string{"missing.bin"}}, false},
		{"no names is always settled", reconcileJob{op: OpAdd}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.consistent(tt.job))
		})
	}
}

func TestReconciler_ConsistencyNeedsSnapshot(t *testing.T) {
	r := NewReconciler(NewCache(NewClient(ClientConfig{BaseURL: "http://unreachable"}), 0), nil)
	// No snapshot resident yet: the mutation cannot be confirmed.
	assert.False(t, r.consistent(reconcileJob{op: OpPublish, names: []string{"a.txt"}}))
}

func TestReconciler_RetriesUntilConsistent(t *testing.T) {
	var pubPolls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/local-files":
			writeFiles(w, []FileRecord{{Name: "slow.txt", IsPublished: true, PublishedAt: 1}})
		case "/published-files":
			// The index lags: the first two refreshes show the old view.
			if pubPolls.Add(1) <= 2 {
				writeFiles(w, nil)
			} else {
				writeFiles(w, []FileRecord{{Name: "slow.txt", IsPublished: true, PublishedAt: 1}})
			}
		case "/network-files":
			writeNetworkFiles(w, nil)
		}
	}))
	defer srv.Close()

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	r := NewReconciler(c, nil)

	r.runJob(context.Background(), reconcileJob{
		id:    "lagging-publish",
		key:   jobKey(OpPublish, []string{"slow.txt"}),
		op:    OpPublish,
		names: []string{"slow.txt"},
		sess:  testSession(srv.URL),
	})

	assert.GreaterOrEqual(t, pubPolls.Load(), int64(3))
	snap, ok := c.Get(SetPublished)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Len())
}

func TestReconciler_GivesUpWhenNeverConsistent(t *testing.T) {
	var pubPolls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/local-files":
			writeFiles(w, nil)
		case "/published-files":
			pubPolls.Add(1)
			writeFiles(w, nil)
		case "/network-files":
			writeNetworkFiles(w, nil)
		}
	}))
	defer srv.Close()

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	r := NewReconciler(c, nil)

	// The mutation never shows up. The job exhausts its attempts, then
	// keeps the last refreshed state instead of erroring.
	r.runJob(context.Background(), reconcileJob{
		id:    "never-lands",
		key:   jobKey(OpPublish, []string{"ghost.txt"}),
		op:    OpPublish,
		names: []string{"ghost.txt"},
		sess:  testSession(srv.URL),
	})

	assert.Equal(t, int64(verifyMaxTries), pubPolls.Load())
	snap, ok := c.Get(SetPublished)
	require.True(t, ok)
	assert.Equal(t, 0, snap.Len())
}

func TestReconciler_RunVerifiesMutation(t *testing.T) {
	captureAfterFunc(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/local-files":
			writeFiles(w, []FileRecord{{Name: "new.txt", IsPublished: true, PublishedAt: 1}})
		case "/published-files":
			writeFiles(w, []FileRecord{{Name: "new.txt", IsPublished: true, PublishedAt: 1}})
		case "/network-files":
			writeNetworkFiles(w, nil)
		}
	}))
	defer srv.Close()

	bus := NewEventBus()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	c := NewCache(NewClient(ClientConfig{BaseURL: srv.URL}), 0)
	r := NewReconciler(c, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Schedule(testSession(srv.URL), OpPublish, "new.txt")

	waitFor(t, 2*time.Second, func() bool {
		snap, ok := c.Get(SetPublished)
		return ok && snap.Len() == 1
	})

	select {
	case ev := <-events:
		assert.Equal(t, EventCacheRefreshed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no cache-refreshed event after verification")
	}
}
