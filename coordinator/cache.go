package coordinator

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/samber/lo"
)

// Set names one of the three refreshable file collections.
type Set string

const (
	SetLocal     Set = "local"
	SetPublished Set = "published"
	SetNetwork   Set = "network"
)

// defaultSnapshotTTL bounds how long a snapshot is considered fresh enough
// for in-memory duplicate checks without a refresh.
const defaultSnapshotTTL = 30 * time.Second

// Snapshot is one full replacement of a set. Files is populated for local
// and published sets, Network for the network set.
type Snapshot struct {
	Set       Set
	Seq       uint64
	FetchedAt time.Time
	Files     map[string]FileRecord
	Network   map[NetworkKey]NetworkFileRecord
}

// Len returns the number of records in the snapshot.
func (s *Snapshot) Len() int {
	if s.Set == SetNetwork {
		return len(s.Network)
	}
	return len(s.Files)
}

// Cache holds the three file-set snapshots. Each refresh replaces the whole
// collection; nothing is ever merged. Refreshes are sequence-stamped so a
// slow in-flight refresh cannot overwrite the result of a later-issued one.
type Cache struct {
	api *Client

	mu     gosync.Mutex
	issued map[Set]uint64
	items  *ttlcache.Cache[Set, *Snapshot]
}

// NewCache creates a cache over the given API client. ttl controls snapshot
// freshness; zero means the default.
func NewCache(api *Client, ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = defaultSnapshotTTL
	}
	return &Cache{
		api:    api,
		issued: make(map[Set]uint64),
		items: ttlcache.New[Set, *Snapshot](
			ttlcache.WithTTL[Set, *Snapshot](ttl),
			ttlcache.WithDisableTouchOnHit[Set, *Snapshot](),
		),
	}
}

// Get returns the resident snapshot for a set and whether it is still
// fresh. A stale or absent snapshot means callers should Refresh before
// relying on it for duplicate classification.
func (c *Cache) Get(set Set) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.items.Get(set)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Refresh performs a full-snapshot GET for the set and replaces the
// resident collection. When a later-issued refresh has already landed, the
// result of this one is discarded and the resident snapshot returned.
func (c *Cache) Refresh(ctx context.Context, sess *Session, set Set) (*Snapshot, error) {
	l := sub("cache")

	c.mu.Lock()
	c.issued[set]++
	seq := c.issued[set]
	c.mu.Unlock()

	snap := &Snapshot{Set: set, Seq: seq}
	switch set {
	case SetLocal:
		files, err := c.api.LocalFiles(ctx, sess)
		if err != nil {
			return nil, fmt.Errorf("refresh local: %w", err)
		}
		snap.Files = lo.KeyBy(files, func(f FileRecord) string { return f.Name })
	case SetPublished:
		files, err := c.api.PublishedFiles(ctx, sess)
		if err != nil {
			return nil, fmt.Errorf("refresh published: %w", err)
		}
		snap.Files = lo.KeyBy(files, func(f FileRecord) string { return f.Name })
	case SetNetwork:
		files, err := c.api.NetworkFiles(ctx, sess)
		if err != nil {
			return nil, fmt.Errorf("refresh network: %w", err)
		}
		snap.Network = lo.KeyBy(files, NetworkFileRecord.Key)
	default:
		return nil, fmt.Errorf("refresh: unknown set %q", set)
	}
	snap.FetchedAt = nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if item := c.items.Get(set); item != nil && item.Value().Seq > seq {
		resident := item.Value()
		l.Debug("discarding stale refresh", "set", set, "seq", seq, "residentSeq", resident.Seq)
		return resident, nil
	}
	c.items.Set(set, snap, ttlcache.DefaultTTL)
	l.Info("cache refreshed", "set", set, "count", snap.Len(), "seq", seq)
	return snap, nil
}

// RefreshAll refreshes all three sets in parallel and returns the first
// error, if any. Sets refresh independently; one failure does not stop the
// others.
func (c *Cache) RefreshAll(ctx context.Context, sess *Session) error {
	sets := []Set{SetLocal, SetPublished, SetNetwork}
	errs := make([]error, len(sets))

	var wg gosync.WaitGroup
	for i, set := range sets {
		wg.Add(1)
		go func(i int, set Set) {
			defer wg.Done()
			_, errs[i] = c.Refresh(ctx, sess, set)
		}(i, set)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// PublishViolation is a local record whose published flag disagrees with
// the published set, or whose publishedAt is inconsistent with the flag.
type PublishViolation struct {
	Name   string
	Reason string
}

// CheckPublishConsistency verifies the invariant that a local record is
// marked published iff the published set holds an entry of the same name,
// and that publishedAt is present iff published. Violations are reported,
// never repaired client-side: the registry owns the truth.
func (c *Cache) CheckPublishConsistency() []PublishViolation {
	local, okL := c.Get(SetLocal)
	published, okP := c.Get(SetPublished)
	if !okL || !okP {
		return nil
	}

	var out []PublishViolation
	for name, rec := range local.Files {
		_, inPublished := published.Files[name]
		switch {
		case rec.IsPublished && !inPublished:
			out = append(out, PublishViolation{Name: name, Reason: "marked published but missing from published set"})
		case !rec.IsPublished && inPublished:
			out = append(out, PublishViolation{Name: name, Reason: "present in published set but not marked published"})
		case rec.IsPublished && rec.PublishedAt == 0:
			out = append(out, PublishViolation{Name: name, Reason: "published without publishedAt"})
		case !rec.IsPublished && rec.PublishedAt != 0:
			out = append(out, PublishViolation{Name: name, Reason: "publishedAt set on unpublished record"})
		}
	}
	return out
}
