package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Config carries the knobs for building a Coordinator.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	CacheTTL     time.Duration
	PollInterval time.Duration
	StateDir     string
}

// Coordinator wires the session, API client, snapshot caches, duplicate
// classifier, fetch state machine, reconciler, tracked-file store and
// watcher into one facade the CLI drives.
type Coordinator struct {
	sess       *Session
	api        *Client
	cache      *Cache
	bus        *EventBus
	fetcher    *Fetcher
	reconciler *Reconciler
	store      *Store
	watcher    *Watcher
	db         *sql.DB
}

// NewCoordinator builds the full stack for an authenticated session.
func NewCoordinator(cfg Config, sess *Session) (*Coordinator, error) {
	baseURL := cfg.BaseURL
	if sess.BaseURL != "" {
		baseURL = sess.BaseURL
	}
	api := NewClient(ClientConfig{BaseURL: baseURL, Timeout: cfg.Timeout})

	db, err := OpenDB(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	store := NewStore(db)

	bus := NewEventBus()
	cache := NewCache(api, cfg.CacheTTL)
	reconciler := NewReconciler(cache, bus)
	fetcher := NewFetcher(api, bus, reconciler, cfg.PollInterval)

	watcher, err := NewWatcher(store, bus)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &Coordinator{
		sess:       sess,
		api:        api,
		cache:      cache,
		bus:        bus,
		fetcher:    fetcher,
		reconciler: reconciler,
		store:      store,
		watcher:    watcher,
		db:         db,
	}, nil
}

// Bus returns the event bus for UI subscriptions.
func (c *Coordinator) Bus() *EventBus { return c.bus }

// Fetcher returns the fetch state machine.
func (c *Coordinator) Fetcher() *Fetcher { return c.fetcher }

// Store returns the tracked-file store.
func (c *Coordinator) Store() *Store { return c.store }

// Run starts the background loops: the watcher and the reconcile worker.
// Blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	l := sub("daemon")
	l.Info("coordinator starting", "server", c.api.BaseURL(), "user", c.sess.User.Username)

	go func() {
		if err := c.watcher.Start(ctx); err != nil && ctx.Err() == nil {
			l.Warn("watcher stopped unexpectedly", "err", err)
		}
	}()

	c.reconciler.Run(ctx)

	c.fetcher.Close()
	c.watcher.Close()
	l.Info("coordinator stopped")
}

// Close releases resources for one-shot (non-daemon) use.
func (c *Coordinator) Close() error {
	c.fetcher.Close()
	c.watcher.Close()
	return c.db.Close()
}

// snapshot returns the cached snapshot for set, refreshing when absent or
// expired.
func (c *Coordinator) snapshot(ctx context.Context, set Set) (*Snapshot, error) {
	if snap, ok := c.cache.Get(set); ok {
		return snap, nil
	}
	return c.cache.Refresh(ctx, c.sess, set)
}

// LocalFiles lists the caller's tracked files.
func (c *Coordinator) LocalFiles(ctx context.Context) (*Snapshot, error) {
	return c.snapshot(ctx, SetLocal)
}

// PublishedFiles lists the caller's published files.
func (c *Coordinator) PublishedFiles(ctx context.Context) (*Snapshot, error) {
	return c.snapshot(ctx, SetPublished)
}

// NetworkFiles lists files published by other peers.
func (c *Coordinator) NetworkFiles(ctx context.Context) (*Snapshot, error) {
	return c.snapshot(ctx, SetNetwork)
}

// AddFile stats a local file, registers it with the server and mirrors it
// into the tracked store. Returns the created record and the server's
// message. With autoPublish the server publishes in the same call.
func (c *Coordinator) AddFile(ctx context.Context, path string, autoPublish bool) (*FileRecord, string, error) {
	stat, err := StatFile(path)
	if err != nil {
		return nil, "", err
	}

	rec, msg, err := c.api.AddFile(ctx, c.sess, stat.Path, autoPublish)
	if err != nil {
		return nil, "", err
	}
	if rec == nil {
		// The server may acknowledge without echoing the record. Publish
		// state is unknown then; the scheduled reconcile picks it up.
		rec = &FileRecord{
			Name:       stat.Name,
			Size:       uint64(stat.Size),
			CreatedAt:  stat.Created,
			ModifiedAt: stat.Modified,
			Path:       stat.Path,
		}
	}

	tracked := TrackedFile{
		Name:        rec.Name,
		Path:        stat.Path,
		Size:        stat.Size,
		Created:     stat.Created,
		Modified:    stat.Modified,
		AddedAt:     float64(nowFunc().UnixNano()) / 1e9,
		IsPublished: rec.IsPublished,
	}
	if rec.IsPublished && rec.PublishedAt != 0 {
		at := rec.PublishedAt
		tracked.PublishedAt = &at
	}
	if err := c.store.Upsert(tracked); err != nil {
		sub("daemon").Warn("tracked mirror update failed", "name", rec.Name, "err", err)
	}
	if err := c.watcher.Track(stat.Path); err != nil {
		sub("daemon").Warn("watch registration failed", "path", stat.Path, "err", err)
	}

	op := OpAdd
	if autoPublish {
		op = OpUpload
	}
	c.reconciler.Schedule(c.sess, op, rec.Name)
	return rec, msg, nil
}

// AddDirectory tracks every regular file in one directory level. Files that
// fail to add are skipped with a warning; the successes are returned.
func (c *Coordinator) AddDirectory(ctx context.Context, root string, autoPublish bool) ([]FileRecord, error) {
	stats, err := ScanDirectory(root)
	if err != nil {
		return nil, err
	}

	var added []FileRecord
	for _, stat := range stats {
		rec, _, err := c.AddFile(ctx, stat.Path, autoPublish)
		if err != nil {
			sub("daemon").Warn("skipping file", "path", stat.Path, "err", err)
			continue
		}
		added = append(added, *rec)
	}
	return added, nil
}

// Publish marks a tracked file shareable. The local path is sent along so
// the server can serve transfer requests for it.
func (c *Coordinator) Publish(ctx context.Context, name string) (string, error) {
	tracked, err := c.store.Get(name)
	if err != nil {
		return "", err
	}
	localPath := ""
	if tracked != nil {
		localPath = tracked.Path
	}

	msg, err := c.api.Publish(ctx, c.sess, name, localPath)
	if err != nil {
		return "", err
	}

	if tracked != nil {
		at := float64(nowFunc().UnixNano()) / 1e9
		if err := c.store.SetPublished(name, true, &at); err != nil {
			sub("daemon").Warn("tracked mirror update failed", "name", name, "err", err)
		}
	}
	c.reconciler.Schedule(c.sess, OpPublish, name)
	return msg, nil
}

// Unpublish withdraws a published file from the network index.
func (c *Coordinator) Unpublish(ctx context.Context, name string) (string, error) {
	msg, err := c.api.Unpublish(ctx, c.sess, name)
	if err != nil {
		return "", err
	}
	if err := c.store.SetPublished(name, false, nil); err != nil {
		sub("daemon").Warn("tracked mirror update failed", "name", name, "err", err)
	}
	c.reconciler.Schedule(c.sess, OpUnpublish, name)
	return msg, nil
}

// PreflightFetch refreshes the local and network views and classifies the
// target against them, so the caller can warn about duplicates before
// committing to a transfer.
func (c *Coordinator) PreflightFetch(ctx context.Context, target NetworkFileRecord) (DuplicateVerdict, error) {
	local, err := c.cache.Refresh(ctx, c.sess, SetLocal)
	if err != nil {
		return DuplicateVerdict{}, err
	}
	network, err := c.cache.Refresh(ctx, c.sess, SetNetwork)
	if err != nil {
		return DuplicateVerdict{}, err
	}
	return Classify(local, network, target.Name, target.Size, target.ModifiedAt), nil
}

// Fetch submits a transfer for the target file and starts progress polling.
func (c *Coordinator) Fetch(ctx context.Context, target NetworkFileRecord, savePath string) (string, error) {
	return c.fetcher.SubmitFetch(ctx, c.sess, target, savePath)
}

// FindNetworkFile resolves an owner/name pair against the network view.
func (c *Coordinator) FindNetworkFile(ctx context.Context, owner, name string) (*NetworkFileRecord, error) {
	snap, err := c.snapshot(ctx, SetNetwork)
	if err != nil {
		return nil, err
	}
	rec, ok := snap.Network[NetworkKey{Owner: owner, Name: name}]
	if !ok {
		return nil, newAPIError("fetch", fmt.Sprintf("file %q from %s not found on the network", name, owner))
	}
	return &rec, nil
}

// Check refreshes every view and reports publish-state inconsistencies
// between them.
func (c *Coordinator) Check(ctx context.Context) ([]PublishViolation, error) {
	if err := c.cache.RefreshAll(ctx, c.sess); err != nil {
		return nil, err
	}
	if local, ok := c.cache.Get(SetLocal); ok {
		if err := c.store.Mirror(local); err != nil {
			sub("daemon").Warn("tracked mirror sync failed", "err", err)
		}
	}
	return c.cache.CheckPublishConsistency(), nil
}
