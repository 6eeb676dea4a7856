package coordinator

import (
	"context"
	"fmt"
	gosync "sync"
	"time"
)

// defaultPollInterval is the spacing between progress polls.
const defaultPollInterval = 500 * time.Millisecond

// Fetcher drives a single outstanding fetch operation: submit, obtain the
// fetch id, then poll the progress resource until a terminal state. Only
// one fetch session may be active per coordinator; submitting a new fetch
// cancels the previous polling loop before arming the new one.
type Fetcher struct {
	api          *Client
	bus          *EventBus
	reconciler   *Reconciler
	pollInterval time.Duration

	mu      gosync.Mutex
	current *fetchSession
}

// fetchSession is the in-flight (or frozen terminal) download.
type fetchSession struct {
	target   NetworkFileRecord
	progress FetchProgress
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewFetcher creates the fetch state machine. bus and reconciler may be
// nil; pollInterval zero means the default 500ms.
func NewFetcher(api *Client, bus *EventBus, reconciler *Reconciler, pollInterval time.Duration) *Fetcher {
	if pollInterval == 0 {
		pollInterval = defaultPollInterval
	}
	return &Fetcher{
		api:          api,
		bus:          bus,
		reconciler:   reconciler,
		pollInterval: pollInterval,
	}
}

// Status returns the current lifecycle state; FetchIdle when no session
// exists.
func (f *Fetcher) Status() FetchStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return FetchIdle
	}
	return f.current.progress.Status
}

// Snapshot returns a copy of the live progress and whether a session
// exists. Safe for concurrent readers; the polling loop is the only
// writer.
func (f *Fetcher) Snapshot() (FetchProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return FetchProgress{}, false
	}
	return f.current.progress, true
}

// SubmitFetch submits a fetch for the target file and starts the polling
// loop. A rejected submission fails fast: no session is created and no
// poll is ever issued. Any prior session — in flight or terminal — is
// cancelled and discarded first.
func (f *Fetcher) SubmitFetch(ctx context.Context, sess *Session, target NetworkFileRecord, savePath string) (string, error) {
	l := sub("fetch")

	// Single-flight: clear the previous loop before arming a new one.
	f.Cancel()

	fetchID, resolvedPath, err := f.api.SubmitFetch(ctx, sess, target.Name, savePath)
	if err != nil {
		l.Warn("fetch submission rejected", "fname", target.Name, "kind", ErrorKind(err), "err", err)
		return "", fmt.Errorf("submit fetch %q: %w", target.Name, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	fs := &fetchSession{
		target: target,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: FetchProgress{
			FetchID:      fetchID,
			FileName:     target.Name,
			SavePath:     resolvedPath,
			Status:       FetchRequested,
			TotalBytes:   target.Size,
			PeerHostname: target.OwnerHostname,
			PeerIP:       target.OwnerIP,
		},
	}

	f.mu.Lock()
	f.current = fs
	f.mu.Unlock()

	l.Info("fetch started", "fname", target.Name, "fetchId", fetchID, "peer", target.OwnerHostname, "savePath", resolvedPath)
	go f.pollLoop(loopCtx, sess, fs, fetchID)
	return fetchID, nil
}

// pollLoop polls the progress resource until a terminal state or
// cancellation. Ticks are strictly ordered: the next poll is armed only
// after the previous response (or error) is observed, so the loop never
// overlaps itself.
func (f *Fetcher) pollLoop(ctx context.Context, sess *Session, fs *fetchSession, fetchID string) {
	l := sub("fetch")
	defer close(fs.done)

	timer := time.NewTimer(f.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Debug("poll loop cancelled", "fetchId", fetchID)
			return
		case <-timer.C:
		}

		progress, err := f.api.FetchProgress(ctx, sess, fetchID)
		if err != nil {
			// A transient poll failure never fails the fetch; the next
			// tick is attempted on schedule.
			if ctx.Err() == nil {
				l.Warn("poll tick failed", "fetchId", fetchID, "err", err)
				timer.Reset(f.pollInterval)
				continue
			}
			return
		}

		progress.Status = normalizeStatus(progress.Status)
		terminal := progress.Status.Terminal()

		f.mu.Lock()
		if f.current != fs {
			// A newer fetch replaced this session while the response was
			// in flight; drop the update.
			f.mu.Unlock()
			return
		}
		progress.FetchID = fetchID
		progress.FileName = fs.progress.FileName
		if progress.SavePath == "" {
			progress.SavePath = fs.progress.SavePath
		}
		fs.progress = progress
		f.mu.Unlock()

		if f.bus != nil {
			eventType := EventFetchProgress
			if terminal {
				eventType = EventFetchTerminal
			}
			snapshot := progress
			f.bus.Publish(Event{Type: eventType, Name: progress.FileName, Progress: &snapshot})
		}

		if terminal {
			l.Info("fetch reached terminal state", "fetchId", fetchID,
				"status", progress.Status, "downloaded", progress.DownloadedBytes, "total", progress.TotalBytes)
			if progress.Status == FetchCompleted && f.reconciler != nil {
				f.reconciler.Schedule(sess, OpFetchCompleted, progress.FileName)
			}
			return
		}

		timer.Reset(f.pollInterval)
	}
}

// Cancel stops the polling loop and discards the session. Local-only: a
// transfer already submitted continues on the backend regardless.
func (f *Fetcher) Cancel() {
	f.mu.Lock()
	fs := f.current
	f.current = nil
	f.mu.Unlock()

	if fs == nil {
		return
	}
	fs.cancel()
	<-fs.done
	sub("fetch").Info("fetch session discarded", "fname", fs.progress.FileName, "lastStatus", fs.progress.Status)
}

// Close tears down the fetcher, discarding any active session. Used on
// session teardown and UI-context close.
func (f *Fetcher) Close() {
	f.Cancel()
}

// normalizeStatus folds the backend's transfer states onto the coordinator
// lifecycle. The backend reports pending/connecting before bytes move.
func normalizeStatus(s FetchStatus) FetchStatus {
	switch s {
	case "pending", "connecting":
		return FetchRequested
	case FetchInProgress, FetchCompleted, FetchFailed, FetchRequested:
		return s
	default:
		return FetchInProgress
	}
}
