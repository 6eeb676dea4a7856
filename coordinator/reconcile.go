package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Op identifies the mutation that triggered a reconcile pass.
type Op string

const (
	OpAdd            Op = "add"
	OpPublish        Op = "publish"
	OpUnpublish      Op = "unpublish"
	OpUpload         Op = "upload"
	OpFetchCompleted Op = "fetch_completed"
)

// settleDelays gives the server time to absorb a mutation before the first
// verification refresh. Uploads and publishes propagate through the network
// index and need longer than a plain metadata add.
var settleDelays = map[Op]time.Duration{
	OpAdd:            500 * time.Millisecond,
	OpPublish:        2 * time.Second,
	OpUnpublish:      2 * time.Second,
	OpUpload:         3 * time.Second,
	OpFetchCompleted: time.Second,
}

const (
	verifyInitialInterval = 250 * time.Millisecond
	verifyMaxInterval     = 2 * time.Second
	verifyMaxTries        = 5
	verifyMaxElapsed      = 10 * time.Second
)

var errNotSettled = errors.New("caches not yet consistent with mutation")

// afterFunc is a test seam over time.AfterFunc.
var afterFunc = func(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, f)
}

type reconcileJob struct {
	id    string // per-schedule, for log correlation
	key   string // dedup identity: operation plus touched names
	op    Op
	names []string
	sess  *Session
}

// jobKey builds the queue dedup identity. Two pending passes for the same
// operation over the same names verify the same thing; only one needs to
// run.
func jobKey(op Op, names []string) string {
	return string(op) + "|" + strings.Join(names, "|")
}

// Reconciler refreshes the snapshot caches after mutations and verifies the
// mutation actually landed. Each Schedule call waits out a per-operation
// settle delay, then enqueues a job for the worker, which polls with bounded
// backoff until the relevant snapshot reflects the change (or gives up and
// keeps the last refreshed state).
type Reconciler struct {
	cache *Cache
	bus   *EventBus
	queue *JobQueue
}

// NewReconciler creates a reconciler over the given cache. bus may be nil.
func NewReconciler(cache *Cache, bus *EventBus) *Reconciler {
	return &Reconciler{
		cache: cache,
		bus:   bus,
		queue: NewJobQueue(),
	}
}

// Queue exposes the underlying job queue, mainly for tests and diagnostics.
func (r *Reconciler) Queue() *JobQueue {
	return r.queue
}

// Schedule arranges a reconcile pass for a completed mutation. names are the
// file names the mutation touched; with no names the pass is a plain refresh
// without a consistency check. Each call gets its own settle timer so a slow
// operation never delays verification of a fast one.
func (r *Reconciler) Schedule(sess *Session, op Op, names ...string) {
	delay, ok := settleDelays[op]
	if !ok {
		delay = settleDelays[OpAdd]
	}
	job := reconcileJob{
		id:    uuid.NewString(),
		key:   jobKey(op, names),
		op:    op,
		names: names,
		sess:  sess,
	}
	if logEnabled(slog.LevelDebug) {
		sub("reconcile").Debug("scheduled", "jobId", job.id, "op", op, "names", names, "settle", delay)
	}
	afterFunc(delay, func() {
		if op == OpFetchCompleted {
			r.queue.PushPriority(job)
		} else {
			r.queue.Push(job)
		}
	})
}

// Run is the worker loop. It pops jobs and verifies each until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	l := sub("reconcile")
	l.Info("reconcile worker started")
	for {
		job, ok := r.queue.Pop(ctx.Done())
		if !ok {
			l.Info("reconcile worker stopped")
			return
		}
		r.runJob(ctx, job)
	}
}

func (r *Reconciler) runJob(ctx context.Context, job reconcileJob) {
	l := sub("reconcile")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = verifyInitialInterval
	bo.MaxInterval = verifyMaxInterval

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := r.refresh(ctx, job); err != nil {
			return struct{}{}, err
		}
		if !r.consistent(job) {
			return struct{}{}, errNotSettled
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(verifyMaxTries),
		backoff.WithMaxElapsedTime(verifyMaxElapsed),
	)

	switch {
	case err == nil:
		if logEnabled(slog.LevelDebug) {
			l.Debug("reconcile verified", "jobId", job.id, "op", job.op, "attempts", attempts)
		}
		if r.bus != nil {
			for _, set := range []Set{SetLocal, SetPublished, SetNetwork} {
				if snap, ok := r.cache.Get(set); ok {
					r.bus.Publish(Event{Type: EventCacheRefreshed, Set: set, Count: snap.Len()})
				}
			}
		}
	case errors.Is(err, errNotSettled):
		// The server never showed the mutation. Keep whatever the last
		// refresh returned; the next mutation or TTL expiry re-syncs.
		l.Warn("reconcile gave up waiting for consistency",
			"jobId", job.id, "op", job.op, "names", job.names, "attempts", attempts)
	default:
		l.Warn("reconcile refresh failed", "jobId", job.id, "op", job.op, "error", err)
	}
}

// refresh reloads the snapshot sets the operation can have changed.
func (r *Reconciler) refresh(ctx context.Context, job reconcileJob) error {
	switch job.op {
	case OpPublish, OpUnpublish, OpUpload:
		// Publish state shows up in all three views.
		return r.cache.RefreshAll(ctx, job.sess)
	case OpFetchCompleted:
		if _, err := r.cache.Refresh(ctx, job.sess, SetLocal); err != nil {
			return err
		}
		_, err := r.cache.Refresh(ctx, job.sess, SetNetwork)
		return err
	default:
		_, err := r.cache.Refresh(ctx, job.sess, SetLocal)
		return err
	}
}

// consistent reports whether the refreshed snapshots reflect the mutation.
func (r *Reconciler) consistent(job reconcileJob) bool {
	if len(job.names) == 0 {
		return true
	}
	switch job.op {
	case OpPublish:
		return r.allIn(SetPublished, job.names, true)
	case OpUnpublish:
		return r.allIn(SetPublished, job.names, false)
	default:
		return r.allIn(SetLocal, job.names, true)
	}
}

// allIn checks that every name is present (or absent) in the snapshot of set.
func (r *Reconciler) allIn(set Set, names []string, want bool) bool {
	snap, ok := r.cache.Get(set)
	if !ok {
		return false
	}
	for _, name := range names {
		if _, present := snap.Files[name]; present != want {
			return false
		}
	}
	return true
}
