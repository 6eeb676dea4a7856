package coordinator

import (
	"log/slog"
	gosync "sync"
)

// JobQueue is a thread-safe FIFO of reconcile jobs with a priority lane,
// deduplicated by the job's op/names key: overlapping post-settle passes
// for the same mutation coalesce into one. Pop blocks until a job is
// available or done is closed.
type JobQueue struct {
	mu       gosync.Mutex
	set      map[string]struct{}
	order    []reconcileJob
	priority []reconcileJob
	notify   chan struct{} // signaled when items are added
}

// NewJobQueue creates a new job queue.
func NewJobQueue() *JobQueue {
	return &JobQueue{
		set:    make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push adds a job to the normal lane. A job whose op/names key is already
// queued is a no-op.
func (q *JobQueue) Push(job reconcileJob) {
	q.push(job, false)
}

// PushPriority adds a job ahead of the normal lane. Fetch completions go
// here: the user is watching for the file to appear.
func (q *JobQueue) PushPriority(job reconcileJob) {
	q.push(job, true)
}

func (q *JobQueue) push(job reconcileJob, priority bool) {
	q.mu.Lock()
	if _, exists := q.set[job.key]; exists {
		q.mu.Unlock()
		if logEnabled(slog.LevelDebug) {
			sub("queue").Debug("push dedup", "jobId", job.id, "key", job.key)
		}
		return
	}
	q.set[job.key] = struct{}{}
	if priority {
		q.priority = append(q.priority, job)
	} else {
		q.order = append(q.order, job)
	}
	newLen := len(q.order) + len(q.priority)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("push", "jobId", job.id, "op", job.op, "priority", priority, "queueLen", newLen)
	}

	// Non-blocking signal
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the next job, priority lane first. Blocks until
// a job is available or the done channel is closed. Returns ok=false when
// done.
func (q *JobQueue) Pop(done <-chan struct{}) (reconcileJob, bool) {
	for {
		q.mu.Lock()
		if len(q.priority) > 0 {
			job := q.priority[0]
			q.priority = q.priority[1:]
			delete(q.set, job.key)
			q.mu.Unlock()
			return job, true
		}
		if len(q.order) > 0 {
			job := q.order[0]
			q.order = q.order[1:]
			delete(q.set, job.key)
			q.mu.Unlock()
			return job, true
		}
		q.mu.Unlock()

		// Wait for signal or done
		select {
		case <-done:
			sub("queue").Debug("pop cancelled")
			return reconcileJob{}, false
		case <-q.notify:
			// Loop back to check queue
		}
	}
}

// Has checks if a job with the given op/names key is currently queued.
func (q *JobQueue) Has(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.set[key]
	return exists
}

// Len returns the current queue size across both lanes.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order) + len(q.priority)
}

// Drain removes and returns all queued jobs, priority lane first.
func (q *JobQueue) Drain() []reconcileJob {
	q.mu.Lock()
	result := append(q.priority, q.order...)
	q.priority = nil
	q.order = nil
	q.set = make(map[string]struct{})
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("drain", "count", len(result))
	}
	return result
}
