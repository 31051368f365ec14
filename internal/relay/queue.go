package relay

import (
	"context"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Enqueuer hands a task to the worker path without waiting for it to run.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// HandlerFunc processes one dequeued task.
type HandlerFunc func(ctx context.Context, t Task)

// WorkQueue is a bounded in-process queue drained by a fixed pool of workers.
// Each worker owns a lane and a user's tasks always land in the same lane, so
// they run in arrival order. Enqueue never blocks: a full lane drops the task.
type WorkQueue struct {
	lanes  []chan Task
	handle HandlerFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWorkQueue splits size slots evenly over workers lanes.
func NewWorkQueue(size, workers int, handle HandlerFunc) *WorkQueue {
	if workers <= 0 {
		workers = 1
	}
	if size < workers {
		size = workers
	}
	per := (size + workers - 1) / workers
	lanes := make([]chan Task, workers)
	for i := range lanes {
		lanes[i] = make(chan Task, per)
	}
	return &WorkQueue{lanes: lanes, handle: handle}
}

// Start launches one worker per lane. They run until Close drains the queue.
func (q *WorkQueue) Start(ctx context.Context) {
	q.wg.Add(len(q.lanes))
	for i, lane := range q.lanes {
		go func(workerID int, lane <-chan Task) {
			defer q.wg.Done()
			for t := range lane {
				q.run(ctx, workerID, t)
			}
		}(i, lane)
	}
	slog.Info("work queue started", "lane_size", cap(q.lanes[0]), "concurrency", len(q.lanes))
}

func (q *WorkQueue) run(ctx context.Context, workerID int, t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker panic", "worker", workerID, "job_id", t.JobID, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	q.handle(ctx, t)
}

func (q *WorkQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.lane(t.UserID) <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *WorkQueue) lane(userID string) chan Task {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return q.lanes[h.Sum32()%uint32(len(q.lanes))]
}

// Len reports the number of tasks waiting for a worker.
func (q *WorkQueue) Len() int {
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()

	q.wg.Wait()
}
