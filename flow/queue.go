package flow

import (
	"container/heap"
	"sync"
)

// taskQueue is a priority FIFO queue drained by a fixed pool of workers.
//
// Tasks with a lower priority value run first; tasks with equal priority
// run in submission order. The engine uses a single-worker queue as the
// primary scheduler for top-level entries, which serializes all entry
// side effects within a run.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  taskHeap
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

type queuedTask struct {
	priority int
	seq      uint64
	run      func()
	done     chan struct{}
}

// taskHeap orders tasks by (priority, seq): FIFO within priority.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queuedTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// newTaskQueue starts a queue with the given number of workers.
// Workers below 1 are clamped to 1.
func newTaskQueue(workers int) *taskQueue {
	if workers < 1 {
		workers = 1
	}
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Submit enqueues a task and returns a channel closed when it finishes.
// Submitting to a closed queue returns an already-closed channel without
// running the task.
func (q *taskQueue) Submit(priority int, fn func()) <-chan struct{} {
	done := make(chan struct{})

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		close(done)
		return done
	}
	task := &queuedTask{priority: priority, seq: q.seq, run: fn, done: done}
	q.seq++
	heap.Push(&q.items, task)
	q.mu.Unlock()

	q.cond.Signal()
	return done
}

func (q *taskQueue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		task := heap.Pop(&q.items).(*queuedTask)
		q.mu.Unlock()

		task.run()
		close(task.done)
	}
}

// Close drains remaining tasks and stops the workers. Blocks until all
// workers exit.
func (q *taskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()
}
