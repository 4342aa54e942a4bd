// Package scheduler runs view handlers and middlewares on a bounded
// worker pool with priorities.
//
// Items drain in priority order, lower value first, FIFO within one
// priority. The pool is sized for concurrently live interactive views,
// not requests per second: handlers may block inside their worker for
// as long as the view lives. Panics never kill a worker; they resolve
// the item's future with the recovered error.
package scheduler

import (
	"container/heap"
	"context"
	"runtime/debug"
	"sync"

	lonaerrors "github.com/fscherf/lona/internal/errors"
	"github.com/fscherf/lona/internal/logging"
)

// DefaultMaxWorkers is the pool size used when settings leave it unset.
const DefaultMaxWorkers = 10

// Task is one unit of scheduled work. The context is canceled when the
// server stops.
type Task func(ctx context.Context) (interface{}, error)

// Future resolves once its task ran (or was discarded at shutdown).
type Future struct {
	done  chan struct{}
	once  sync.Once
	value interface{}
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value interface{}, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed on resolution.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task ran and returns its result.
func (f *Future) Wait() (interface{}, error) {
	<-f.done
	return f.value, f.err
}

type item struct {
	task     Task
	future   *Future
	priority int
	seq      uint64
}

// itemHeap orders by priority, then insertion sequence.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Pending   int
	Running   int
	Completed uint64
	Failed    uint64
}

// Scheduler is the bounded priority pool.
type Scheduler struct {
	logger logging.Logger

	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mutex     sync.Mutex
	cond      *sync.Cond
	queue     itemHeap
	seq       uint64
	running   int
	completed uint64
	failed    uint64
	stopped   bool
	started   bool
}

// New creates a scheduler with maxWorkers workers. Values below one
// fall back to the default pool size.
func New(maxWorkers int, logger logging.Logger) *Scheduler {
	if maxWorkers < 1 {
		maxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		logger:     logger.WithComponent("scheduler"),
		maxWorkers: maxWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.cond = sync.NewCond(&s.mutex)
	return s
}

// Start spawns the worker pool. Safe to call once.
func (s *Scheduler) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	for i := 0; i < s.maxWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Debug(s.ctx, "worker pool started", "workers", s.maxWorkers)
}

// Schedule enqueues task at priority and returns its future. After
// Stop, the future is already resolved with the stop signal.
func (s *Scheduler) Schedule(task Task, priority int) *Future {
	future := newFuture()

	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		future.resolve(nil, lonaerrors.ErrServerStop)
		return future
	}

	s.seq++
	heap.Push(&s.queue, &item{
		task:     task,
		future:   future,
		priority: priority,
		seq:      s.seq,
	})
	s.mutex.Unlock()

	s.cond.Signal()
	return future
}

// RunSync runs task on the calling goroutine and blocks until it
// finished, returning its result. Sync items never enter the queue: a
// queued item can sit behind long-lived view tasks holding every
// worker, and a dispatch path waiting on a middleware must never block
// behind views. priority is accepted for symmetry with Schedule.
func (s *Scheduler) RunSync(task Task, priority int) (interface{}, error) {
	s.mutex.Lock()
	stopped := s.stopped
	s.mutex.Unlock()

	if stopped {
		return nil, lonaerrors.ErrServerStop
	}

	value, err := s.execute(task)

	s.mutex.Lock()
	if err != nil && !lonaerrors.IsServerStop(err) {
		s.failed++
	} else {
		s.completed++
	}
	s.mutex.Unlock()

	return value, err
}

// Stop discards pending items, cancels in-flight contexts, and waits
// for the workers to drain. Pending futures resolve with the server
// stop signal.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if s.stopped {
		s.mutex.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true

	discarded := make([]*item, len(s.queue))
	copy(discarded, s.queue)
	s.queue = s.queue[:0]
	s.mutex.Unlock()

	for _, it := range discarded {
		it.future.resolve(nil, lonaerrors.ErrServerStop)
	}

	s.cancel()
	s.cond.Broadcast()
	s.wg.Wait()

	s.logger.Debug(context.Background(), "worker pool stopped",
		"discarded", len(discarded))
}

// Stats returns a snapshot of pool activity.
func (s *Scheduler) Stats() Stats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return Stats{
		Pending:   len(s.queue),
		Running:   s.running,
		Completed: s.completed,
		Failed:    s.failed,
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		s.mutex.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped && len(s.queue) == 0 {
			s.mutex.Unlock()
			return
		}

		it := heap.Pop(&s.queue).(*item)
		s.running++
		s.mutex.Unlock()

		value, err := s.execute(it.task)
		it.future.resolve(value, err)

		s.mutex.Lock()
		s.running--
		if err != nil && !lonaerrors.IsServerStop(err) {
			s.failed++
		} else {
			s.completed++
		}
		s.mutex.Unlock()
	}
}

// execute runs one task, converting panics into errors so they never
// cross the pool boundary.
func (s *Scheduler) execute(task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lonaerrors.RecoveredError(r)
			s.logger.Error(s.ctx, err, "task panicked",
				"stack", string(debug.Stack()))
		}
	}()

	return task(s.ctx)
}
