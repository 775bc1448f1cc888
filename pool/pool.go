package pool

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

const (
	MinWorkers = 4
	MaxWorkers = 7
)

var ErrClosed = errors.New("worker pool closed")

// Pool runs submitted jobs on a fixed set of worker goroutines.
// Pending jobs wait in a priority heap: higher priority first, FIFO among equals.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending jobQueue
	seq     uint64
	active  int
	closed  bool

	size   int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

type job struct {
	priority int
	seq      uint64
	index    int
	run      func(ctx context.Context)
	abort    func()
}

// New starts a pool with size workers, clamped to [MinWorkers, MaxWorkers].
func New(size int, logger *slog.Logger) *Pool {
	if size < MinWorkers {
		size = MinWorkers
	}
	if size > MaxWorkers {
		size = MaxWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:    size,
		ctx:     ctx,
		cancel:  cancel,
		pending: jobQueue{},
		logger:  logger.With(slog.String("component", "pool")),
	}
	p.cond = sync.NewCond(&p.mu)
	heap.Init(&p.pending)

	p.wg.Add(size)
	for range size {
		go p.worker()
	}
	return p
}

// Size returns the number of worker goroutines.
func (p *Pool) Size() int { return p.size }

// Stats reports queued and running job counts.
func (p *Pool) Stats() (pending, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len(), p.active
}

// Submit enqueues fn without blocking. abort, if non-nil, is called instead of
// fn when the pool closes before the job starts.
func (p *Pool) Submit(priority int, fn func(ctx context.Context), abort func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.seq++
	heap.Push(&p.pending, &job{priority: priority, seq: p.seq, run: fn, abort: abort})
	p.cond.Signal()
	return nil
}

// Close stops the workers, aborts jobs that never started and waits for
// running jobs to return. Running jobs observe a cancelled context.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	var dropped []*job
	for p.pending.Len() > 0 {
		dropped = append(dropped, heap.Pop(&p.pending).(*job))
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, j := range dropped {
		if j.abort != nil {
			j.abort()
		}
	}
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.pending.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		j := heap.Pop(&p.pending).(*job)
		p.active++
		p.mu.Unlock()

		p.execute(j)

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

func (p *Pool) execute(j *job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(fmt.Sprintf("job panic recovered: %v", r))
			p.logger.Debug(string(debug.Stack()))
		}
	}()
	j.run(p.ctx)
}

// Go submits fn and returns a future completed with its result.
// A panic inside fn completes the future with an error.
func Go[T any](p *Pool, priority int, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	var zero T
	err := p.Submit(priority, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				f.Complete(zero, fmt.Errorf("job panicked: %v", r))
			}
		}()
		v, err := fn(ctx)
		f.Complete(v, err)
	}, func() {
		f.Complete(zero, ErrClosed)
	})
	if err != nil {
		f.Complete(zero, err)
	}
	return f
}

// --- priority heap ---

type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	item := x.(*job)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
