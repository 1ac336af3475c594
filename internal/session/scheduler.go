package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrSessionQueueFull = errors.New("session queue full")
	ErrSchedulerClosed  = errors.New("session scheduler closed")
)

// Scheduler runs work for one session at a time. Each key gets its own worker
// goroutine draining a bounded queue, so different sessions proceed in
// parallel while calls for the same session are strictly ordered.
type Scheduler struct {
	logger    *zap.Logger
	queueSize int

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type worker struct {
	ch chan job
	// pending counts jobs queued or running. A retiring worker leaves the map
	// only once it reaches zero, so no second worker can start for the key
	// while jobs are still waiting on this one.
	pending  int
	retiring bool
	stopped  bool
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

func NewScheduler(logger *zap.Logger, queueSize int) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Scheduler{
		logger:    logger,
		queueSize: queueSize,
		workers:   make(map[string]*worker),
	}
}

// Do queues fn on the worker for key and waits for it to finish. If ctx ends
// first Do returns ctx.Err(); a queued job whose context has ended is skipped.
func (s *Scheduler) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	w := s.workerForLocked(key)
	select {
	case w.ch <- j:
		w.pending++
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.logger.Warn("session queue full", zap.String("session_id", key))
		return ErrSessionQueueFull
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forget stops the worker for key once its queued jobs drain. It is safe to
// call from inside a job running on that worker. Jobs submitted before the
// worker drains still run on it, in order.
func (s *Scheduler) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[key]
	if !ok {
		return
	}
	if w.pending == 0 {
		s.stopLocked(key, w)
		return
	}
	w.retiring = true
}

// Workers reports how many session workers are live.
func (s *Scheduler) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting work and waits for every worker to drain.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for key, w := range s.workers {
			s.stopLocked(key, w)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) workerForLocked(key string) *worker {
	if w, ok := s.workers[key]; ok {
		return w
	}

	w := &worker{ch: make(chan job, s.queueSize)}
	s.workers[key] = w

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for j := range w.ch {
			err := j.ctx.Err()
			if err == nil {
				err = s.run(j)
			}

			s.mu.Lock()
			w.pending--
			if w.retiring && w.pending == 0 {
				s.stopLocked(key, w)
			}
			s.mu.Unlock()

			j.done <- err
		}
	}()

	return w
}

func (s *Scheduler) stopLocked(key string, w *worker) {
	if s.workers[key] == w {
		delete(s.workers, key)
	}
	if !w.stopped {
		w.stopped = true
		close(w.ch)
	}
}

func (s *Scheduler) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session job panicked", zap.Any("panic", r))
			err = errors.New("session job panicked")
		}
	}()
	return j.fn(j.ctx)
}
