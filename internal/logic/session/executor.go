// Package session owns what is bound to the capture device and the single
// worker every mutation of that binding runs on.
package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
)

// ErrExecutorClosed is returned for work handed to a closed executor.
var ErrExecutorClosed = errors.New("executor closed")

// Executor runs tasks one at a time in submission order. The queue is
// unbounded so posting never blocks. Tasks must not call Submit on the same
// executor; they may Post.
type Executor struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	workers sync.WaitGroup
}

// NewExecutor starts the worker goroutine.
func NewExecutor(logger *zap.SugaredLogger) *Executor {
	e := &Executor{logger: logger}
	e.cond = sync.NewCond(&e.mu)
	e.workers.Add(1)
	goutils.ManagedGo(e.loop, e.workers.Done)
	return e
}

func (e *Executor) loop() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		task()
	}
}

// Post enqueues fn without waiting for it.
func (e *Executor) Post(fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return nil
}

// Submit enqueues fn and waits for its result. If ctx ends first Submit
// returns ctx.Err(); fn still runs when its turn comes.
func (e *Executor) Submit(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := e.Post(func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Close runs what is already queued, then stops the worker.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pending := len(e.queue)
	e.cond.Broadcast()
	e.mu.Unlock()

	if pending > 0 {
		e.logger.Debugw("draining executor", "pending", pending)
	}
	e.workers.Wait()
}
