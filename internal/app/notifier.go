package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/pkg/log"
)

type notification struct {
	cb     domain.Completion
	result domain.Result
}

// Notifier runs completion callbacks on its own goroutines so user code
// never runs on the caller of Send and never stalls a send worker.
// The queue is unbounded; Notify never blocks.
type Notifier struct {
	logger log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []notification
	pending int // queued + running
	idle    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewNotifier starts workers goroutines draining the callback queue.
func NewNotifier(workers int, logger log.Logger) *Notifier {
	if workers <= 0 {
		workers = 1
	}
	n := &Notifier{
		logger: logger.With(log.Component("notifier")),
		idle:   make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	close(n.idle)

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Notify queues cb for invocation with result. A nil cb is ignored.
func (n *Notifier) Notify(cb domain.Completion, result domain.Result) {
	if cb == nil {
		return
	}

	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		// Late completions still run off the caller's goroutine.
		go n.invoke(notification{cb: cb, result: result})
		return
	}
	if n.pending == 0 {
		n.idle = make(chan struct{})
	}
	n.pending++
	n.queue = append(n.queue, notification{cb: cb, result: result})
	n.mu.Unlock()
	n.cond.Signal()
}

// Pending returns the number of callbacks queued or running.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}

// Drain waits until every queued callback has returned or ctx ends.
func (n *Notifier) Drain(ctx context.Context) error {
	n.mu.Lock()
	idle := n.idle
	n.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop lets the workers finish the queue and exit.
func (n *Notifier) Stop() {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()
	n.cond.Broadcast()
	n.wg.Wait()
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.stopped {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		item := n.queue[0]
		n.queue[0] = notification{}
		n.queue = n.queue[1:]
		n.mu.Unlock()

		n.invoke(item)

		n.mu.Lock()
		n.pending--
		if n.pending == 0 {
			close(n.idle)
		}
		n.mu.Unlock()
	}
}

func (n *Notifier) invoke(item notification) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("completion callback panicked",
				log.String("group", item.result.GroupID),
				log.String("stream", item.result.StreamID),
				log.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	item.cb.OnComplete(item.result)
}
