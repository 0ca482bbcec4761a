package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConcurrencyManager is a bounded-parallelism task runner (spec §4.2),
// grounded on original_source's orka/utils/concurrency.py ConcurrencyManager:
// a semaphore-bounded admission gate plus per-call timeout enforcement, with
// outstanding tasks tracked by identity so Shutdown can cancel them.
type ConcurrencyManager struct {
	sem    chan struct{}
	logger Logger

	mu     sync.Mutex
	tasks  map[int64]context.CancelFunc
	nextID int64
	closed bool
}

// NewConcurrencyManager builds a manager admitting at most maxConcurrency
// simultaneous RunWithTimeout calls.
func NewConcurrencyManager(maxConcurrency int) *ConcurrencyManager {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &ConcurrencyManager{
		sem:    make(chan struct{}, maxConcurrency),
		logger: &NoOpLogger{},
		tasks:  make(map[int64]context.CancelFunc),
	}
}

// SetLogger configures the logger used for permit/timeout diagnostics.
func (c *ConcurrencyManager) SetLogger(logger Logger) {
	if logger == nil {
		c.logger = &NoOpLogger{}
		return
	}
	if cal, ok := logger.(ComponentAwareLogger); ok {
		c.logger = cal.WithComponent("framework/concurrency")
		return
	}
	c.logger = logger
}

// RunWithTimeout acquires a permit, runs fn in its own goroutine, and
// enforces timeout: if fn does not return within timeout, RunWithTimeout
// returns a KindTimeout FrameworkError and the goroutine's context is
// cancelled (fn is expected to observe ctx.Done()). The permit is always
// released, on every exit path.
func (c *ConcurrencyManager) RunWithTimeout(
	ctx context.Context,
	timeout time.Duration,
	fn func(ctx context.Context) (Output, error),
) (Output, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Output{}, NewFrameworkError("concurrency.RunWithTimeout", KindCriticalFailure, fmt.Errorf("manager shut down"))
	}
	c.mu.Unlock()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
	defer func() { <-c.sem }()

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	taskID := c.register(cancel)
	defer c.unregister(taskID)

	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic in node execution: %v", r)}
			}
		}()
		out, err := fn(runCtx)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-runCtx.Done():
		c.logger.Warn("task timed out", map[string]interface{}{
			"timeout": timeout.String(),
		})
		return Output{}, NewFrameworkError("concurrency.RunWithTimeout", KindTimeout, runCtx.Err())
	}
}

func (c *ConcurrencyManager) register(cancel context.CancelFunc) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.tasks[id] = cancel
	return id
}

func (c *ConcurrencyManager) unregister(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.tasks[id]; ok {
		cancel()
		delete(c.tasks, id)
	}
}

// Shutdown cancels every outstanding task and prevents new admissions.
func (c *ConcurrencyManager) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, cancel := range c.tasks {
		cancel()
		delete(c.tasks, id)
	}
}

// ActiveCount reports the number of currently outstanding tasks, used by
// tests and diagnostics.
func (c *ConcurrencyManager) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}
