package starlark

import (
	"context"
	"log/slog"
	"sync"

	"go.starlark.net/starlark"
)

// ThreadPool manages a pool of Starlark threads.
// A compiled parser serves concurrent parses; each parse borrows a thread.
type ThreadPool struct {
	mu      sync.Mutex
	threads []*starlark.Thread
	maxSize int
	logger  *slog.Logger
}

// NewThreadPool creates a new thread pool with the specified maximum size.
// Output of Starlark print() is sent to logger at debug level.
func NewThreadPool(maxSize int, logger *slog.Logger) *ThreadPool {
	if maxSize <= 0 {
		maxSize = 10 // default pool size
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ThreadPool{
		threads: make([]*starlark.Thread, 0, maxSize),
		maxSize: maxSize,
		logger:  logger,
	}
}

// Get retrieves a thread from the pool or creates a new one.
// The thread name is used for error reporting.
func (p *ThreadPool) Get(name string) *starlark.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) > 0 {
		thread := p.threads[len(p.threads)-1]
		p.threads = p.threads[:len(p.threads)-1]
		thread.Name = name
		return thread
	}

	return NewThread(name, p.logger)
}

// Put returns a thread to the pool for reuse.
// If the pool is full, the thread is discarded.
func (p *ThreadPool) Put(thread *starlark.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) < p.maxSize {
		// Clear any state that might leak between uses
		thread.Name = ""
		thread.Uncancel()
		p.threads = append(p.threads, thread)
	}
}

// Size returns the current number of threads in the pool.
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// NewThread creates a standalone thread whose print() output goes to logger.
func NewThread(name string, logger *slog.Logger) *starlark.Thread {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &starlark.Thread{
		Name: name,
		Print: func(t *starlark.Thread, msg string) {
			logger.Debug("starlark print", "thread", t.Name, "msg", msg)
		},
	}
}

// CancelOnDone cancels thread when ctx is done. The returned function must
// be called once the thread is no longer in use; after it returns the
// thread will not be cancelled.
func CancelOnDone(ctx context.Context, thread *starlark.Thread) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
