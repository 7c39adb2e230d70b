package orchestration

import (
	"context"
	"log/slog"
	"sync"
)

// BackgroundTaskRunner runs work that should not delay the caller's turn,
// such as token usage bookkeeping. The host chooses the runner; the engine
// never inspects its environment to decide.
type BackgroundTaskRunner interface {
	// Run executes task. Implementations decide whether Run waits for it.
	Run(ctx context.Context, name string, task func(context.Context) error) error
}

// InlineRunner runs each task synchronously and returns its error. Use it
// where the process may be frozen as soon as the response is written.
type InlineRunner struct{}

// Run executes task and waits for it.
func (InlineRunner) Run(ctx context.Context, _ string, task func(context.Context) error) error {
	return task(ctx)
}

// AsyncRunner runs each task on its own goroutine and returns immediately.
// Tasks see a context that keeps the caller's values but is not canceled
// with it. Failures are logged.
type AsyncRunner struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAsyncRunner creates an AsyncRunner. A nil logger uses slog.Default().
func NewAsyncRunner(logger *slog.Logger) *AsyncRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncRunner{logger: logger}
}

// Run starts task in the background and returns nil.
func (r *AsyncRunner) Run(ctx context.Context, name string, task func(context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := task(detached); err != nil {
			r.logger.Warn("background task failed", "task", name, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every started task has finished.
func (r *AsyncRunner) Wait() {
	r.wg.Wait()
}
