package scanning

import (
	"context"
	"fmt"
)

// Dispatcher drives one scan's tasks to completion and publishes their
// terminal results. *scheduler.Scheduler is the production implementation;
// Runner depends only on this much of it so this package never imports
// scheduler (which imports scanning, and would otherwise cycle).
type Dispatcher interface {
	Run(ctx context.Context) error
	Results() <-chan ScanResult
}

// Runner drives one scan end-to-end and republishes results as they
// complete. It holds no scan-specific state of its own: target expansion,
// engine selection, rate limiting, and capture all live in the Dispatcher
// the caller constructs and hands in.
type Runner struct {
	dispatcher Dispatcher
}

// NewRunner wraps a configured Dispatcher as a Runner.
func NewRunner(d Dispatcher) *Runner {
	return &Runner{dispatcher: d}
}

// Execute runs the scan to completion, invoking onResult for every
// terminal ScanResult as it arrives. It blocks until the dispatcher's
// Results channel closes, then returns the dispatcher's terminal error (if
// ctx wasn't the cause of it).
func (r *Runner) Execute(ctx context.Context, onResult func(ScanResult)) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.dispatcher.Run(ctx) }()

	for res := range r.dispatcher.Results() {
		onResult(res)
	}

	if err := <-errCh; err != nil && ctx.Err() == nil {
		return fmt.Errorf("scanning: run: %w", err)
	}
	return nil
}
