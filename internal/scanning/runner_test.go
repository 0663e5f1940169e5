package scanning

import (
	"context"
	"testing"
)

type fakeDispatcher struct {
	results chan ScanResult
	runErr  error
}

func (f *fakeDispatcher) Run(ctx context.Context) error {
	close(f.results)
	return f.runErr
}

func (f *fakeDispatcher) Results() <-chan ScanResult { return f.results }

func TestRunnerExecuteDeliversResultsAndReturnsError(t *testing.T) {
	f := &fakeDispatcher{results: make(chan ScanResult, 2)}
	f.results <- ScanResult{State: StateOpen}
	f.results <- ScanResult{State: StateClosed}

	r := NewRunner(f)
	var got []ScanResult
	err := r.Execute(context.Background(), func(res ScanResult) { got = append(got, res) })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
}

func TestRunnerExecutePropagatesDispatcherError(t *testing.T) {
	f := &fakeDispatcher{results: make(chan ScanResult), runErr: context.DeadlineExceeded}
	r := NewRunner(f)
	err := r.Execute(context.Background(), func(ScanResult) {})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRunnerExecuteSuppressesErrorOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeDispatcher{results: make(chan ScanResult), runErr: context.Canceled}
	cancel()
	r := NewRunner(f)
	if err := r.Execute(ctx, func(ScanResult) {}); err != nil {
		t.Fatalf("expected nil error when ctx already canceled, got %v", err)
	}
}
