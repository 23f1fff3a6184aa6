package api

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is the background unit running the HTTP server and, in query
// topologies, the update loop. When either finishes, with or without an
// error, the other is cancelled and the task completes.
type Task struct { // A
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func spawn(parent context.Context, runners ...func(context.Context) error) *Task { // A
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)

	for _, run := range runners {
		run := run
		g.Go(func() error {
			defer cancel()
			return run(gctx)
		})
	}

	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		t.err = g.Wait()
		cancel()
		close(t.done)
	}()
	return t
}

// Wait blocks until the task has finished and returns the first error any
// of its parts returned.
func (t *Task) Wait() error { // A
	<-t.done
	return t.err
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { // A
	return t.done
}

// Stop cancels the task and waits for it.
func (t *Task) Stop() error { // A
	t.cancel()
	return t.Wait()
}
