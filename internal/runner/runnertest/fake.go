// Package runnertest provides a recording runner.Runner for tests.
package runnertest

import (
	"context"
	"sync"

	"github.com/Norgate-AV/gmpbuild/internal/failure"
	"github.com/Norgate-AV/gmpbuild/internal/runner"
)

// Handler simulates one command. It may create files, return output, or fail.
type Handler func(c *runner.Command) ([]byte, error)

// Fake records every command it is asked to run
type Fake struct {
	Handler Handler

	mu    sync.Mutex
	calls []*runner.Command
}

// New creates a fake runner with the given handler; nil succeeds silently
func New(h Handler) *Fake {
	return &Fake{Handler: h}
}

// Run records c and invokes the handler
func (f *Fake) Run(ctx context.Context, c *runner.Command) error {
	_, err := f.Output(ctx, c)
	return err
}

// Output records c and returns the handler's output
func (f *Fake) Output(ctx context.Context, c *runner.Command) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.Handler == nil {
		return nil, nil
	}

	return f.Handler(c)
}

// Calls returns the recorded commands in order
func (f *Fake) Calls() []*runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*runner.Command(nil), f.calls...)
}

// Commands returns the recorded command lines in order
func (f *Fake) Commands() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}

	return out
}

// Exit builds the error a real runner returns for a non-zero exit
func Exit(c *runner.Command, code int) error {
	return &failure.CommandError{Name: c.Name, Args: c.Args, Dir: c.Dir, ExitCode: code}
}
