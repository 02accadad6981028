// Package runner executes the external programs of a build.
//
// Every external process is spawned and waited on before the caller
// continues. A non-zero exit or a failure to start becomes a
// *failure.CommandError carrying the command line and exit code.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/Norgate-AV/gmpbuild/internal/failure"
	"github.com/Norgate-AV/gmpbuild/internal/log"
)

// Commander interface for testing
type Commander interface {
	Run() error
}

// Outputter is a Commander that can capture stdout
type Outputter interface {
	Commander
	Output() ([]byte, error)
}

// Command describes one external process
type Command struct {
	Name string
	Args []string
	Dir  string

	// Extra environment entries appended to the current environment
	Env []string
}

// NewCommand creates a command run in dir
func NewCommand(dir, name string, args ...string) *Command {
	return &Command{Name: name, Args: args, Dir: dir}
}

// WithEnv returns c with extra KEY=VALUE entries
func (c *Command) WithEnv(env ...string) *Command {
	c.Env = append(c.Env, env...)
	return c
}

// String renders the command the way it is logged
func (c *Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner runs commands to completion
type Runner interface {
	Run(ctx context.Context, c *Command) error
	Output(ctx context.Context, c *Command) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer

	log         *log.Logger
	execCommand func(ctx context.Context, name string, args ...string) Commander
}

// New creates a runner forwarding child output to stdout and stderr
func New(logger *log.Logger, stdout, stderr io.Writer) *ExecRunner {
	return &ExecRunner{
		Stdout: stdout,
		Stderr: stderr,
		log:    logger,
		execCommand: func(ctx context.Context, name string, args ...string) Commander {
			return exec.CommandContext(ctx, name, args...)
		},
	}
}

// Run executes c and waits for it to exit
func (r *ExecRunner) Run(ctx context.Context, c *Command) error {
	r.log.Info("$ "+c.String(), zap.String("dir", c.Dir))

	cmd := r.prepare(ctx, c)
	if ec, ok := cmd.(*exec.Cmd); ok {
		ec.Stdout = r.Stdout
		ec.Stderr = r.Stderr
	}

	return toCommandError(c, cmd.Run())
}

// Output executes c and returns its stdout
func (r *ExecRunner) Output(ctx context.Context, c *Command) ([]byte, error) {
	r.log.Debug("$ "+c.String(), zap.String("dir", c.Dir))

	cmd := r.prepare(ctx, c)
	if ec, ok := cmd.(*exec.Cmd); ok {
		ec.Stderr = r.Stderr
	}

	o, ok := cmd.(Outputter)
	if !ok {
		return nil, toCommandError(c, fmt.Errorf("command cannot capture output"))
	}

	out, err := o.Output()
	return out, toCommandError(c, err)
}

func (r *ExecRunner) prepare(ctx context.Context, c *Command) Commander {
	cmd := r.execCommand(ctx, c.Name, c.Args...)
	if ec, ok := cmd.(*exec.Cmd); ok {
		ec.Dir = c.Dir
		if len(c.Env) > 0 {
			ec.Env = append(os.Environ(), c.Env...)
		}
	}

	return cmd
}

func toCommandError(c *Command, err error) error {
	if err == nil {
		return nil
	}

	ce := &failure.CommandError{
		Name:     c.Name,
		Args:     c.Args,
		Dir:      c.Dir,
		ExitCode: -1,
		Err:      err,
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ce.ExitCode = exitErr.ExitCode()
	}

	return ce
}
