// Package failure defines the error taxonomy of a build.
//
// Every fatal condition is reported as an *Error carrying a Kind, so callers
// can tell configuration mistakes from native build failures without parsing
// messages. Cache problems never reach this package: they are logged and
// swallowed by the cache itself.
package failure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Norgate-AV/gmpbuild/internal/codes"
)

// Kind classifies a fatal build error
type Kind int

const (
	// Config covers missing inputs, cross compilation, MSVC targets and
	// malformed versions
	Config Kind = iota + 1

	// Probe covers toolchain probes that could not be run at all
	Probe

	// Build covers configure, make, check and copy failures
	Build

	// Introspect covers markers missing from the generated GMP header
	Introspect
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "configuration error"
	case Probe:
		return "toolchain probe error"
	case Build:
		return "native build error"
	case Introspect:
		return "header introspection error"
	default:
		return "error"
	}
}

// Error is a fatal build error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates an error of the given kind from a format string
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether any error in err's chain is an *Error of kind k
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}

	return false
}

// CommandError records an external command that failed.
// ExitCode is -1 when the process could not be started or did not exit normally.
type CommandError struct {
	Name     string
	Args     []string
	Dir      string
	ExitCode int
	Err      error
}

// Command returns the command line as it was logged
func (e *CommandError) Command() string {
	return strings.TrimSpace(e.Name + " " + strings.Join(e.Args, " "))
}

func (e *CommandError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("command %q failed to run: %v", e.Command(), e.Err)
	}

	if codes.IsSignal(e.ExitCode) {
		return fmt.Sprintf("command %q killed by signal %d (%s)", e.Command(), e.ExitCode-128, codes.GetErrorMessage(e.ExitCode))
	}

	return fmt.Sprintf("command %q failed with exit code %d (%s)", e.Command(), e.ExitCode, codes.GetErrorMessage(e.ExitCode))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode extracts the exit code of a failed command from err's chain
func ExitCode(err error) (int, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode, true
	}

	return 0, false
}
