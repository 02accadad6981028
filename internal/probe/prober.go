// Package probe detects host toolchain defects with throwaway builds.
//
// The only defect probed today is the MinGW link failure on __acrt_iob_func
// (golang/go#47048): a cgo program linking a static library that touches
// stderr fails to link against older CRT import libraries.
package probe

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/failure"
	"github.com/Norgate-AV/gmpbuild/internal/log"
	"github.com/Norgate-AV/gmpbuild/internal/native"
	"github.com/Norgate-AV/gmpbuild/internal/runner"
	"github.com/Norgate-AV/gmpbuild/internal/utils"
)

var (
	//go:embed csrc/testlib.c
	testlibSource []byte

	//go:embed csrc/testmain.c
	testmainSource []byte

	//go:embed csrc/main.go.tmpl
	mainTemplateText string

	mainTemplate = template.Must(template.New("main.go").Parse(mainTemplateText))
)

const (
	controlExe = "testmain.exe"
	probeExe   = "probe.exe"
	probeMod   = "module gmpbuildprobe\n\ngo 1.18\n"
)

// Result is the outcome of probing the toolchain
type Result struct {
	// Workaround is set when the __acrt_iob_func shim must be built and linked
	Workaround bool
}

// Prober runs toolchain probes for one environment
type Prober struct {
	env    *env.Environment
	runner runner.Runner
	log    *log.Logger
}

// New creates a prober
func New(e *env.Environment, r runner.Runner, logger *log.Logger) *Prober {
	return &Prober{env: e, runner: r, log: logger}
}

// Probe checks the toolchain for known defects. It is a no-op returning an
// empty Result on every platform other than MinGW.
func (p *Prober) Probe(ctx context.Context) (Result, error) {
	if p.env.Platform != utils.MinGW {
		return Result{}, nil
	}

	dir, err := os.MkdirTemp(p.env.OutDir, "probe-")
	if err != nil {
		return Result{}, failure.New(failure.Probe, "scratch", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			p.log.Warn("failed to remove probe directory", zap.String("dir", dir), zap.Error(err))
		}
	}()

	if err := p.control(ctx, dir); err != nil {
		return Result{}, failure.New(failure.Probe, "control", err)
	}

	err = p.hostProgram(ctx, dir)
	if err == nil {
		p.log.Debug("toolchain links testlib without workaround")
		return Result{}, nil
	}

	p.log.Info("toolchain link defect detected", zap.String("workaround", native.Workaround), zap.Error(err))

	if _, err := native.CompileWorkaround(ctx, p.runner, p.env, dir); err != nil {
		return Result{}, failure.New(failure.Probe, native.Workaround, err)
	}

	if err := p.hostProgram(ctx, dir, native.Workaround); err != nil {
		return Result{}, failure.New(failure.Probe, native.Workaround, fmt.Errorf("program still fails with workaround: %w", err))
	}

	return Result{Workaround: true}, nil
}

// control builds libtestlib.a and proves a C-only program can use it
func (p *Prober) control(ctx context.Context, dir string) error {
	files := map[string][]byte{
		"testlib.c":  testlibSource,
		"testmain.c": testmainSource,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	steps := []*runner.Command{
		runner.NewCommand(dir, p.env.CC, "-c", "testlib.c", "-o", "testlib.o"),
		runner.NewCommand(dir, p.env.AR, "cr", "libtestlib.a", "testlib.o"),
		runner.NewCommand(dir, p.env.CC, "testmain.c", "-L.", "-ltestlib", "-o", controlExe),
		runner.NewCommand(dir, filepath.Join(dir, controlExe)),
	}

	for _, c := range steps {
		if err := p.runner.Run(ctx, c); err != nil {
			return err
		}
	}

	return nil
}

// hostProgram builds and runs a cgo program linking testlib and any extra libraries
func (p *Prober) hostProgram(ctx context.Context, dir string, extra ...string) error {
	var src bytes.Buffer
	if err := mainTemplate.Execute(&src, struct{ Extra []string }{extra}); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, "main.go"), src.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write main.go: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(probeMod), 0o644); err != nil {
		return fmt.Errorf("failed to write go.mod: %w", err)
	}

	build := runner.NewCommand(dir, p.env.Toolchain, "build", "-o", probeExe, ".").
		WithEnv("CGO_ENABLED=1", "CC="+p.env.CC, "GOWORK=off", "GOFLAGS=-mod=mod")
	if err := p.runner.Run(ctx, build); err != nil {
		return err
	}

	return p.runner.Run(ctx, runner.NewCommand(dir, filepath.Join(dir, probeExe)))
}

// ToolchainVersion asks the host toolchain for its release tag (go1.22.3).
// An empty string means the version is unknown.
func ToolchainVersion(ctx context.Context, r runner.Runner, e *env.Environment) string {
	out, err := r.Output(ctx, runner.NewCommand(e.OutDir, e.Toolchain, "env", "GOVERSION"))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(out))
}
