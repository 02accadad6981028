package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/failure"
	"github.com/Norgate-AV/gmpbuild/internal/log"
	"github.com/Norgate-AV/gmpbuild/internal/runner"
	"github.com/Norgate-AV/gmpbuild/internal/stage"
)

// Pipeline runs configure, make and make check for each library
type Pipeline struct {
	env    *env.Environment
	runner runner.Runner
	log    *log.Logger
}

// NewPipeline creates a pipeline for e
func NewPipeline(e *env.Environment, r runner.Runner, logger *log.Logger) *Pipeline {
	return &Pipeline{env: e, runner: r, log: logger}
}

// Build rebuilds every library in libs, in order, inside a fresh scratch
// directory. Artifacts are copied to the output directories only after all
// libraries have built. A failed copy removes the files already copied, so
// a failure never leaves a partial set behind.
func (p *Pipeline) Build(ctx context.Context, libs []Library) error {
	if err := p.resetScratch(); err != nil {
		return failure.New(failure.Build, "scratch", err)
	}

	canLink := p.env.CanSymlink() && stage.SymlinkSupported(p.env.BuildDir)

	for _, lib := range libs {
		if err := p.buildLibrary(ctx, lib, canLink); err != nil {
			return failure.New(failure.Build, lib.Name, err)
		}
	}

	var copied []string
	for _, lib := range libs {
		done, err := p.promote(lib)
		copied = append(copied, done...)
		if err != nil {
			p.rollback(copied)
			return failure.New(failure.Build, lib.Name, err)
		}
	}

	return nil
}

// BuildWorkaround compiles the MinGW shim into the output library directory
func (p *Pipeline) BuildWorkaround(ctx context.Context) error {
	dir := filepath.Join(p.env.BuildDir, "workaround")
	if err := os.RemoveAll(dir); err != nil {
		return failure.New(failure.Build, Workaround, err)
	}

	archive, err := CompileWorkaround(ctx, p.runner, p.env, dir)
	if err != nil {
		return failure.New(failure.Build, Workaround, err)
	}

	if err := stage.CopyFile(archive, filepath.Join(p.env.LibDir, WorkaroundLibFile())); err != nil {
		return failure.New(failure.Build, Workaround, fmt.Errorf("failed to copy %s: %w", WorkaroundLibFile(), err))
	}

	return nil
}

// Cleanup removes the scratch directory unless the environment keeps it
func (p *Pipeline) Cleanup() {
	if p.env.KeepBuild {
		p.log.Info("keeping build directory", zap.String("dir", p.env.BuildDir))
		return
	}

	if err := os.RemoveAll(p.env.BuildDir); err != nil {
		p.log.Warn("failed to remove build directory", zap.String("dir", p.env.BuildDir), zap.Error(err))
	}
}

func (p *Pipeline) resetScratch() error {
	if err := os.RemoveAll(p.env.BuildDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", p.env.BuildDir, err)
	}

	return os.MkdirAll(p.env.BuildDir, 0o755)
}

func (p *Pipeline) buildLibrary(ctx context.Context, lib Library, canLink bool) error {
	src, err := stage.Locate(p.env.SrcDir, lib.Source)
	if err != nil {
		return err
	}

	logger := p.log.With(zap.String("lib", lib.Name))

	stager := stage.Select(src, canLink)
	srcDir := filepath.Join(p.env.BuildDir, lib.SrcDir())
	logger.Info("staging source", zap.String("from", src), zap.String("stager", stager.Name()))

	if err := stager.Stage(src, srcDir); err != nil {
		return err
	}

	buildDir := filepath.Join(p.env.BuildDir, lib.BuildDir())
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return err
	}

	if err := p.runner.Run(ctx, p.configureCommand(lib, buildDir)); err != nil {
		return err
	}

	if err := RemoveDocFromMakefile(filepath.Join(buildDir, "Makefile")); err != nil {
		return err
	}

	if err := p.runner.Run(ctx, p.makeCommand(buildDir)); err != nil {
		return err
	}

	if p.env.Test {
		if err := p.runner.Run(ctx, p.makeCommand(buildDir, "check")); err != nil {
			return err
		}
	}

	for _, rel := range []string{lib.BuiltLib, lib.BuiltHeader} {
		if !fileExists(filepath.Join(p.env.BuildDir, rel)) {
			return fmt.Errorf("expected build output %s is missing", rel)
		}
	}

	logger.Debug("library built", zap.String("dir", buildDir))

	return nil
}

// promote copies lib's built pair into the output directories and returns
// the destinations written
func (p *Pipeline) promote(lib Library) ([]string, error) {
	pair := lib.PairIn(p.env)

	var done []string
	files := []struct{ src, dst, name string }{
		{lib.BuiltLib, pair.Lib, lib.LibFile},
		{lib.BuiltHeader, pair.Header, lib.Header},
	}

	for _, f := range files {
		if err := stage.CopyFile(filepath.Join(p.env.BuildDir, f.src), f.dst); err != nil {
			return done, fmt.Errorf("failed to copy %s: %w", f.name, err)
		}
		done = append(done, f.dst)
	}

	return done, nil
}

func (p *Pipeline) rollback(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.log.Warn("failed to remove promoted file", zap.String("path", path), zap.Error(err))
		}
	}
}

func (p *Pipeline) configureCommand(lib Library, buildDir string) *runner.Command {
	script := strings.Join(append([]string{"../" + lib.SrcDir() + "/configure"}, lib.ConfigureArgs...), " ")
	return runner.NewCommand(buildDir, p.env.Shell, "-c", script)
}

func (p *Pipeline) makeCommand(buildDir string, targets ...string) *runner.Command {
	args := append([]string{"-j", strconv.Itoa(p.env.Jobs)}, targets...)
	return runner.NewCommand(buildDir, p.env.Make, args...)
}
