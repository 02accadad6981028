// Package orchestrator drives one build from probe to link directives.
package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Norgate-AV/gmpbuild/internal/cache"
	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/header"
	"github.com/Norgate-AV/gmpbuild/internal/link"
	"github.com/Norgate-AV/gmpbuild/internal/log"
	"github.com/Norgate-AV/gmpbuild/internal/native"
	"github.com/Norgate-AV/gmpbuild/internal/probe"
	"github.com/Norgate-AV/gmpbuild/internal/runner"
	"github.com/Norgate-AV/gmpbuild/internal/utils"
)

// Source says where the installed artifacts came from
type Source int

const (
	// Existing artifacts were already in the output directory
	Existing Source = iota

	// Cached artifacts were restored from the cache
	Cached

	// Built artifacts were compiled from the vendored sources
	Built
)

func (s Source) String() string {
	switch s {
	case Existing:
		return "existing"
	case Cached:
		return "cache"
	case Built:
		return "built"
	default:
		return "unknown"
	}
}

// Result summarises a finished build
type Result struct {
	Source     Source
	Workaround bool
	Facts      header.Facts
	Directives link.Directives

	// Stored is set when the cache received a new entry
	Stored bool
}

// Orchestrator runs builds for one environment
type Orchestrator struct {
	env    *env.Environment
	runner runner.Runner
	log    *log.Logger

	// Directive lines are written here
	stdout io.Writer
}

// New creates an orchestrator
func New(e *env.Environment, r runner.Runner, logger *log.Logger, stdout io.Writer) *Orchestrator {
	return &Orchestrator{env: e, runner: r, log: logger, stdout: stdout}
}

// Run makes the enabled libraries available in the output directory,
// writes the generated Go files and prints the link directives.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	e := o.env
	res := &Result{}

	probed, err := probe.New(e, o.runner, o.log).Probe(ctx)
	if err != nil {
		return nil, err
	}
	res.Workaround = probed.Workaround

	pipeline := native.NewPipeline(e, o.runner, o.log)
	defer pipeline.Cleanup()

	var c *cache.Cache
	if e.CacheEnabled() {
		c = cache.New(e.CacheDir, o.log)
	}

	libs := native.Enabled(e)
	switch {
	case native.Satisfied(e, libs):
		res.Source = Existing
		if c != nil {
			if _, ok := c.Find(e, libs); !ok {
				res.Stored = o.store(c, libs)
			}
		}
	case c != nil && c.Lookup(e, libs):
		res.Source = Cached
	default:
		if err := pipeline.Build(ctx, libs); err != nil {
			o.log.Error("native build failed", zap.Error(err))
			return nil, err
		}

		res.Source = Built
		if c != nil {
			res.Stored = o.store(c, libs)
		}
	}

	o.log.Info("libraries ready", zap.Stringer("source", res.Source), zap.Int("count", len(libs)))

	if res.Workaround && !fileExists(filepath.Join(e.LibDir, native.WorkaroundLibFile())) {
		if err := pipeline.BuildWorkaround(ctx); err != nil {
			return nil, err
		}
	}

	facts, err := header.Introspect(native.GMP.PairIn(e).Header)
	if err != nil {
		return nil, err
	}
	res.Facts = facts

	if err := header.WriteFacts(filepath.Join(e.OutDir, header.FactsFile), e.FactsPackage, facts); err != nil {
		return nil, err
	}

	var toolchain string
	if e.Platform == utils.MinGW && e.MPFR {
		toolchain = probe.ToolchainVersion(ctx, o.runner, e)
		o.log.Debug("host toolchain", zap.String("version", toolchain))
	}

	res.Directives = link.Emit(e, facts.LimbBits, res.Workaround, toolchain)
	if err := res.Directives.WriteCgo(filepath.Join(e.OutDir, link.CgoFile), e.FactsPackage); err != nil {
		return nil, err
	}

	if err := res.Directives.Write(o.stdout); err != nil {
		return nil, err
	}

	return res, nil
}

// store writes the current artifacts to the cache and prunes what they supersede
func (o *Orchestrator) store(c *cache.Cache, libs []native.Library) bool {
	if !c.Store(o.env, libs) {
		return false
	}

	c.Prune(cache.KeyFor(o.env), o.env.MPFR, o.env.MPC)
	return true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
