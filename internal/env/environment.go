// Package env resolves the immutable build environment.
//
// Resolve is the only constructor; the returned Environment is shared by
// reference with every component and never modified afterwards.
package env

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Norgate-AV/gmpbuild/internal/config"
	"github.com/Norgate-AV/gmpbuild/internal/failure"
	"github.com/Norgate-AV/gmpbuild/internal/utils"
)

// DefaultCacheName is the directory created under the user cache directory
const DefaultCacheName = "gmp-mpfr-sys"

// ReleaseProfile enables make check unless opted out
const ReleaseProfile = "release"

var userCacheDir = os.UserCacheDir

// Environment is the configuration snapshot of one build
type Environment struct {
	// Host compiler driver and native tools
	Toolchain string
	CC        string
	AR        string
	Make      string
	Shell     string

	Host     string
	Target   string
	Platform utils.Platform

	OutDir     string
	LibDir     string
	IncludeDir string
	BuildDir   string
	SrcDir     string

	// Empty when caching is disabled
	CacheDir string

	Jobs int

	// Run make check after each native build
	Test bool

	Version       string
	VersionPrefix string
	Patch         *uint64

	MPFR bool
	MPC  bool

	KeepBuild    bool
	FactsPackage string
}

// Resolve validates cfg and derives the build environment.
// It creates the lib and include output directories.
func Resolve(cfg *config.Config) (*Environment, error) {
	if cfg.Host != cfg.Target {
		return nil, failure.Newf(failure.Config, "resolve", "cross compilation is not supported (host %s, target %s)", cfg.Host, cfg.Target)
	}

	platform := utils.ClassifyTarget(cfg.Target)
	if platform == utils.MSVC {
		return nil, failure.Newf(failure.Config, "resolve", "target %s is not supported: static GMP/MPFR/MPC libraries cannot be linked with the MSVC toolchain", cfg.Target)
	}

	prefix, patch, err := utils.SplitVersion(cfg.Version)
	if err != nil {
		return nil, failure.New(failure.Config, "resolve", err)
	}

	e := &Environment{
		Toolchain:     cfg.Toolchain,
		CC:            cfg.CC,
		AR:            cfg.AR,
		Make:          cfg.Make,
		Shell:         cfg.Shell,
		Host:          cfg.Host,
		Target:        cfg.Target,
		Platform:      platform,
		OutDir:        cfg.OutDir,
		LibDir:        filepath.Join(cfg.OutDir, "lib"),
		IncludeDir:    filepath.Join(cfg.OutDir, "include"),
		BuildDir:      filepath.Join(cfg.OutDir, "build"),
		SrcDir:        cfg.SrcDir,
		CacheDir:      CacheDir(cfg),
		Jobs:          cfg.Jobs,
		Test:          cfg.CTest || (!cfg.CNoTest && cfg.Profile == ReleaseProfile),
		Version:       cfg.Version,
		VersionPrefix: prefix,
		Patch:         patch,
		MPFR:          cfg.MPFR || cfg.MPC,
		MPC:           cfg.MPC,
		KeepBuild:     cfg.KeepBuild,
		FactsPackage:  cfg.FactsPackage,
	}

	for _, dir := range []string{e.LibDir, e.IncludeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, failure.New(failure.Config, "resolve", fmt.Errorf("failed to create output directory: %w", err))
		}
	}

	return e, nil
}

// CacheDir returns the artifact cache root selected by cfg, or "" when
// caching is disabled
func CacheDir(cfg *config.Config) string {
	if cfg.NoCache {
		return ""
	}

	if cfg.CacheDirSet {
		return cfg.CacheDir
	}

	dir, err := userCacheDir()
	if err != nil || dir == "" {
		return ""
	}

	return filepath.Join(dir, DefaultCacheName)
}

// CacheEnabled reports whether an artifact cache is configured
func (e *Environment) CacheEnabled() bool {
	return e.CacheDir != ""
}

// CanSymlink reports whether vendor sources may be staged with a symlink
func (e *Environment) CanSymlink() bool {
	return e.Platform != utils.MinGW
}
