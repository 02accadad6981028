// Package native builds GMP, MPFR and MPC from vendored sources.
package native

import (
	"os"
	"path/filepath"

	"github.com/Norgate-AV/gmpbuild/internal/env"
)

// Library describes one native library and where its build leaves artifacts
type Library struct {
	// Short name, also the static link name (-lgmp)
	Name string

	// Vendored source directory (or archive stem) below the source dir
	Source string

	LibFile string
	Header  string

	// Artifact locations relative to the scratch directory
	BuiltLib    string
	BuiltHeader string

	// configure flags; paths are relative to the library's build directory
	ConfigureArgs []string
}

var (
	GMP = Library{
		Name:        "gmp",
		Source:      "gmp-6.1.2",
		LibFile:     "libgmp.a",
		Header:      "gmp.h",
		BuiltLib:    filepath.Join("gmp-build", ".libs", "libgmp.a"),
		BuiltHeader: filepath.Join("gmp-build", "gmp.h"),
		ConfigureArgs: []string{
			"--enable-fat",
			"--disable-shared",
			"--with-pic",
		},
	}

	MPFR = Library{
		Name:        "mpfr",
		Source:      "mpfr-4.0.0",
		LibFile:     "libmpfr.a",
		Header:      "mpfr.h",
		BuiltLib:    filepath.Join("mpfr-build", "src", ".libs", "libmpfr.a"),
		BuiltHeader: filepath.Join("mpfr-src", "src", "mpfr.h"),
		ConfigureArgs: []string{
			"--enable-thread-safe",
			"--disable-shared",
			"--with-pic",
			"--with-gmp-build=../gmp-build",
		},
	}

	MPC = Library{
		Name:        "mpc",
		Source:      "mpc-1.1.0",
		LibFile:     "libmpc.a",
		Header:      "mpc.h",
		BuiltLib:    filepath.Join("mpc-build", "src", ".libs", "libmpc.a"),
		BuiltHeader: filepath.Join("mpc-src", "src", "mpc.h"),
		ConfigureArgs: []string{
			"--disable-shared",
			"--with-pic",
			"--with-mpfr-include=../mpfr-src/src",
			"--with-mpfr-lib=../mpfr-build/src/.libs",
			"--with-gmp-include=../gmp-build",
			"--with-gmp-lib=../gmp-build/.libs",
		},
	}
)

// Enabled returns the libraries to build in dependency order
func Enabled(e *env.Environment) []Library {
	libs := []Library{GMP}
	if e.MPFR || e.MPC {
		libs = append(libs, MPFR)
	}

	if e.MPC {
		libs = append(libs, MPC)
	}

	return libs
}

// SrcDir is the staged source directory name in the scratch tree
func (l Library) SrcDir() string {
	return l.Name + "-src"
}

// BuildDir is the build directory name in the scratch tree
func (l Library) BuildDir() string {
	return l.Name + "-build"
}

// Pair is the installed static library and header of a library
type Pair struct {
	Lib    string
	Header string
}

// PairIn returns l's artifact pair in the output directories of e
func (l Library) PairIn(e *env.Environment) Pair {
	return Pair{
		Lib:    filepath.Join(e.LibDir, l.LibFile),
		Header: filepath.Join(e.IncludeDir, l.Header),
	}
}

// Exists reports whether both files of the pair exist
func (p Pair) Exists() bool {
	return fileExists(p.Lib) && fileExists(p.Header)
}

// Satisfied reports whether every library in libs is already built in e
func Satisfied(e *env.Environment, libs []Library) bool {
	for _, l := range libs {
		if !l.PairIn(e).Exists() {
			return false
		}
	}

	return true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
