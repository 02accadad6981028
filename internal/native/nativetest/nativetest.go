// Package nativetest simulates vendored sources and autotools builds.
package nativetest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Norgate-AV/gmpbuild/internal/runner"
	"github.com/Norgate-AV/gmpbuild/internal/runner/runnertest"
)

// GMPHeader is a trimmed gmp.h as written by GMP's configure
const GMPHeader = `/* Definitions for GNU multiple precision functions.   -*- mode: c -*- */
#ifndef __GMP_H__
#if defined (__cplusplus)
#include <iosfwd>
#endif
/* #undef _LONG_LONG_LIMB */
#define GMP_LIMB_BITS                      64
#define GMP_NAIL_BITS                      0
#define __GMP_CC "gcc"
#define __GMP_CFLAGS "-O2 -pedantic -fomit-frame-pointer -m64 -mtune=generic"
#endif /* __GMP_H__ */
`

// Vendor creates minimal gmp, mpfr and mpc source trees in srcDir
func Vendor(t testing.TB, srcDir string) {
	t.Helper()

	trees := map[string][]string{
		"gmp-6.1.2":  {"configure"},
		"mpfr-4.0.0": {"configure", filepath.Join("src", "mpfr.h")},
		"mpc-1.1.0":  {"configure", filepath.Join("src", "mpc.h")},
	}

	for dir, files := range trees {
		for _, f := range files {
			path := filepath.Join(srcDir, dir, f)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				t.Fatal(err)
			}

			if err := os.WriteFile(path, []byte("/* "+dir+" "+f+" */\n"), 0o755); err != nil {
				t.Fatal(err)
			}
		}
	}
}

// Autotools simulates configure and make for libraries built below buildRoot.
// configure writes a Makefile (and gmp.h for GMP); make writes the static library.
// Commands whose line contains fail return exit code 2.
func Autotools(buildRoot string, fail string) runnertest.Handler {
	return func(c *runner.Command) ([]byte, error) {
		if fail != "" && strings.Contains(c.String(), fail) {
			return nil, runnertest.Exit(c, 2)
		}

		lib := strings.TrimSuffix(filepath.Base(c.Dir), "-build")

		switch {
		case strings.HasSuffix(c.Name, "sh") && len(c.Args) == 2 && strings.Contains(c.Args[1], "/configure"):
			if err := os.WriteFile(filepath.Join(c.Dir, "Makefile"), []byte("all:\nSUBDIRS = src doc tests\n"), 0o644); err != nil {
				return nil, err
			}

			if lib == "gmp" {
				return nil, os.WriteFile(filepath.Join(c.Dir, "gmp.h"), []byte(GMPHeader), 0o644)
			}
		case c.Name == "make" && !contains(c.Args, "check"):
			libDir := filepath.Join(c.Dir, "src", ".libs")
			if lib == "gmp" {
				libDir = filepath.Join(c.Dir, ".libs")
			}

			if err := os.MkdirAll(libDir, 0o755); err != nil {
				return nil, err
			}

			body := fmt.Sprintf("!<arch>\n%s built in %s\n", lib, filepath.Base(buildRoot))
			return nil, os.WriteFile(filepath.Join(libDir, "lib"+lib+".a"), []byte(body), 0o644)
		}

		return nil, nil
	}
}

func contains(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}

	return false
}
