package native

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/runner"
)

// Workaround is the link name of the MinGW __acrt_iob_func shim
const Workaround = "workaround_47048"

// WorkaroundSource is the C translation unit of the shim
//
//go:embed csrc/workaround_47048.c
var WorkaroundSource []byte

// WorkaroundLibFile is the archive file name of the shim
func WorkaroundLibFile() string {
	return "lib" + Workaround + ".a"
}

// CompileWorkaround compiles and archives the shim in dir and returns the archive path
func CompileWorkaround(ctx context.Context, r runner.Runner, e *env.Environment, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	src := Workaround + ".c"
	obj := Workaround + ".o"
	if err := os.WriteFile(filepath.Join(dir, src), WorkaroundSource, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", src, err)
	}

	if err := r.Run(ctx, runner.NewCommand(dir, e.CC, "-c", src, "-o", obj)); err != nil {
		return "", err
	}

	if err := r.Run(ctx, runner.NewCommand(dir, e.AR, "cr", WorkaroundLibFile(), obj)); err != nil {
		return "", err
	}

	return filepath.Join(dir, WorkaroundLibFile()), nil
}
