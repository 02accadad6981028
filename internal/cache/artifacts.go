package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/native"
	"github.com/Norgate-AV/gmpbuild/internal/stage"
)

// artifact is one cached file and where it is installed in the output tree
type artifact struct {
	Name string
	Dest string
}

// artifactsFor lists the library and header of every library in libs
func artifactsFor(e *env.Environment, libs []native.Library) []artifact {
	out := make([]artifact, 0, 2*len(libs))
	for _, l := range libs {
		pair := l.PairIn(e)
		out = append(out,
			artifact{Name: l.LibFile, Dest: pair.Lib},
			artifact{Name: l.Header, Dest: pair.Header},
		)
	}

	return out
}

// hasArtifacts reports whether dir holds every artifact
func hasArtifacts(dir string, artifacts []artifact) bool {
	for _, a := range artifacts {
		info, err := os.Stat(filepath.Join(dir, a.Name))
		if err != nil || info.IsDir() {
			return false
		}
	}

	return true
}

// copyArtifacts copies installed artifacts into an entry directory and
// returns their digests keyed by file name
func copyArtifacts(destDir string, artifacts []artifact) (map[string]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create entry directory: %w", err)
	}

	digests := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		dst := filepath.Join(destDir, a.Name)
		if err := stage.CopyFile(a.Dest, dst); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", a.Name, err)
		}

		sum, err := HashFile(dst)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", a.Name, err)
		}

		digests[a.Name] = sum
	}

	return digests, nil
}

// restoreArtifacts copies an entry's artifacts into stagingDir, checking
// each copy against digests when a digest is recorded for it
func restoreArtifacts(entryDir, stagingDir string, artifacts []artifact, digests map[string]string) error {
	for _, a := range artifacts {
		dst := filepath.Join(stagingDir, a.Name)
		if err := stage.CopyFile(filepath.Join(entryDir, a.Name), dst); err != nil {
			return fmt.Errorf("failed to restore %s: %w", a.Name, err)
		}

		want, ok := digests[a.Name]
		if !ok {
			continue
		}

		got, err := HashFile(dst)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", a.Name, err)
		}

		if got != want {
			return fmt.Errorf("digest mismatch for %s", a.Name)
		}
	}

	return nil
}

// promoteArtifacts moves staged artifacts to their output locations. On
// failure the artifacts already installed are removed again.
func promoteArtifacts(stagingDir string, artifacts []artifact) error {
	for i, a := range artifacts {
		if err := os.Rename(filepath.Join(stagingDir, a.Name), a.Dest); err != nil {
			for _, done := range artifacts[:i] {
				_ = os.Remove(done.Dest)
			}
			return fmt.Errorf("failed to install %s: %w", a.Name, err)
		}
	}

	return nil
}
