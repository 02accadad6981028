// Package stage places vendored library sources into the scratch tree.
//
// Sources are normally linked rather than copied. Platforms without usable
// directory symlinks fall back to a recursive copy, and sources shipped as
// tarballs are extracted.
package stage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Stager makes the source tree src available at dst
type Stager interface {
	Stage(src, dst string) error
	Name() string
}

// ArchiveExtensions are searched, in order, when a vendored source directory is absent
var ArchiveExtensions = []string{".tar.xz", ".tar.gz", ".tgz", ".tar.zst", ".tar.bz2", ".tar"}

// Locate finds the vendored source of name below srcDir, as a directory or an archive
func Locate(srcDir, name string) (string, error) {
	dir := filepath.Join(srcDir, name)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, nil
	}

	for _, ext := range ArchiveExtensions {
		path := dir + ext
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf("vendored source %s not found in %s", name, srcDir)
}

// IsArchive reports whether path names a supported source archive
func IsArchive(path string) bool {
	for _, ext := range ArchiveExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	return false
}

// Select returns the stager for src
func Select(src string, canSymlink bool) Stager {
	switch {
	case IsArchive(src):
		return ArchiveStager{}
	case canSymlink:
		return LinkStager{}
	default:
		return CopyStager{}
	}
}

// SymlinkSupported checks that a directory symlink can be created in dir
func SymlinkSupported(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}

	target, err := os.MkdirTemp(dir, ".symlink-target-")
	if err != nil {
		return false
	}
	defer os.RemoveAll(target)

	link := target + ".link"
	defer os.Remove(link)

	return os.Symlink(target, link) == nil
}

// LinkStager stages with a directory symlink
type LinkStager struct{}

func (LinkStager) Name() string { return "symlink" }

func (LinkStager) Stage(src, dst string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	if err := os.Symlink(abs, dst); err != nil {
		return fmt.Errorf("failed to link %s to %s: %w", dst, abs, err)
	}

	return nil
}

// CopyStager stages with a recursive copy. Symlinks inside src are followed.
type CopyStager struct{}

func (CopyStager) Name() string { return "copy" }

func (CopyStager) Stage(src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}

		return CopyFile(path, target)
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}

	return nil
}
