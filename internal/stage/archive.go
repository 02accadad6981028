package stage

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// ArchiveStager extracts a source tarball. The single top-level directory of
// the archive (e.g. "gmp-6.1.2/") is stripped so dst holds the tree itself.
type ArchiveStager struct{}

func (ArchiveStager) Name() string { return "archive" }

func (ArchiveStager) Stage(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", src, err)
	}
	defer f.Close()

	r, closeFn, err := decompressor(src, f)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	if err := extractTar(tar.NewReader(r), dst); err != nil {
		return fmt.Errorf("failed to extract %s: %w", src, err)
	}

	return nil
}

func decompressor(path string, f *os.File) (io.Reader, func(), error) {
	noop := func() {}

	switch {
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create gzip reader for %s: %w", path, err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(path, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create xz reader for %s: %w", path, err)
		}
		return xr, noop, nil
	case strings.HasSuffix(path, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create zstd reader for %s: %w", path, err)
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(path, ".tar.bz2"):
		return bzip2.NewReader(f), noop, nil
	case strings.HasSuffix(path, ".tar"):
		return f, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported archive format: %s", path)
	}
}

func extractTar(tr *tar.Reader, dst string) error {
	type link struct{ target, path string }
	var links []link

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		rel := stripFirst(hdr.Name)
		if rel == "" {
			continue
		}

		target := filepath.Join(dst, filepath.FromSlash(rel))
		if !withinDir(dst, target) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			links = append(links, link{target: hdr.Linkname, path: target})
		case tar.TypeLink:
			old := filepath.Join(dst, filepath.FromSlash(stripFirst(hdr.Linkname)))
			links = append(links, link{target: old, path: target})
		}
	}

	// Links last so their targets exist; fall back to copying when the
	// filesystem refuses symlinks.
	for _, l := range links {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return err
		}

		if err := os.Symlink(l.target, l.path); err == nil {
			continue
		}

		resolved := l.target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(l.path), resolved)
		}

		if withinDir(dst, resolved) {
			if info, err := os.Stat(resolved); err == nil && !info.IsDir() {
				if err := CopyFile(resolved, l.path); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func writeEntry(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

func stripFirst(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	if i := strings.Index(name, "/"); i >= 0 {
		return strings.Trim(name[i+1:], "/")
	}

	return ""
}

func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
