package stage

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func writeTree(t *testing.T, root string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "configure"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "mpfr.h"), []byte("/* mpfr */\n"), 0o644))
}

func TestLocate(t *testing.T) {
	srcDir := t.TempDir()

	_, err := Locate(srcDir, "gmp-6.1.2")
	require.Error(t, err)

	archive := filepath.Join(srcDir, "gmp-6.1.2.tar.xz")
	require.NoError(t, os.WriteFile(archive, nil, 0o644))

	got, err := Locate(srcDir, "gmp-6.1.2")
	require.NoError(t, err)
	assert.Equal(t, archive, got)

	dir := filepath.Join(srcDir, "gmp-6.1.2")
	require.NoError(t, os.Mkdir(dir, 0o755))

	got, err = Locate(srcDir, "gmp-6.1.2")
	require.NoError(t, err)
	assert.Equal(t, dir, got, "a directory wins over an archive")
}

func TestSelect(t *testing.T) {
	assert.Equal(t, "archive", Select("/src/mpc-1.1.0.tar.gz", true).Name())
	assert.Equal(t, "archive", Select("/src/mpc-1.1.0.tgz", false).Name())
	assert.Equal(t, "symlink", Select("/src/mpc-1.1.0", true).Name())
	assert.Equal(t, "copy", Select("/src/mpc-1.1.0", false).Name())
}

func TestLinkStager(t *testing.T) {
	if !SymlinkSupported(t.TempDir()) {
		t.Skip("symlinks not supported")
	}

	src := t.TempDir()
	writeTree(t, src)

	dst := filepath.Join(t.TempDir(), "build", "mpfr-src")
	require.NoError(t, LinkStager{}.Stage(src, dst))

	info, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
	assert.FileExists(t, filepath.Join(dst, "src", "mpfr.h"))
}

func TestCopyStager(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)

	dst := filepath.Join(t.TempDir(), "mpfr-src")
	require.NoError(t, CopyStager{}.Stage(src, dst))

	info, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	data, err := os.ReadFile(filepath.Join(dst, "src", "mpfr.h"))
	require.NoError(t, err)
	assert.Equal(t, "/* mpfr */\n", string(data))

	if runtime.GOOS != "windows" {
		info, err = os.Stat(filepath.Join(dst, "configure"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func buildTar(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	entries := []struct {
		name string
		body string
		mode int64
		typ  byte
	}{
		{"mpc-1.1.0/", "", 0o755, tar.TypeDir},
		{"mpc-1.1.0/configure", "#!/bin/sh\n", 0o755, tar.TypeReg},
		{"mpc-1.1.0/src/mpc.h", "/* mpc */\n", 0o644, tar.TypeReg},
	}

	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Mode:     e.mode,
			Size:     int64(len(e.body)),
			Typeflag: e.typ,
		}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestArchiveStager(t *testing.T) {
	raw := buildTar(t)

	compressors := map[string]func(io.Writer) io.WriteCloser{
		".tar": func(w io.Writer) io.WriteCloser { return nopCloser{w} },
		".tar.gz": func(w io.Writer) io.WriteCloser {
			return pgzip.NewWriter(w)
		},
		".tar.xz": func(w io.Writer) io.WriteCloser {
			xw, err := xz.NewWriter(w)
			require.NoError(t, err)
			return xw
		},
		".tar.zst": func(w io.Writer) io.WriteCloser {
			zw, err := zstd.NewWriter(w)
			require.NoError(t, err)
			return zw
		},
	}

	for ext, compress := range compressors {
		t.Run(ext, func(t *testing.T) {
			var buf bytes.Buffer
			w := compress(&buf)
			_, err := w.Write(raw)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			archive := filepath.Join(t.TempDir(), "mpc-1.1.0"+ext)
			require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

			dst := filepath.Join(t.TempDir(), "mpc-src")
			require.NoError(t, Select(archive, true).Stage(archive, dst))

			data, err := os.ReadFile(filepath.Join(dst, "src", "mpc.h"))
			require.NoError(t, err)
			assert.Equal(t, "/* mpc */\n", string(data))
			assert.FileExists(t, filepath.Join(dst, "configure"))
		})
	}
}

func TestArchiveStager_RejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := "evil"
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "gmp/../../evil", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	archive := filepath.Join(t.TempDir(), "gmp.tar")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	err = ArchiveStager{}.Stage(archive, filepath.Join(t.TempDir(), "gmp-src"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
}

func TestArchiveStager_Unsupported(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "gmp.zip")
	require.NoError(t, os.WriteFile(archive, []byte("PK"), 0o644))

	err := ArchiveStager{}.Stage(archive, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive format")
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
