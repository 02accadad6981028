package native

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripDoc(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"SUBDIRS = tests mpn doc mpz", "SUBDIRS = tests mpn mpz"},
		{"SUBDIRS = src tests doc", "SUBDIRS = src tests"},
		{"SUBDIRS = doc", "SUBDIRS ="},
		{"SUBDIRS = src tests", "SUBDIRS = src tests"},
		{"SUBDIRS = docs src", "SUBDIRS = docs src"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, stripDoc(tt.input), "stripDoc(%q)", tt.input)
	}
}

func TestRemoveDocFromMakefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Makefile")
	content := "all: all-recursive\nSUBDIRS = tests mpn doc\nDIST_SUBDIRS = tests mpn doc\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, RemoveDocFromMakefile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "all: all-recursive\nSUBDIRS = tests mpn\nDIST_SUBDIRS = tests mpn doc\n", string(data))
	assert.NoFileExists(t, path+".work")
}

func TestRemoveDocFromMakefile_Unchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Makefile")
	content := "SUBDIRS = src\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, RemoveDocFromMakefile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestRemoveDocFromMakefile_Missing(t *testing.T) {
	err := RemoveDocFromMakefile(filepath.Join(t.TempDir(), "Makefile"))
	require.Error(t, err)
}
