package cache

import (
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Norgate-AV/gmpbuild/internal/env"
)

const (
	// TestDir holds entries built with make check
	TestDir = "ctest"

	// NoTestDir holds entries built without make check
	NoTestDir = "cnotest"
)

// Key identifies one cache entry
type Key struct {
	Prefix string

	// Patch is nil for versions without a numeric patch component
	Patch *uint64

	// Test is set when the entry was built with make check
	Test bool
}

// KeyFor returns the key a build in e stores under
func KeyFor(e *env.Environment) Key {
	return Key{Prefix: e.VersionPrefix, Patch: e.Patch, Test: e.Test}
}

// VersionDir is the first path component of the entry
func (k Key) VersionDir() string {
	if k.Patch == nil {
		return k.Prefix
	}

	return k.Prefix + "." + strconv.FormatUint(*k.Patch, 10)
}

// TestDir is the second path component of the entry
func (k Key) TestDir() string {
	if k.Test {
		return TestDir
	}

	return NoTestDir
}

// Rel is the entry path below the cache root, slash separated
func (k Key) Rel() string {
	return path.Join(k.VersionDir(), k.TestDir())
}

func (k Key) String() string {
	return k.Rel()
}

// Equal reports whether k and o name the same entry
func (k Key) Equal(o Key) bool {
	if k.Prefix != o.Prefix || k.Test != o.Test {
		return false
	}

	if k.Patch == nil || o.Patch == nil {
		return k.Patch == nil && o.Patch == nil
	}

	return *k.Patch == *o.Patch
}

// Entry is the index record of a stored cache entry
type Entry struct {
	// Key is the entry path below the cache root
	Key string `json:"key"`

	Version   string   `json:"version"`
	Test      bool     `json:"test"`
	Libraries []string `json:"libraries"`

	// Digests maps each stored file name to its blake3 digest
	Digests map[string]string `json:"digests"`

	// Timestamp when this entry was stored
	Timestamp time.Time `json:"timestamp"`
}

// parseVersionDir matches a cache directory name against prefix.
// It returns the patch (nil for the unpatched directory) and whether name
// belongs to prefix at all.
func parseVersionDir(name, prefix string) (*uint64, bool) {
	if name == prefix {
		return nil, true
	}

	rest, ok := strings.CutPrefix(name, prefix+".")
	if !ok {
		return nil, false
	}

	patch, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return nil, false
	}

	return &patch, true
}

// sortDescending orders patched keys from the highest patch down
func sortDescending(patches []uint64) {
	sort.Slice(patches, func(i, j int) bool { return patches[i] > patches[j] })
}
