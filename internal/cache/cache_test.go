package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/log"
	"github.com/Norgate-AV/gmpbuild/internal/native"
)

func ptr(v uint64) *uint64 { return &v }

func newEnv(t *testing.T, patch *uint64, test bool) *env.Environment {
	t.Helper()

	out := t.TempDir()
	e := &env.Environment{
		OutDir:        out,
		LibDir:        filepath.Join(out, "lib"),
		IncludeDir:    filepath.Join(out, "include"),
		Version:       "1.1",
		VersionPrefix: "1",
		Patch:         patch,
		Test:          test,
		MPFR:          true,
		MPC:           true,
	}

	require.NoError(t, os.MkdirAll(e.LibDir, 0o755))
	require.NoError(t, os.MkdirAll(e.IncludeDir, 0o755))

	return e
}

// install writes fake artifacts for libs into e's output directories
func install(t *testing.T, e *env.Environment, libs []native.Library, tag string) {
	t.Helper()

	for _, l := range libs {
		p := l.PairIn(e)
		require.NoError(t, os.WriteFile(p.Lib, []byte(l.Name+" lib "+tag), 0o644))
		require.NoError(t, os.WriteFile(p.Header, []byte(l.Name+" header "+tag), 0o644))
	}
}

// seed stores an entry for libs under the given patch and test flag
func seed(t *testing.T, c *Cache, patch *uint64, test bool, libs []native.Library, tag string) Key {
	t.Helper()

	e := newEnv(t, patch, test)
	install(t, e, libs, tag)
	require.True(t, c.Store(e, libs))

	return KeyFor(e)
}

func readLib(t *testing.T, e *env.Environment, l native.Library) string {
	t.Helper()

	data, err := os.ReadFile(l.PairIn(e).Lib)
	require.NoError(t, err)
	return string(data)
}

var all = []native.Library{native.GMP, native.MPFR, native.MPC}

func TestKey(t *testing.T) {
	assert.Equal(t, "1/cnotest", Key{Prefix: "1"}.Rel())
	assert.Equal(t, "1.4/ctest", Key{Prefix: "1", Patch: ptr(4), Test: true}.Rel())

	assert.True(t, Key{Prefix: "1", Patch: ptr(4)}.Equal(Key{Prefix: "1", Patch: ptr(4)}))
	assert.False(t, Key{Prefix: "1", Patch: ptr(4)}.Equal(Key{Prefix: "1"}))
	assert.False(t, Key{Prefix: "1"}.Equal(Key{Prefix: "1", Test: true}))
}

func TestParseVersionDir(t *testing.T) {
	tests := []struct {
		name  string
		patch *uint64
		ok    bool
	}{
		{"1", nil, true},
		{"1.0", ptr(0), true},
		{"1.17", ptr(17), true},
		{"1.x", nil, false},
		{"10", nil, false},
		{"1.2.3", nil, false},
		{"cache.db", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, ok := parseVersionDir(tt.name, "1")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.patch, patch)
		})
	}
}

func TestStoreLookup_RoundTrip(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	k := seed(t, c, ptr(1), false, all, "a")

	assert.DirExists(t, c.Dir(k))
	assert.FileExists(t, filepath.Join(c.Root(), IndexFile))
	for _, name := range []string{"libgmp.a", "gmp.h", "libmpfr.a", "mpfr.h", "libmpc.a", "mpc.h"} {
		assert.FileExists(t, filepath.Join(c.Dir(k), name))
	}

	e := newEnv(t, ptr(1), false)
	require.True(t, c.Lookup(e, all))

	for _, l := range all {
		assert.True(t, l.PairIn(e).Exists())
	}
	assert.Equal(t, "mpc lib a", readLib(t, e, native.MPC))

	// the staging directory is gone
	matches, err := filepath.Glob(filepath.Join(e.OutDir, "restore-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLookup_TestedRequestNeverMatchesUntested(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	seed(t, c, ptr(1), false, all, "untested")

	e := newEnv(t, ptr(1), true)
	assert.False(t, c.Lookup(e, all))
	assert.False(t, native.GMP.PairIn(e).Exists())

	seed(t, c, ptr(1), true, all, "tested")
	require.True(t, c.Lookup(e, all))
	assert.Equal(t, "gmp lib tested", readLib(t, e, native.GMP))
}

func TestLookup_UntestedRequestPrefersTested(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	seed(t, c, ptr(1), false, all, "untested")
	seed(t, c, ptr(1), true, all, "tested")

	e := newEnv(t, ptr(1), false)
	require.True(t, c.Lookup(e, all))
	assert.Equal(t, "gmp lib tested", readLib(t, e, native.GMP))
}

func TestLookup_HighestPatchAtLeastRequested(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	for _, p := range []uint64{1, 3, 5} {
		seed(t, c, ptr(p), false, all, fmt.Sprintf("p%d", p))
	}

	e := newEnv(t, ptr(2), false)
	require.True(t, c.Lookup(e, all))
	assert.Equal(t, "gmp lib p5", readLib(t, e, native.GMP))

	e = newEnv(t, ptr(6), false)
	assert.False(t, c.Lookup(e, all), "no entry at or above patch 6")
}

func TestLookup_UnpatchedMatchesOnlyUnpatched(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	seed(t, c, ptr(3), false, all, "patched")

	e := newEnv(t, nil, false)
	assert.False(t, c.Lookup(e, all))

	seed(t, c, nil, false, all, "unpatched")
	require.True(t, c.Lookup(e, all))
	assert.Equal(t, "gmp lib unpatched", readLib(t, e, native.GMP))
}

func TestLookup_RequiresEveryLibrary(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	seed(t, c, ptr(5), false, all[:1], "gmp-only")
	seed(t, c, ptr(4), false, all, "full")

	e := newEnv(t, ptr(1), false)
	require.True(t, c.Lookup(e, all))
	assert.Equal(t, "gmp lib full", readLib(t, e, native.GMP), "patch 5 lacks mpfr and mpc")

	k, ok := c.Find(e, all[:1])
	require.True(t, ok)
	assert.Equal(t, "1.5/cnotest", k.Rel())
}

func TestLookup_MissLeavesOutputUntouched(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	seed(t, c, ptr(1), false, all[:2], "partial")

	e := newEnv(t, ptr(1), false)
	assert.False(t, c.Lookup(e, all))

	entries, err := os.ReadDir(e.LibDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLookup_InstallFailureRemovesInstalled(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	seed(t, c, ptr(1), false, all, "good")

	// a non-empty directory in place of mpc.h makes the last install fail
	e := newEnv(t, ptr(1), false)
	blocker := native.MPC.PairIn(e).Header
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0o755))

	assert.False(t, c.Lookup(e, all))

	entries, err := os.ReadDir(e.LibDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	for _, l := range all[:2] {
		assert.NoFileExists(t, l.PairIn(e).Header)
	}
	assert.DirExists(t, blocker)
}

func TestLookup_DigestMismatchFallsThrough(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	seed(t, c, ptr(1), false, all, "good")
	bad := seed(t, c, ptr(2), false, all, "torn")

	// simulate a concurrent writer leaving a different file behind
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(bad), "libmpfr.a"), []byte("half written"), 0o644))

	e := newEnv(t, ptr(1), false)
	require.True(t, c.Lookup(e, all))
	assert.Equal(t, "mpfr lib good", readLib(t, e, native.MPFR))
}

func TestLookup_WithoutIndex(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	seed(t, c, ptr(1), false, all, "a")
	require.NoError(t, os.Remove(filepath.Join(c.Root(), IndexFile)))

	e := newEnv(t, ptr(1), false)
	assert.True(t, c.Lookup(e, all))
}

func TestLookup_MissingRoot(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent"), log.Nop())

	e := newEnv(t, ptr(1), false)
	assert.False(t, c.Lookup(e, all))
	assert.NoDirExists(t, c.Root())
}

func TestStore_FailureReportsFalse(t *testing.T) {
	c := New(t.TempDir(), log.Nop())

	e := newEnv(t, ptr(1), false)
	install(t, e, all[:1], "a")

	assert.False(t, c.Store(e, all), "mpfr artifacts are missing")
	assert.NoDirExists(t, c.Dir(KeyFor(e)))
}

func TestStore_ReplacesEntry(t *testing.T) {
	c := New(t.TempDir(), log.Nop())
	k := seed(t, c, ptr(1), false, all, "old")
	seed(t, c, ptr(1), false, all[:1], "new")

	assert.NoFileExists(t, filepath.Join(c.Dir(k), "libmpc.a"))

	data, err := os.ReadFile(filepath.Join(c.Dir(k), "libgmp.a"))
	require.NoError(t, err)
	assert.Equal(t, "gmp lib new", string(data))

	rec := c.records()[k.Rel()]
	assert.Equal(t, []string{"gmp"}, rec.Libraries)
	assert.Len(t, rec.Digests, 2)
}

func TestStore_IndexLockedStillStores(t *testing.T) {
	root := t.TempDir()
	c := New(root, log.Nop())

	db, err := bbolt.Open(filepath.Join(root, IndexFile), 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	e := newEnv(t, ptr(1), false)
	install(t, e, all, "a")
	assert.True(t, c.Store(e, all))
}

func TestPrune(t *testing.T) {
	gmpOnly := all[:1]

	t.Run("removes older entries with the same features", func(t *testing.T) {
		c := New(t.TempDir(), log.Nop())
		old := seed(t, c, ptr(1), false, all, "old")
		cur := seed(t, c, ptr(2), false, all, "cur")

		c.Prune(cur, true, true)

		assert.NoDirExists(t, filepath.Join(c.Root(), old.VersionDir()))
		assert.DirExists(t, c.Dir(cur))
		assert.NotContains(t, c.records(), old.Rel())
	})

	t.Run("keeps newer patches", func(t *testing.T) {
		c := New(t.TempDir(), log.Nop())
		newer := seed(t, c, ptr(9), false, all, "newer")
		cur := seed(t, c, ptr(2), false, all, "cur")

		c.Prune(cur, true, true)
		assert.DirExists(t, c.Dir(newer))
	})

	t.Run("keeps supersets of the current features", func(t *testing.T) {
		c := New(t.TempDir(), log.Nop())
		withMPC := seed(t, c, ptr(1), false, all, "full")
		withMPFR := seed(t, c, ptr(0), false, all[:2], "mpfr")
		cur := seed(t, c, ptr(2), false, gmpOnly, "cur")

		c.Prune(cur, false, false)
		assert.DirExists(t, c.Dir(withMPC))
		assert.DirExists(t, c.Dir(withMPFR))
	})

	t.Run("keeps tested entries when storing untested", func(t *testing.T) {
		c := New(t.TempDir(), log.Nop())
		tested := seed(t, c, ptr(1), true, all, "tested")
		untested := seed(t, c, ptr(1), false, all, "untested")
		cur := seed(t, c, ptr(2), false, all, "cur")

		c.Prune(cur, true, true)
		assert.DirExists(t, c.Dir(tested))
		assert.NoDirExists(t, c.Dir(untested))
	})

	t.Run("removes untested entries when storing tested", func(t *testing.T) {
		c := New(t.TempDir(), log.Nop())
		untested := seed(t, c, ptr(2), false, all, "untested")
		cur := seed(t, c, ptr(2), true, all, "cur")

		c.Prune(cur, true, true)
		assert.NoDirExists(t, c.Dir(untested))
		assert.DirExists(t, c.Dir(cur))
	})

	t.Run("unpatched prunes only unpatched", func(t *testing.T) {
		c := New(t.TempDir(), log.Nop())
		patched := seed(t, c, ptr(0), false, all, "patched")
		other := seed(t, c, nil, true, gmpOnly, "tested")
		cur := seed(t, c, nil, false, all, "cur")

		c.Prune(cur, true, true)
		assert.DirExists(t, c.Dir(patched))
		assert.DirExists(t, c.Dir(other), "tested entry kept")
		assert.DirExists(t, c.Dir(cur))
	})
}

func TestStatsClear(t *testing.T) {
	c := New(t.TempDir(), log.Nop())

	s, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, s.Entries)

	seed(t, c, ptr(1), false, all, "a")
	seed(t, c, ptr(2), true, all[:1], "b")

	s, err = c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, 2, s.Indexed)
	assert.Positive(t, s.Bytes)

	require.NoError(t, c.Clear())

	s, err = c.Stats()
	require.NoError(t, err)
	assert.Zero(t, s.Entries)
	assert.NoFileExists(t, filepath.Join(c.Root(), IndexFile))
}

func TestClear_MissingRoot(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent"), log.Nop())
	assert.NoError(t, c.Clear())
}
