// Package cache keeps previously built GMP, MPFR and MPC artifacts.
//
// Entries live in a directory tree below the cache root:
//
//	<root>/<prefix>[.<patch>]/{ctest|cnotest}/{libgmp.a,gmp.h,...}
//
// The tree is authoritative. A bbolt index (cache.db) next to it records the
// blake3 digest of every stored file so lookups can reject torn copies left by
// a concurrent writer. The index is opened per operation; when it cannot be
// opened the cache keeps working without verification.
//
// Nothing in this package fails a build. Every I/O problem is logged as a
// warning and reported as a miss or as an unsuccessful store.
package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/log"
	"github.com/Norgate-AV/gmpbuild/internal/native"
)

const (
	// IndexFile is the bbolt database name inside the cache root
	IndexFile = "cache.db"

	// bucketName is the BoltDB bucket name for cache entries
	bucketName = "entries"

	indexTimeout = 1 * time.Second
)

// Cache manages artifact entries below a root directory
type Cache struct {
	root string
	log  *log.Logger
}

// New creates a cache rooted at root. Nothing is created until the first store.
func New(root string, logger *log.Logger) *Cache {
	return &Cache{root: root, log: logger}
}

// Root returns the cache root directory
func (c *Cache) Root() string {
	return c.root
}

// Dir returns the directory of entry k
func (c *Cache) Dir(k Key) string {
	return filepath.Join(c.root, filepath.FromSlash(k.Rel()))
}

// Lookup installs the best entry holding every artifact of libs into the
// output directories of e. It returns false, leaving the output untouched,
// when no entry qualifies.
func (c *Cache) Lookup(e *env.Environment, libs []native.Library) bool {
	want := artifactsFor(e, libs)

	var records map[string]Entry
	for _, k := range c.candidates(e) {
		dir := c.Dir(k)
		if !hasArtifacts(dir, want) {
			continue
		}

		if records == nil {
			records = c.records()
		}

		if err := c.restore(e, dir, want, records[k.Rel()].Digests); err != nil {
			c.log.Warn("failed to restore cache entry", zap.String("entry", k.String()), zap.Error(err))
			continue
		}

		c.log.Info("restored artifacts from cache", zap.String("entry", k.String()))
		return true
	}

	return false
}

// Find returns the entry Lookup would use, without copying anything
func (c *Cache) Find(e *env.Environment, libs []native.Library) (Key, bool) {
	want := artifactsFor(e, libs)
	for _, k := range c.candidates(e) {
		if hasArtifacts(c.Dir(k), want) {
			return k, true
		}
	}

	return Key{}, false
}

// Store replaces the entry of the current build with the installed
// artifacts of libs. It returns whether every file was copied.
func (c *Cache) Store(e *env.Environment, libs []native.Library) bool {
	k := KeyFor(e)
	dir := c.Dir(k)

	if err := os.RemoveAll(dir); err != nil {
		c.log.Warn("failed to replace cache entry", zap.String("entry", k.String()), zap.Error(err))
		return false
	}

	digests, err := copyArtifacts(dir, artifactsFor(e, libs))
	if err != nil {
		c.log.Warn("failed to store cache entry", zap.String("entry", k.String()), zap.Error(err))
		if err := os.RemoveAll(dir); err != nil {
			c.log.Warn("failed to remove partial cache entry", zap.String("entry", k.String()), zap.Error(err))
		}
		return false
	}

	names := make([]string, len(libs))
	for i, l := range libs {
		names[i] = l.Name
	}

	c.putRecord(Entry{
		Key:       k.Rel(),
		Version:   e.Version,
		Test:      k.Test,
		Libraries: names,
		Digests:   digests,
		Timestamp: time.Now(),
	})

	c.log.Info("stored artifacts in cache", zap.String("entry", k.String()), zap.Strings("libraries", names))
	return true
}

// Prune removes entries made redundant by stored, the entry just written.
// Only entries of the same prefix whose patch is at most stored's are
// considered (only the unpatched entry when stored has no patch). An entry
// survives when it is stored itself, when it holds MPFR or MPC artifacts the
// current build did not enable, or when it was built with make check and
// stored was not.
func (c *Cache) Prune(stored Key, mpfr, mpc bool) {
	dirs, err := os.ReadDir(c.root)
	if err != nil {
		c.log.Warn("failed to read cache directory", zap.String("dir", c.root), zap.Error(err))
		return
	}

	var removed []string
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}

		patch, ok := parseVersionDir(d.Name(), stored.Prefix)
		if !ok || !notNewer(patch, stored.Patch) {
			continue
		}

		for _, test := range []bool{true, false} {
			k := Key{Prefix: stored.Prefix, Patch: patch, Test: test}
			dir := c.Dir(k)
			if !isDir(dir) {
				continue
			}

			if reason := keepReason(k, stored, dir, mpfr, mpc); reason != "" {
				c.log.Debug("keeping cache entry", zap.String("entry", k.String()), zap.String("reason", reason))
				continue
			}

			if err := os.RemoveAll(dir); err != nil {
				c.log.Warn("failed to prune cache entry", zap.String("entry", k.String()), zap.Error(err))
				continue
			}

			c.log.Info("pruned cache entry", zap.String("entry", k.String()))
			removed = append(removed, k.Rel())
		}

		versionDir := filepath.Join(c.root, d.Name())
		if !isDir(filepath.Join(versionDir, TestDir)) && !isDir(filepath.Join(versionDir, NoTestDir)) {
			if err := os.RemoveAll(versionDir); err != nil {
				c.log.Warn("failed to remove cache version directory", zap.String("dir", versionDir), zap.Error(err))
			}
		}
	}

	c.dropRecords(removed)
}

// Stats describes the contents of the cache
type Stats struct {
	Entries int
	Bytes   int64

	// Indexed counts entries with an index record
	Indexed int
}

// Stats returns cache statistics
func (c *Cache) Stats() (Stats, error) {
	var s Stats

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		if d.IsDir() {
			rel, _ := filepath.Rel(c.root, path)
			if name := d.Name(); (name == TestDir || name == NoTestDir) && strings.Count(filepath.ToSlash(rel), "/") == 1 {
				s.Entries++
			}
			return nil
		}

		if info, err := d.Info(); err == nil {
			s.Bytes += info.Size()
		}

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	if s.Entries > 0 {
		s.Indexed = len(c.records())
	}

	return s, nil
}

// Clear removes all cache entries and the index
func (c *Cache) Clear() error {
	dirs, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, d := range dirs {
		if err := os.RemoveAll(filepath.Join(c.root, d.Name())); err != nil {
			return err
		}
	}

	return nil
}

// candidates returns the keys Lookup tries for e, in order
func (c *Cache) candidates(e *env.Environment) []Key {
	dirs, err := os.ReadDir(c.root)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("failed to read cache directory", zap.String("dir", c.root), zap.Error(err))
		}
		return nil
	}

	tests := []bool{true}
	if !e.Test {
		tests = append(tests, false)
	}

	var (
		patches   []uint64
		unpatched bool
	)
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}

		patch, ok := parseVersionDir(d.Name(), e.VersionPrefix)
		switch {
		case !ok:
		case patch == nil:
			unpatched = true
		case e.Patch != nil && *patch >= *e.Patch:
			patches = append(patches, *patch)
		}
	}

	var keys []Key
	if e.Patch == nil {
		if unpatched {
			for _, t := range tests {
				keys = append(keys, Key{Prefix: e.VersionPrefix, Test: t})
			}
		}
		return keys
	}

	sortDescending(patches)
	for _, p := range patches {
		for _, t := range tests {
			patch := p
			keys = append(keys, Key{Prefix: e.VersionPrefix, Patch: &patch, Test: t})
		}
	}

	return keys
}

func (c *Cache) restore(e *env.Environment, dir string, want []artifact, digests map[string]string) error {
	staging, err := os.MkdirTemp(e.OutDir, "restore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := restoreArtifacts(dir, staging, want, digests); err != nil {
		return err
	}

	return promoteArtifacts(staging, want)
}

// withIndex opens the index for the duration of fn
func (c *Cache) withIndex(write bool, fn func(b *bbolt.Bucket) error) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return err
	}

	opts := &bbolt.Options{Timeout: indexTimeout, ReadOnly: !write}
	if !write {
		// a read-only open fails on a missing file
		if _, err := os.Stat(filepath.Join(c.root, IndexFile)); err != nil {
			return nil
		}
	}

	db, err := bbolt.Open(filepath.Join(c.root, IndexFile), 0o600, opts)
	if err != nil {
		return err
	}
	defer db.Close()

	if !write {
		return db.View(func(tx *bbolt.Tx) error {
			b := tx.Bucket([]byte(bucketName))
			if b == nil {
				return nil
			}
			return fn(b)
		})
	}

	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return fn(b)
	})
}

// records returns every index record keyed by entry path, or nil when the
// index is unavailable
func (c *Cache) records() map[string]Entry {
	out := map[string]Entry{}
	err := c.withIndex(false, func(b *bbolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				c.log.Warn("skipping corrupt cache index record", zap.ByteString("entry", k), zap.Error(err))
				return nil
			}

			out[string(k)] = entry
			return nil
		})
	})
	if err != nil {
		c.log.Warn("cache index unavailable, skipping verification", zap.Error(err))
		return nil
	}

	return out
}

func (c *Cache) putRecord(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.log.Warn("failed to encode cache index record", zap.Error(err))
		return
	}

	err = c.withIndex(true, func(b *bbolt.Bucket) error {
		return b.Put([]byte(entry.Key), data)
	})
	if err != nil {
		c.log.Warn("failed to update cache index", zap.String("entry", entry.Key), zap.Error(err))
	}
}

func (c *Cache) dropRecords(keys []string) {
	if len(keys) == 0 {
		return
	}

	err := c.withIndex(true, func(b *bbolt.Bucket) error {
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.log.Warn("failed to update cache index", zap.Error(err))
	}
}

// keepReason explains why Prune keeps entry k, or returns "" to remove it
func keepReason(k, stored Key, dir string, mpfr, mpc bool) string {
	switch {
	case k.Equal(stored):
		return "just stored"
	case !mpfr && fileExists(filepath.Join(dir, native.MPFR.LibFile)):
		return "holds mpfr"
	case !mpc && fileExists(filepath.Join(dir, native.MPC.LibFile)):
		return "holds mpc"
	case k.Test && !stored.Test:
		return "built with tests"
	}

	return ""
}

// notNewer reports whether patch is in Prune's range for current
func notNewer(patch, current *uint64) bool {
	if current == nil {
		return patch == nil
	}

	return patch != nil && *patch <= *current
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
