package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Norgate-AV/gmpbuild/internal/log"
	"github.com/Norgate-AV/gmpbuild/internal/native"
)

// TestLookupOrder_PropertyBased checks that Find picks the highest stored
// patch at or above the requested one, and misses when there is none.
func TestLookupOrder_PropertyBased(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("find selects the highest eligible patch", prop.ForAll(
		func(stored []uint64, request uint64) bool {
			root := t.TempDir()
			c := New(root, log.Nop())

			for _, p := range stored {
				k := Key{Prefix: "1", Patch: &p}
				dir := c.Dir(k)
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return false
				}
				for _, name := range []string{native.GMP.LibFile, native.GMP.Header} {
					if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
						return false
					}
				}
			}

			e := newEnv(t, &request, false)
			k, ok := c.Find(e, []native.Library{native.GMP})

			var best *uint64
			for _, p := range stored {
				if p >= request && (best == nil || p > *best) {
					best = &p
				}
			}

			if best == nil {
				return !ok
			}

			return ok && k.Patch != nil && *k.Patch == *best
		},
		gen.SliceOfN(4, gen.UInt64Range(0, 12)),
		gen.UInt64Range(0, 12),
	))

	properties.TestingRun(t)
}

// TestStoreLookup_PropertyBased checks the test flag rule across store and
// lookup: a tested request only hits tested entries, an untested request
// hits either.
func TestStoreLookup_PropertyBased(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("lookup honours the test flag", prop.ForAll(
		func(patch uint64, storedTest, requestTest bool) bool {
			c := New(t.TempDir(), log.Nop())

			src := newEnv(t, &patch, storedTest)
			install(t, src, all, "x")
			if !c.Store(src, all) {
				return false
			}

			dst := newEnv(t, &patch, requestTest)
			hit := c.Lookup(dst, all)

			want := storedTest || !requestTest
			if hit != want {
				return false
			}

			return !hit || native.Satisfied(dst, all)
		},
		gen.UInt64Range(0, 20),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
