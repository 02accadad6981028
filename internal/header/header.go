// Package header extracts build facts from the generated gmp.h.
package header

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Norgate-AV/gmpbuild/internal/failure"
)

// FactsFile is the generated Go file holding the facts
const FactsFile = "gmp_h.go"

// Facts are the configuration values GMP recorded in its header
type Facts struct {
	// LongLongLimb is set when a limb is a C long long
	LongLongLimb bool

	LimbBits int
	NailBits int

	// Compiler and flags GMP was configured with
	CC     string
	CFlags string
}

// NumbBits is the number of value bits in a limb
func (f Facts) NumbBits() int {
	return f.LimbBits - f.NailBits
}

// HasNails reports whether limbs carry nail bits
func (f Facts) HasNails() bool {
	return f.NailBits != 0
}

// LimbType is the cgo type name of a limb
func (f Facts) LimbType() string {
	if f.LongLongLimb {
		return "C.ulonglong"
	}

	return "C.ulong"
}

const (
	markLongLong = "_LONG_LONG_LIMB"
	markLimbBits = "GMP_LIMB_BITS"
	markNailBits = "GMP_NAIL_BITS"
	markCC       = "__GMP_CC"
	markCFlags   = "__GMP_CFLAGS"
)

// Introspect reads the facts from the gmp.h at path. Every fact is required;
// the error names each one that is missing.
func Introspect(path string) (Facts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Facts{}, failure.New(failure.Introspect, path, err)
	}

	return Parse(data, path)
}

// Parse extracts the facts from header text; name is used in errors
func Parse(data []byte, name string) (Facts, error) {
	var (
		f     Facts
		found = map[string]bool{}
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()

		// configure comments out the undef: /* #undef _LONG_LONG_LIMB */
		if !found[markLongLong] {
			switch {
			case strings.Contains(line, "#define "+markLongLong):
				f.LongLongLimb = true
				found[markLongLong] = true
				continue
			case strings.Contains(line, "#undef "+markLongLong):
				found[markLongLong] = true
				continue
			}
		}

		directive, macro, value, ok := splitDirective(line)
		if !ok || directive != "define" {
			continue
		}

		switch macro {
		case markLimbBits:
			n, err := strconv.Atoi(value)
			if err != nil {
				return Facts{}, failure.Newf(failure.Introspect, name, "invalid %s value %q", macro, value)
			}
			f.LimbBits = n
			found[macro] = true
		case markNailBits:
			n, err := strconv.Atoi(value)
			if err != nil {
				return Facts{}, failure.Newf(failure.Introspect, name, "invalid %s value %q", macro, value)
			}
			f.NailBits = n
			found[macro] = true
		case markCC:
			f.CC = unquote(value)
			found[macro] = true
		case markCFlags:
			f.CFlags = unquote(value)
			found[macro] = true
		}
	}

	if err := sc.Err(); err != nil {
		return Facts{}, failure.New(failure.Introspect, name, err)
	}

	var missing []string
	for _, m := range []string{markLongLong, markLimbBits, markNailBits, markCC, markCFlags} {
		if !found[m] {
			missing = append(missing, m)
		}
	}

	if len(missing) > 0 {
		return Facts{}, failure.Newf(failure.Introspect, name, "missing %s", strings.Join(missing, ", "))
	}

	return f, nil
}

// splitDirective splits "#define NAME value" into its parts
func splitDirective(line string) (directive, macro, value string, ok bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "#")
	if !ok {
		return "", "", "", false
	}

	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return "", "", "", false
	}

	directive, macro = fields[0], fields[1]

	// keep inner spacing of string values
	value = strings.TrimSpace(rest)
	value = strings.TrimSpace(strings.TrimPrefix(value, directive))
	value = strings.TrimSpace(strings.TrimPrefix(value, macro))

	return directive, macro, value, true
}

func unquote(v string) string {
	if s, err := strconv.Unquote(v); err == nil {
		return s
	}

	return strings.Trim(v, `"`)
}

// Render generates the Go source holding f in package pkg
func Render(pkg string, f Facts) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "// Code generated by gmpbuild from gmp.h. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	fmt.Fprintf(&b, "import \"C\"\n\n")
	fmt.Fprintf(&b, "const (\n")
	fmt.Fprintf(&b, "\tLimbBits = %d\n", f.LimbBits)
	fmt.Fprintf(&b, "\tNailBits = %d\n", f.NailBits)
	fmt.Fprintf(&b, "\tNumbBits = %d\n", f.NumbBits())
	fmt.Fprintf(&b, "\tHasNails = %t\n\n", f.HasNails())
	fmt.Fprintf(&b, "\tCC     = %q\n", f.CC)
	fmt.Fprintf(&b, "\tCFlags = %q\n", f.CFlags)
	fmt.Fprintf(&b, ")\n\n")
	fmt.Fprintf(&b, "// Limb is the C type of one GMP limb\n")
	fmt.Fprintf(&b, "type Limb = %s\n", f.LimbType())

	return b.Bytes()
}

// WriteFacts writes the generated facts file to path
func WriteFacts(path, pkg string, f Facts) error {
	if err := os.WriteFile(path, Render(pkg, f), 0o644); err != nil {
		return failure.New(failure.Introspect, path, fmt.Errorf("failed to write facts: %w", err))
	}

	return nil
}
