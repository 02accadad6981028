// Package link renders the link metadata consumers need to use the built libraries.
package link

import (
	"bytes"
	"fmt"
	"go/version"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/native"
	"github.com/Norgate-AV/gmpbuild/internal/utils"
)

const (
	// CgoFile is the generated Go file holding the cgo link flags
	CgoFile = "cgo_link.go"

	// DirectivePrefix starts every line written by Write
	DirectivePrefix = "gmpbuild:"

	// PthreadMinVersion is the first toolchain release whose MinGW link
	// accepts pthread next to gcc_eh
	PthreadMinVersion = "go1.21"
)

// Directives is the link metadata of one build
type Directives struct {
	OutDir     string
	LibDir     string
	IncludeDir string
	LimbBits   int

	// Static libraries in link order
	Libs []string
}

// Emit computes the directives for e. workaround reports whether the
// MinGW shim was built; toolchain is the host toolchain release tag and
// may be empty when unknown.
func Emit(e *env.Environment, limbBits int, workaround bool, toolchain string) Directives {
	d := Directives{
		OutDir:     e.OutDir,
		LibDir:     e.LibDir,
		IncludeDir: e.IncludeDir,
		LimbBits:   limbBits,
	}

	libs := native.Enabled(e)
	for i := len(libs) - 1; i >= 0; i-- {
		d.Libs = append(d.Libs, libs[i].Name)
	}

	if e.Platform != utils.MinGW {
		return d
	}

	if e.MPFR {
		// mpfr's thread local storage
		d.Libs = append(d.Libs, "gcc_eh")
		if toolchain != "" && version.Compare(version.Lang(toolchain), PthreadMinVersion) >= 0 {
			d.Libs = append(d.Libs, "pthread")
		}
	}

	if workaround {
		d.Libs = append(d.Libs, native.Workaround)
	}

	return d
}

// Lines renders the directives as key=value lines
func (d Directives) Lines() []string {
	lines := []string{
		DirectivePrefix + "out-dir=" + d.OutDir,
		DirectivePrefix + "lib-dir=" + d.LibDir,
		DirectivePrefix + "include-dir=" + d.IncludeDir,
		DirectivePrefix + "limb-bits=" + strconv.Itoa(d.LimbBits),
		DirectivePrefix + "link-search=native=" + d.LibDir,
	}

	for _, l := range d.Libs {
		lines = append(lines, DirectivePrefix+"link-lib=static="+l)
	}

	return lines
}

// Write prints the directive lines to w
func (d Directives) Write(w io.Writer) error {
	for _, l := range d.Lines() {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}

	return nil
}

// LDFlags is the linker flag list of the directives
func (d Directives) LDFlags() string {
	flags := []string{"-L" + d.LibDir}
	for _, l := range d.Libs {
		flags = append(flags, "-l"+l)
	}

	return strings.Join(flags, " ")
}

// Render generates a Go source file in pkg carrying the cgo flags
func (d Directives) Render(pkg string) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "// Code generated by gmpbuild. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	fmt.Fprintf(&b, "// #cgo CFLAGS: -I%s\n", d.IncludeDir)
	fmt.Fprintf(&b, "// #cgo LDFLAGS: %s\n", d.LDFlags())
	fmt.Fprintln(&b, `import "C"`)

	return b.Bytes()
}

// WriteCgo writes the generated cgo file to path
func (d Directives) WriteCgo(path, pkg string) error {
	if err := os.WriteFile(path, d.Render(pkg), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
