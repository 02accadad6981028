package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Platform classifies a target triple for the native build
type Platform int

const (
	Other Platform = iota
	MinGW
	MSVC
)

func (p Platform) String() string {
	switch p {
	case MinGW:
		return "mingw"
	case MSVC:
		return "msvc"
	default:
		return "other"
	}
}

var (
	mingwMarkers = []string{"-windows-gnu", "mingw"}
	msvcMarkers  = []string{"-windows-msvc", "msvc"}
)

// ClassifyTarget classifies a target triple by substring match
func ClassifyTarget(triple string) Platform {
	t := strings.ToLower(triple)

	for _, m := range mingwMarkers {
		if strings.Contains(t, m) {
			return MinGW
		}
	}

	for _, m := range msvcMarkers {
		if strings.Contains(t, m) {
			return MSVC
		}
	}

	return Other
}

// SplitVersion splits a dotted version at its last dot.
// The trailing component becomes the patch level when it is numeric,
// otherwise patch is nil and the prefix is still the part before the dot.
func SplitVersion(v string) (prefix string, patch *uint64, err error) {
	dot := strings.LastIndex(v, ".")
	if dot < 0 {
		return "", nil, fmt.Errorf("version %q has no dot", v)
	}

	if strings.HasPrefix(v, ".") {
		return "", nil, fmt.Errorf("version %q starts with a dot", v)
	}

	prefix = v[:dot]
	if n, err := strconv.ParseUint(v[dot+1:], 10, 64); err == nil {
		patch = &n
	}

	return prefix, patch, nil
}
