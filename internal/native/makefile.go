package native

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

const subdirsPrefix = "SUBDIRS = "

// RemoveDocFromMakefile drops the doc subdirectory from a generated
// Makefile so the build does not need makeinfo.
func RemoveDocFromMakefile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read makefile: %w", err)
	}

	var out bytes.Buffer
	changed := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, subdirsPrefix) {
			if stripped := stripDoc(line); stripped != line {
				line = stripped
				changed = true
			}
		}

		out.WriteString(line)
		out.WriteByte('\n')
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan makefile: %w", err)
	}

	if !changed {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	work := path + ".work"
	if err := os.WriteFile(work, out.Bytes(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write makefile: %w", err)
	}

	return os.Rename(work, path)
}

func stripDoc(line string) string {
	fields := strings.Fields(strings.TrimPrefix(line, subdirsPrefix))

	kept := fields[:0]
	for _, f := range fields {
		if f != "doc" {
			kept = append(kept, f)
		}
	}

	if len(kept) == len(fields) {
		return line
	}

	return strings.TrimRight(subdirsPrefix+strings.Join(kept, " "), " ")
}
