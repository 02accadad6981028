package cache

import (
	"encoding/hex"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// HashFile returns the hex blake3 digest of a file's content
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
