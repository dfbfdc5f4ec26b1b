package dag

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/crypto/blake2b"
)

// HashSources derives a code identity from the contents of source files.
// Patterns are globs relative to dir; the digest covers each matched file's
// relative path and contents, in sorted order, so moving dir does not change
// the result.
func HashSources(dir string, patterns ...string) (string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", fmt.Errorf("dag: bad source pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return "", fmt.Errorf("dag: source pattern %q matched no files", pattern)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(dir, m)
			if err != nil {
				return "", err
			}
			files = append(files, filepath.ToSlash(rel))
		}
	}
	slices.Sort(files)
	files = slices.Compact(files)

	h, _ := blake2b.New256(nil)
	for _, rel := range files {
		if err := hashFile(h, dir, rel); err != nil {
			return "", err
		}
	}
	return "src:" + hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(h io.Writer, dir, rel string) error {
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("dag: reading source %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("dag: source %s is a directory", rel)
	}

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(rel)))
	h.Write(n[:])
	io.WriteString(h, rel)
	binary.BigEndian.PutUint64(n[:], uint64(info.Size()))
	h.Write(n[:])
	_, err = io.Copy(h, f)
	return err
}
