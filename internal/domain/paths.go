package domain

import (
	"path/filepath"
	"strings"
)

// SafeJoin joins parts beneath base and guarantees the result stays inside
// base, returning a DirectoryTraversalError naming the offending relative
// path otherwise. The check is purely lexical; nothing on disk is touched.
func SafeJoin(base string, parts ...string) (string, error) {
	rel := filepath.Join(parts...)
	joined := filepath.Join(base, rel)
	back, err := filepath.Rel(filepath.Clean(base), joined)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", &DirectoryTraversalError{Path: rel}
	}
	return joined, nil
}

// CheckSegments validates that each name is safe to use as a single path
// segment. Empty names are allowed; they stand for "not provided".
func CheckSegments(names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := SafeJoin("segments", name); err != nil {
			return err
		}
	}
	return nil
}
