package eggstorage

import (
	"fmt"
	"io"
	"os"
)

// WriteTemp materializes an egg stream as a temporary file so a subprocess
// can read it, and returns the file's path. The caller removes the file
// when done with it.
func WriteTemp(egg io.Reader) (string, error) {
	f, err := os.CreateTemp("", "scrapyd-egg-*.egg")
	if err != nil {
		return "", fmt.Errorf("failed to create temp egg file: %w", err)
	}
	if _, err := io.Copy(f, egg); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp egg file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp egg file: %w", err)
	}
	return f.Name(), nil
}
