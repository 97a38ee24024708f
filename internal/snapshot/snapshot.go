// Package snapshot stores the raw candidate listing on disk so that a later run can rank
// from it instead of downloading the listing again.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the raw listing document to path as indented JSON.
func Save(path string, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format snapshot: %w", err)
	}
	buf.WriteByte('\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save. The content must be a JSON document; whether it
// holds a usable listing is up to the caller.
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("failed to parse snapshot %s: invalid JSON", path)
	}
	return data, nil
}
