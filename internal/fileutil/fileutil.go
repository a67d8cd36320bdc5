// Package fileutil implements the JSON file helpers behind the conversation
// cache blob: plain reads, and writes that replace the target atomically so a
// crash mid-write can never leave a half-written blob behind.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReadJSON unmarshals the JSON file at path into v, which must be a pointer.
// The raw os error is returned for missing files so callers can distinguish
// "no blob yet" from a corrupt one.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// WriteJSONAtomic writes v as indented JSON through a sibling temp file and a
// rename, so path either keeps its previous content or holds the complete new
// blob.
func WriteJSONAtomic(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Sync before the rename so the new content is durable.
	f, err := os.Open(tmpPath)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
