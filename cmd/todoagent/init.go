package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Waghib/Speech-to-TODO-List/internal/defaults"
)

// runInit prepares dir for todoagent: a data directory and an example
// config.yaml. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing todoagent in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config may hold an API key.
	configPath := filepath.Join(dir, "config.yaml")
	created, err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(w, "  ✓ %s\n", configPath)
	} else {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", configPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set GEMINI_API_KEY (or edit config.yaml), then run: todoagent serve")
	return nil
}

// writeIfMissing creates path with content and reports whether it did.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, f.Close()
}
