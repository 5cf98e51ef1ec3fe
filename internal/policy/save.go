package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save persists p to path as indented JSON, creating parent directories
// as needed.
func Save(p *Policy, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling policy: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing policy to %s: %w", path, err)
	}

	return nil
}
