package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
)

// writePromptFile writes text to logs/prompts/prompt_<id>.txt, creating
// the directory if needed, and returns its path for use as the
// --message-file argument.
func writePromptFile(promptsDir, id, text string) (string, error) {
	if err := os.MkdirAll(promptsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating prompts directory: %w", err)
	}
	path := filepath.Join(promptsDir, fmt.Sprintf("prompt_%s.txt", id))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing prompt file: %w", err)
	}
	return path, nil
}
