package chat

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultInstructions is used when no system prompt file is configured.
const DefaultInstructions = "You are a helpful assistant. Use the related past conversations when they are relevant, and say so when you do not know."

// LoadText reads an optional prompt file. A missing path yields fallback;
// a configured path that cannot be read is an error.
func LoadText(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fallback, fmt.Errorf("prompt file %s does not exist", path)
	}
	if err != nil {
		return fallback, fmt.Errorf("read prompt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
