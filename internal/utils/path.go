package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathEscapes = errors.New("path escapes base directory")

// PathUtil joins key onto base and creates the parent directories. Keys that
// resolve outside base are rejected.
func PathUtil(base string, key string) (string, error) {
	filePath, err := ResolvePath(base, key)
	if err != nil {
		return "", err
	}

	// Create all parent directories
	if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}
	return filePath, nil
}

// ResolvePath joins key onto base without touching the filesystem.
func ResolvePath(base string, key string) (string, error) {
	cleanBase := filepath.Clean(base)
	filePath := filepath.Join(cleanBase, filepath.FromSlash(key))
	rel, err := filepath.Rel(cleanBase, filePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, key)
	}
	return filePath, nil
}
