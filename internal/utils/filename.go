// Package utils holds small cross-cutting helpers shared by the
// download engine that don't warrant their own package.
package utils

import (
	"path/filepath"
	"strings"
)

// SanitizeFilename strips path separators and characters that are
// unsafe on common filesystems from a manifest-supplied filename,
// so it can be joined onto the downloads directory without escaping
// it or tripping over Windows-reserved characters.
func SanitizeFilename(name string) string {
	// Replace backslashes with forward slashes first so filepath.Base treats them as separators
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." {
		return name
	}
	if name == "/" || name == "\\" {
		return "_"
	}
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, ":", "_")
	name = strings.ReplaceAll(name, "*", "_")
	name = strings.ReplaceAll(name, "?", "_")
	name = strings.ReplaceAll(name, "\"", "_")
	name = strings.ReplaceAll(name, "<", "_")
	name = strings.ReplaceAll(name, ">", "_")
	name = strings.ReplaceAll(name, "|", "_")
	return name
}
