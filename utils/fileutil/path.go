package fileutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ExpandPath expands environment variables and a leading ~, then returns the
// cleaned absolute path. An empty path stays empty.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	path = os.ExpandEnv(path)

	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}

	return filepath.Abs(path)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename reduces an uploaded file name to a safe base name.
// Every character outside [A-Za-z0-9._-] becomes an underscore.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	// ".." or "..." would still walk upwards once prefixed elsewhere
	if strings.Trim(name, ".") == "" {
		return "file"
	}
	return name
}
