// Package fsutil holds small path helpers shared by the model catalog, the
// plugin host and the CLI.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// IsDir reports whether path names an existing directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// IsFile reports whether path names an existing non-directory.
func IsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// FindOneLevel returns dir/name and every dir/*/name that is a regular file,
// sorted. A missing dir yields nothing and no error.
func FindOneLevel(dir, name string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	if p := filepath.Join(dir, name); IsFile(p) {
		out = append(out, p)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if p := filepath.Join(dir, e.Name(), name); IsFile(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}
