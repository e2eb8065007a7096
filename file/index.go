package file

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Find walks the tree under root depth-first and returns the first
// non-directory entry whose base name equals name exactly. Directories are
// never returned. The second result is false when nothing matches or root is
// not a directory.
//
// Siblings are visited in directory-listing order, so when the same name
// exists in several subdirectories callers must not rely on which one wins.
func Find(root, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", false
	}

	var found string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directories are skipped, not fatal.
			logrus.WithFields(logrus.Fields{
				"function": "Find",
				"path":     path,
				"error":    err.Error(),
			}).Debug("Skipping unreadable entry")
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && found == "" {
		return "", false
	}

	return found, found != ""
}
