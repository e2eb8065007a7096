package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/filepeer/limits"
	"github.com/opd-ai/filepeer/transport"
	"github.com/sirupsen/logrus"
)

// DefaultRootDir is the server directory used when none is configured.
const DefaultRootDir = "server_directory"

// ErrNotDirectory indicates the configured root exists but is not a directory.
var ErrNotDirectory = errors.New("server root is not a directory")

// Root is the server directory every name-based operation is confined to.
// Its path is absolute with symlinks resolved, so confinement checks compare
// real paths.
type Root struct {
	path string
}

// OpenRoot opens dir as the server root, creating it if absent.
func OpenRoot(dir string) (*Root, error) {
	if dir == "" {
		dir = DefaultRootDir
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OpenRoot",
				"dir":      dir,
				"error":    err.Error(),
			}).Error("Failed to create server directory")
			return nil, fmt.Errorf("create server directory: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "OpenRoot",
			"dir":      dir,
		}).Info("Server directory created")
	case err != nil:
		return nil, fmt.Errorf("stat server directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve server directory: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve server directory: %w", err)
	}

	return &Root{path: real}, nil
}

// Path returns the absolute root path.
func (r *Root) Path() string {
	return r.path
}

// Contains reports whether p is the root or lies beneath it. p must be
// absolute and clean.
func (r *Root) Contains(p string) bool {
	rel, err := filepath.Rel(r.path, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Resolve maps a store name to a path beneath the root. Relative
// subdirectories are honored; absolute names and names that escape the
// root, directly or through a symlink, are rejected with ErrForbidden.
func (r *Root) Resolve(name string) (string, error) {
	if err := limits.ValidateName(name); err != nil {
		return "", err
	}
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: absolute name %q", transport.ErrForbidden, name)
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." {
		return "", fmt.Errorf("%w: name %q does not name a file", transport.ErrBadRequest, name)
	}

	target, err := r.confine(filepath.Join(r.path, cleaned))
	if err != nil {
		return "", err
	}
	if target == r.path {
		return "", fmt.Errorf("%w: name %q does not name a file", transport.ErrBadRequest, name)
	}
	return target, nil
}

// Confine maps a path given by an initiator to a real path beneath the
// root. Absolute paths are taken as given and relative paths are joined to
// the root; either way the result must not leave the root.
func (r *Root) Confine(p string) (string, error) {
	if err := limits.ValidateArgument(p); err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.path, filepath.FromSlash(p))
	}
	return r.confine(filepath.Clean(p))
}

// ConfineEntry is Confine for a directory entry itself: symlinks are
// resolved in the parent directories only, so a final component that is a
// symlink names the link and not its target. The root itself is not an
// entry of the root and is rejected.
func (r *Root) ConfineEntry(p string) (string, error) {
	if err := limits.ValidateArgument(p); err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.path, filepath.FromSlash(p))
	}
	return r.confineEntry(filepath.Clean(p))
}

func (r *Root) confineEntry(p string) (string, error) {
	parent, err := r.confine(filepath.Dir(p))
	if err != nil {
		return "", err
	}
	entry := filepath.Join(parent, filepath.Base(p))
	if entry == r.path || !r.Contains(entry) {
		return "", fmt.Errorf("%w: %s", transport.ErrForbidden, p)
	}
	return entry, nil
}

// Lookup locates an existing file for retrieve and delete. A name with a
// path separator is resolved relative to the root, the same way a store
// places it; a bare name is searched for anywhere beneath the root. entry
// is the directory entry and target is its real path, which must be a
// regular file inside the root.
func (r *Root) Lookup(name string) (entry, target string, err error) {
	if err := limits.ValidateName(name); err != nil {
		return "", "", err
	}

	if strings.ContainsRune(filepath.ToSlash(name), '/') {
		if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
			return "", "", fmt.Errorf("%w: absolute name %q", transport.ErrForbidden, name)
		}
		entry, err = r.confineEntry(filepath.Join(r.path, filepath.Clean(filepath.FromSlash(name))))
		if err != nil {
			return "", "", err
		}
		if _, err := os.Lstat(entry); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = transport.ErrNotFound
			}
			return "", "", fmt.Errorf("%s: %w", name, err)
		}
	} else {
		var ok bool
		entry, ok = Find(r.path, name)
		if !ok {
			return "", "", fmt.Errorf("%s: %w", name, transport.ErrNotFound)
		}
	}

	target, err = r.confine(entry)
	if err != nil {
		return "", "", err
	}
	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("%s: not a regular file: %w", name, transport.ErrNotFound)
	}
	return entry, target, nil
}

// confine resolves symlinks along the existing part of p and checks the
// result against the root.
func (r *Root) confine(p string) (string, error) {
	real, err := realPath(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if !r.Contains(real) {
		logrus.WithFields(logrus.Fields{
			"function": "Root.confine",
			"root":     r.path,
			"path":     p,
			"resolved": real,
		}).Warn("Rejected path outside server root")
		return "", fmt.Errorf("%w: %s", transport.ErrForbidden, p)
	}
	return real, nil
}

// realPath evaluates symlinks in the longest existing prefix of p and
// re-appends the components that do not exist yet.
func realPath(p string) (string, error) {
	var missing []string
	current := p
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				real = filepath.Join(real, missing[i])
			}
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return p, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

// Find looks name up anywhere beneath the root.
func (r *Root) Find(name string) (string, bool) {
	return Find(r.path, name)
}
