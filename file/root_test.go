package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opd-ai/filepeer/limits"
	"github.com/opd-ai/filepeer/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRoot(t *testing.T) *Root {
	t.Helper()
	root, err := OpenRoot(filepath.Join(t.TempDir(), "server"))
	require.NoError(t, err)
	return root
}

func TestOpenRootCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	root, err := OpenRoot(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(root.Path()))
}

func TestOpenRootRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := OpenRoot(path)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestOpenRootExistingKeepsContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644))

	_, err := OpenRoot(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
}

func TestRootResolve(t *testing.T) {
	root := openTestRoot(t)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "plain", input: "a.txt", want: filepath.Join(root.Path(), "a.txt")},
		{name: "subdirectory", input: "docs/a.txt", want: filepath.Join(root.Path(), "docs", "a.txt")},
		{name: "dot segments inside", input: "docs/../a.txt", want: filepath.Join(root.Path(), "a.txt")},
		{name: "parent escape", input: "../evil.txt", wantErr: transport.ErrForbidden},
		{name: "deep escape", input: "docs/../../evil.txt", wantErr: transport.ErrForbidden},
		{name: "absolute", input: "/etc/passwd", wantErr: transport.ErrForbidden},
		{name: "root itself", input: ".", wantErr: transport.ErrBadRequest},
		{name: "empty", input: "", wantErr: limits.ErrArgumentEmpty},
		{name: "long component", input: strings.Repeat("n", limits.MaxNameLength+1), wantErr: limits.ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := root.Resolve(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRootResolveSymlinkEscape(t *testing.T) {
	root := openTestRoot(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root.Path(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := root.Resolve("link/evil.txt")
	assert.ErrorIs(t, err, transport.ErrForbidden)
}

func TestRootConfine(t *testing.T) {
	root := openTestRoot(t)

	got, err := root.Confine("sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "sub", "file.txt"), got)

	got, err = root.Confine(filepath.Join(root.Path(), "x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "x"), got)

	_, err = root.Confine(t.TempDir())
	assert.ErrorIs(t, err, transport.ErrForbidden)

	_, err = root.Confine("..")
	assert.ErrorIs(t, err, transport.ErrForbidden)
}

func TestRootContains(t *testing.T) {
	root := openTestRoot(t)

	assert.True(t, root.Contains(root.Path()))
	assert.True(t, root.Contains(filepath.Join(root.Path(), "a", "b")))
	assert.False(t, root.Contains(filepath.Dir(root.Path())))
	assert.False(t, root.Contains(root.Path()+"-sibling"))
}

func TestRootConfineEntry(t *testing.T) {
	root := openTestRoot(t)

	got, err := root.ConfineEntry("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "a", "b.txt"), got)

	_, err = root.ConfineEntry(".")
	assert.ErrorIs(t, err, transport.ErrForbidden)

	_, err = root.ConfineEntry("../x")
	assert.ErrorIs(t, err, transport.ErrForbidden)
}

func TestRootLookup(t *testing.T) {
	root := openTestRoot(t)
	writeTree(t, root.Path(), map[string]string{"one/a.txt": "1", "two/a.txt": "2", "dir/.keep": ""})

	entry, target, err := root.Lookup("two/a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "two", "a.txt"), entry)
	assert.Equal(t, entry, target)

	entry, _, err = root.Lookup("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", filepath.Base(entry))

	tests := []struct {
		name    string
		wantErr error
	}{
		{name: "missing.txt", wantErr: transport.ErrNotFound},
		{name: "one/missing.txt", wantErr: transport.ErrNotFound},
		{name: "dir", wantErr: transport.ErrNotFound},
		{name: "one/../dir", wantErr: transport.ErrNotFound},
		{name: "../a.txt", wantErr: transport.ErrForbidden},
		{name: "/etc/passwd", wantErr: transport.ErrForbidden},
		{name: "", wantErr: limits.ErrArgumentEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := root.Lookup(tt.name)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
