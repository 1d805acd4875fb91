package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

func TestSandboxRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	for _, p := range []string{
		"../../../etc/passwd",
		"..",
		"../sibling",
		"docs/../../outside",
		"/etc/passwd",
	} {
		_, err := resolveWithin(root, p)
		assert.Equal(t, errdefs.KindPathEscape, errdefs.KindOf(err), "path %q", p)
	}
}

func TestSandboxAcceptsContainedPaths(t *testing.T) {
	root := t.TempDir()

	for rel, want := range map[string]string{
		"":              root,
		".":             root,
		"docs/a.txt":    filepath.Join(root, "docs/a.txt"),
		"./docs/a.txt":  filepath.Join(root, "docs/a.txt"),
		"docs/../b.txt": filepath.Join(root, "b.txt"),
	} {
		got, err := resolveWithin(root, rel)
		require.NoError(t, err, "path %q", rel)
		assert.Equal(t, want, got, "path %q", rel)
	}
}

func TestSandboxRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	root := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := resolveWithin(root, "link/secret.txt")
	assert.Equal(t, errdefs.KindPathEscape, errdefs.KindOf(err))
}

func TestSandboxAcceptsInternalSymlink(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	got, err := resolveWithin(root, "alias/a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "alias/a.txt"), got)
}

func TestMetaKey(t *testing.T) {
	assert.Equal(t, "", metaKey(""))
	assert.Equal(t, "", metaKey("."))
	assert.Equal(t, "docs/a.txt", metaKey("docs/a.txt"))
	assert.Equal(t, "docs/a.txt", metaKey("./docs//a.txt"))
}
