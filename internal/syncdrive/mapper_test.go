package syncdrive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFilePath(t *testing.T) {
	// Only the name is available; the sync client may not have materialized
	// the entry locally yet.
	assert.True(t, IsFilePath("/root/notes/SUMMARY.md"))
	assert.True(t, IsFilePath("report.json"))
	assert.False(t, IsFilePath("/root/notes"))
	assert.False(t, IsFilePath(".gitignore"))
	assert.False(t, IsFilePath("archive."))
	assert.False(t, IsFilePath("folder_v2"))
}

func TestLocalToWebURL(t *testing.T) {
	m := &Mapper{Root: "/home/u/OneDrive - Org", BaseURL: "https://share.example.com/personal/u"}

	t.Run("path under root maps with escaping", func(t *testing.T) {
		url := m.LocalToWebURL("/home/u/OneDrive - Org/Shraga Sessions/fix_bug_a1b2", false)
		assert.Equal(t, "https://share.example.com/personal/u/Shraga%20Sessions/fix_bug_a1b2", url)
	})

	t.Run("view in browser appends query", func(t *testing.T) {
		url := m.LocalToWebURL("/home/u/OneDrive - Org/doc.md", true)
		assert.Equal(t, "https://share.example.com/personal/u/doc.md?web=1", url)
	})

	t.Run("path outside root is rejected", func(t *testing.T) {
		assert.Equal(t, "", m.LocalToWebURL("/tmp/elsewhere", false))
	})
}

func TestWebToLocalPath(t *testing.T) {
	m := &Mapper{Root: "/home/u/OneDrive - Org", BaseURL: "https://share.example.com/personal/u"}

	t.Run("round trip", func(t *testing.T) {
		local := "/home/u/OneDrive - Org/Shraga Sessions/task one_a1b2"
		url := m.LocalToWebURL(local, true)
		require.NotEmpty(t, url)
		assert.Equal(t, local, m.WebToLocalPath(url))
	})

	t.Run("foreign url is rejected", func(t *testing.T) {
		assert.Equal(t, "", m.WebToLocalPath("https://other.example.com/x"))
	})

	t.Run("bare base url maps to root", func(t *testing.T) {
		assert.Equal(t, m.Root, m.WebToLocalPath("https://share.example.com/personal/u"))
	})
}

func TestSessionFolder(t *testing.T) {
	t.Run("name is slugged and id prefixed", func(t *testing.T) {
		dir := SessionFolder("/root", "Fix the build!", "a1b2c3d4-0000-1111-2222-333344445555")
		assert.Equal(t, filepath.Join("/root", SessionsDirName, "Fix_the_build_a1b2c3d4"), dir)
	})

	t.Run("long names are capped", func(t *testing.T) {
		dir := SessionFolder("/root", strings.Repeat("x", 200), "a1b2c3d4-1")
		base := filepath.Base(dir)
		assert.LessOrEqual(t, len(base), 50+1+8)
	})

	t.Run("empty name falls back", func(t *testing.T) {
		dir := SessionFolder("/root", "!!!", "a1b2-x")
		assert.Contains(t, filepath.Base(dir), "task_")
	})
}

func TestCreateSessionFolder(t *testing.T) {
	root := t.TempDir()
	dir, err := CreateSessionFolder(root, "my task", "abcd1234-e")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, strings.HasPrefix(dir, filepath.Join(root, SessionsDirName)))
}

func TestFindSyncRootEnv(t *testing.T) {
	root := t.TempDir()
	t.Setenv("OneDriveCommercial", root)

	found, err := FindSyncRoot(true)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFindSyncRootBusinessOnlySkipsConsumer(t *testing.T) {
	t.Setenv("OneDriveCommercial", "")
	t.Setenv("OneDrive", t.TempDir())
	t.Setenv("OneDriveConsumer", "")
	t.Setenv("HOME", t.TempDir()) // empty home, no OneDrive folders

	_, err := FindSyncRoot(true)
	require.Error(t, err)

	var notFound *ErrRootNotFound
	require.ErrorAs(t, err, &notFound)
	assert.NotEmpty(t, notFound.Tried)
}
