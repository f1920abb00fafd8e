package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyur7523/koda/internal/workspace"
)

func newWorkspace(t *testing.T, files map[string]string) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	ws, err := workspace.New(root)
	require.NoError(t, err)
	return ws
}

func call(t *testing.T, ws *workspace.Workspace, name string, args Args) (string, error) {
	t.Helper()
	spec, ok := NewDefaultRegistry(DefaultConfig()).Get(name)
	require.True(t, ok, "tool %s not registered", name)
	return spec.Handler(context.Background(), ws, args)
}

func TestReadFile(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"src/a.txt": "hello", "docs/x.md": "doc"})

	out, err := call(t, ws, "read_file", Args{"path": "src/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = call(t, ws, "read_file", Args{"path": "missing.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Error: File 'missing.txt' not found.", out)

	out, err = call(t, ws, "read_file", Args{"path": "docs"})
	require.NoError(t, err)
	assert.Equal(t, "Error: 'docs' is not a file.", out)

	_, err = call(t, ws, "read_file", Args{"path": "../../etc/passwd"})
	assert.ErrorIs(t, err, workspace.ErrOutsideRoot)

	_, err = call(t, ws, "read_file", Args{})
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestReadFile_SeesStagedContent(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"a.txt": "disk", "b.txt": "doomed"})

	_, err := call(t, ws, "write_file", Args{"path": "a.txt", "content": "staged"})
	require.NoError(t, err)
	_, err = call(t, ws, "write_file", Args{"path": "new.txt", "content": "fresh"})
	require.NoError(t, err)
	_, err = call(t, ws, "delete_file", Args{"path": "b.txt"})
	require.NoError(t, err)

	out, _ := call(t, ws, "read_file", Args{"path": "a.txt"})
	assert.Equal(t, "staged", out)
	out, _ = call(t, ws, "read_file", Args{"path": "new.txt"})
	assert.Equal(t, "fresh", out)
	out, _ = call(t, ws, "read_file", Args{"path": "b.txt"})
	assert.Equal(t, "Error: File 'b.txt' not found.", out)

	data, err := os.ReadFile(filepath.Join(ws.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "disk", string(data), "disk untouched until apply")
	assert.FileExists(t, filepath.Join(ws.Root(), "b.txt"))
}

func TestWriteFile(t *testing.T) {
	ws := newWorkspace(t, nil)

	out, err := call(t, ws, "write_file", Args{"path": "hello.txt", "content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "[STAGED] Will create 'hello.txt' (not yet applied)", out)

	_, err = call(t, ws, "write_file", Args{"path": "hello.txt"})
	assert.ErrorIs(t, err, ErrMissingArgument)

	_, err = call(t, ws, "write_file", Args{"path": "../escape.txt", "content": "x"})
	assert.ErrorIs(t, err, workspace.ErrOutsideRoot)
	assert.Equal(t, 1, ws.Ledger().Len())
}

func TestWriteFile_ThroughSymlinkedDirectory(t *testing.T) {
	ws := newWorkspace(t, nil)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(ws.Root(), "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := call(t, ws, "write_file", Args{"path": "link/owned.txt", "content": "owned"})
	assert.ErrorIs(t, err, workspace.ErrOutsideRoot)
	assert.Equal(t, 0, ws.Ledger().Len())

	_, err = ws.Ledger().ApplyAll()
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(outside, "owned.txt"))
}

func TestDeleteFile(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"old.txt": "x"})

	out, err := call(t, ws, "delete_file", Args{"path": "old.txt"})
	require.NoError(t, err)
	assert.Equal(t, "[STAGED] Will delete 'old.txt' (not yet applied)", out)

	out, err = call(t, ws, "delete_file", Args{"path": "nope.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Error: File 'nope.txt' does not exist", out)
}

func TestListDirectory(t *testing.T) {
	ws := newWorkspace(t, map[string]string{
		"b.txt":          "b",
		"a.txt":          "a",
		"pkg/x.go":       "package pkg",
		"empty/.gitkeep": "",
	})
	require.NoError(t, os.Remove(filepath.Join(ws.Root(), "empty", ".gitkeep")))

	out, err := call(t, ws, "list_directory", Args{"path": "."})
	require.NoError(t, err)
	assert.Equal(t, "📄 a.txt\n📄 b.txt\n📁 empty\n📁 pkg", out)

	out, err = call(t, ws, "list_directory", Args{"path": "empty"})
	require.NoError(t, err)
	assert.Equal(t, "Directory 'empty' is empty.", out)

	out, err = call(t, ws, "list_directory", Args{"path": "nowhere"})
	require.NoError(t, err)
	assert.Equal(t, "Error: Directory 'nowhere' not found.", out)

	out, err = call(t, ws, "list_directory", Args{"path": "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Error: 'a.txt' is not a directory.", out)
}

func TestListDirectory_OverlaysLedger(t *testing.T) {
	ws := newWorkspace(t, map[string]string{"a.txt": "a", "b.txt": "b"})

	_, _ = call(t, ws, "delete_file", Args{"path": "b.txt"})
	_, _ = call(t, ws, "write_file", Args{"path": "c.txt", "content": "c"})
	_, _ = call(t, ws, "write_file", Args{"path": "newdir/inner.txt", "content": "i"})

	out, err := call(t, ws, "list_directory", Args{"path": "."})
	require.NoError(t, err)
	assert.Equal(t, "📄 a.txt\n📄 c.txt\n📁 newdir", out)

	out, err = call(t, ws, "list_directory", Args{"path": "newdir"})
	require.NoError(t, err)
	assert.Equal(t, "📄 inner.txt", out)
}
