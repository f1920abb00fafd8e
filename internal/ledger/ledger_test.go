package ledger

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "a.txt", want: "a.txt"},
		{name: "nested", in: "./dir/../dir/b.go", want: "dir/b.go"},
		{name: "empty", in: "", wantErr: true},
		{name: "absolute", in: "/etc/passwd", wantErr: true},
		{name: "escape", in: "../outside.txt", wantErr: true},
		{name: "dot", in: ".", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLedger_StageWrite(t *testing.T) {
	t.Run("create for missing file", func(t *testing.T) {
		root := t.TempDir()
		l := New(root)

		msg, err := l.StageWrite("hello.txt", "hi")
		require.NoError(t, err)
		assert.Equal(t, "[STAGED] Will create 'hello.txt' (not yet applied)", msg)

		c, ok := l.Get("hello.txt")
		require.True(t, ok)
		assert.Equal(t, KindCreate, c.Kind)
		assert.Nil(t, c.OriginalContent)

		_, err = os.Stat(filepath.Join(root, "hello.txt"))
		assert.True(t, os.IsNotExist(err), "staging must not touch disk")
	})

	t.Run("modify for existing file", func(t *testing.T) {
		root := t.TempDir()
		writeTestFile(t, root, "main.go", "package main\n")
		l := New(root)

		msg, err := l.StageWrite("main.go", "package app\n")
		require.NoError(t, err)
		assert.Equal(t, "[STAGED] Will modify 'main.go' (not yet applied)", msg)

		c, _ := l.Get("main.go")
		assert.Equal(t, KindModify, c.Kind)
		require.NotNil(t, c.OriginalContent)
		assert.Equal(t, "package main\n", *c.OriginalContent)
	})

	t.Run("restaging keeps first original", func(t *testing.T) {
		root := t.TempDir()
		writeTestFile(t, root, "f.txt", "v0")
		l := New(root)

		_, err := l.StageWrite("f.txt", "v1")
		require.NoError(t, err)
		writeTestFile(t, root, "f.txt", "changed behind our back")
		msg, err := l.StageWrite("f.txt", "v2")
		require.NoError(t, err)
		assert.Equal(t, "[STAGED] Updated staged changes for 'f.txt'", msg)
		_, err = l.StageDelete("f.txt")
		require.NoError(t, err)
		_, err = l.StageWrite("f.txt", "v3")
		require.NoError(t, err)

		list := l.List()
		require.Len(t, list, 1)
		assert.Equal(t, KindModify, list[0].Kind)
		assert.Equal(t, "v3", list[0].NewContent)
		require.NotNil(t, list[0].OriginalContent)
		assert.Equal(t, "v0", *list[0].OriginalContent)
	})

	t.Run("rejects escaping path", func(t *testing.T) {
		l := New(t.TempDir())
		_, err := l.StageWrite("../x", "nope")
		assert.ErrorIs(t, err, ErrInvalidPath)
		assert.Equal(t, 0, l.Len())
	})
}

func TestLedger_StageDelete(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		l := New(t.TempDir())
		msg, err := l.StageDelete("ghost.txt")
		require.NoError(t, err)
		assert.Equal(t, "Error: File 'ghost.txt' does not exist", msg)
		assert.Equal(t, 0, l.Len())
	})

	t.Run("existing file", func(t *testing.T) {
		root := t.TempDir()
		writeTestFile(t, root, "old.txt", "bye\n")
		l := New(root)

		msg, err := l.StageDelete("old.txt")
		require.NoError(t, err)
		assert.Equal(t, "[STAGED] Will delete 'old.txt' (not yet applied)", msg)

		c, ok := l.Get("old.txt")
		require.True(t, ok)
		assert.Equal(t, KindDelete, c.Kind)
		assert.Equal(t, "bye\n", *c.OriginalContent)
		assert.FileExists(t, filepath.Join(root, "old.txt"))
	})

	t.Run("staged create not on disk", func(t *testing.T) {
		l := New(t.TempDir())
		_, err := l.StageWrite("new.txt", "x")
		require.NoError(t, err)

		msg, err := l.StageDelete("new.txt")
		require.NoError(t, err)
		assert.Contains(t, msg, "does not exist")
		c, _ := l.Get("new.txt")
		assert.Equal(t, KindCreate, c.Kind)
		assert.Equal(t, 1, l.Len())
	})

	t.Run("directory", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(root, "pkg"), 0o755))
		l := New(root)
		msg, err := l.StageDelete("pkg")
		require.NoError(t, err)
		assert.Equal(t, "Error: 'pkg' is not a file", msg)
	})
}

func TestLedger_ReadFilePrefersStaged(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "disk")
	writeTestFile(t, root, "b.txt", "disk b")
	l := New(root)

	_, err := l.StageWrite("a.txt", "staged")
	require.NoError(t, err)
	_, err = l.StageDelete("b.txt")
	require.NoError(t, err)

	got, err := l.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "staged", got)

	_, err = l.ReadFile("b.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	writeTestFile(t, root, "c.txt", "plain")
	got, err = l.ReadFile("c.txt")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}

func TestLedger_ListIsSnapshot(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.txt", "orig")
	l := New(root)
	_, err := l.StageWrite("a.txt", "new")
	require.NoError(t, err)

	list := l.List()
	list[0].NewContent = "mutated"
	*list[0].OriginalContent = "mutated"

	c, _ := l.Get("a.txt")
	assert.Equal(t, "new", c.NewContent)
	assert.Equal(t, "orig", *c.OriginalContent)
}

func TestLedger_InsertionOrder(t *testing.T) {
	l := New(t.TempDir())
	for _, p := range []string{"z.txt", "a.txt", "m/b.txt"} {
		_, err := l.StageWrite(p, p)
		require.NoError(t, err)
	}
	_, err := l.StageWrite("a.txt", "again")
	require.NoError(t, err)

	var got []string
	for _, c := range l.List() {
		got = append(got, c.Path)
	}
	assert.Equal(t, []string{"z.txt", "a.txt", "m/b.txt"}, got)
}

func TestLedger_DiscardAll(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "keep.txt", "keep")
	l := New(root)
	_, _ = l.StageWrite("keep.txt", "changed")
	_, _ = l.StageWrite("new.txt", "new")

	assert.Equal(t, "Discarded 2 staged change(s).", l.DiscardAll())
	assert.Empty(t, l.List())

	data, err := os.ReadFile(filepath.Join(root, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
	assert.NoFileExists(t, filepath.Join(root, "new.txt"))
}

func TestLedger_Summary(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "mod.txt", "x")
	writeTestFile(t, root, "del.txt", "x")
	l := New(root)
	assert.Equal(t, "No staged changes.", l.Summary())

	_, _ = l.StageWrite("one.txt", "1")
	_, _ = l.StageWrite("two.txt", "2")
	assert.Equal(t, "Staged: 2 file(s) to create", l.Summary())

	_, _ = l.StageWrite("mod.txt", "y")
	_, _ = l.StageDelete("del.txt")
	assert.Equal(t, "Staged: 2 file(s) to create, 1 file(s) to modify, 1 file(s) to delete", l.Summary())
	assert.Equal(t, Counts{Create: 2, Modify: 1, Delete: 1}, l.Counts())
}
