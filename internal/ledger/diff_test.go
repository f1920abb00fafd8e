package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_DiffEmpty(t *testing.T) {
	assert.Equal(t, "No staged changes.", New(t.TempDir()).Diff())
}

func TestLedger_DiffCreate(t *testing.T) {
	l := New(t.TempDir())
	_, err := l.StageWrite("hello.txt", "hi")
	require.NoError(t, err)

	want := "--- /dev/null\n+++ hello.txt\n@@ -0,0 +1 @@\n+hi\n"
	assert.Equal(t, want, l.Diff())
}

func TestLedger_DiffDelete(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "old.txt", "one\ntwo\n")
	l := New(root)
	_, err := l.StageDelete("old.txt")
	require.NoError(t, err)

	diff := l.Diff()
	want := "--- old.txt\n+++ /dev/null\n@@ -1,2 +0,0 @@\n-one\n-two\n"
	assert.Equal(t, want, diff)
	assert.Equal(t, 1, strings.Count(diff, "@@ -"))
}

func TestLedger_DiffModify(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "f.txt", "a\nb\nc\n")
	l := New(root)
	_, err := l.StageWrite("f.txt", "a\nB\nc\n")
	require.NoError(t, err)

	diff := l.Diff()
	assert.True(t, strings.HasPrefix(diff, "--- a/f.txt\n+++ b/f.txt\n@@ -1,3 +1,3 @@\n"))
	assert.Contains(t, diff, " a\n-b\n+B\n c\n")
}

func TestLedger_DiffUnchangedContentKeepsHeader(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "same.txt", "x\n")
	l := New(root)
	_, err := l.StageWrite("same.txt", "x\n")
	require.NoError(t, err)

	assert.Equal(t, "--- a/same.txt\n+++ b/same.txt\n", l.Diff())
}

func TestLedger_DiffMultipleFilesSeparated(t *testing.T) {
	l := New(t.TempDir())
	_, _ = l.StageWrite("one.txt", "1\n")
	_, _ = l.StageWrite("two.txt", "2\n")

	diff := l.Diff()
	parts := strings.Split(diff, "\n--- ")
	require.Len(t, parts, 2)
	assert.Contains(t, diff, "+1\n\n--- /dev/null\n+++ two.txt")
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{}, splitLines(""))
	assert.Equal(t, []string{"a\n"}, splitLines("a"))
	assert.Equal(t, []string{"a\n", "b\n"}, splitLines("a\nb\n"))
	assert.Equal(t, []string{"a\n", "\n", "b\n"}, splitLines("a\n\nb"))
}
