package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyur7523/koda/internal/config"
)

func initRepo(t *testing.T, files map[string]string) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, repo
}

func TestCommit(t *testing.T) {
	dir, repo := initRepo(t, map[string]string{"old.txt": "bye\n", "keep.txt": "same\n"})
	head, err := repo.Head()
	require.NoError(t, err)
	base := head.Name().Short()

	// Simulate an applied ledger: one create, one delete.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "old.txt")))

	p, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)

	res, err := p.Commit(context.Background(), Request{
		RepoPath: dir,
		Branch:   "koda/hello",
		Title:    "Add hello",
		Paths:    []string{"hello.txt", "old.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "koda/hello", res.Branch)
	assert.Equal(t, base, res.Base)

	head, err = repo.Head()
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/koda/hello", head.Name().String())
	assert.Equal(t, res.Commit, head.Hash().String())

	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Add hello", commit.Message)
	assert.Equal(t, defaultAuthorName, commit.Author.Name)

	tree, err := commit.Tree()
	require.NoError(t, err)
	_, err = tree.File("hello.txt")
	assert.NoError(t, err)
	_, err = tree.File("old.txt")
	assert.Error(t, err)
	_, err = tree.File("keep.txt")
	assert.NoError(t, err)
}

func TestCommit_NothingToCommit(t *testing.T) {
	dir, _ := initRepo(t, map[string]string{"a.txt": "a\n"})
	p, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)

	_, err = p.Commit(context.Background(), Request{RepoPath: dir, Branch: "koda/noop", Paths: []string{"a.txt"}})
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestPublish_WithoutTokenCommitsOnly(t *testing.T) {
	dir, _ := initRepo(t, map[string]string{"a.txt": "a\n"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("b\n"), 0o644))

	p, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)

	res, err := p.Publish(context.Background(), Request{RepoPath: dir, Branch: "koda/edit", Paths: []string{"a.txt"}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Commit)
	assert.Empty(t, res.PullRequestURL)
}

func TestOpenPullRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/repos/acme/app/pulls", r.URL.Path)
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"number": 7, "html_url": "https://github.example.com/acme/app/pull/7"}`)
	}))
	defer srv.Close()

	p, err := New(context.Background(), Config{Token: config.Secret("gh-token"), BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	url, err := p.OpenPullRequest(context.Background(), Request{
		Repo:   "acme/app",
		Branch: "koda/hello",
		Title:  "Add hello",
		Body:   "Staged: 1 file(s) to create",
	}, "main")
	require.NoError(t, err)
	assert.Equal(t, "https://github.example.com/acme/app/pull/7", url)
	assert.Equal(t, "koda/hello", got["head"])
	assert.Equal(t, "main", got["base"])
	assert.Equal(t, "Add hello", got["title"])
}

func TestOpenPullRequest_InvalidRepo(t *testing.T) {
	p, err := New(context.Background(), Config{Token: config.Secret("t")}, nil)
	require.NoError(t, err)

	for _, repo := range []string{"", "acme", "/app", "acme/app/extra"} {
		_, err := p.OpenPullRequest(context.Background(), Request{Repo: repo, Branch: "b"}, "main")
		assert.ErrorIs(t, err, ErrInvalidRepo, repo)
	}
}
