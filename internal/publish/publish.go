// Package publish turns applied changes into a branch, a commit and a
// GitHub pull request.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/keyur7523/koda/internal/config"
	"github.com/keyur7523/koda/internal/logging"
)

var (
	// ErrNothingToCommit is returned when none of the paths changed.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrInvalidRepo is returned for a repository not in owner/name form.
	ErrInvalidRepo = errors.New("repository must be owner/name")
)

const (
	defaultRemote      = "origin"
	defaultAuthorName  = "koda"
	defaultAuthorEmail = "koda@users.noreply.github.com"
)

// Config configures a Publisher.
type Config struct {
	Token   config.Secret
	BaseURL string // GitHub Enterprise API URL; empty for github.com
	Remote  string
	Author  string
	Email   string
}

// Request describes one publication.
type Request struct {
	RepoPath string
	Repo     string // owner/name
	Branch   string
	Title    string
	Body     string

	// Paths are root-relative files touched by the applied changes.
	Paths []string
}

// Result reports what was published.
type Result struct {
	Branch         string `json:"branch"`
	Base           string `json:"base"`
	Commit         string `json:"commit"`
	PullRequestURL string `json:"pull_request_url,omitempty"`
}

// Publisher commits, pushes and opens pull requests.
type Publisher struct {
	cfg    Config
	gh     *github.Client
	logger *logging.Logger
}

// New creates a Publisher. Without a token only local commits are made.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Publisher, error) {
	if cfg.Remote == "" {
		cfg.Remote = defaultRemote
	}
	if cfg.Author == "" {
		cfg.Author = defaultAuthorName
	}
	if cfg.Email == "" {
		cfg.Email = defaultAuthorEmail
	}
	if logger == nil {
		logger = logging.Nop()
	}

	p := &Publisher{cfg: cfg, logger: logger}
	if cfg.Token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		gh := github.NewClient(oauth2.NewClient(ctx, ts))
		if cfg.BaseURL != "" {
			var err error
			gh, err = gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("github base url: %w", err)
			}
		}
		p.gh = gh
	}
	return p, nil
}

// Publish commits the paths on a new branch, pushes it and opens a pull
// request against the branch that was checked out before.
func (p *Publisher) Publish(ctx context.Context, req Request) (*Result, error) {
	res, err := p.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.gh == nil {
		p.logger.Info(ctx, "no github token, skipping push", zap.String("branch", res.Branch))
		return res, nil
	}
	if err := p.Push(ctx, req.RepoPath, res.Branch); err != nil {
		return res, err
	}
	url, err := p.OpenPullRequest(ctx, req, res.Base)
	if err != nil {
		return res, err
	}
	res.PullRequestURL = url
	return res, nil
}

// Commit creates req.Branch from HEAD and commits the paths on it.
func (p *Publisher) Commit(ctx context.Context, req Request) (*Result, error) {
	repo, err := git.PlainOpen(req.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}

	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(req.Branch),
		Create: true,
		Keep:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating branch %s: %w", req.Branch, err)
	}

	for _, path := range req.Paths {
		if _, err := os.Stat(filepath.Join(req.RepoPath, filepath.FromSlash(path))); errors.Is(err, fs.ErrNotExist) {
			if _, err := wt.Remove(path); err != nil {
				return nil, fmt.Errorf("staging removal of %s: %w", path, err)
			}
			continue
		}
		if _, err := wt.Add(path); err != nil {
			return nil, fmt.Errorf("staging %s: %w", path, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	if !hasStaged(status) {
		return nil, ErrNothingToCommit
	}

	msg := req.Title
	if msg == "" {
		msg = "Apply koda changes"
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: p.cfg.Author, Email: p.cfg.Email, When: time.Now()},
	})
	if err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}

	p.logger.Info(ctx, "changes committed",
		zap.String("branch", req.Branch),
		zap.String("commit", hash.String()),
		zap.Int("paths", len(req.Paths)))
	return &Result{Branch: req.Branch, Base: head.Name().Short(), Commit: hash.String()}, nil
}

func hasStaged(status git.Status) bool {
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			return true
		}
	}
	return false
}

// Push pushes branch to the configured remote using the token.
func (p *Publisher) Push(ctx context.Context, repoPath, branch string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: p.cfg.Remote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
		Auth:       &githttp.BasicAuth{Username: "x-access-token", Password: p.cfg.Token.Value()},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// OpenPullRequest opens a pull request from req.Branch into base.
func (p *Publisher) OpenPullRequest(ctx context.Context, req Request, base string) (string, error) {
	if p.gh == nil {
		return "", fmt.Errorf("GitHub token not set")
	}
	owner, name, ok := strings.Cut(req.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRepo, req.Repo)
	}

	title := req.Title
	if title == "" {
		title = "Apply koda changes"
	}
	pr, _, err := p.gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(req.Branch),
		Base:  github.String(base),
		Body:  github.String(req.Body),
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request: %w", err)
	}

	url := pr.GetHTMLURL()
	p.logger.Info(ctx, "pull request opened", zap.String("repo", req.Repo), zap.String("url", url))
	return url, nil
}
