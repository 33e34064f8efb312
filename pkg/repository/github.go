// Package repository reads and writes the project repository. Reads go to
// the GitHub API first and fall back to a local checkout. Writes are atomic
// multi-file commits through the git data API.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/go-github/v66/github"

	"github.com/buildcoprojects/signalhub/pkg/config"
	"github.com/buildcoprojects/signalhub/pkg/util/resiliency"
)

var (
	ErrPathNotAllowed = errors.New("repository: path not allowed")
	ErrInvalidPath    = errors.New("repository: invalid path")
	ErrNotConfigured  = errors.New("repository: remote not configured")
	ErrNotFound       = errors.New("repository: not found")
)

// FileChange is one file of a commit.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CommitRef identifies a created commit.
type CommitRef struct {
	SHA    string `json:"sha"`
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch"`
}

// File is a file read from the repository.
type File struct {
	Path    string `json:"path"`
	Content []byte `json:"-"`
	SHA     string `json:"sha,omitempty"`
	Source  string `json:"source"` // remote | local
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // file | dir
	Size int64  `json:"size"`
}

// PullRequest is a created pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Service is the repository surface used by the wormhole router.
type Service interface {
	CommitFiles(ctx context.Context, files []FileChange, message, branch string) (CommitRef, error)
	GetFile(ctx context.Context, path string) (File, error)
	ListTree(ctx context.Context, dir string) ([]Entry, error)
	CreatePullRequest(ctx context.Context, title, head, base, body string) (PullRequest, error)
	Ping(ctx context.Context) error
}

// GitHubClient implements Service on go-github. Requests go through the
// resiliency client.
type GitHubClient struct {
	gh      *github.Client
	token   string
	owner   string
	repo    string
	branch  string
	local   *LocalRepo
	allowed []string
	logger  *slog.Logger
}

// NewGitHubClient validates the path allow-list and builds a client.
func NewGitHubClient(cfg config.GitHubConfig, httpClient resiliency.Doer, logger *slog.Logger) (*GitHubClient, error) {
	allowed := cfg.AllowedPaths
	if len(allowed) == 0 {
		allowed = []string{"**"}
	}
	for _, p := range allowed {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("repository: invalid allow-list pattern %q", p)
		}
	}
	if httpClient == nil {
		httpClient = resiliency.NewEnhancedClient("github")
	}
	if logger == nil {
		logger = slog.Default()
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	base, err := url.Parse(strings.TrimRight(apiBase, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("repository: invalid api base: %w", err)
	}
	gh := github.NewClient(resiliency.HTTPClient(httpClient))
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	gh.BaseURL = base

	var local *LocalRepo
	if cfg.LocalRoot != "" {
		local = NewLocalRepo(cfg.LocalRoot)
	}
	return &GitHubClient{
		gh:      gh,
		token:   cfg.Token,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  branch,
		local:   local,
		allowed: allowed,
		logger:  logger.With("component", "repository"),
	}, nil
}

// Remote reports whether API credentials and coordinates are configured.
func (c *GitHubClient) Remote() bool {
	return c.token != "" && c.owner != "" && c.repo != ""
}

// Allowed reports whether p matches the commit allow-list.
func (c *GitHubClient) Allowed(p string) bool {
	for _, pattern := range c.allowed {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// CommitFiles commits files on top of branch in one commit. The branch ref
// is only moved once every blob, the tree and the commit exist, so a failure
// part way leaves the branch untouched.
func (c *GitHubClient) CommitFiles(ctx context.Context, files []FileChange, message, branch string) (CommitRef, error) {
	if len(files) == 0 {
		return CommitRef{}, errors.New("repository: no files to commit")
	}
	if branch == "" {
		branch = c.branch
	}
	paths := make([]string, len(files))
	for i, f := range files {
		p, err := cleanPath(f.Path)
		if err != nil {
			return CommitRef{}, err
		}
		if !c.Allowed(p) {
			return CommitRef{}, fmt.Errorf("%w: %s", ErrPathNotAllowed, p)
		}
		paths[i] = p
	}
	if !c.Remote() {
		return CommitRef{}, ErrNotConfigured
	}

	ref, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+branch)
	if err != nil {
		return CommitRef{}, fmt.Errorf("get ref: %w", mapError(err))
	}
	headSHA := ref.GetObject().GetSHA()
	parent, _, err := c.gh.Git.GetCommit(ctx, c.owner, c.repo, headSHA)
	if err != nil {
		return CommitRef{}, fmt.Errorf("get commit: %w", mapError(err))
	}

	entries := make([]*github.TreeEntry, len(files))
	for i, f := range files {
		blob, _, err := c.gh.Git.CreateBlob(ctx, c.owner, c.repo, &github.Blob{
			Content:  github.String(f.Content),
			Encoding: github.String("utf-8"),
		})
		if err != nil {
			return CommitRef{}, fmt.Errorf("create blob %s: %w", paths[i], mapError(err))
		}
		entries[i] = &github.TreeEntry{
			Path: github.String(paths[i]),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  blob.SHA,
		}
	}

	tree, _, err := c.gh.Git.CreateTree(ctx, c.owner, c.repo, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return CommitRef{}, fmt.Errorf("create tree: %w", mapError(err))
	}

	commit, _, err := c.gh.Git.CreateCommit(ctx, c.owner, c.repo, &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: tree.SHA},
		Parents: []*github.Commit{{SHA: github.String(headSHA)}},
	}, nil)
	if err != nil {
		return CommitRef{}, fmt.Errorf("create commit: %w", mapError(err))
	}

	_, _, err = c.gh.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return CommitRef{}, fmt.Errorf("update ref: %w", mapError(err))
	}

	c.logger.InfoContext(ctx, "committed files", "sha", commit.GetSHA(), "branch", branch, "files", len(files))
	return CommitRef{SHA: commit.GetSHA(), URL: commit.GetHTMLURL(), Branch: branch}, nil
}

// GetFile reads path from the remote branch, falling back to the local
// checkout when the remote is unavailable.
func (c *GitHubClient) GetFile(ctx context.Context, p string) (File, error) {
	p, err := cleanPath(p)
	if err != nil {
		return File{}, err
	}
	if c.Remote() {
		file, _, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, p,
			&github.RepositoryContentGetOptions{Ref: c.branch})
		if err == nil && file == nil {
			err = fmt.Errorf("%s is a directory", p)
		}
		if err == nil {
			content, derr := file.GetContent()
			if derr == nil {
				return File{Path: p, Content: []byte(content), SHA: file.GetSHA(), Source: "remote"}, nil
			}
			err = derr
		}
		c.logger.WarnContext(ctx, "remote read failed, using local checkout", "path", p, "error", mapError(err))
	}
	if c.local == nil {
		return File{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return c.local.ReadFile(p)
}

// ListTree lists one directory level, remote first.
func (c *GitHubClient) ListTree(ctx context.Context, dir string) ([]Entry, error) {
	dir, err := cleanDir(dir)
	if err != nil {
		return nil, err
	}
	if c.Remote() {
		_, items, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, dir,
			&github.RepositoryContentGetOptions{Ref: c.branch})
		if err == nil {
			out := make([]Entry, 0, len(items))
			for _, it := range items {
				out = append(out, Entry{Name: it.GetName(), Path: it.GetPath(), Type: it.GetType(), Size: int64(it.GetSize())})
			}
			return out, nil
		}
		c.logger.WarnContext(ctx, "remote listing failed, using local checkout", "dir", dir, "error", mapError(err))
	}
	if c.local == nil {
		return nil, ErrNotConfigured
	}
	return c.local.List(dir)
}

// CreatePullRequest opens a pull request from head into base.
func (c *GitHubClient) CreatePullRequest(ctx context.Context, title, head, base, body string) (PullRequest, error) {
	if !c.Remote() {
		return PullRequest{}, ErrNotConfigured
	}
	if base == "" {
		base = c.branch
	}
	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("create pull request: %w", mapError(err))
	}
	return PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// Ping checks the token against the authenticated user endpoint. Without a
// remote it checks the local checkout instead.
func (c *GitHubClient) Ping(ctx context.Context) error {
	if !c.Remote() {
		if c.local == nil {
			return ErrNotConfigured
		}
		return c.local.Ping()
	}
	if _, _, err := c.gh.Users.Get(ctx, ""); err != nil {
		return fmt.Errorf("github ping: %w", mapError(err))
	}
	return nil
}

// mapError turns a GitHub 404 into ErrNotFound.
func mapError(err error) error {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, er.Message)
	}
	return err
}
