package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// skippedDirs are never listed from the local checkout.
var skippedDirs = map[string]bool{"node_modules": true}

// LocalRepo reads a checkout on disk.
type LocalRepo struct {
	root string
}

func NewLocalRepo(root string) *LocalRepo {
	return &LocalRepo{root: root}
}

func (l *LocalRepo) resolve(p string) (string, error) {
	root, err := filepath.Abs(l.root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(p))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}
	return full, nil
}

// ReadFile reads a file relative to the root.
func (l *LocalRepo) ReadFile(p string) (File, error) {
	full, err := l.resolve(p)
	if err != nil {
		return File{}, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return File{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", p, err)
	}
	return File{Path: p, Content: data, Source: "local"}, nil
}

// List lists one directory level, skipping dotfiles and dependency trees.
func (l *LocalRepo) List(dir string) ([]Entry, error) {
	full, err := l.resolve(dir)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		name := de.Name()
		if strings.HasPrefix(name, ".") || skippedDirs[name] {
			continue
		}
		e := Entry{Name: name, Path: path.Join(dir, name), Type: "file"}
		if de.IsDir() {
			e.Type = "dir"
		} else if info, err := de.Info(); err == nil {
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (l *LocalRepo) Ping() error {
	info, err := os.Stat(l.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.root)
	}
	return nil
}

// cleanPath normalizes a repository file path. Absolute paths and any ".."
// element are rejected.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || strings.HasPrefix(p, "/") || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return path.Clean(p), nil
}

// cleanDir is cleanPath that also accepts the root ("" or ".").
func cleanDir(d string) (string, error) {
	d = strings.Trim(strings.TrimSpace(d), "/")
	if d == "" || d == "." {
		return "", nil
	}
	return cleanPath(d)
}
