// Package gitstate reads repository state through the git command line.
package gitstate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

// Diff lists the paths that differ between two commits. Paths are
// repository-relative with forward slashes.
type Diff struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Changed returns added, modified and removed paths, sorted and unique.
func (d *Diff) Changed() []string {
	seen := make(map[string]struct{}, len(d.Added)+len(d.Modified)+len(d.Removed))
	var out []string
	for _, list := range [][]string{d.Added, d.Modified, d.Removed} {
		for _, p := range list {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Provider is the git state a sync depends on.
type Provider interface {
	CurrentCommit(ctx context.Context, repoPath string) (string, error)
	CurrentBranch(ctx context.Context, repoPath string) (string, error)
	Diff(ctx context.Context, repoPath, oldCommit, newCommit string) (*Diff, error)
	// ListFiles returns the files tracked at HEAD.
	ListFiles(ctx context.Context, repoPath string) ([]string, error)
}

// CLI implements Provider by running git.
type CLI struct {
	gitPath     string
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewCLI locates git on PATH.
func NewCLI() (*CLI, error) {
	path, err := exec.LookPath("git")
	if err != nil {
		return nil, errors.GitError("git executable not found", err).
			WithSuggestion("Install git and make sure it is on PATH.")
	}
	return &CLI{gitPath: path, execCommand: exec.CommandContext}, nil
}

func (c *CLI) run(ctx context.Context, repoPath string, args ...string) ([]byte, error) {
	cmd := c.execCommand(ctx, c.gitPath, append([]string{"-C", repoPath}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.GitError(
			fmt.Sprintf("git %s failed: %s", args[0], strings.TrimSpace(stderr.String())), err).
			WithDetail("repo", repoPath)
	}
	return out, nil
}

// CurrentCommit returns the full hash of HEAD.
func (c *CLI) CurrentCommit(ctx context.Context, repoPath string) (string, error) {
	out, err := c.run(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the checked out branch, or "HEAD" when detached.
func (c *CLI) CurrentBranch(ctx context.Context, repoPath string) (string, error) {
	out, err := c.run(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Diff compares two commits without rename detection, so a rename shows up
// as a removal plus an addition.
func (c *CLI) Diff(ctx context.Context, repoPath, oldCommit, newCommit string) (*Diff, error) {
	out, err := c.run(ctx, repoPath, "diff", "--name-status", "-z", "--no-renames", oldCommit, newCommit)
	if err != nil {
		return nil, err
	}
	return parseNameStatus(out)
}

// ListFiles lists blobs at HEAD, skipping submodules and symlinks.
func (c *CLI) ListFiles(ctx context.Context, repoPath string) ([]string, error) {
	out, err := c.run(ctx, repoPath, "ls-tree", "-r", "-z", "HEAD")
	if err != nil {
		return nil, err
	}
	return parseLsTree(out), nil
}

// parseNameStatus parses `git diff --name-status -z` output: status and path
// alternate, each NUL terminated.
func parseNameStatus(out []byte) (*Diff, error) {
	fields := splitNUL(out)
	if len(fields)%2 != 0 {
		return nil, errors.GitError("malformed git diff output", nil)
	}
	d := &Diff{}
	for i := 0; i < len(fields); i += 2 {
		status, path := fields[i], fields[i+1]
		if status == "" {
			continue
		}
		switch status[0] {
		case 'A':
			d.Added = append(d.Added, path)
		case 'D':
			d.Removed = append(d.Removed, path)
		default:
			// M, T (type change) and U (unmerged) all need a rewrite.
			d.Modified = append(d.Modified, path)
		}
	}
	return d, nil
}

// parseLsTree parses `git ls-tree -r -z` entries of the form
// "<mode> <type> <object>\t<path>".
func parseLsTree(out []byte) []string {
	var files []string
	for _, entry := range splitNUL(out) {
		meta, path, ok := strings.Cut(entry, "\t")
		if !ok {
			continue
		}
		parts := strings.Fields(meta)
		if len(parts) < 2 || parts[1] != "blob" || parts[0] == "120000" {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}

func splitNUL(out []byte) []string {
	s := strings.TrimSuffix(string(out), "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}

var _ Provider = (*CLI)(nil)
