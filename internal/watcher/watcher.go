package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

// DefaultDebounce is the quiet period before a sync is triggered.
const DefaultDebounce = 2 * time.Second

// Options configures the watcher behavior.
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// SyncFunc syncs one repository.
type SyncFunc func(ctx context.Context, repo string) error

// Watcher maps ref changes of registered repositories to sync calls.
type Watcher struct {
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger

	mu      sync.RWMutex
	gitDirs map[string]string // absolute .git dir -> repo name
	closed  bool
}

// New creates a watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.InternalError("create file watcher", err)
	}
	return &Watcher{
		fsw:       fsw,
		debouncer: NewDebouncer(opts.Debounce),
		logger:    opts.Logger,
		gitDirs:   make(map[string]string),
	}, nil
}

// Add starts watching the refs of the repository at path.
func (w *Watcher) Add(repo, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	gitDir := filepath.Join(abs, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return errors.GitError(fmt.Sprintf("%s is not a git working tree", abs), err).
			WithDetail("repo", repo)
	}

	if err := w.fsw.Add(gitDir); err != nil {
		return errors.InternalError("watch "+gitDir, err)
	}
	heads := filepath.Join(gitDir, "refs", "heads")
	err = filepath.WalkDir(heads, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
	if err != nil {
		return errors.InternalError("watch "+heads, err)
	}

	w.mu.Lock()
	w.gitDirs[gitDir] = repo
	w.mu.Unlock()
	w.logger.Info("watch_added", slog.String("repo", repo), slog.String("git_dir", gitDir))
	return nil
}

// Run dispatches events until ctx is done. Syncs run one at a time; a
// repository already syncing elsewhere is skipped, its next ref change
// triggers again.
func (w *Watcher) Run(ctx context.Context, sync SyncFunc) error {
	go w.forward(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return nil
			}
			for _, t := range batch {
				w.logger.Info("watch_sync_triggered",
					slog.String("repo", t.Repo),
					slog.String("ref", t.Path),
					slog.Int("events", t.Count))
				err := sync(ctx, t.Repo)
				switch {
				case err == nil:
				case ctx.Err() != nil:
					return ctx.Err()
				case errors.HasCode(err, errors.ErrCodeSyncInProgress):
					w.logger.Info("watch_sync_skipped", slog.String("repo", t.Repo))
				default:
					w.logger.Error("watch_sync_failed",
						slog.String("repo", t.Repo),
						slog.String("code", errors.GetCode(err)),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// forward feeds relevant fsnotify events into the debouncer.
func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	repo, rel, ok := w.resolve(ev.Name)
	if !ok {
		return
	}
	// New branch namespaces (refs/heads/feature/) need their own watch.
	if ev.Op&fsnotify.Create != 0 && strings.HasPrefix(rel, "refs/heads/") {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(ev.Name)
			return
		}
	}
	if !IsRefPath(rel) {
		return
	}
	w.debouncer.Add(repo, rel)
}

// resolve finds the repository owning an event path and the path relative
// to its .git directory.
func (w *Watcher) resolve(name string) (repo, rel string, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for gitDir, r := range w.gitDirs {
		if rp, err := filepath.Rel(gitDir, name); err == nil && !strings.HasPrefix(rp, "..") {
			return r, filepath.ToSlash(rp), true
		}
	}
	return "", "", false
}

// IsRefPath reports whether rel, relative to a .git directory, is a file
// whose change can move the checked-out commit.
func IsRefPath(rel string) bool {
	if strings.HasSuffix(rel, ".lock") {
		return false
	}
	switch rel {
	case "HEAD", "packed-refs":
		return true
	}
	return strings.HasPrefix(rel, "refs/heads/")
}

// Close stops watching. Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.debouncer.Stop()
	return w.fsw.Close()
}
