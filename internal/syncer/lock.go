package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
)

const lockRetryDelay = 100 * time.Millisecond

// Locker serializes syncs per repository, both inside this process and
// across processes sharing the data directory. Different repositories never
// block each other.
type Locker struct {
	dir string

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocker keeps lock files in dir. An empty dir disables the
// cross-process lock.
func NewLocker(dir string) *Locker {
	return &Locker{dir: dir, slots: make(map[string]chan struct{})}
}

func (l *Locker) slot(repo string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[repo]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[repo] = ch
	}
	return ch
}

// Acquire takes the lock of repo. Without wait a held lock fails
// immediately with ERR_507_SYNC_IN_PROGRESS; with wait it blocks until the
// lock is free or ctx is done. The returned release is idempotent.
func (l *Locker) Acquire(ctx context.Context, repo string, wait bool) (func(), error) {
	ch := l.slot(repo)
	if wait {
		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case ch <- struct{}{}:
		default:
			return nil, errors.SyncInProgress(repo)
		}
	}

	fl, err := l.lockFile(ctx, repo, wait)
	if err != nil {
		<-ch
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if fl != nil {
				_ = fl.Unlock()
			}
			<-ch
		})
	}, nil
}

func (l *Locker) lockFile(ctx context.Context, repo string, wait bool) (*flock.Flock, error) {
	if l.dir == "" {
		return nil, nil
	}
	if !repostate.ValidName(repo) {
		return nil, errors.ValidationError(fmt.Sprintf("invalid repository name %q", repo), nil)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, errors.InternalError("create lock directory", err)
	}
	fl := flock.New(filepath.Join(l.dir, repo+".lock"))

	var ok bool
	var err error
	if wait {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryLock()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.InternalError(fmt.Sprintf("lock %s", fl.Path()), err)
	}
	if !ok {
		return nil, errors.SyncInProgress(repo).WithDetail("lock", fl.Path())
	}
	return fl, nil
}
