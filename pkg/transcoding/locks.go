package transcoding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const fileLockRetryDelay = 50 * time.Millisecond

// appended to the output path to name its cross-process lock file
const lockFileSuffix = ".lock"

type lockEntry struct {
	sem  chan struct{}
	refs int // holders and waiters
}

// LockTable hands out one mutex per normalized path. Entries are dropped
// once no holder or waiter references them.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	// additionally serialize across processes sharing the output directory
	fileLocks bool
}

func NewLockTable(fileLocks bool) *LockTable {
	return &LockTable{
		locks:     map[string]*lockEntry{},
		fileLocks: fileLocks,
	}
}

func normalizePath(path string) string {
	return filepath.Clean(path)
}

func (t *LockTable) acquireEntry(key string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.locks[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		t.locks[key] = entry
	}

	entry.refs++
	return entry
}

func (t *LockTable) releaseEntry(key string, entry *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(t.locks, key)
	}
}

// Lock blocks until the path lock is held or ctx is done. The returned
// unlock func is safe to call more than once.
func (t *LockTable) Lock(ctx context.Context, path string) (func(), error) {
	key := normalizePath(path)
	entry := t.acquireEntry(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		t.releaseEntry(key, entry)
		return nil, ctx.Err()
	}

	var fileLock *flock.Flock
	if t.fileLocks {
		fileLock = flock.New(key + lockFileSuffix)

		locked, err := fileLock.TryLockContext(ctx, fileLockRetryDelay)
		if err != nil || !locked {
			<-entry.sem
			t.releaseEntry(key, entry)

			if err == nil {
				err = ctx.Err()
			}
			return nil, fmt.Errorf("unable to acquire file lock: %w", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if fileLock != nil {
				_ = fileLock.Unlock()
			}

			<-entry.sem
			t.releaseEntry(key, entry)
		})
	}, nil
}

// Len returns number of paths currently held or waited for.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.locks)
}
