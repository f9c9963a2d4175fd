package resources

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// cacheLock is an advisory, cross-process lock scoped to one cache key on a
// shared filesystem. The contention it guards against is between separate
// invocations of this tool, by different users, racing to populate the same
// cache entry. A lock directory is created atomically; a holder that crashed
// leaves a lock whose age eventually exceeds the stale timeout, at which
// point it is reclaimed.
type cacheLock struct {
	dir   string
	owner string
}

type lockInfo struct {
	Owner      string    `json:"owner"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

const lockPollInterval = 2 * time.Second

// acquireLock blocks until the lock for key is held, the context is
// cancelled, or a stale holder is reclaimed and the lock taken over.
func acquireLock(ctx context.Context, logger *slog.Logger, locksDir, key string, staleAfter time.Duration) (*cacheLock, error) {
	if err := os.MkdirAll(locksDir, 0o777); err != nil {
		return nil, err
	}
	lock := &cacheLock{
		dir:   filepath.Join(locksDir, key+".lock"),
		owner: uuid.New().String(),
	}
	for {
		err := os.Mkdir(lock.dir, 0o755)
		if err == nil {
			info, _ := json.Marshal(lockInfo{Owner: lock.owner, PID: os.Getpid(), AcquiredAt: time.Now().UTC()})
			// the info file is diagnostic only; the Mkdir above is the lock
			_ = os.WriteFile(filepath.Join(lock.dir, "info.json"), info, 0o644)
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		if stat, statErr := os.Stat(lock.dir); statErr == nil && time.Since(stat.ModTime()) > staleAfter {
			logger.Warn("Reclaiming stale cache lock", "lock", lock.dir, "age", time.Since(stat.ModTime()).String())
			if rmErr := os.RemoveAll(lock.dir); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, rmErr
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *cacheLock) release() error {
	err := os.RemoveAll(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
