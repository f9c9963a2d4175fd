package resources

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oellm/evalsched/internal/logging"
)

func TestAcquireLock(t *testing.T) {
	logger := logging.FallbackLogger()

	t.Run("acquire and release", func(t *testing.T) {
		locksDir := t.TempDir()
		lock, err := acquireLock(context.Background(), logger, locksDir, "org--model", time.Hour)
		if err != nil {
			t.Fatalf("Failed to acquire lock: %v", err)
		}
		if _, err := os.Stat(filepath.Join(locksDir, "org--model.lock")); err != nil {
			t.Fatalf("Lock directory not created: %v", err)
		}
		if err := lock.release(); err != nil {
			t.Fatalf("Failed to release lock: %v", err)
		}
		if _, err := os.Stat(filepath.Join(locksDir, "org--model.lock")); !os.IsNotExist(err) {
			t.Fatal("Lock directory survived release")
		}
	})

	t.Run("held lock blocks until the context expires", func(t *testing.T) {
		locksDir := t.TempDir()
		if err := os.Mkdir(filepath.Join(locksDir, "key.lock"), 0o755); err != nil {
			t.Fatalf("Failed to plant lock: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := acquireLock(ctx, logger, locksDir, "key", time.Hour)
		if err == nil {
			t.Fatal("Expected acquisition to fail while the lock is held")
		}
	})

	t.Run("stale holder is reclaimed", func(t *testing.T) {
		locksDir := t.TempDir()
		stale := filepath.Join(locksDir, "key.lock")
		if err := os.Mkdir(stale, 0o755); err != nil {
			t.Fatalf("Failed to plant lock: %v", err)
		}
		// age the lock past the stale timeout
		old := time.Now().Add(-time.Hour)
		if err := os.Chtimes(stale, old, old); err != nil {
			t.Fatalf("Failed to backdate lock: %v", err)
		}
		lock, err := acquireLock(context.Background(), logger, locksDir, "key", time.Minute)
		if err != nil {
			t.Fatalf("Failed to reclaim stale lock: %v", err)
		}
		if err := lock.release(); err != nil {
			t.Fatalf("Failed to release lock: %v", err)
		}
	})
}
