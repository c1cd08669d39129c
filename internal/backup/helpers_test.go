package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerline/erpbackup/internal/config"
	"github.com/ledgerline/erpbackup/internal/logger"
	"github.com/ledgerline/erpbackup/internal/snapshot"
)

// stubSnapshotter stands in for a dialect implementation. Its "live
// database" is a string; Snapshot writes it into the staging directory and
// Restore reads it back, so round trips are observable without a real engine.
type stubSnapshotter struct {
	mu      sync.Mutex
	dialect string
	live    string

	snapshotErr   error
	restoreErr    error
	snapshotDelay time.Duration
	restoreCalls  int
}

func (f *stubSnapshotter) Dialect() string { return f.dialect }

func (f *stubSnapshotter) MemberName() string {
	name, ok := snapshot.MemberName(f.dialect)
	if !ok {
		name = "database.bin"
	}
	return name
}

func (f *stubSnapshotter) Snapshot(ctx context.Context, destDir string) error {
	if f.snapshotDelay > 0 {
		select {
		case <-time.After(f.snapshotDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.snapshotErr != nil {
		return f.snapshotErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return os.WriteFile(filepath.Join(destDir, f.MemberName()), []byte(f.live), 0o644)
}

func (f *stubSnapshotter) Restore(ctx context.Context, sourceDir string) error {
	f.mu.Lock()
	f.restoreCalls++
	f.mu.Unlock()
	if f.restoreErr != nil {
		return f.restoreErr
	}
	data, err := os.ReadFile(filepath.Join(sourceDir, f.MemberName()))
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.live = string(data)
	f.mu.Unlock()
	return nil
}

// testEnv bundles a Service over temp directories with a stub snapshotter.
type testEnv struct {
	svc  *Service
	stub *stubSnapshotter
	cfg  *config.Config
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		AppVersion: "test",
		Backup: config.BackupConfig{
			StoreDirectory: filepath.Join(root, "store"),
			Timeout:        time.Minute,
		},
		Retention: config.RetentionConfig{MaxArtifacts: 100},
		Database:  config.DatabaseConfig{Dialect: "sqlite", Path: filepath.Join(root, "erp.db")},
		Trees: config.TreesConfig{
			Uploads: filepath.Join(root, "uploads"),
			Config:  filepath.Join(root, "config"),
			Logs:    filepath.Join(root, "logs"),
		},
	}
	for _, m := range mutate {
		m(cfg)
	}

	stub := &stubSnapshotter{dialect: cfg.Database.Dialect, live: "live-db-state"}
	svc, err := New(cfg, stub, logger.Global())
	require.NoError(t, err)
	return &testEnv{svc: svc, stub: stub, cfg: cfg}
}

func (e *testEnv) writeLive(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(filepath.Dir(e.cfg.Backup.StoreDirectory), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e *testEnv) readLive(t *testing.T, rel string) (string, error) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(e.cfg.Backup.StoreDirectory), rel))
	return string(data), err
}

func countMatching(t *testing.T, dir, pattern string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	return len(matches)
}

func uniqueName(i int) string {
	return fmt.Sprintf("erp_backup_2024010%d_020000", i)
}
