package schedule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/erpbackup/internal/backup"
	"github.com/ledgerline/erpbackup/internal/config"
)

func TestParseSchedule_WallClockTime(t *testing.T) {
	sched, err := ParseSchedule("02:00")
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC), next)

	// Before the daily tick it fires the same day.
	from = time.Date(2024, 1, 1, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), sched.Next(from))
}

func TestParseSchedule_CronExpression(t *testing.T) {
	sched, err := ParseSchedule("30 4 * * 1")
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // a Monday
	assert.Equal(t, time.Date(2024, 1, 1, 4, 30, 0, 0, time.UTC), sched.Next(from))
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{"", "25:00", "02:60", "not a schedule", "* * *"} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, "expr %q", expr)
	}
}

type fixedSnapshotter struct{}

func (fixedSnapshotter) Dialect() string    { return "sqlite" }
func (fixedSnapshotter) MemberName() string { return "erp.db" }

func (fixedSnapshotter) Snapshot(_ context.Context, destDir string) error {
	return os.WriteFile(filepath.Join(destDir, "erp.db"), []byte("db"), 0o644)
}

func (fixedSnapshotter) Restore(context.Context, string) error { return nil }

func TestRunner_FiresScheduledBackup(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Backup: config.BackupConfig{
			StoreDirectory: filepath.Join(root, "store"),
			ScheduledTime:  "* * * * *",
			Timeout:        time.Minute,
		},
		Retention: config.RetentionConfig{MaxArtifacts: 5},
		Database:  config.DatabaseConfig{Dialect: "sqlite", Path: filepath.Join(root, "erp.db")},
	}
	svc, err := backup.New(cfg, fixedSnapshotter{}, nil)
	require.NoError(t, err)

	runner, err := NewRunner(svc, cfg, nil)
	require.NoError(t, err)

	// Pin the clock just shy of a minute boundary so the tick arrives fast.
	fixed := time.Now().Truncate(time.Minute).Add(59*time.Second + 900*time.Millisecond)
	runner.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		entries, err := svc.List(context.Background())
		return err == nil && len(entries) >= 1
	}, 5*time.Second, 50*time.Millisecond, "scheduled backup produced an artifact")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunner_RejectsMissingSchedule(t *testing.T) {
	cfg := &config.Config{
		Backup:    config.BackupConfig{StoreDirectory: t.TempDir(), Timeout: time.Minute},
		Retention: config.RetentionConfig{MaxArtifacts: 5},
		Database:  config.DatabaseConfig{Dialect: "sqlite", Path: "x.db"},
	}
	svc, err := backup.New(cfg, fixedSnapshotter{}, nil)
	require.NoError(t, err)

	_, err = NewRunner(svc, cfg, nil)
	assert.Error(t, err)
}

func TestRunner_Next(t *testing.T) {
	cfg := &config.Config{
		Backup: config.BackupConfig{
			StoreDirectory: t.TempDir(),
			ScheduledTime:  "03:15",
			Timeout:        time.Minute,
		},
		Retention: config.RetentionConfig{MaxArtifacts: 5},
		Database:  config.DatabaseConfig{Dialect: "sqlite", Path: "x.db"},
	}
	svc, err := backup.New(cfg, fixedSnapshotter{}, nil)
	require.NoError(t, err)
	runner, err := NewRunner(svc, cfg, nil)
	require.NoError(t, err)

	after := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 2, 3, 15, 0, 0, time.UTC), runner.Next(after))
}
