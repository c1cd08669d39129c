package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/erpbackup/internal/archive"
	"github.com/ledgerline/erpbackup/internal/config"
	"github.com/ledgerline/erpbackup/internal/snapshot"
)

func TestCreate_ProducesOneArtifact(t *testing.T) {
	env := newTestEnv(t)
	env.writeLive(t, "uploads/invoice.pdf", "pdf")
	env.writeLive(t, "uploads/logo.png", "png")
	env.writeLive(t, "config/app.yaml", "theme: dark")

	result, err := env.svc.Create(context.Background(), CreateOptions{Name: "erp_backup_20240101_020000"})
	require.NoError(t, err)

	assert.Equal(t, "erp_backup_20240101_020000", result.Name)
	assert.Greater(t, result.SizeBytes, int64(0))
	assert.WithinDuration(t, time.Now(), result.CreatedAt, time.Minute)

	members, err := archive.ListMembers(result.Path)
	require.NoError(t, err)
	assert.Equal(t, archive.MetadataMember, members[0], "descriptor packed first")
	assert.Contains(t, members, "erp.db")
	assert.Contains(t, members, "uploads/invoice.pdf")
	assert.Contains(t, members, "uploads/logo.png")
	assert.Contains(t, members, "config/app.yaml")
	assert.NotContains(t, members, "logs", "logs excluded by default")

	// No staging residue in the store.
	assert.Equal(t, 0, countMatching(t, env.cfg.Backup.StoreDirectory, ".staging-*"))
}

func TestCreate_DerivesNameFromTimestamp(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.svc.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)
	assert.Regexp(t, `^erp_backup_\d{8}_\d{6}$`, result.Name)
}

func TestCreate_IncludeLogs(t *testing.T) {
	env := newTestEnv(t)
	env.writeLive(t, "logs/app.log", "log line")

	result, err := env.svc.Create(context.Background(), CreateOptions{IncludeLogs: true})
	require.NoError(t, err)

	members, err := archive.ListMembers(result.Path)
	require.NoError(t, err)
	assert.Contains(t, members, "logs/app.log")

	report, err := env.svc.Verify(context.Background(), result.Name)
	require.NoError(t, err)
	assert.True(t, report.Metadata.IncludesLogs)
}

func TestCreate_RejectsInvalidName(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"../escape", "has space", "/abs", ".hidden"} {
		_, err := env.svc.Create(context.Background(), CreateOptions{Name: name})
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestCreate_RejectsDuplicateName(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Create(context.Background(), CreateOptions{Name: "erp_backup_20240101_020000"})
	require.NoError(t, err)
	_, err = env.svc.Create(context.Background(), CreateOptions{Name: "erp_backup_20240101_020000"})
	assert.Error(t, err)
}

func TestCreate_SnapshotFailureLeavesStoreUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.stub.snapshotErr = &snapshot.SnapshotError{Op: "dump", Tool: "pg_dump", ExitCode: 1}

	_, err := env.svc.Create(context.Background(), CreateOptions{})
	var serr *snapshot.SnapshotError
	require.ErrorAs(t, err, &serr)

	assert.Equal(t, 0, countMatching(t, env.cfg.Backup.StoreDirectory, "*"+archive.Extension))
	assert.Equal(t, 0, countMatching(t, env.cfg.Backup.StoreDirectory, ".staging-*"))
}

func TestCreate_CancellationCleansStaging(t *testing.T) {
	env := newTestEnv(t)
	env.stub.snapshotDelay = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := env.svc.Create(ctx, CreateOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, countMatching(t, env.cfg.Backup.StoreDirectory, ".staging-*"))
}

func TestCreate_EmbedsCompanySummary(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Backup:    config.BackupConfig{StoreDirectory: filepath.Join(root, "store"), Timeout: time.Minute},
		Retention: config.RetentionConfig{MaxArtifacts: 5},
		Database:  config.DatabaseConfig{Dialect: "sqlite", Path: filepath.Join(root, "erp.db")},
	}
	stub := &stubSnapshotter{dialect: "sqlite", live: "x"}
	svc, err := New(cfg, stub, nil, WithCompanySummary(func(ctx context.Context) map[string]string {
		return map[string]string{"name": "Acme Traders"}
	}))
	require.NoError(t, err)

	result, err := svc.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	data, err := archive.ReadMember(result.Path, archive.MetadataMember)
	require.NoError(t, err)
	md, err := DecodeMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "Acme Traders", md.CompanySummary["name"])
}

func TestRetention_BoundHolds(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Retention.MaxArtifacts = 3
	})

	for i := 1; i <= 5; i++ {
		artifact := filepath.Join(env.cfg.Backup.StoreDirectory, uniqueName(i)+archive.Extension)
		_, err := env.svc.Create(context.Background(), CreateOptions{Name: uniqueName(i)})
		require.NoError(t, err)
		// Backdate so mod-time ordering matches creation order unambiguously.
		mt := time.Now().Add(-time.Duration(10-i) * time.Second)
		require.NoError(t, os.Chtimes(artifact, mt, mt))
	}

	entries, err := env.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uniqueName(5), entries[0].Name)
	assert.Equal(t, uniqueName(4), entries[1].Name)
	assert.Equal(t, uniqueName(3), entries[2].Name)
}

func TestConcurrent_SecondCallFailsFast(t *testing.T) {
	env := newTestEnv(t)
	env.stub.snapshotDelay = 300 * time.Millisecond

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := env.svc.Create(context.Background(), CreateOptions{Name: uniqueName(1)})
		done <- err
	}()

	<-started
	time.Sleep(50 * time.Millisecond)
	_, err := env.svc.Create(context.Background(), CreateOptions{Name: uniqueName(2)})
	assert.ErrorIs(t, err, ErrOperationInFlight)

	require.NoError(t, <-done, "first backup completes in full")
}

func TestConcurrent_LockWaitSerializes(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Backup.LockWait = true
	})
	env.stub.snapshotDelay = 100 * time.Millisecond

	errs := make(chan error, 2)
	for i := 1; i <= 2; i++ {
		go func(i int) {
			_, err := env.svc.Create(context.Background(), CreateOptions{Name: uniqueName(i)})
			errs <- err
		}(i)
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	entries, err := env.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "both backups complete when waiting is enabled")
	for _, e := range entries {
		report, err := env.svc.Verify(context.Background(), e.Name)
		require.NoError(t, err)
		assert.True(t, report.Valid, "no half-written artifact")
	}
}
