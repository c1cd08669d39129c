package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/erpbackup/internal/archive"
	"github.com/ledgerline/erpbackup/internal/config"
)

func TestRestore_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.writeLive(t, "uploads/invoice.pdf", "original invoice")
	env.writeLive(t, "config/app.yaml", "theme: dark")
	env.writeLive(t, "config/database.yml", "host: prod-db")
	env.stub.live = "state-at-backup"

	created, err := env.svc.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	// Drift the live system after the backup.
	env.stub.live = "state-after-drift"
	env.writeLive(t, "uploads/invoice.pdf", "edited invoice")
	env.writeLive(t, "uploads/straggler.pdf", "added after backup")
	env.writeLive(t, "config/app.yaml", "theme: light")
	env.writeLive(t, "config/database.yml", "host: new-db")

	result, err := env.svc.Restore(context.Background(), created.Name)
	require.NoError(t, err)

	// Database back at the backed-up state.
	assert.Equal(t, "state-at-backup", env.stub.live)

	// Uploads replaced wholesale: edits reverted, stragglers gone.
	got, err := env.readLive(t, "uploads/invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, "original invoice", got)
	_, err = env.readLive(t, "uploads/straggler.pdf")
	assert.True(t, os.IsNotExist(err))

	// Config applied selectively: app.yaml reverted, connection settings kept.
	got, err = env.readLive(t, "config/app.yaml")
	require.NoError(t, err)
	assert.Equal(t, "theme: dark", got)
	got, err = env.readLive(t, "config/database.yml")
	require.NoError(t, err)
	assert.Equal(t, "host: new-db", got)

	// A safety backup of the pre-restore state exists and is itself valid.
	require.NotEmpty(t, result.SafetyBackupPath)
	safetyName := filepath.Base(result.SafetyBackupPath)
	safetyName = safetyName[:len(safetyName)-len(archive.Extension)]
	assert.Regexp(t, `^safety_\d{8}_\d{6}$`, safetyName)
	report, err := env.svc.Verify(context.Background(), safetyName)
	require.NoError(t, err)
	assert.True(t, report.Valid)

	// No restore staging residue.
	assert.Equal(t, 0, countMatching(t, env.cfg.Backup.StoreDirectory, ".restore-*"))
}

func TestRestore_VerificationFailureAbortsBeforeSafetyBackup(t *testing.T) {
	env := newTestEnv(t)
	env.stub.live = "pristine"

	created, err := env.svc.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	raw, err := os.ReadFile(created.Path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x01
	require.NoError(t, os.WriteFile(created.Path, raw, 0o644))

	_, err = env.svc.Restore(context.Background(), created.Name)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)

	assert.Equal(t, "pristine", env.stub.live)
	assert.Equal(t, 0, env.stub.restoreCalls)
	assert.Equal(t, 0, countMatching(t, env.cfg.Backup.StoreDirectory, "safety_*"))
}

func TestRestore_DialectMismatchAbortsBeforeDatabaseSwap(t *testing.T) {
	env := newTestEnv(t)
	env.stub.live = "pristine"

	// Artifact from a postgres deployment; the live instance runs sqlite.
	staging := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staging, archive.MetadataMember),
		[]byte(`{"formatVersion":1,"createdAt":"2024-01-01T02:00:00Z","dbDialect":"postgres"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "database.dump"), []byte("pg"), 0o644))
	require.NoError(t, os.MkdirAll(env.cfg.Backup.StoreDirectory, 0o755))
	require.NoError(t, archive.Pack(staging,
		filepath.Join(env.cfg.Backup.StoreDirectory, "erp_backup_foreign"+archive.Extension)))

	result, err := env.svc.Restore(context.Background(), "erp_backup_foreign")
	var rerr *RestoreError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Error(), "dialect")

	// The mismatch is caught after the safety backup but before anything
	// destructive touches the live database.
	assert.Equal(t, "pristine", env.stub.live)
	assert.Equal(t, 0, env.stub.restoreCalls)
	assert.NotEmpty(t, result.SafetyBackupPath)
	assert.Equal(t, 0, countMatching(t, env.cfg.Backup.StoreDirectory, ".restore-*"))
}

func TestRestore_DatabaseFailureSurfacesSafetyPath(t *testing.T) {
	env := newTestEnv(t)
	env.writeLive(t, "uploads/invoice.pdf", "live upload")

	created, err := env.svc.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	env.stub.restoreErr = errors.New("engine rejected dump")
	result, err := env.svc.Restore(context.Background(), created.Name)
	var rerr *RestoreError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "restoring-db", rerr.Step)
	assert.NotEmpty(t, rerr.SafetyBackupPath)
	assert.Equal(t, rerr.SafetyBackupPath, result.SafetyBackupPath)

	// File trees were never touched: the database step failed first.
	got, err := env.readLive(t, "uploads/invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, "live upload", got)
}

func TestRestore_SafetyBackupSkipsRetention(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Retention.MaxArtifacts = 1
	})

	created, err := env.svc.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	_, err = env.svc.Restore(context.Background(), created.Name)
	require.NoError(t, err)

	// With max_artifacts=1 a retention pass during the safety backup would
	// have deleted the very artifact being restored.
	_, err = os.Stat(created.Path)
	assert.NoError(t, err)
	assert.Equal(t, 1, countMatching(t, env.cfg.Backup.StoreDirectory, "safety_*"))
}

func TestRestore_UnknownArtifact(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Restore(context.Background(), "erp_backup_absent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Restore(context.Background(), "../escape")
	assert.ErrorIs(t, err, ErrInvalidName)
}
