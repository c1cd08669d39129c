package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/erpbackup/internal/archive"
)

// RestoreResult is returned by Restore. SafetyBackupPath is always surfaced,
// on failure too, so an operator can manually recover even when automatic
// rollback is impossible.
type RestoreResult struct {
	SafetyBackupPath string `json:"safetyBackupPath,omitempty"`
}

// restoreSession tracks one restore run. Ephemeral: the staging directory is
// torn down on every exit; only the safety artifact outlives the session.
type restoreSession struct {
	id         string
	source     string
	safetyPath string
	staging    string
	status     string
}

const (
	statusVerifying      = "verifying"
	statusSafetyBackup   = "safety-backup"
	statusExtracting     = "extracting"
	statusRestoringDB    = "restoring-db"
	statusRestoringFiles = "restoring-files"
	statusDone           = "done"
	statusFailed         = "failed"
)

func (s *Service) transition(sess *restoreSession, status string) {
	sess.status = status
	s.log.Info("restore state", "session", sess.id, "artifact", sess.source, "status", status)
}

// Restore replaces the live database and file trees with the contents of the
// named artifact. Before anything destructive happens the artifact is
// verified, a safety backup of the current live state is taken, and the
// artifact's dialect is checked against the live configuration. Cancellation
// is honored up to the destructive database restore; from there the swap runs
// to completion so the database is never left half-restored.
func (s *Service) Restore(ctx context.Context, name string) (*RestoreResult, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	sess := &restoreSession{id: uuid.NewString(), source: name}
	result := &RestoreResult{}

	fail := func(err error) (*RestoreResult, error) {
		s.transition(sess, statusFailed)
		result.SafetyBackupPath = sess.safetyPath
		return result, err
	}

	if !namePattern.MatchString(name) {
		return fail(fmt.Errorf("%w: %q", ErrInvalidName, name))
	}
	artifactPath := s.artifactPath(name)
	if _, err := os.Stat(artifactPath); err != nil {
		if os.IsNotExist(err) {
			return fail(fmt.Errorf("%w: %s", ErrNotFound, name))
		}
		return fail(err)
	}

	// 1. Verify. Nothing on the live system has been touched yet.
	s.transition(sess, statusVerifying)
	report := verifyArtifact(artifactPath)
	if !report.Valid {
		return fail(&VerificationError{Reason: report.Reason})
	}

	// 2. Safety backup of the current live state. A restore must never
	// proceed without a fresh rollback point.
	s.transition(sess, statusSafetyBackup)
	safetyName := safetyNamePrefix + time.Now().Format(nameTimeLayout)
	safety, err := s.createLocked(ctx, CreateOptions{
		Name:          safetyName,
		IncludeLogs:   report.Metadata.IncludesLogs,
		skipRetention: true,
	})
	if err != nil {
		return fail(fmt.Errorf("safety backup failed, restore aborted: %w", err))
	}
	sess.safetyPath = safety.Path
	result.SafetyBackupPath = safety.Path

	// 3. Extract into a fresh staging directory, removed on every exit.
	s.transition(sess, statusExtracting)
	sess.staging = filepath.Join(s.cfg.Backup.StoreDirectory, ".restore-"+sess.id)
	if err := os.MkdirAll(sess.staging, 0o755); err != nil {
		return fail(fmt.Errorf("create staging directory: %w", err))
	}
	defer os.RemoveAll(sess.staging)

	if err := archive.ExtractAll(artifactPath, sess.staging); err != nil {
		return fail(err)
	}

	// 4. Compatibility gate, still before anything destructive.
	md, err := ReadMetadata(filepath.Join(sess.staging, archive.MetadataMember))
	if err != nil {
		return fail(err)
	}
	if md.DBDialect != s.snap.Dialect() {
		return fail(&RestoreError{
			Step:             statusVerifying,
			SafetyBackupPath: sess.safetyPath,
			Err: fmt.Errorf("artifact dialect %q does not match live dialect %q",
				md.DBDialect, s.snap.Dialect()),
		})
	}

	// Last cancellation point before the destructive swap.
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	destructiveCtx := context.WithoutCancel(ctx)

	// 5. Database restore.
	s.transition(sess, statusRestoringDB)
	if err := s.snap.Restore(destructiveCtx, sess.staging); err != nil {
		return fail(&RestoreError{
			Step:             statusRestoringDB,
			SafetyBackupPath: sess.safetyPath,
			Err:              err,
		})
	}

	// 6. File trees: uploads replaced wholesale, config selectively, logs
	// archived aside so current-session logs survive.
	s.transition(sess, statusRestoringFiles)
	if err := s.restoreTrees(sess, md); err != nil {
		return fail(&RestoreError{
			Step:             statusRestoringFiles,
			SafetyBackupPath: sess.safetyPath,
			Err:              err,
		})
	}

	s.transition(sess, statusDone)
	return result, nil
}

func (s *Service) restoreTrees(sess *restoreSession, md *Metadata) error {
	if s.cfg.Trees.Uploads != "" {
		if err := archive.ReplaceTree(filepath.Join(sess.staging, "uploads"), s.cfg.Trees.Uploads, archive.ModeReplace); err != nil {
			return err
		}
	}
	if s.cfg.Trees.Config != "" {
		if err := archive.ReplaceTree(filepath.Join(sess.staging, "config"), s.cfg.Trees.Config, archive.ModeSelective); err != nil {
			return err
		}
	}
	if md.IncludesLogs && s.cfg.Trees.Logs != "" {
		if err := archive.ReplaceTree(filepath.Join(sess.staging, "logs"), s.cfg.Trees.Logs, archive.ModeArchiveAside); err != nil {
			return err
		}
	}
	return nil
}
