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

// CreateOptions controls a single backup run.
type CreateOptions struct {
	// Name overrides the timestamp-derived artifact name. Must match the
	// naming convention.
	Name string
	// IncludeLogs archives the live logs tree into the artifact.
	IncludeLogs bool

	// skipRetention is set by the restore path for safety backups: retention
	// must not delete the artifact that is about to be restored.
	skipRetention bool
}

// CreateResult describes the artifact written by a successful backup.
type CreateResult struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
	// Warnings carries non-fatal retention cleanup failures.
	Warnings []string `json:"warnings,omitempty"`
}

// Create produces one complete point-in-time artifact: database snapshot,
// uploads and config trees, optional logs, and the metadata descriptor,
// bundled as a single compressed file. Exactly one new artifact becomes
// visible on success; any step failure leaves the store unchanged.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	return s.createLocked(ctx, opts)
}

// createLocked runs the seven backup steps. Callers must hold the store lock;
// the restore path reuses it for the safety backup without re-acquiring.
func (s *Service) createLocked(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	now := time.Now()
	name, err := resolveName(opts.Name, now)
	if err != nil {
		return nil, err
	}
	artifactPath := s.artifactPath(name)
	if _, err := os.Stat(artifactPath); err == nil {
		return nil, fmt.Errorf("artifact %q already exists", name)
	}

	if err := os.MkdirAll(s.cfg.Backup.StoreDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	staging := filepath.Join(s.cfg.Backup.StoreDirectory, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	// Staging is removed on every exit path, including cancellation.
	defer os.RemoveAll(staging)

	s.log.Info("backup started",
		"name", name,
		"dialect", s.snap.Dialect(),
		"includeLogs", opts.IncludeLogs,
	)

	if err := s.snap.Snapshot(ctx, staging); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.Trees.Uploads != "" {
		if err := archive.CopyTree(s.cfg.Trees.Uploads, filepath.Join(staging, "uploads")); err != nil {
			return nil, err
		}
	}
	if s.cfg.Trees.Config != "" {
		if err := archive.CopyTree(s.cfg.Trees.Config, filepath.Join(staging, "config")); err != nil {
			return nil, err
		}
	}
	if opts.IncludeLogs && s.cfg.Trees.Logs != "" {
		if err := archive.CopyTree(s.cfg.Trees.Logs, filepath.Join(staging, "logs")); err != nil {
			return nil, err
		}
	}

	md := &Metadata{
		FormatVersion: SupportedFormatVersion,
		CreatedAt:     now,
		DBDialect:     s.snap.Dialect(),
		AppVersion:    s.cfg.AppVersion,
		IncludesLogs:  opts.IncludeLogs,
	}
	if s.summary != nil {
		md.CompanySummary = s.summary(ctx)
	}
	if err := WriteMetadata(md, filepath.Join(staging, archive.MetadataMember)); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := archive.Pack(staging, artifactPath); err != nil {
		return nil, err
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	result := &CreateResult{
		Name:      name,
		Path:      artifactPath,
		SizeBytes: info.Size(),
		CreatedAt: now,
	}

	// Retention is best-effort: cleanup failures are warnings, never a
	// failed backup.
	if !opts.skipRetention {
		deleted, rerr := enforceRetention(s.cfg.Backup.StoreDirectory, s.cfg.Retention.MaxArtifacts)
		for _, d := range deleted {
			s.log.Info("retention deleted artifact", "path", d)
		}
		if rerr != nil {
			s.log.Warn("retention cleanup incomplete", "error", rerr.Error())
			result.Warnings = append(result.Warnings, rerr.Error())
		}
	}

	s.log.Info("backup completed",
		"name", name,
		"path", artifactPath,
		"sizeBytes", result.SizeBytes,
		"duration", time.Since(now).String(),
	)
	return result, nil
}
