package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ledgerline/erpbackup/internal/logger"
)

// Postgres snapshots a client/server database with a logical dump via pg_dump
// and replays it via pg_restore.
type Postgres struct {
	Conn    ConnInfo
	Timeout time.Duration
	Logger  logger.Logger
}

// NewPostgres returns a Postgres snapshotter for the given connection.
func NewPostgres(conn ConnInfo, timeout time.Duration, log logger.Logger, opts ...Option) *Postgres {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.username != "" {
		conn.Username = o.username
	}
	if o.password != "" {
		conn.Password = o.password
	}
	return &Postgres{
		Conn:    conn,
		Timeout: timeout,
		Logger:  log,
	}
}

func (p *Postgres) Dialect() string { return DialectPostgres }

func (p *Postgres) MemberName() string {
	name, _ := MemberName(DialectPostgres)
	return name
}

// Snapshot runs pg_dump in custom format. The dump is written under a
// temporary name and renamed only after a zero exit, so a failed dump never
// leaves a partial snapshot file.
func (p *Postgres) Snapshot(ctx context.Context, destDir string) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	finalPath := filepath.Join(destDir, p.MemberName())
	tmpPath := finalPath + ".partial"

	args := []string{
		"-h", p.Conn.Host,
		"-p", p.Conn.Port,
		"-U", p.Conn.Username,
		"-d", p.Conn.Database,
		"-F", "custom",
		"-f", tmpPath,
	}
	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	// PGPASSWORD for non-interactive auth
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.Conn.Password)

	p.Logger.Info("snapshot started",
		"dialect", DialectPostgres,
		"database", p.Conn.Database,
		"path", finalPath,
	)
	start := time.Now()

	if err := runTool(ctx, "dump", "pg_dump", cmd); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := finalize(tmpPath, finalPath); err != nil {
		return err
	}

	p.Logger.Info("snapshot completed",
		"dialect", DialectPostgres,
		"database", p.Conn.Database,
		"path", finalPath,
		"duration", time.Since(start).String(),
	)
	return nil
}

// Restore replays the dump with pg_restore, dropping existing objects first.
func (p *Postgres) Restore(ctx context.Context, sourceDir string) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	dumpPath := filepath.Join(sourceDir, p.MemberName())
	if _, err := os.Stat(dumpPath); err != nil {
		return &SnapshotError{Op: "restore", Err: err}
	}

	cmd := exec.CommandContext(ctx, "pg_restore",
		"-h", p.Conn.Host,
		"-p", p.Conn.Port,
		"-U", p.Conn.Username,
		"-d", p.Conn.Database,
		"-c", "--if-exists",
		dumpPath,
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.Conn.Password)

	p.Logger.Info("restore started",
		"dialect", DialectPostgres,
		"database", p.Conn.Database,
		"source", dumpPath,
	)
	start := time.Now()

	if err := runTool(ctx, "restore", "pg_restore", cmd); err != nil {
		return err
	}

	p.Logger.Info("restore completed",
		"dialect", DialectPostgres,
		"database", p.Conn.Database,
		"duration", time.Since(start).String(),
	)
	return nil
}
