package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ledgerline/erpbackup/internal/config"
	"github.com/ledgerline/erpbackup/internal/logger"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Snapshotter produces a consistent copy of the live database into a staging
// directory, and replays such a copy back over the live database. One
// implementation per dialect, selected once at construction.
type Snapshotter interface {
	Dialect() string
	// MemberName is the name of the file this dialect contributes to an
	// artifact, e.g. "erp.db" or "database.dump".
	MemberName() string
	Snapshot(ctx context.Context, destDir string) error
	Restore(ctx context.Context, sourceDir string) error
}

// MemberName returns the artifact member a given dialect requires. Used by
// verification, which must not need a live Snapshotter for the artifact's
// dialect.
func MemberName(dialect string) (string, bool) {
	switch dialect {
	case DialectSQLite:
		return "erp.db", true
	case DialectPostgres:
		return "database.dump", true
	case DialectMySQL:
		return "database.sql", true
	}
	return "", false
}

// SnapshotError is the failure of a dialect-specific database copy or replay.
type SnapshotError struct {
	Op       string // "dump", "restore", "hot-copy", "io"
	Tool     string // external tool name, empty for the embedded dialect
	ExitCode int
	Stderr   string
	Timeout  bool
	Err      error
}

func (e *SnapshotError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "snapshot %s failed", e.Op)
	if e.Tool != "" {
		fmt.Fprintf(&b, " (%s)", e.Tool)
	}
	if e.Timeout {
		b.WriteString(": timed out")
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", strings.TrimSpace(e.Stderr))
	}
	return b.String()
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// FromConfig builds the Snapshotter for the configured dialect.
func FromConfig(cfg *config.Config, log logger.Logger, opts ...Option) (Snapshotter, error) {
	switch cfg.Database.Dialect {
	case DialectSQLite:
		return NewSQLite(cfg.Database.Path, cfg.Backup.Timeout, log, opts...), nil
	case DialectPostgres:
		conn, err := ParseDSN(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgres(conn, cfg.Backup.Timeout, log, opts...), nil
	case DialectMySQL:
		conn, err := ParseDSN(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return NewMySQL(conn, cfg.Backup.Timeout, log, opts...), nil
	}
	return nil, fmt.Errorf("unknown database dialect %q", cfg.Database.Dialect)
}

// Option adjusts a Snapshotter at construction time.
type Option func(*options)

type options struct {
	username string
	password string
	pool     PoolHandle
}

// WithCredentials overrides the username and password from the DSN, e.g. with
// short-lived credentials issued by Vault.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		if username != "" {
			o.username = username
		}
		if password != "" {
			o.password = password
		}
	}
}

// WithPool attaches the application's live connection pool handle. Only the
// restore path uses it; snapshots never dispose the live pool.
func WithPool(pool PoolHandle) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// PoolHandle lets the restore path dispose and recreate the application's
// live connection pool around the destructive swap.
type PoolHandle interface {
	Dispose() error
	Recreate() error
}

// runTool executes an external dump/restore tool under the deadline already
// attached to ctx, capturing stderr and the exit code.
func runTool(ctx context.Context, op, tool string, cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	serr := &SnapshotError{
		Op:     op,
		Tool:   tool,
		Stderr: stderr.String(),
		Err:    err,
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		serr.Timeout = true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		serr.ExitCode = exitErr.ExitCode()
	}
	return serr
}

// finalize renames a tool's temporary output into place so a failed run never
// leaves a partial snapshot file under the final name.
func finalize(tmpPath, finalPath string) error {
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return &SnapshotError{Op: "io", Err: err}
	}
	return nil
}
