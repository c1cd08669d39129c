package snapshot

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ledgerline/erpbackup/internal/logger"
)

// MySQL snapshots a client/server database with mysqldump and replays the
// resulting SQL through the mysql client.
type MySQL struct {
	Conn    ConnInfo
	Timeout time.Duration
	Logger  logger.Logger
}

// NewMySQL returns a MySQL snapshotter for the given connection.
func NewMySQL(conn ConnInfo, timeout time.Duration, log logger.Logger, opts ...Option) *MySQL {
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
	return &MySQL{
		Conn:    conn,
		Timeout: timeout,
		Logger:  log,
	}
}

func (m *MySQL) Dialect() string { return DialectMySQL }

func (m *MySQL) MemberName() string {
	name, _ := MemberName(DialectMySQL)
	return name
}

// Snapshot runs mysqldump in a single transaction for a consistent view of
// the live database. Written to a temporary name, renamed on success.
func (m *MySQL) Snapshot(ctx context.Context, destDir string) error {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	finalPath := filepath.Join(destDir, m.MemberName())
	tmpPath := finalPath + ".partial"

	args := []string{
		"-h", m.Conn.Host,
		"-P", m.Conn.Port,
		"-u", m.Conn.Username,
		"--databases", m.Conn.Database,
		"--single-transaction",
		"--result-file=" + tmpPath,
	}
	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	// MYSQL_PWD for non-interactive auth
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.Conn.Password)

	m.Logger.Info("snapshot started",
		"dialect", DialectMySQL,
		"database", m.Conn.Database,
		"path", finalPath,
	)
	start := time.Now()

	if err := runTool(ctx, "dump", "mysqldump", cmd); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := finalize(tmpPath, finalPath); err != nil {
		return err
	}

	m.Logger.Info("snapshot completed",
		"dialect", DialectMySQL,
		"database", m.Conn.Database,
		"path", finalPath,
		"duration", time.Since(start).String(),
	)
	return nil
}

// Restore pipes the dumped SQL through the mysql client.
func (m *MySQL) Restore(ctx context.Context, sourceDir string) error {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	dumpPath := filepath.Join(sourceDir, m.MemberName())
	file, err := os.Open(dumpPath)
	if err != nil {
		return &SnapshotError{Op: "restore", Err: err}
	}
	defer file.Close()

	cmd := exec.CommandContext(ctx, "mysql",
		"-h", m.Conn.Host,
		"-P", m.Conn.Port,
		"-u", m.Conn.Username,
		m.Conn.Database,
	)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+m.Conn.Password)
	cmd.Stdin = file
	cmd.Stdout = io.Discard

	m.Logger.Info("restore started",
		"dialect", DialectMySQL,
		"database", m.Conn.Database,
		"source", dumpPath,
	)
	start := time.Now()

	if err := runTool(ctx, "restore", "mysql", cmd); err != nil {
		return err
	}

	m.Logger.Info("restore completed",
		"dialect", DialectMySQL,
		"database", m.Conn.Database,
		"duration", time.Since(start).String(),
	)
	return nil
}
