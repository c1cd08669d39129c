package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/ledgerline/erpbackup/internal/logger"
)

// SQLite snapshots an embedded single-file database using the engine's online
// backup API, so the live file stays open for reads and writes while its pages
// are copied into a transactionally consistent new file.
type SQLite struct {
	Path    string
	Timeout time.Duration
	Pool    PoolHandle
	Logger  logger.Logger
}

// NewSQLite returns a SQLite snapshotter for the live database file at path.
func NewSQLite(path string, timeout time.Duration, log logger.Logger, opts ...Option) *SQLite {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &SQLite{
		Path:    path,
		Timeout: timeout,
		Pool:    o.pool,
		Logger:  log,
	}
}

func (s *SQLite) Dialect() string { return DialectSQLite }

func (s *SQLite) MemberName() string {
	name, _ := MemberName(DialectSQLite)
	return name
}

// Snapshot hot-copies the live database into destDir. The live pool is never
// disposed here.
func (s *SQLite) Snapshot(ctx context.Context, destDir string) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	if _, err := os.Stat(s.Path); err != nil {
		return &SnapshotError{Op: "io", Err: fmt.Errorf("live database %q: %w", s.Path, err)}
	}
	destPath := filepath.Join(destDir, s.MemberName())

	s.Logger.Info("snapshot started",
		"dialect", DialectSQLite,
		"source", s.Path,
		"path", destPath,
	)
	start := time.Now()

	if err := s.onlineCopy(ctx, s.Path, destPath); err != nil {
		os.Remove(destPath)
		return err
	}

	s.Logger.Info("snapshot completed",
		"dialect", DialectSQLite,
		"path", destPath,
		"duration", time.Since(start).String(),
	)
	return nil
}

// onlineCopy drives the sqlite backup API from the source connection's pages
// into a fresh destination file.
func (s *SQLite) onlineCopy(ctx context.Context, srcPath, destPath string) error {
	src, err := sql.Open("sqlite3", srcPath)
	if err != nil {
		return &SnapshotError{Op: "hot-copy", Err: err}
	}
	defer src.Close()

	dst, err := sql.Open("sqlite3", destPath)
	if err != nil {
		return &SnapshotError{Op: "hot-copy", Err: err}
	}
	defer dst.Close()

	srcConn, err := src.Conn(ctx)
	if err != nil {
		return &SnapshotError{Op: "hot-copy", Err: err}
	}
	defer srcConn.Close()

	dstConn, err := dst.Conn(ctx)
	if err != nil {
		return &SnapshotError{Op: "hot-copy", Err: err}
	}
	defer dstConn.Close()

	err = dstConn.Raw(func(rawDst any) error {
		return srcConn.Raw(func(rawSrc any) error {
			from, ok := rawSrc.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected source driver connection %T", rawSrc)
			}
			to, ok := rawDst.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected destination driver connection %T", rawDst)
			}

			bk, err := to.Backup("main", from, "main")
			if err != nil {
				return err
			}
			defer bk.Finish()

			// -1 copies all remaining pages in one step; sqlite holds a read
			// lock only for the duration of the copy.
			done, err := bk.Step(-1)
			if err != nil {
				return err
			}
			if !done {
				return fmt.Errorf("backup did not reach completion")
			}
			return nil
		})
	})
	if err != nil {
		serr := &SnapshotError{Op: "hot-copy", Err: err}
		if ctx.Err() == context.DeadlineExceeded {
			serr.Timeout = true
		}
		return serr
	}
	return nil
}

// Restore atomically replaces the live database file with the snapshot copy.
// All open handles to the live file must be disposed before the swap, and the
// pool is recreated afterwards.
func (s *SQLite) Restore(ctx context.Context, sourceDir string) error {
	srcPath := filepath.Join(sourceDir, s.MemberName())
	if _, err := os.Stat(srcPath); err != nil {
		return &SnapshotError{Op: "restore", Err: fmt.Errorf("snapshot member %q: %w", srcPath, err)}
	}

	s.Logger.Info("restore started",
		"dialect", DialectSQLite,
		"source", srcPath,
		"target", s.Path,
	)
	start := time.Now()

	if s.Pool != nil {
		if err := s.Pool.Dispose(); err != nil {
			return &SnapshotError{Op: "restore", Err: fmt.Errorf("dispose pool: %w", err)}
		}
	}

	// Copy into a temp sibling so the rename is atomic on the same filesystem.
	tmpPath := s.Path + ".restore-tmp"
	if err := copyFile(srcPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return &SnapshotError{Op: "io", Err: err}
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		os.Remove(tmpPath)
		return &SnapshotError{Op: "io", Err: err}
	}
	// Stale WAL or shm sidecars from the old database must not be replayed
	// over the restored file.
	os.Remove(s.Path + "-wal")
	os.Remove(s.Path + "-shm")

	if s.Pool != nil {
		if err := s.Pool.Recreate(); err != nil {
			return &SnapshotError{Op: "restore", Err: fmt.Errorf("recreate pool: %w", err)}
		}
	}

	s.Logger.Info("restore completed",
		"dialect", DialectSQLite,
		"target", s.Path,
		"duration", time.Since(start).String(),
	)
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
