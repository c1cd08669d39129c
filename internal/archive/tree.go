package archive

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ReplaceMode selects how a restored tree is applied over the live one.
type ReplaceMode int

const (
	// ModeReplace deletes the live tree and copies the restored one in.
	ModeReplace ReplaceMode = iota
	// ModeArchiveAside renames the live tree with a timestamp suffix before
	// copying, so current-session contents are never lost.
	ModeArchiveAside
	// ModeSelective copies only files that are not connection-sensitive, so
	// a restored backup cannot silently repoint the instance at a different
	// database.
	ModeSelective
)

// connectionSensitive lists config file names that encode host, credentials
// or filesystem paths. They are never applied during a selective restore.
var connectionSensitive = map[string]struct{}{
	"database.yml":    {},
	"database.yaml":   {},
	"connection.yml":  {},
	"connection.yaml": {},
	"secrets.yml":     {},
	"secrets.yaml":    {},
	"vault.yml":       {},
	"vault.yaml":      {},
	".env":            {},
}

// CopyTree copies srcDir into destDir. A missing or empty source is not an
// error; the uploads, config and logs trees are all optional.
func CopyTree(srcDir, destDir string) error {
	entries, err := os.ReadDir(srcDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &ArchiveError{Op: "copy", Path: srcDir, Err: err}
	}
	if len(entries) == 0 {
		return nil
	}

	if err := copyDir(srcDir, destDir, nil); err != nil {
		return &ArchiveError{Op: "copy", Path: srcDir, Err: err}
	}
	return nil
}

// ReplaceTree applies the restored tree at srcDir over liveDir according to
// mode. A missing srcDir means the artifact did not include this tree and is
// a no-op.
func ReplaceTree(srcDir, liveDir string, mode ReplaceMode) error {
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return nil
	}

	switch mode {
	case ModeReplace:
		if err := os.RemoveAll(liveDir); err != nil {
			return &ArchiveError{Op: "replace", Path: liveDir, Err: err}
		}
		if err := copyDir(srcDir, liveDir, nil); err != nil {
			return &ArchiveError{Op: "replace", Path: liveDir, Err: err}
		}

	case ModeArchiveAside:
		if _, err := os.Stat(liveDir); err == nil {
			aside := liveDir + "." + time.Now().Format("20060102_150405")
			if err := os.Rename(liveDir, aside); err != nil {
				return &ArchiveError{Op: "archive-aside", Path: liveDir, Err: err}
			}
		}
		if err := copyDir(srcDir, liveDir, nil); err != nil {
			return &ArchiveError{Op: "replace", Path: liveDir, Err: err}
		}

	case ModeSelective:
		skip := func(rel string) bool {
			_, sensitive := connectionSensitive[filepath.Base(rel)]
			return sensitive
		}
		if err := copyDir(srcDir, liveDir, skip); err != nil {
			return &ArchiveError{Op: "replace", Path: liveDir, Err: err}
		}
	}
	return nil
}

// copyDir copies a directory tree, optionally skipping files by relative
// path. Modes are preserved; symlinks are not followed.
func copyDir(srcDir, destDir string, skip func(rel string) bool) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if skip != nil && skip(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
