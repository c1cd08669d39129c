package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ledgerline/erpbackup/internal/archive"
)

type storedArtifact struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// listArtifacts returns every artifact in the store matching the naming
// convention, newest first.
func listArtifacts(storeDir string) ([]storedArtifact, error) {
	matches, err := filepath.Glob(filepath.Join(storeDir, "*"+archive.Extension))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	artifacts := make([]storedArtifact, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		base := filepath.Base(path)
		name := base[:len(base)-len(archive.Extension)]
		if !namePattern.MatchString(name) {
			continue
		}
		artifacts = append(artifacts, storedArtifact{
			name:    name,
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].modTime.After(artifacts[j].modTime)
	})
	return artifacts, nil
}

// enforceRetention keeps the newest maxArtifacts artifacts and deletes the
// rest. Individual deletion failures are collected, not fatal: cleanup must
// never block a successful backup from being reported as successful.
func enforceRetention(storeDir string, maxArtifacts int) (deleted []string, err error) {
	if maxArtifacts < 1 {
		return nil, nil
	}

	artifacts, err := listArtifacts(storeDir)
	if err != nil {
		return nil, &RetentionError{Failures: []string{err.Error()}}
	}
	if len(artifacts) <= maxArtifacts {
		return nil, nil
	}

	var failures []string
	for _, artifact := range artifacts[maxArtifacts:] {
		if err := os.Remove(artifact.path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", artifact.path, err))
			continue
		}
		deleted = append(deleted, artifact.path)
	}

	if len(failures) > 0 {
		return deleted, &RetentionError{Failures: failures}
	}
	return deleted, nil
}
