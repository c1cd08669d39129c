package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ledgerline/erpbackup/internal/archive"
)

// ListEntry is one artifact in a store listing. Metadata is best effort: nil
// means the embedded descriptor was missing or corrupt, which never aborts
// the listing.
type ListEntry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// List returns all artifacts in the store, newest first.
func (s *Service) List(ctx context.Context) ([]ListEntry, error) {
	artifacts, err := listArtifacts(s.cfg.Backup.StoreDirectory)
	if err != nil {
		return nil, err
	}

	entries := make([]ListEntry, 0, len(artifacts))
	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := ListEntry{
			Name:      artifact.name,
			Path:      artifact.path,
			SizeBytes: artifact.size,
			CreatedAt: artifact.modTime,
		}
		// The descriptor is the first tar member, so this stops after one
		// decompressed block per artifact.
		if data, err := archive.ReadMember(artifact.path, archive.MetadataMember); err == nil {
			if md, err := DecodeMetadata(data); err == nil {
				entry.Metadata = md
				entry.CreatedAt = md.CreatedAt
			} else {
				s.log.Debug("artifact metadata unavailable", "name", artifact.name, "error", err.Error())
			}
		} else {
			s.log.Debug("artifact metadata unavailable", "name", artifact.name, "error", err.Error())
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Delete removes one artifact by name. A missing artifact is a reported
// failure, not a silent no-op.
func (s *Service) Delete(ctx context.Context, name string) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := s.artifactPath(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete artifact %q: %w", name, err)
	}

	s.log.Info("artifact deleted", "name", name, "path", path)
	return nil
}
