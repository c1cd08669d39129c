package backup

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/ledgerline/erpbackup/internal/archive"
	"github.com/ledgerline/erpbackup/internal/snapshot"
)

// VerificationReport is the outcome of validating an artifact without
// restoring it.
type VerificationReport struct {
	Valid       bool      `json:"valid"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	MemberCount int       `json:"memberCount"`
	Reason      string    `json:"reason,omitempty"`
}

// Verify validates an artifact's internal consistency by name. It never
// mutates the artifact or the live system.
func (s *Service) Verify(ctx context.Context, name string) (*VerificationReport, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := s.artifactPath(name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return verifyArtifact(path), nil
}

// verifyArtifact runs the ordered checks, short-circuiting on the first
// failure: container integrity, descriptor decode, format version, required
// dialect member.
func verifyArtifact(path string) *VerificationReport {
	count, err := archive.VerifyIntegrity(path)
	if err != nil {
		return &VerificationReport{
			Valid:  false,
			Reason: fmt.Sprintf("artifact corrupt: checksum validation failed: %v", err),
		}
	}
	report := &VerificationReport{MemberCount: count}

	data, err := archive.ReadMember(path, archive.MetadataMember)
	if err != nil {
		report.Reason = fmt.Sprintf("metadata member missing: %v", err)
		return report
	}
	md, err := DecodeMetadata(data)
	if err != nil {
		// Covers parse failures, missing mandatory fields, and a
		// formatVersion newer than this reader supports.
		report.Reason = err.Error()
		return report
	}
	report.Metadata = md

	member, ok := snapshot.MemberName(md.DBDialect)
	if !ok {
		report.Reason = fmt.Sprintf("unknown database dialect %q", md.DBDialect)
		return report
	}
	members, err := archive.ListMembers(path)
	if err != nil {
		report.Reason = fmt.Sprintf("cannot list members: %v", err)
		return report
	}
	if !slices.Contains(members, member) {
		report.Reason = fmt.Sprintf("database snapshot member %q missing", member)
		return report
	}

	report.Valid = true
	return report
}
