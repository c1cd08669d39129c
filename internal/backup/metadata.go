package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SupportedFormatVersion is the highest descriptor schema version this
// reader understands. Artifacts declaring a newer version are rejected.
const SupportedFormatVersion = 1

// Metadata is the fixed-schema descriptor embedded as metadata.json inside
// every artifact. FormatVersion and DBDialect are mandatory and machine
// checked before any restore; the rest is informational.
type Metadata struct {
	FormatVersion  int               `json:"formatVersion"`
	CreatedAt      time.Time         `json:"createdAt"`
	DBDialect      string            `json:"dbDialect"`
	AppVersion     string            `json:"appVersion,omitempty"`
	IncludesLogs   bool              `json:"includesLogs"`
	CompanySummary map[string]string `json:"companySummary,omitempty"`
}

// Validate fails closed: a descriptor missing a mandatory field or declaring
// an unsupported schema version is unusable.
func (m *Metadata) Validate() error {
	if m.FormatVersion < 1 {
		return &VerificationError{Reason: "metadata missing formatVersion"}
	}
	if m.FormatVersion > SupportedFormatVersion {
		return &VerificationError{Reason: fmt.Sprintf(
			"metadata formatVersion %d is newer than supported version %d",
			m.FormatVersion, SupportedFormatVersion)}
	}
	if m.DBDialect == "" {
		return &VerificationError{Reason: "metadata missing dbDialect"}
	}
	return nil
}

// WriteMetadata writes the descriptor to path as indented JSON.
func WriteMetadata(m *Metadata, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata file %q: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode metadata JSON: %w", err)
	}
	return nil
}

// ReadMetadata reads and validates a descriptor file.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &VerificationError{Reason: "metadata file unreadable", Err: err}
	}
	return DecodeMetadata(data)
}

// DecodeMetadata parses and validates descriptor bytes.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &VerificationError{Reason: "metadata does not parse", Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
