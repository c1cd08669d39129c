package archive

import "fmt"

// ArchiveError is a failed file-tree copy or replacement.
type ArchiveError struct {
	Op   string // "copy", "replace", "archive-aside"
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// CompressionError is a failed pack, list or extraction of an artifact.
type CompressionError struct {
	Op   string // "pack", "list", "extract"
	Path string
	Err  error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }
