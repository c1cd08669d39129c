package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ledgerline/erpbackup/internal/archive"
	"github.com/ledgerline/erpbackup/internal/config"
	"github.com/ledgerline/erpbackup/internal/logger"
	"github.com/ledgerline/erpbackup/internal/snapshot"
)

// namePattern is the artifact naming convention. Derived names look like
// erp_backup_20240101_020000; caller-supplied names must match too.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const (
	defaultNamePrefix = "erp_backup_"
	safetyNamePrefix  = "safety_"
	nameTimeLayout    = "20060102_150405"
)

// Service is the backup-and-restore engine. One Service guards one backup
// store: a single mutex serializes Create, Restore and Delete so that
// interleaved operations can never race on staging directories or snapshot a
// half-restored database.
type Service struct {
	cfg     *config.Config
	snap    snapshot.Snapshotter
	log     logger.Logger
	summary func(ctx context.Context) map[string]string

	mu sync.Mutex
}

// ServiceOption adjusts a Service at construction time.
type ServiceOption func(*Service)

// WithCompanySummary provides a best-effort source for one or two identifying
// business fields (company name, tax id) embedded in artifact metadata for
// human-readable listings. A nil return means the database is not yet
// populated; that is tolerated.
func WithCompanySummary(fn func(ctx context.Context) map[string]string) ServiceOption {
	return func(s *Service) {
		s.summary = fn
	}
}

// New constructs the engine from an explicit configuration and snapshotter.
func New(cfg *config.Config, snap snapshot.Snapshotter, log logger.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshotter is required")
	}
	if log == nil {
		log = logger.Global()
	}

	s := &Service{
		cfg:  cfg,
		snap: snap,
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// acquire takes the store lock. With lock_wait it blocks until the lock is
// free; otherwise it fails fast with ErrOperationInFlight. The returned
// release must be deferred so the lock is dropped on every exit path.
func (s *Service) acquire() (release func(), err error) {
	if s.cfg.Backup.LockWait {
		s.mu.Lock()
		return s.mu.Unlock, nil
	}
	if !s.mu.TryLock() {
		return nil, ErrOperationInFlight
	}
	return s.mu.Unlock, nil
}

// resolveName validates a caller-supplied artifact name or derives one from
// the current time.
func resolveName(name string, now time.Time) (string, error) {
	if name == "" {
		return defaultNamePrefix + now.Format(nameTimeLayout), nil
	}
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// artifactPath maps an artifact name to its location in the store.
func (s *Service) artifactPath(name string) string {
	return filepath.Join(s.cfg.Backup.StoreDirectory, name+archive.Extension)
}
