// Package schedule runs unattended daily backups at the configured wall-clock
// time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ledgerline/erpbackup/internal/backup"
	"github.com/ledgerline/erpbackup/internal/config"
	"github.com/ledgerline/erpbackup/internal/logger"
)

// clockTime matches the "HH:MM" form of backup.scheduled_time.
var clockTime = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// ParseSchedule accepts either a daily wall-clock time ("02:00") or a
// five-field cron expression and returns the schedule it describes.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("schedule expression is empty")
	}
	if m := clockTime.FindStringSubmatch(expr); m != nil {
		expr = fmt.Sprintf("%s %s * * *", m[2], m[1])
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Runner fires backups according to the configured schedule. Missed or
// overlapping runs are not queued: the next run is computed from the time the
// previous one finished, and the engine's own store lock rejects overlap with
// manual operations.
type Runner struct {
	svc   *backup.Service
	cfg   *config.Config
	sched cron.Schedule
	log   logger.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRunner validates backup.scheduled_time and builds a runner around the
// engine.
func NewRunner(svc *backup.Service, cfg *config.Config, log logger.Logger) (*Runner, error) {
	sched, err := ParseSchedule(cfg.Backup.ScheduledTime)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Global()
	}
	return &Runner{
		svc:   svc,
		cfg:   cfg,
		sched: sched,
		log:   log,
		now:   time.Now,
	}, nil
}

// Next reports when the runner would fire after the given time.
func (r *Runner) Next(after time.Time) time.Time {
	return r.sched.Next(after)
}

// Run blocks, firing a backup at every scheduled tick until the context is
// canceled. A failed run is logged and the runner keeps going; one bad night
// must not stop the following ones.
func (r *Runner) Run(ctx context.Context) error {
	for {
		next := r.sched.Next(r.now())
		r.log.Info("next scheduled backup", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(r.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		r.fire(ctx)
	}
}

func (r *Runner) fire(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Backup.Timeout)
	defer cancel()

	result, err := r.svc.Create(runCtx, backup.CreateOptions{
		IncludeLogs: r.cfg.Backup.IncludeLogs,
	})
	switch {
	case errors.Is(err, backup.ErrOperationInFlight):
		r.log.Warn("scheduled backup skipped, another operation is in flight")
	case err != nil:
		r.log.Error("scheduled backup failed", "error", err)
	default:
		r.log.Info("scheduled backup complete",
			"name", result.Name, "size_bytes", result.SizeBytes)
		for _, w := range result.Warnings {
			r.log.Warn("scheduled backup warning", "warning", w)
		}
	}
}
