package maintenance

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Job names
const (
	JobPurgeResets   = "purge_password_resets"
	JobSweepSessions = "sweep_sessions"
	JobArchiveAudit  = "archive_audit_logs"
	JobDBHealth      = "db_health"
)

// ResetPurger deletes used and expired password reset tokens
type ResetPurger interface {
	PurgeResets(ctx context.Context) (int64, error)
}

// SessionSweeper deletes expired sessions
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// AuditArchiver uploads the previous UTC day of audit entries
type AuditArchiver interface {
	ArchivePreviousDay(ctx context.Context) error
}

// ReplicaPool is the replica-aware database connection set
type ReplicaPool interface {
	RemoveUnhealthyReplicas(ctx context.Context) int
	ReportStats(metrics *observability.Metrics)
}

// Dependencies are the components the standard jobs act on. A nil
// Archiver or Pool skips the corresponding job.
type Dependencies struct {
	Resets   ResetPurger
	Sessions SessionSweeper
	Archiver AuditArchiver
	Pool     ReplicaPool
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// RegisterJobs adds the standard maintenance jobs to the scheduler
func RegisterJobs(s *Scheduler, cfg config.MaintenanceConfig, deps Dependencies) error {
	if err := s.Add(JobPurgeResets, cfg.ResetPurgeSchedule, func(ctx context.Context) error {
		n, err := deps.Resets.PurgeResets(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			deps.Logger.WithField("deleted", n).Info("Purged password reset tokens")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.Add(JobSweepSessions, cfg.SessionSweepSchedule, func(ctx context.Context) error {
		n, err := deps.Sessions.SweepExpired(ctx)
		if err != nil {
			return err
		}
		deps.Metrics.SessionsSweptTotal.Add(float64(n))
		return nil
	}); err != nil {
		return err
	}

	if deps.Archiver != nil {
		schedule := cfg.ArchiveSchedule
		if !cfg.ArchiveEnabled {
			schedule = ""
		}
		if err := s.Add(JobArchiveAudit, schedule, deps.Archiver.ArchivePreviousDay); err != nil {
			return err
		}
	}

	if deps.Pool != nil {
		if err := s.Add(JobDBHealth, cfg.DBHealthSchedule, func(ctx context.Context) error {
			if removed := deps.Pool.RemoveUnhealthyReplicas(ctx); removed > 0 {
				deps.Logger.WithField("removed", removed).Warn("Dropped unhealthy read replicas")
			}
			deps.Pool.ReportStats(deps.Metrics)
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}
