package replication

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// MaintenanceJob is a low-frequency housekeeping task run on a cron
// schedule rather than on every reactor tick: snapshot archival sweeps,
// backlog capacity audits, stale-cached-primary expiry, and the like.
type MaintenanceJob struct {
	Name     string
	Schedule string
	Run      func()
}

// MaintenanceScheduler runs MaintenanceJobs on their own cron
// schedules, independent of the per-tick PeriodicDriver. It exists
// because some upkeep (snapshot archival, capacity audits) is too
// expensive to run at reactor hz and belongs on a coarser cadence
// instead.
type MaintenanceScheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   []string
}

// NewMaintenanceScheduler builds a scheduler and registers every job,
// failing fast if any schedule expression is invalid.
func NewMaintenanceScheduler(logger *slog.Logger, jobs []MaintenanceJob) (*MaintenanceScheduler, error) {
	logger = logger.With("component", "replication.maintenance")
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	ms := &MaintenanceScheduler{cron: c, logger: logger}
	for _, job := range jobs {
		jobRef := job
		if _, err := c.AddFunc(job.Schedule, func() {
			ms.logger.Debug("running maintenance job", "job", jobRef.Name)
			jobRef.Run()
		}); err != nil {
			return nil, fmt.Errorf("replication: registering maintenance job %q: %w", job.Name, err)
		}
		ms.jobs = append(ms.jobs, job.Name)
	}
	return ms, nil
}

// Start begins running registered jobs on their schedules.
func (ms *MaintenanceScheduler) Start() {
	ms.logger.Info("maintenance scheduler started", "jobs", ms.jobs)
	ms.cron.Start()
}

// Stop halts the scheduler, letting any in-flight job finish.
func (ms *MaintenanceScheduler) Stop() {
	ctx := ms.cron.Stop()
	<-ctx.Done()
}
