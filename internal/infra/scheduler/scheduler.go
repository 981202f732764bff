package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"access_grant_service/internal/app"
)

// Sweeper is the set of batch jobs the scheduler triggers.
type Sweeper interface {
	InvalidateExpired(ctx context.Context) (app.SweepResult, error)
	InvalidateRevoked(ctx context.Context) (app.SweepResult, error)
	MatchUnassigned(ctx context.Context) (app.SweepResult, error)
	SendFollowups(ctx context.Context) (app.SweepResult, error)
}

// Specs are the cron expressions of the sweeps. An empty spec disables
// its sweep.
type Specs struct {
	Expire   string
	Revoked  string
	Match    string
	Followup string
}

type SweepScheduler struct {
	cronEngine *cron.Cron
	sweeper    Sweeper
	logger     *logrus.Entry
	specs      Specs
	timeout    time.Duration

	// runCtx parents every job context. Stop cancels it.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

func NewSweepScheduler(sweeper Sweeper, logger *logrus.Entry, specs Specs) *SweepScheduler {
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &SweepScheduler{
		// Overlapping runs of the same sweep are skipped; the guarded
		// updates would make them harmless, just wasteful.
		cronEngine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		sweeper:   sweeper,
		logger:    logger.WithField("component", "scheduler"),
		specs:     specs,
		timeout:   5 * time.Minute,
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *SweepScheduler) Start() error {
	s.logger.Info("Starting sweep scheduler...")

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (app.SweepResult, error)
	}{
		{app.SweepExpire, s.specs.Expire, s.sweeper.InvalidateExpired},
		{app.SweepRevoked, s.specs.Revoked, s.sweeper.InvalidateRevoked},
		{app.SweepMatch, s.specs.Match, s.sweeper.MatchUnassigned},
		{app.SweepFollowups, s.specs.Followup, s.sweeper.SendFollowups},
	}
	for _, job := range jobs {
		if job.spec == "" {
			s.logger.WithField("sweep", job.name).Info("Sweep disabled")
			continue
		}
		if _, err := s.cronEngine.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return fmt.Errorf("could not add %s sweep with spec %q: %w", job.name, job.spec, err)
		}
	}

	s.cronEngine.Start()
	s.logger.Info("Sweep scheduler started with jobs.")
	return nil
}

func (s *SweepScheduler) runJob(name string, run func(context.Context) (app.SweepResult, error)) {
	log := s.logger.WithField("sweep", name)
	log.Debug("Cron job triggered")
	ctx, cancel := context.WithTimeout(s.runCtx, s.timeout)
	defer cancel()
	if _, err := run(ctx); err != nil {
		log.WithError(err).Error("Sweep failed")
	}
}

func (s *SweepScheduler) Stop() {
	s.logger.Info("Stopping sweep scheduler...")
	s.cancelRun()
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Sweep scheduler gracefully stopped.")
}
