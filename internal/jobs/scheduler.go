package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/collab"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/repository"
)

// Scheduler sweeps stale sessions across all cataloged projects. The UI
// runs its own cleanup timer while a project is open; this job covers
// projects nobody is looking at, so abandoned leases still get reclaimed.
type Scheduler struct {
	cron     *cron.Cron
	sessions *collab.SessionManager
	catalog  *repository.CatalogRepository
	interval time.Duration
	log      zerolog.Logger
}

func NewScheduler(sessions *collab.SessionManager, catalog *repository.CatalogRepository, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		sessions: sessions,
		catalog:  catalog,
		interval: interval,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.catalog == nil {
		return nil
	}

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.sweepProjects); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits up to five seconds for a running sweep
// to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) sweepProjects() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	projects, err := s.catalog.ListProjects(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("project sweep listing failed")
		return
	}

	for _, project := range projects {
		removed, err := s.sessions.CleanupInactive(ctx, project.ID)
		if err != nil {
			s.log.Error().Err(err).Str("project_id", project.ID).Msg("session sweep failed")
			continue
		}
		if removed > 0 {
			s.log.Info().Str("project_id", project.ID).Int("removed", removed).Msg("swept inactive sessions")
		}
	}
}
