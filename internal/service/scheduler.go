package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler periodically starts DRAFT campaigns whose scheduled_at has passed.
type Scheduler struct {
	cron    *cron.Cron
	service *CampaignService
	logger  zerolog.Logger
}

func NewScheduler(spec string, svc *CampaignService, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		service: svc,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	if n := s.service.StartDueCampaigns(context.Background()); n > 0 {
		s.logger.Info().Int("started", n).Msg("scheduled campaigns started")
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running tick to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
