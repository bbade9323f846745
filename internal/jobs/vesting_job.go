package jobs

import (
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/wafra/backend/internal/config"
	"github.com/wafra/backend/internal/services"
)

// Scheduler runs the vesting release engine on a cron expression. The
// engine itself is idempotent on lot state, so overlapping or repeated runs
// are harmless.
type Scheduler struct {
	cron    *cron.Cron
	vesting *services.VestingService
	cfg     config.VestingConfig
	log     zerolog.Logger
}

func NewScheduler(vesting *services.VestingService, cfg config.VestingConfig, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		vesting: vesting,
		cfg:     cfg,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the vesting release job and launches the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Cron, s.runVestingRelease)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("cron", s.cfg.Cron).Msg("vesting release job scheduled")
	return nil
}

// Stop waits for a running job to finish before returning.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runVestingRelease() {
	traceID := uuid.NewString()
	summary, err := s.vesting.ReleaseAvenirVestingLots(services.ReleaseParams{
		Currency: s.cfg.Currency,
		TraceID:  traceID,
		MaxLots:  s.cfg.BatchSize,
	})
	if err != nil {
		s.log.Error().Err(err).Str("trace_id", traceID).Msg("vesting release run failed")
		return
	}
	if len(summary.Errors) > 0 {
		s.log.Warn().
			Str("trace_id", traceID).
			Int("errors", len(summary.Errors)).
			Msg("vesting release run finished with lot errors")
	}
}
