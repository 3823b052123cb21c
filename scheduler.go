package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of scheduled work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler runs jobs on cron schedules ("@every 15m", "0 * * * *").
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("Job registered")
	return nil
}

// SnapshotJob records the portfolio totals of every mode.
type SnapshotJob struct {
	trading   *TradingService
	snapshots SnapshotRepository
	timeout   time.Duration
	now       func() time.Time
}

func NewSnapshotJob(trading *TradingService, snapshots SnapshotRepository) *SnapshotJob {
	return &SnapshotJob{
		trading:   trading,
		snapshots: snapshots,
		timeout:   30 * time.Second,
		now:       time.Now,
	}
}

func (j *SnapshotJob) Name() string { return "portfolio_snapshot" }

func (j *SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	at := j.now()
	for _, m := range modes {
		pf, err := j.trading.Portfolio(ctx, m)
		if err != nil {
			return err
		}
		err = j.snapshots.Append(ctx, Snapshot{
			ID:            uuid.NewString(),
			Mode:          m,
			TotalValue:    pf.TotalValue,
			TotalInvested: pf.TotalInvested,
			TotalPL:       pf.TotalPL,
			BuyingPower:   pf.BuyingPower,
			Positions:     len(pf.Positions),
			TakenAt:       at,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
