package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper removes expired sessions.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Scheduler runs the session cleanup on a cron schedule (with seconds).
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
}

func NewScheduler(sweeper Sweeper, schedule string, log zerolog.Logger) (*Scheduler, error) {
	if sweeper == nil {
		return nil, errors.New("jobs: sweeper is required")
	}
	if schedule == "" {
		schedule = "0 */15 * * * *"
	}
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		timeout:  time.Minute,
		log:      log,
	}, nil
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.cleanup); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("session cleanup scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("session cleanup still running at shutdown")
	}
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	n, err := s.sweeper.CleanupExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("session cleanup failed")
		return 0, err
	}
	s.log.Info().
		Int64("deleted", n).
		Dur("took", time.Since(start)).
		Msg("session cleanup finished")
	return n, nil
}

func (s *Scheduler) cleanup() {
	_, _ = s.RunOnce(context.Background())
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
