package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically removes stale locks left behind by crashed holders.
// It runs once at startup and then on a fixed interval.
type Sweeper struct {
	service   *Service
	threshold time.Duration
	interval  time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewSweeper creates a sweeper over the given lock service.
func NewSweeper(log *slog.Logger, service *Service, threshold, interval time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		service:   service,
		threshold: threshold,
		interval:  interval,
		cron:      cron.New(),
		logger:    log.With(slog.String("component", "lock_sweeper")),
	}
}

// Start sweeps once immediately and schedules recurring sweeps.
func (s *Sweeper) Start(ctx context.Context) error {
	s.sweep(ctx)
	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		s.sweep(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweeper started",
		slog.Duration("threshold", s.threshold),
		slog.Duration("interval", s.interval),
	)
	return nil
}

// Stop halts scheduled sweeps and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.service.SweepStale(ctx, s.threshold); err != nil {
		s.logger.Error("sweep failed", slog.Any("error", err))
	}
}
