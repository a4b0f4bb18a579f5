package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat/internal/config"
)

type Expirer interface {
	ExpireMessages(ctx context.Context) (int64, error)
}

// Sweeper flags messages past their retention period on a cron schedule.
type Sweeper struct {
	expirer Expirer
	cron    string
	log     *zap.Logger
	now     func() time.Time
}

func New(p Expirer, cfg config.RetentionConfig, log *zap.Logger) (*Sweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	expr := cfg.Cron
	if expr == "" {
		expr = "0 3 * * *"
	}
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid retention cron expression: %q", expr)
	}
	return &Sweeper{expirer: p, cron: expr, log: log, now: time.Now}, nil
}

// RunOnce flags expired messages now.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := s.now()
	n, err := s.expirer.ExpireMessages(ctx)
	if err != nil {
		s.log.Error("retention_run_failed", zap.Int64("expired", n), zap.Error(err))
		return err
	}
	s.log.Info("retention_run_done", zap.Int64("expired", n), zap.Duration("took", s.now().Sub(start)))
	return nil
}

// Next returns the first scheduled run after t.
func (s *Sweeper) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, t.UTC(), false)
}

// Run sleeps until each scheduled tick and runs RunOnce, until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("retention_scheduler_started", zap.String("cron", s.cron))
	for {
		wait := 30 * time.Second
		next, err := s.Next(s.now())
		if err != nil {
			s.log.Error("retention_nexttick_failed", zap.String("cron", s.cron), zap.Error(err))
		} else {
			wait = time.Until(next)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("retention_scheduler_stopping")
			return
		case <-timer.C:
		}
		if err == nil {
			_ = s.RunOnce(ctx)
		}
	}
}
