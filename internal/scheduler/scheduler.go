package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/praxis/internal/clock"
	obsmetrics "github.com/smallbiznis/praxis/internal/observability/metrics"
	"github.com/smallbiznis/praxis/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/praxis/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReconcileProfessionals = "reconcile_professionals"
	JobReplayPendingEvents    = "replay_pending_events"

	lockKeyPrefix = "praxis:scheduler:lock:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// EventReplayer re-runs stored webhook deliveries that never finished.
type EventReplayer interface {
	ReplayPending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type Params struct {
	fx.In

	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	Replayer        EventReplayer                 `optional:"true"`
	Locker          *ratelimit.Locker             `optional:"true"`
	Metrics         *obsmetrics.ReconcilerMetrics `optional:"true"`
	Config          Config                        `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	replayer        EventReplayer
	locker          *ratelimit.Locker
	metrics         *obsmetrics.ReconcilerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.SubscriptionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		replayer:        p.Replayer,
		locker:          p.Locker,
		metrics:         p.Metrics,
	}, nil
}

// runJob wraps fn with a timeout, a cross-instance lease when Redis is
// configured, run logging and metrics. fn reports how many items it handled.
// Deadline errors are soft: the next tick picks up the remainder.
func (s *Scheduler) runJob(parent context.Context, name string, batchSize int, fn func(ctx context.Context) (int, error)) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	release, acquired, err := s.acquire(ctx, name)
	if err != nil {
		s.logger(ctx).Warn("scheduler lock unavailable, skipping job", zap.String("job", name), zap.Error(err))
		return nil
	}
	if !acquired {
		s.logger(ctx).Debug("scheduler job held by another instance", zap.String("job", name))
		return nil
	}
	defer release()

	run := s.newJobRun(name, batchSize)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	processed, err := fn(ctx)
	run.AddProcessed(processed)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(run.startedAt))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) acquire(ctx context.Context, name string) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	key := lockKeyPrefix + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := s.locker.Release(context.Background(), key, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name      string
		BatchSize int
		Run       func(context.Context) (int, error)
	}{
		{JobReconcileProfessionals, s.cfg.BatchSize, s.ReconcileProfessionalsJob},
		{JobReplayPendingEvents, s.cfg.ReplayBatchSize, s.ReplayPendingEventsJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.BatchSize, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// ReconcileProfessionalsJob heals professionals whose plan or status drifted
// from their newest subscription.
func (s *Scheduler) ReconcileProfessionalsJob(ctx context.Context) (int, error) {
	healed, err := s.subscriptionSvc.ReconcileProfessionals(ctx, s.cfg.BatchSize)
	s.metrics.AddHealed(healed)
	return healed, err
}

func (s *Scheduler) ReplayPendingEventsJob(ctx context.Context) (int, error) {
	if s.replayer == nil {
		return 0, nil
	}
	return s.replayer.ReplayPending(ctx, s.cfg.ReplayAfter, s.cfg.ReplayBatchSize)
}
