// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// PhaseSchedule sets how often each phase runs. A zero interval disables it.
// Clear is never scheduled.
type PhaseSchedule struct {
	CreateEvery    time.Duration
	ResolveEvery   time.Duration
	ReconcileEvery time.Duration
}

// StartPhaseScheduler registers one singleton job per enabled phase and starts
// the scheduler. A run still in progress when its next tick fires is
// rescheduled, never overlapped. Callers Shutdown the returned scheduler.
func (o *MatchOrchestrator) StartPhaseScheduler(ctx context.Context, schedule PhaseSchedule) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		phase string
		every time.Duration
		run   func(context.Context) error
	}{
		{PhaseCreate, schedule.CreateEvery, func(ctx context.Context) error { _, err := o.Create(ctx); return err }},
		{PhaseResolve, schedule.ResolveEvery, func(ctx context.Context) error { _, err := o.Resolve(ctx); return err }},
		{PhaseReconcile, schedule.ReconcileEvery, func(ctx context.Context) error { _, err := o.Reconcile(ctx); return err }},
	}

	for _, j := range jobs {
		if j.every <= 0 {
			o.Logger.Info("phase not scheduled", zap.String("phase", j.phase))
			continue
		}
		_, err := sched.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(func() {
				if err := j.run(ctx); err != nil {
					o.Logger.Error("[Scheduler] phase failed", zap.String("phase", j.phase), zap.Error(err))
				}
			}),
			gocron.WithName(j.phase),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("schedule %s phase: %w", j.phase, err)
		}
		o.Logger.Info("phase scheduled", zap.String("phase", j.phase), zap.Duration("every", j.every))
	}

	sched.Start()
	return sched, nil
}
