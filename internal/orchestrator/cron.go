package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start schedules RunCycle with MaxZones on the configured schedule. Ticks
// that land while a cycle is still running are skipped. Cycles run on ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cron != nil {
		return errors.New("orchestrator already started")
	}
	schedule, err := parser.Parse(o.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", o.cfg.Schedule, err)
	}

	clog := cronLogger{o.logger.Sugar()}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(schedule, cron.FuncJob(func() { o.tick(ctx) }))
	c.Start()
	o.cron = c

	o.logger.Info("cycle schedule started",
		zap.String("schedule", o.cfg.Schedule),
		zap.Time("next_run", schedule.Next(o.clock.Now())),
		zap.Int("max_zones", o.cfg.MaxZones),
	)
	return nil
}

// Stop halts the schedule and waits for a running cycle to return or ctx to end.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	c := o.cron
	o.cron = nil
	o.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop orchestrator: %w", ctx.Err())
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := o.RunCycle(ctx, o.cfg.MaxZones); err != nil {
		if errors.Is(err, ErrCycleRunning) {
			o.logger.Info("previous cycle still running, skipping tick")
			return
		}
		o.logger.Error("scheduled cycle failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
