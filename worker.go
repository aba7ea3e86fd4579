package indexrelay

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultInterval matches the 300-second schedule the queue was designed for.
const DefaultInterval = 5 * time.Minute

// CycleRunner is anything that can run one dispatch cycle.
type CycleRunner interface {
	ProcessCycle(ctx context.Context) error
}

// Worker owns the recurring schedule driving the dispatcher. Cycles are
// single-flight: if one is still running when the next fires, the new one is
// skipped rather than overlapped.
type Worker struct {
	Dispatcher CycleRunner
	Interval   time.Duration

	Logger *zap.Logger

	cron *cron.Cron
}

// Start registers the recurring job and begins firing it. The ctx is passed
// through to every cycle.
func (w *Worker) Start(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(w.Logger))
	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger)))

	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := w.Dispatcher.ProcessCycle(ctx); err != nil {
			w.Logger.Error("dispatch cycle failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	w.cron.Start()
	w.Logger.Info("queue worker started", zap.Duration("interval", interval))

	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (w *Worker) Stop() {
	if w.cron == nil {
		return
	}

	<-w.cron.Stop().Done()
	w.Logger.Info("queue worker stopped")
}
