package worker

import (
	"context"
	"time"

	"leadpilot/engine"

	"github.com/sirupsen/logrus"
)

// SequenceWorker drives the scheduler on a fixed interval.
type SequenceWorker struct {
	scheduler *engine.Scheduler
	interval  time.Duration
	logger    *logrus.Logger
}

func NewSequenceWorker(scheduler *engine.Scheduler, interval time.Duration, logger *logrus.Logger) *SequenceWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SequenceWorker{
		scheduler: scheduler,
		interval:  interval,
		logger:    logger,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	sw.logger.WithField("interval", sw.interval).Info("sequence worker started")

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("sequence worker shutting down")
			return
		case <-ticker.C:
			processed, err := sw.scheduler.Tick(ctx)
			if err != nil {
				sw.logger.WithError(err).Error("scheduler tick failed")
				continue
			}
			if processed > 0 {
				sw.logger.WithField("processed", processed).Info("scheduler tick completed")
			}
		}
	}
}
