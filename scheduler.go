package visualindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type maintenanceTasks struct {
	syncInterval  time.Duration
	sync          func(context.Context) error
	purgeSchedule string
	purge         func(context.Context) (int, error)
}

// maintenance runs periodic backend syncs and scheduled purges until stopped.
type maintenance struct {
	logger *Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron
}

func startMaintenance(logger *Logger, tasks maintenanceTasks) (*maintenance, error) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &maintenance{logger: logger, cancel: cancel}

	if tasks.purgeSchedule != "" && tasks.purge != nil {
		m.cron = cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		))
		if _, err := m.cron.AddFunc(tasks.purgeSchedule, func() {
			start := time.Now()
			n, err := tasks.purge(ctx)
			if err == nil && n > 0 {
				logger.InfoContext(ctx, "scheduled purge", "removed", n, "elapsed", time.Since(start))
			} else if err != nil && ctx.Err() == nil {
				logger.ErrorContext(ctx, "scheduled purge failed", "error", err)
			}
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("%w: purge schedule %q: %w", ErrConfiguration, tasks.purgeSchedule, err)
		}
		m.cron.Start()
	}

	if tasks.syncInterval > 0 && tasks.sync != nil {
		m.wg.Add(1)
		go m.syncLoop(ctx, tasks.syncInterval, tasks.sync)
	}
	return m, nil
}

func (m *maintenance) syncLoop(ctx context.Context, interval time.Duration, sync func(context.Context) error) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sync(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorContext(ctx, "periodic sync failed", "error", err)
			}
		}
	}
}

// stop cancels running jobs and waits for them to return.
func (m *maintenance) stop() {
	m.cancel()
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.wg.Wait()
}
