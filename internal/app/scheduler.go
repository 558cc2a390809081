package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a cron expression ("@every 30s", "*/10 * * * * *").
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

// refresher re-evaluates readiness on a cron schedule. A tick is skipped
// while the previous one is still running.
type refresher struct {
	mu        sync.Mutex
	scheduler *cron.Cron
	entryID   cron.EntryID
	running   atomic.Bool
	log       *slog.Logger
}

func newRefresher(log *slog.Logger) *refresher {
	return &refresher{
		scheduler: cron.New(cron.WithParser(scheduleParser)),
		log:       log,
	}
}

func (r *refresher) start(ctx context.Context, expr string, fn func(context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entryID != 0 {
		return fmt.Errorf("refresh already scheduled")
	}
	id, err := r.scheduler.AddFunc(expr, func() {
		if ctx.Err() != nil {
			return
		}
		if !r.running.CompareAndSwap(false, true) {
			r.log.Debug("skipping refresh, previous one still running")
			return
		}
		defer r.running.Store(false)
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	r.entryID = id
	r.scheduler.Start()
	r.log.Info("readiness refresh scheduled", "schedule", expr)
	return nil
}

// stop halts the schedule and waits for a running tick.
func (r *refresher) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entryID == 0 {
		return
	}
	<-r.scheduler.Stop().Done()
	r.scheduler.Remove(r.entryID)
	r.entryID = 0
}
