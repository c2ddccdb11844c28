package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"linedesk/pkg/config"
	"linedesk/pkg/logger"
	"linedesk/pkg/store"
)

// Purger removes conversation history older than a cutoff.
type Purger interface {
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time, batchSize int, dryRun bool) (store.PurgeResult, error)
}

// Manager runs the purge job on the configured cron schedule.
type Manager struct {
	cfg    config.RetentionConfig
	purger Purger
	now    func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mutex   sync.Mutex
	done    chan struct{}
}

func NewManager(cfg config.RetentionConfig, purger Purger) *Manager {
	return &Manager{
		cfg:    cfg,
		purger: purger,
		now:    time.Now,
	}
}

// Start launches the schedule loop. It is a no-op when retention is disabled;
// the returned cancel func is always safe to call.
func (rm *Manager) Start(ctx context.Context) (context.CancelFunc, error) {
	if !rm.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if !gronx.New().IsValid(rm.cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", rm.cfg.Cron)
	}

	rm.ctx, rm.cancel = context.WithCancel(ctx)
	rm.done = make(chan struct{})

	logger.Info("retention_enabled", "cron", rm.cfg.Cron, "period", rm.cfg.Period.Duration(), "dry_run", rm.cfg.DryRun)
	go rm.scheduleLoop()
	return rm.stop, nil
}

func (rm *Manager) stop() {
	if rm.cancel == nil {
		return
	}
	rm.cancel()
	<-rm.done
}

// RunImmediate executes one purge pass outside the schedule.
func (rm *Manager) RunImmediate(ctx context.Context) (store.PurgeResult, error) {
	return rm.runPurge(ctx)
}

func (rm *Manager) scheduleLoop() {
	defer close(rm.done)
	for {
		now := rm.now()
		next, err := gronx.NextTickAfter(rm.cfg.Cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", rm.cfg.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-rm.ctx.Done():
				return
			}
			continue
		}

		wait := next.Sub(now)
		if wait <= 0 {
			rm.runJob()
			select {
			case <-time.After(time.Second):
			case <-rm.ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			rm.runJob()
		case <-rm.ctx.Done():
			return
		}
	}
}

// runJob skips the tick when the previous pass is still going.
func (rm *Manager) runJob() bool {
	rm.mutex.Lock()
	if rm.running {
		rm.mutex.Unlock()
		logger.Warn("retention_run_skipped", "reason", "previous run still active")
		return false
	}
	rm.running = true
	rm.mutex.Unlock()

	defer func() {
		rm.mutex.Lock()
		rm.running = false
		rm.mutex.Unlock()
	}()

	ctx := rm.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := rm.runPurge(ctx); err != nil {
		logger.Error("retention_run_error", "error", err)
	}
	return true
}

func (rm *Manager) runPurge(ctx context.Context) (store.PurgeResult, error) {
	started := rm.now()
	runID := fmt.Sprintf("run-%d", started.UnixNano())
	cutoff := started.Add(-rm.cfg.Period.Duration())
	logger.Info("retention_run_start", "run_id", runID, "cutoff", cutoff.Format(time.RFC3339), "dry_run", rm.cfg.DryRun)

	res, err := rm.purger.PurgeMessagesBefore(ctx, cutoff, rm.cfg.BatchSize, rm.cfg.DryRun)
	if err != nil {
		return res, fmt.Errorf("purge messages: %w", err)
	}

	logger.Info("retention_run_done",
		"run_id", runID,
		"scanned", res.Scanned,
		"purged", res.Deleted,
		"users", res.Users,
		"dry_run", rm.cfg.DryRun,
		"took", rm.now().Sub(started))
	return res, nil
}
