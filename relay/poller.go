// Package relay drains the external relay: it lists pending units, forwards
// each decoded event to the local intake endpoint and acknowledges the unit
// only after the event was applied.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/chxlky/boardsync/config"
	"github.com/chxlky/boardsync/integrations"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

var ErrCycleInProgress = errors.New("poll cycle already in progress")

// Relay is the external tracker the poller drains.
type Relay interface {
	ListPending(ctx context.Context) ([]integrations.Unit, error)
	Close(ctx context.Context, number int) error
	DeadLetter(ctx context.Context, number int, rep integrations.DeadLetterReport) error
	DeadLetterLabel() string
}

// Forwarder hands one serialized event to the applier.
type Forwarder interface {
	Forward(ctx context.Context, payload []byte) error
}

// FailureTracker counts failed deliveries per unit across cycles.
type FailureTracker interface {
	RecordFailure(ctx context.Context, unitKey, lastError string) (int, error)
	MarkDeadLettered(ctx context.Context, unitKey string) error
	ClearFailure(ctx context.Context, unitKey string) error
}

// ProcessedPruner is implemented by trackers that also hold the applied
// event ids. RunOnce uses it to expire ids older than the retention window.
type ProcessedPruner interface {
	PruneProcessed(ctx context.Context, before time.Time) (int64, error)
}

type CycleStats struct {
	Listed       int
	Applied      int
	Skipped      int
	Failed       int
	DeadLettered int
}

type Poller struct {
	relay     Relay
	forwarder Forwarder
	failures  FailureTracker
	cfg       config.SyncConfig
	logger    *zap.Logger

	running   atomic.Bool
	scheduler *gocron.Scheduler
}

func New(relay Relay, forwarder Forwarder, failures FailureTracker, cfg config.SyncConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		relay:     relay,
		forwarder: forwarder,
		failures:  failures,
		cfg:       cfg,
		logger:    logger,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Start schedules RunOnce every cfg.Interval(), first firing after
// cfg.StartupDelay. It returns immediately.
func (p *Poller) Start(ctx context.Context) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(p.cfg.Interval()).
		StartAt(time.Now().Add(p.cfg.StartupDelay)).
		Do(p.tick, ctx)
	if err != nil {
		return fmt.Errorf("scheduling poll job: %w", err)
	}
	s.StartAsync()
	p.scheduler = s

	p.logger.Info("Relay sync started",
		zap.Duration("interval", p.cfg.Interval()),
		zap.Duration("startupDelay", p.cfg.StartupDelay),
	)
	return nil
}

// Stop halts the schedule. A cycle already running finishes on its own.
func (p *Poller) Stop() {
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
}

func (p *Poller) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("PANIC whilst polling relay", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		p.logger.Error("Relay poll failed", zap.Error(err))
	}
}

// RunOnce drains one listing. Units are handled one at a time and a failing
// unit never stops the rest. Overlapping calls return ErrCycleInProgress.
func (p *Poller) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("Previous poll cycle still running; skipping")
		return stats, ErrCycleInProgress
	}
	defer p.running.Store(false)

	listCtx, cancel := withTimeout(ctx, p.cfg.ListTimeout)
	units, err := p.relay.ListPending(listCtx)
	cancel()
	if err != nil {
		return stats, err
	}
	stats.Listed = len(units)

	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		p.processUnit(ctx, u, &stats)
	}

	p.pruneProcessed(ctx)

	p.logger.Info("Relay poll cycle finished",
		zap.Int("listed", stats.Listed),
		zap.Int("applied", stats.Applied),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("deadLettered", stats.DeadLettered),
	)
	return stats, ctx.Err()
}

func (p *Poller) processUnit(ctx context.Context, u integrations.Unit, stats *CycleStats) {
	log := p.logger.With(zap.Int("issue", u.Number), zap.String("unit", u.Key))
	defer func() {
		if r := recover(); r != nil {
			stats.Failed++
			log.Error("PANIC whilst syncing unit", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if u.HasLabel(p.relay.DeadLetterLabel()) {
		stats.Skipped++
		log.Debug("Unit is dead-lettered; skipping")
		return
	}

	ev, err := events.Decode([]byte(u.Body))
	if err != nil {
		stats.Skipped++
		log.Warn("Unit body is not an event; leaving it open", zap.Error(err))
		return
	}
	if ev.ID == "" {
		ev.ID = u.Key
	}
	log = log.With(zap.String("type", string(ev.Type)), zap.Time("timestamp", ev.Timestamp))

	payload, err := ev.Encode()
	if err != nil {
		stats.Skipped++
		log.Warn("Could not re-encode event", zap.Error(err))
		return
	}

	fwdCtx, cancel := withTimeout(ctx, p.cfg.ForwardTimeout)
	err = p.forwarder.Forward(fwdCtx, payload)
	cancel()
	if err != nil {
		p.fail(ctx, u, fmt.Errorf("forward: %w", err), false, stats, log)
		return
	}

	if err := p.closeUnit(ctx, u.Number); err != nil {
		p.fail(ctx, u, fmt.Errorf("close: %w", err), true, stats, log)
		return
	}

	stats.Applied++
	log.Info("Unit applied and closed")
	if err := p.failures.ClearFailure(ctx, u.Key); err != nil {
		log.Warn("Could not clear failure record", zap.Error(err))
	}
}

// closeUnit acknowledges a unit, retrying briefly: an event that was applied
// but not acknowledged will be delivered again.
func (p *Poller) closeUnit(ctx context.Context, number int) error {
	attempts := p.cfg.CloseAttempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error {
			closeCtx, cancel := withTimeout(ctx, p.cfg.CloseTimeout)
			defer cancel()
			return p.relay.Close(closeCtx, number)
		},
		retry.Attempts(attempts),
		retry.Delay(p.cfg.CloseRetryDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

// fail counts a failed delivery and dead-letters the unit once it reaches
// MaxAttempts. applied marks failures that happened after the intake had
// already accepted the event.
func (p *Poller) fail(ctx context.Context, u integrations.Unit, cause error, applied bool, stats *CycleStats, log *zap.Logger) {
	stats.Failed++
	log.Error("Failed to sync unit; leaving it open for retry", zap.Bool("applied", applied), zap.Error(cause))

	if p.cfg.MaxAttempts <= 0 {
		return
	}
	attempts, err := p.failures.RecordFailure(ctx, u.Key, cause.Error())
	if err != nil {
		log.Warn("Could not record failure", zap.Error(err))
		return
	}
	if attempts < p.cfg.MaxAttempts {
		return
	}

	dlCtx, cancel := withTimeout(ctx, p.cfg.CloseTimeout)
	defer cancel()
	rep := integrations.DeadLetterReport{Attempts: attempts, LastError: cause.Error(), Applied: applied}
	if err := p.relay.DeadLetter(dlCtx, u.Number, rep); err != nil {
		log.Warn("Could not dead-letter unit", zap.Int("attempts", attempts), zap.Error(err))
		return
	}
	if err := p.failures.MarkDeadLettered(ctx, u.Key); err != nil {
		log.Warn("Could not mark failure record dead-lettered", zap.Error(err))
	}
	stats.DeadLettered++
	log.Error("Unit dead-lettered; needs manual attention",
		zap.Int("attempts", attempts),
		zap.Bool("applied", applied),
		zap.String("label", p.relay.DeadLetterLabel()),
	)
}

// pruneProcessed drops applied event ids older than ProcessedRetention. Ids of
// units that were closed long ago can no longer be redelivered.
func (p *Poller) pruneProcessed(ctx context.Context) {
	pruner, ok := p.failures.(ProcessedPruner)
	if !ok || p.cfg.ProcessedRetention <= 0 || ctx.Err() != nil {
		return
	}
	n, err := pruner.PruneProcessed(ctx, time.Now().UTC().Add(-p.cfg.ProcessedRetention))
	if err != nil {
		p.logger.Warn("Could not prune processed event ids", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("Pruned processed event ids", zap.Int64("count", n), zap.Duration("retention", p.cfg.ProcessedRetention))
	}
}
