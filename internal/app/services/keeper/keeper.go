// Package keeper refunds expired escrows in the background. Refund is
// permissionless, so the keeper needs no identity of its own.
package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/lockswap/internal/app/domain/capability"
	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/services/lockkey"
	"github.com/R3E-Network/lockswap/internal/app/storage"
	"github.com/R3E-Network/lockswap/internal/app/system"
	"github.com/R3E-Network/lockswap/pkg/logger"
)

const defaultInterval = 30 * time.Second

// Escrows is the part of the lock/key service the keeper drives.
type Escrows interface {
	ExpiredEscrows(ctx context.Context, now time.Time) ([]capability.Escrow, error)
	Refund(ctx context.Context, escrowID ledger.ID) (ledger.ID, error)
}

// Report summarises one sweep.
type Report struct {
	Refunded int
	Skipped  int
	Failed   int
}

// Keeper periodically refunds every escrow whose expiry has passed.
type Keeper struct {
	escrows  Escrows
	clock    storage.Clock
	interval time.Duration
	log      *logger.Logger
	onResult func(result string)

	mu          sync.Mutex
	cron        *cron.Cron
	cancel      context.CancelFunc
	running     bool
	nextAttempt map[ledger.ID]time.Time
}

var _ system.Service = (*Keeper)(nil)

// New creates a keeper. A non-positive interval uses 30s.
func New(escrows Escrows, clock storage.Clock, interval time.Duration, log *logger.Logger) *Keeper {
	if log == nil {
		log = logger.NewDefault("refund-keeper")
	}
	if clock == nil {
		clock = storage.SystemClock{}
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Keeper{
		escrows:     escrows,
		clock:       clock,
		interval:    interval,
		log:         log,
		nextAttempt: make(map[ledger.ID]time.Time),
	}
}

// OnResult installs a hook told "refunded", "consumed" or "failed" for each
// attempted escrow.
func (k *Keeper) OnResult(fn func(result string)) { k.onResult = fn }

func (k *Keeper) Name() string { return "refund-keeper" }

func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", k.interval), func() { k.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule refund keeper: %w", err)
	}
	c.Start()

	k.cron = c
	k.cancel = cancel
	k.running = true
	k.log.Infof("refund keeper started, sweeping every %s", k.interval)
	return nil
}

func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	c, cancel := k.cron, k.cancel
	k.running = false
	k.cron, k.cancel = nil, nil
	k.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	k.log.Info("refund keeper stopped")
	return nil
}

// RunOnce sweeps expired escrows a single time.
func (k *Keeper) RunOnce(ctx context.Context) Report {
	var report Report
	now := k.clock.Now()

	expired, err := k.escrows.ExpiredEscrows(ctx, now)
	if err != nil {
		k.log.WithError(err).Warn("list expired escrows failed")
		return report
	}

	for _, esc := range expired {
		if ctx.Err() != nil {
			break
		}
		if !k.shouldAttempt(esc.ID, now) {
			report.Skipped++
			continue
		}

		itemID, err := k.escrows.Refund(ctx, esc.ID)
		switch {
		case err == nil:
			report.Refunded++
			k.clearSchedule(esc.ID)
			k.record("refunded")
			k.log.Infof("escrow %s refunded, item %s returned to %s", esc.ID, itemID, esc.RefundRecipient)
		case lockkey.IsAlreadyConsumed(err):
			// A claim or another refund got there first.
			report.Skipped++
			k.clearSchedule(esc.ID)
			k.record("consumed")
		default:
			report.Failed++
			k.scheduleNext(esc.ID, now)
			k.record("failed")
			k.log.WithError(err).Warnf("refund escrow %s failed", esc.ID)
		}
	}
	k.prune(expired)
	return report
}

func (k *Keeper) record(result string) {
	if k.onResult != nil {
		k.onResult(result)
	}
}

func (k *Keeper) shouldAttempt(id ledger.ID, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	next, ok := k.nextAttempt[id]
	return !ok || !now.Before(next)
}

// scheduleNext backs a failing escrow off for four intervals, e.g. while a
// gate vetoes its refund recipient.
func (k *Keeper) scheduleNext(id ledger.ID, now time.Time) {
	k.mu.Lock()
	k.nextAttempt[id] = now.Add(4 * k.interval)
	k.mu.Unlock()
}

func (k *Keeper) clearSchedule(id ledger.ID) {
	k.mu.Lock()
	delete(k.nextAttempt, id)
	k.mu.Unlock()
}

// prune drops backoff entries for escrows no longer listed as expired, e.g.
// ones refunded by hand while backed off.
func (k *Keeper) prune(expired []capability.Escrow) {
	listed := make(map[ledger.ID]struct{}, len(expired))
	for _, esc := range expired {
		listed[esc.ID] = struct{}{}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for id := range k.nextAttempt {
		if _, ok := listed[id]; !ok {
			delete(k.nextAttempt, id)
		}
	}
}
