package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/lockswap/internal/app/events"
	"github.com/R3E-Network/lockswap/internal/app/metrics"
	"github.com/R3E-Network/lockswap/internal/app/services/keeper"
	"github.com/R3E-Network/lockswap/internal/app/services/lockkey"
	"github.com/R3E-Network/lockswap/internal/app/services/objects"
	"github.com/R3E-Network/lockswap/internal/app/storage"
	"github.com/R3E-Network/lockswap/internal/app/storage/memory"
	"github.com/R3E-Network/lockswap/internal/app/system"
	"github.com/R3E-Network/lockswap/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil ledger defaults to the
// in-memory implementation built from Runtime.
type Stores struct {
	Ledger  storage.Ledger
	Runtime storage.Runtime
}

// Options tunes background services.
type Options struct {
	KeeperInterval time.Duration
	DisableKeeper  bool
	// HashAlgorithm is the escrow commitment hash used when a request names
	// none. Empty means sha256.
	HashAlgorithm string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger  storage.Ledger
	Clock   storage.Clock
	Events  *events.Hub
	Objects *objects.Service
	LockKey *lockkey.Service
	Keeper  *keeper.Keeper
}

// WithMetrics returns rt with its conflict hook reporting to prometheus.
func WithMetrics(rt storage.Runtime) storage.Runtime {
	prev := rt.OnConflict
	rt.OnConflict = func(attempt int) {
		metrics.RecordConflict(attempt)
		if prev != nil {
			prev(attempt)
		}
	}
	return rt
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	rt := stores.Runtime.WithDefaults()
	if stores.Ledger == nil {
		stores.Ledger = memory.New(WithMetrics(rt))
	}
	hub := events.NewHub(0)
	stores.Ledger = events.Publishing(stores.Ledger, hub, rt.Clock)

	manager := system.NewManager()

	objectService := objects.New(stores.Ledger, log.Named("objects"))
	lockService, err := lockkey.New(stores.Ledger, log.Named("lockkey")).WithDefaultAlgorithm(opts.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("escrow hash algorithm: %w", err)
	}
	lockService.WithObserver(func(op string, err error) {
		metrics.RecordOperation(op, lockkey.Classify(err))
	})

	var refundKeeper *keeper.Keeper
	if opts.DisableKeeper {
		log.Warn("refund keeper disabled; expired escrows wait for a manual refund")
	} else {
		refundKeeper = keeper.New(lockService, rt.Clock, opts.KeeperInterval, log.Named("refund-keeper"))
		refundKeeper.OnResult(metrics.RecordKeeperRefund)
		if err := manager.Register(refundKeeper); err != nil {
			return nil, fmt.Errorf("register %s: %w", refundKeeper.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Ledger:  stores.Ledger,
		Clock:   rt.Clock,
		Events:  hub,
		Objects: objectService,
		LockKey: lockService,
		Keeper:  refundKeeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
