// Package warmer periodically recomputes cached availability for active
// services so that the first request after a booking change does not pay
// the full calculation cost.
package warmer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ServiceLister returns the ids of services that can currently be booked.
type ServiceLister interface {
	ActiveServiceIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// Refresher recomputes and caches the default availability window of one
// service.
type Refresher interface {
	Warm(ctx context.Context, serviceID uuid.UUID) (int, error)
}

// Skippable reports errors that mean "nothing to warm" rather than a fault,
// such as a service without a practitioner.
type Skippable func(error) bool

const defaultConcurrency = 4

type Warmer struct {
	schedule    string
	lister      ServiceLister
	refresher   Refresher
	limit       int
	concurrency int
	skip        Skippable
	logger      zerolog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	cancel  context.CancelFunc
	running atomic.Bool
}

type Result struct {
	Warmed  int
	Skipped int
	Failed  int
}

func New(schedule string, lister ServiceLister, refresher Refresher, limit int, skip Skippable, logger zerolog.Logger) (*Warmer, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse warm schedule %q: %w", schedule, err)
	}
	if limit <= 0 {
		return nil, errors.New("warm limit must be positive")
	}
	if skip == nil {
		skip = func(error) bool { return false }
	}
	return &Warmer{
		schedule:    schedule,
		lister:      lister,
		refresher:   refresher,
		limit:       limit,
		concurrency: defaultConcurrency,
		skip:        skip,
		logger:      logger.With().Str("component", "warmer").Logger(),
	}, nil
}

// Start schedules RunOnce on the cron schedule. Runs never overlap; a tick that
// fires while the previous run is still going is dropped.
func (w *Warmer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.cron = cron.New()
	// Validated in New.
	_, _ = w.cron.AddFunc(w.schedule, func() {
		if !w.running.CompareAndSwap(false, true) {
			w.logger.Warn().Msg("previous warm run still in progress, skipping tick")
			return
		}
		defer w.running.Store(false)
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("warm run failed")
		}
	})
	w.cron.Start()
	w.logger.Info().Str("schedule", w.schedule).Int("limit", w.limit).Msg("availability warmer started")
}

// Stop cancels an in-flight run and waits for it to return, or for ctx to
// expire.
func (w *Warmer) Stop(ctx context.Context) {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.cancel = nil, nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		w.logger.Warn().Msg("warmer did not stop before deadline")
	}
}

// RunOnce warms up to limit active services. Per-service failures are
// logged and counted; only a failure to list services is returned.
func (w *Warmer) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	ids, err := w.lister.ActiveServiceIDs(ctx, w.limit)
	if err != nil {
		return Result{}, fmt.Errorf("list active services: %w", err)
	}

	var warmed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			n, err := w.refresher.Warm(gctx, id)
			switch {
			case err == nil:
				warmed.Add(1)
				w.logger.Debug().Str("service_id", id.String()).Int("slots", n).Msg("service warmed")
			case w.skip(err):
				skipped.Add(1)
			default:
				failed.Add(1)
				w.logger.Warn().Err(err).Str("service_id", id.String()).Msg("warm failed")
			}
			return nil
		})
	}
	err = g.Wait()

	res := Result{Warmed: int(warmed.Load()), Skipped: int(skipped.Load()), Failed: int(failed.Load())}
	w.logger.Info().
		Int("services", len(ids)).
		Int("warmed", res.Warmed).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("warm run complete")
	return res, err
}
