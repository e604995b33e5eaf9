// Package sweeper runs the scheduled background job spec.md §5 calls out as
// "out of scope for this document... handled by a separate scheduled
// sweeper": failing any node that has sat in waiting_for_user past its
// configured timeout. Grounded on robfig/cron/v3, a dependency the teacher's
// go.mod carried unused by its own graph engine.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/duragraph/duragraph/internal/application/engine"
	"github.com/duragraph/duragraph/internal/infrastructure/store"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentTimeouts bounds how many TimeoutUX calls one sweep runs at
// once — a sweep can find many stale nodes at once on a cold start, and
// they share nothing, so bounded fan-out shortens the pass without
// hammering the store.
const maxConcurrentTimeouts = 8

const timeoutError = "UX timeout"

// Sweeper periodically fails waiting_for_user nodes older than Timeout.
type Sweeper struct {
	Store   store.Store
	Engine  *engine.Engine
	Timeout time.Duration

	cron *cron.Cron
}

// New constructs a Sweeper. timeout is how long a node may sit in
// waiting_for_user before it is failed; the sweep interval is given to Start.
func New(st store.Store, eng *engine.Engine, timeout time.Duration) *Sweeper {
	return &Sweeper{Store: st, Engine: eng, Timeout: timeout}
}

// Start schedules the sweep to run every interval until ctx is canceled.
// interval is a Go duration, translated to "@every <interval>" for
// robfig/cron.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		if err := s.Sweep(ctx); err != nil {
			log.Printf("stitch: sweep failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("stitch: failed to schedule sweeper: %v", err)
		return
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

// Sweep runs one pass immediately: every node waiting_for_user since before
// now-Timeout is transitioned to failed with the canonical "UX timeout"
// message, then Advance is called so downstream failure propagation runs
// the same way a user-triggered failure would.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.Timeout)
	waiting, err := s.Store.ListWaitingSince(ctx, cutoff)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTimeouts)
	for _, w := range waiting {
		w := w
		g.Go(func() error {
			if err := s.Engine.TimeoutUX(gctx, w.RunID, w.NodeID, timeoutError); err != nil {
				log.Printf("stitch: sweep timeout transition failed for run %s node %s: %v", w.RunID, w.NodeID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
