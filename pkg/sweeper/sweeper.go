// Package sweeper runs the background loop that deletes expired secrets.
package sweeper

import (
	"time"

	"github.com/SirrVault/sirr/pkg/log"
	"github.com/SirrVault/sirr/pkg/metrics"
	"github.com/rs/zerolog"
)

// Pruner is the subset of *store.Store the sweeper depends on.
type Pruner interface {
	Prune() (int, error)
}

// Sweeper periodically removes expired records from the store. Expiry is
// also checked lazily on every read, so the sweeper is a best-effort
// reclaimer of space and memory, not a correctness requirement: a record
// past its expires_at is already unreadable before the sweeper ever runs.
type Sweeper struct {
	store    Pruner
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Sweeper that prunes store every interval.
func New(store Pruner, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   log.WithComponent("sweeper"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			s.logger.Info().Msg("sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) sweep() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

	// store.Prune itself accounts for sirr_secrets_expired_total and
	// sirr_secrets_active; the sweeper only needs its own cycle-duration metric.
	if _, err := s.store.Prune(); err != nil {
		s.logger.Error().Err(err).Msg("sweep cycle failed")
	}
}
