package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultSweepInterval = time.Minute

// Sweeper periodically removes expired holds so they stop showing up in listings.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSweeper(e *Engine, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		engine:   e,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Start launches the background loop. Call Close to stop it.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	removed, err := s.engine.ExpireSweep(ctx, s.engine.now())
	if err != nil {
		s.log.Error("expiry sweep failed", zap.Int("removed", removed), zap.Error(err))
		return
	}
	if removed > 0 {
		s.log.Info("expired holds removed", zap.Int("removed", removed))
	}
}

// Close stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Close() error {
	close(s.stop)
	s.wg.Wait()
	return nil
}
