package monitor

import (
	"context"
	"log/slog"
	"sync"
)

// Supervisor runs all configured orchestrators concurrently. A source that
// exits on its own (single-pass mode) is not restarted; transient per-cycle
// errors never reach the supervisor because orchestrators contain them.
type Supervisor struct {
	orchestrators []*Orchestrator
	logger        *slog.Logger
}

// NewSupervisor creates a supervisor over the given orchestrators.
func NewSupervisor(orchestrators []*Orchestrator, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{orchestrators: orchestrators, logger: logger}
}

// Run starts every orchestrator and blocks until all have returned.
// Cancelling ctx asks each orchestrator to stop after its current pass.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, o := range s.orchestrators {
		wg.Add(1)
		go func(o *Orchestrator) {
			defer wg.Done()
			if err := o.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("monitor exited", "source", o.cfg.Source, "error", err)
			}
		}(o)
	}

	wg.Wait()
	s.logger.Info("all monitors stopped")
}
