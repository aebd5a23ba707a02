package dcragent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type AgentConfig struct {
	SweepInterval time.Duration
	Retention     time.Duration // 0 keeps dedup records forever
	DrainTimeout  time.Duration
}

// Agent wires receiver, assembler and dispatcher together and runs the
// background sweep/prune ticker. Fragment ingestion stays on this single
// goroutine; dispatch parallelism lives entirely behind Dispatcher.Submit.
type Agent struct {
	cfg        AgentConfig
	receiver   *Receiver
	assembler  *Assembler
	dispatcher *Dispatcher
	dedup      *DedupStore
	log        *zap.SugaredLogger
}

func NewAgent(cfg AgentConfig, receiver *Receiver, assembler *Assembler, dispatcher *Dispatcher, dedup *DedupStore, log *zap.SugaredLogger) *Agent {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Agent{
		cfg:        cfg,
		receiver:   receiver,
		assembler:  assembler,
		dispatcher: dispatcher,
		dedup:      dedup,
		log:        log,
	}
}

// Run processes the fragment stream until ctx is cancelled or the decoder
// stream ends, then drains in-flight dispatch before returning.
func (a *Agent) Run(ctx context.Context) error {
	released, err := a.dedup.ResetOrphanClaims()
	if err != nil {
		return fmt.Errorf("reset orphan claims: %w", err)
	}
	if released > 0 {
		a.log.Infow("released orphaned dispatch claims", "count", released)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.dispatcher.Start(runCtx)

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- a.receiver.Run(runCtx) }()

	sweep := time.NewTicker(a.cfg.SweepInterval)
	defer sweep.Stop()

	var runErr error
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case now := <-sweep.C:
			a.assembler.Sweep(now)
			if a.cfg.Retention > 0 {
				if _, err := a.dedup.Prune(now.Add(-a.cfg.Retention)); err != nil {
					a.log.Errorw("dedup prune failed", "error", err)
				}
			}
		case f, ok := <-a.receiver.Fragments():
			if !ok {
				// Stream ended. The close only happens after the pump drained
				// the decoder, so every buffered fragment has been ingested.
				break loop
			}
			report, err := a.assembler.Ingest(f)
			if err != nil {
				// Only the dedup durability layer failing reaches here;
				// continuing would break duplicate suppression.
				runErr = err
				break loop
			}
			if report != nil {
				a.dispatcher.Submit(*report)
			}
		}
	}

	cancel()
	select {
	case err := <-pumpErr:
		if runErr == nil {
			runErr = err
		}
	case <-time.After(5 * time.Second):
		a.log.Warnw("decoder pump did not stop in time")
	}

	if !a.dispatcher.Drain(a.cfg.DrainTimeout) {
		a.log.Warnw("dispatch drain timed out", "timeout", a.cfg.DrainTimeout)
	}
	return runErr
}
