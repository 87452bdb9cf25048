// Package poller probes the job status endpoint while the push channel is
// unavailable.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/intelwatch/internal/backend"
	"github.com/kalambet/intelwatch/internal/event"
)

const defaultInterval = 5 * time.Second

// StatusFetcher abstracts the status endpoint.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (backend.StatusDocument, error)
}

// Sink receives terminal events found by a probe. ctx is cancelled when the
// poller stops, and the sink must return once it is.
type Sink func(ctx context.Context, ev event.Event)

// Poller runs at most one probe loop at a time.
type Poller struct {
	fetcher  StatusFetcher
	sink     Sink
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Poller. If interval is <= 0, it defaults to 5s.
func New(fetcher StatusFetcher, sink Sink, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:  fetcher,
		sink:     sink,
		interval: interval,
		logger:   logger.Named("poller"),
	}
}

// Start begins probing jobID every interval. Starting a running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context, jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, jobID, p.done)
	p.logger.Info("polling started", zap.String("job_id", jobID), zap.Duration("interval", p.interval))
}

// Stop ends the probe loop and waits for it to exit. It is safe to call on a
// stopped poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Debug("polling stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, jobID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		terminal, err := p.RunOnce(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("status probe failed", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		if terminal {
			return
		}
	}
}

// RunOnce performs a single probe. It returns true when a terminal event was
// delivered to the sink.
func (p *Poller) RunOnce(ctx context.Context, jobID string) (bool, error) {
	doc, err := p.fetcher.Status(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", jobID, err)
	}

	ev := event.FromStatusDocument(doc.Raw)
	if ev == nil && doc.Raw == nil {
		ev = event.FromStatusEvent(doc.StatusEvent)
	}
	if !isTerminal(ev) {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	p.logger.Info("terminal status found", zap.String("job_id", jobID), zap.String("kind", string(ev.Kind())))
	p.sink(ctx, ev)
	return true, nil
}

// isTerminal only accepts a completion that carries its report.
func isTerminal(ev event.Event) bool {
	if c, ok := ev.(event.Completed); ok {
		return c.Report != ""
	}
	return event.IsTerminal(ev)
}
