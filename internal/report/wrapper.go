// Package report drives reporter plugins with periodic statistics snapshots.
package report

import (
	"context"
	"time"

	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
	"firestige.xyz/resmeter/internal/stats"
	"firestige.xyz/resmeter/pkg/plugin"
)

const defaultInterval = 5 * time.Second

// Source returns the snapshot to report.
type Source func() stats.Snapshot

// Wrapper delivers snapshots to one reporter on a fixed interval.
//
//	ticker → Source() → Reporter.Report()
//	Close  → final Report() → Flush() → Stop()
type Wrapper struct {
	reporter plugin.Reporter
	source   Source
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// WrapperConfig contains configuration for creating a Wrapper.
type WrapperConfig struct {
	Reporter plugin.Reporter
	Source   Source
	Interval time.Duration
}

// NewWrapper creates a new wrapper around a Reporter.
func NewWrapper(cfg WrapperConfig) *Wrapper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Wrapper{
		reporter: cfg.Reporter,
		source:   cfg.Source,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Name returns the wrapped reporter's name.
func (w *Wrapper) Name() string {
	return w.reporter.Name()
}

// Start starts the reporter plugin and the report loop.
func (w *Wrapper) Start(ctx context.Context) error {
	if err := w.reporter.Start(ctx); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Close stops the loop, sends a last snapshot and shuts the reporter down.
// Start must have succeeded before Close is called.
func (w *Wrapper) Close(ctx context.Context) error {
	close(w.stopCh)
	<-w.doneCh

	w.report(ctx)
	if err := w.reporter.Flush(ctx); err != nil {
		log.GetLogger().WithError(err).WithField("reporter", w.Name()).Warn("reporter flush failed")
	}
	return w.reporter.Stop(ctx)
}

func (w *Wrapper) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.report(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Wrapper) report(ctx context.Context) {
	snap := w.source()
	if err := w.reporter.Report(ctx, snap); err != nil {
		metrics.ReportsTotal.WithLabelValues(w.Name(), "error").Inc()
		log.GetLogger().WithError(err).WithField("reporter", w.Name()).Warn("report failed")
		return
	}
	metrics.ReportsTotal.WithLabelValues(w.Name(), "ok").Inc()
}
