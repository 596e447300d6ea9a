// Package engine runs the capture-to-statistics cycle on a single goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"firestige.xyz/resmeter/internal/combat"
	"firestige.xyz/resmeter/internal/config"
	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/dispatch"
	"firestige.xyz/resmeter/internal/frame"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
	"firestige.xyz/resmeter/internal/reassembly"
	"firestige.xyz/resmeter/internal/stats"
)

const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultSweepInterval = time.Second
	DefaultQueueSize     = 4096
)

// Options configures an Engine.
type Options struct {
	Reassembly     reassembly.Config
	Identifiers    reassembly.Identifiers
	Decoder        frame.Options
	TickInterval   time.Duration
	SweepInterval  time.Duration
	UseCaptureTime bool
	QueueSize      int
}

// OptionsFromConfig maps the global configuration onto engine options. The
// returned closer releases the decompressor, if any.
func OptionsFromConfig(cfg *config.GlobalConfig) (Options, func(), error) {
	ids, err := reassembly.IdentifiersByName(cfg.Reassembly.Identifiers)
	if err != nil {
		return Options{}, nil, fmt.Errorf("reassembly identifiers: %w", err)
	}

	opts := Options{
		Reassembly: reassembly.Config{
			IdleTimeout:  cfg.Reassembly.IdleTimeout,
			SegmentTTL:   cfg.Reassembly.SegmentTTL,
			MaxFrameSize: cfg.Decoder.MaxFrameSize,
		},
		Identifiers: ids,
		Decoder: frame.Options{
			MaxDepth:  cfg.Decoder.MaxDepth,
			ServiceID: cfg.Decoder.ServiceID,
		},
		TickInterval:   cfg.Stats.TickInterval,
		SweepInterval:  cfg.Reassembly.SweepInterval,
		UseCaptureTime: cfg.Stats.UseCaptureTime,
		QueueSize:      cfg.Stats.QueueSize,
	}

	closer := func() {}
	if cfg.Decoder.Decompression == "zstd" {
		z, err := frame.NewZstdDecompressor()
		if err != nil {
			return Options{}, nil, err
		}
		opts.Decoder.Decompressor = z
		closer = z.Close
	}
	return opts, closer, nil
}

// Engine owns the reconstructor, frame decoder, dispatcher and extractor.
// Segments enter through Submit or Process; only one cycle runs at a time.
type Engine struct {
	opts Options

	segments chan core.Segment
	done     chan struct{}

	reasm      *reassembly.Reassembler
	decoder    *frame.Decoder
	dispatcher *dispatch.Dispatcher
	extractor  *combat.Extractor
	registry   *stats.Registry

	paused atomic.Bool

	now       time.Time
	lastTick  time.Time
	lastSweep time.Time
}

// New wires an engine that aggregates into registry.
func New(opts Options, registry *stats.Registry) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Reassembly.MaxFrameSize <= 0 {
		opts.Reassembly.MaxFrameSize = frame.DefaultMaxFrameSize
	}
	ids := opts.Identifiers
	if len(ids) == 0 {
		ids = reassembly.DefaultIdentifiers()
	}

	e := &Engine{
		opts:       opts,
		segments:   make(chan core.Segment, opts.QueueSize),
		done:       make(chan struct{}),
		reasm:      reassembly.New(opts.Reassembly, ids),
		dispatcher: dispatch.New(),
		registry:   registry,
	}
	e.extractor = combat.NewExtractor(registry, e.clock)
	e.extractor.Register(e.dispatcher)
	e.decoder = frame.NewDecoder(e.dispatcher, opts.Decoder)
	return e
}

func (e *Engine) clock() time.Time {
	return e.now
}

// Submit queues a segment for the engine goroutine. It blocks while the
// queue is full.
func (e *Engine) Submit(ctx context.Context, seg core.Segment) error {
	select {
	case <-e.done:
		return core.ErrEngineStopped
	default:
	}
	select {
	case e.segments <- seg:
		return nil
	case <-e.done:
		return core.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues a segment without blocking and reports whether it fit.
func (e *Engine) TrySubmit(seg core.Segment) bool {
	select {
	case e.segments <- seg:
		return true
	default:
		metrics.CaptureDropsTotal.WithLabelValues("engine_queue").Inc()
		return false
	}
}

// Run consumes queued segments and drives the tick and sweep timers until
// ctx is done. Segments must not be passed to Process concurrently.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	tick := time.NewTicker(e.opts.TickInterval)
	defer tick.Stop()
	sweep := time.NewTicker(e.opts.SweepInterval)
	defer sweep.Stop()

	log.GetLogger().
		WithField("tick", e.opts.TickInterval).
		WithField("captureTime", e.opts.UseCaptureTime).
		Info("engine started")

	for {
		select {
		case <-ctx.Done():
			log.GetLogger().Info("engine stopped")
			return nil
		case seg := <-e.segments:
			e.Process(seg)
		case t := <-tick.C:
			if !e.opts.UseCaptureTime && !e.paused.Load() {
				e.registry.Tick(t)
			}
		case t := <-sweep.C:
			if !e.opts.UseCaptureTime {
				e.sweep(t)
			}
		}
	}
}

// Process runs one full cycle for seg on the calling goroutine.
func (e *Engine) Process(seg core.Segment) {
	start := time.Now()
	defer func() {
		metrics.CycleLatencySeconds.Observe(time.Since(start).Seconds())
	}()

	e.now = start
	if e.opts.UseCaptureTime && !seg.Timestamp.IsZero() {
		e.now = seg.Timestamp
	}

	res := e.reasm.Ingest(seg, e.now)
	if res.Expired {
		metrics.ReassemblyResetsTotal.WithLabelValues("idle").Inc()
	}
	if len(seg.Payload) > 0 {
		metrics.SegmentsTotal.WithLabelValues(res.Outcome.String()).Inc()
	}
	if res.Outcome == reassembly.Identified {
		metrics.ServerLocksTotal.WithLabelValues(res.Match.Strategy).Inc()
	}
	if res.Appended > 0 {
		e.drainFrames()
	}

	if e.opts.UseCaptureTime {
		e.advance(e.now)
	}
}

func (e *Engine) drainFrames() {
	buf := e.reasm.Buffered()
	frames, consumed, err := frame.Split(buf, e.opts.Reassembly.MaxFrameSize)

	if !e.paused.Load() {
		for _, f := range frames {
			if derr := e.decoder.Decode(f); derr != nil {
				metrics.DecodeErrorsTotal.WithLabelValues(errorKind(derr)).Inc()
				if log.GetLogger().IsDebugEnabled() {
					log.GetLogger().WithError(derr).WithField("len", len(f)).Debug("frame dropped")
				}
			}
		}
	}
	e.reasm.Consume(consumed)

	if err != nil {
		server, _ := e.reasm.Server()
		log.GetLogger().
			WithError(err).
			WithField("server", server.String()).
			Warn("server stream lost framing, resetting")
		metrics.ReassemblyResetsTotal.WithLabelValues("framing").Inc()
		e.reasm.Reset()
	}
}

// advance fires the tick and sweep timers from capture timestamps.
func (e *Engine) advance(now time.Time) {
	if e.lastTick.IsZero() {
		e.lastTick, e.lastSweep = now, now
		return
	}
	if now.Sub(e.lastTick) >= e.opts.TickInterval {
		if !e.paused.Load() {
			e.registry.Tick(now)
		}
		e.lastTick = now
	}
	if now.Sub(e.lastSweep) >= e.opts.SweepInterval {
		e.sweep(now)
		e.lastSweep = now
	}
}

func (e *Engine) sweep(now time.Time) {
	if e.reasm.Sweep(now) {
		metrics.ReassemblyResetsTotal.WithLabelValues("idle").Inc()
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, frame.ErrTooDeep):
		return "depth"
	case errors.Is(err, frame.ErrNoDecompressor), errors.Is(err, frame.ErrDecompress):
		return "decompress"
	case errors.Is(err, frame.ErrShortFrame), errors.Is(err, frame.ErrFraming):
		return "frame"
	case errors.Is(err, combat.ErrMalformed):
		return "protobuf"
	default:
		return "handler"
	}
}

// Pause stops decoding and ticking. Reconstruction continues so the stream
// stays aligned.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		log.GetLogger().Info("statistics paused")
	}
}

func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		log.GetLogger().Info("statistics resumed")
	}
}

func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// SetPaused pauses or resumes and returns the new state.
func (e *Engine) SetPaused(paused bool) bool {
	if paused {
		e.Pause()
	} else {
		e.Resume()
	}
	return paused
}

// Clear empties the registry.
func (e *Engine) Clear() {
	e.registry.Clear()
	log.GetLogger().Info("statistics cleared")
}

func (e *Engine) Snapshot() stats.Snapshot {
	return e.registry.Snapshot()
}

func (e *Engine) Skills(uid uint64) ([]stats.SkillSummary, bool) {
	return e.registry.Skills(uid)
}

func (e *Engine) Player(uid uint64) (stats.Summary, bool) {
	return e.registry.Player(uid)
}

// Self is the uuid of the capturing player, 0 until seen.
func (e *Engine) Self() uint64 {
	return e.extractor.Self()
}
