package engine

import (
	"context"

	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/core/decoder"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
)

// Feed decodes captured packets and queues their segments for Run. It returns
// when in is closed, ctx is done or the engine stops.
func (e *Engine) Feed(ctx context.Context, in <-chan core.RawPacket) error {
	return feed(ctx, in, func(seg core.Segment) error {
		return e.Submit(ctx, seg)
	})
}

// Replay decodes captured packets and processes them on the calling
// goroutine. It must not be combined with Run.
func (e *Engine) Replay(ctx context.Context, in <-chan core.RawPacket) error {
	return feed(ctx, in, func(seg core.Segment) error {
		e.Process(seg)
		return nil
	})
}

func feed(ctx context.Context, in <-chan core.RawPacket, next func(core.Segment) error) error {
	dec := decoder.New()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			seg, err := dec.Decode(raw)
			if err != nil {
				metrics.CaptureDropsTotal.WithLabelValues("decode").Inc()
				if log.GetLogger().IsTraceEnabled() {
					log.GetLogger().WithError(err).Trace("packet skipped")
				}
				continue
			}
			if len(seg.Payload) == 0 {
				continue
			}
			if err := next(seg); err != nil {
				return err
			}
		}
	}
}
