// Package reassembly reconstructs the ordered byte stream of the game server
// connection from captured TCP segments.
package reassembly

import (
	"encoding/binary"
	"time"

	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
)

const (
	DefaultIdleTimeout = 30 * time.Second
	DefaultSegmentTTL  = 10 * time.Second
)

// Config tunes the reconstructor.
type Config struct {
	IdleTimeout time.Duration // no forward progress for this long drops the lock
	SegmentTTL  time.Duration // cached out-of-order segments expire after this long
	// MaxFrameSize, when positive, gates the first segment after a lock: the cursor
	// only starts on a segment that begins with a plausible frame length.
	MaxFrameSize int
}

// Outcome classifies what Ingest did with a segment.
type Outcome uint8

const (
	Ignored    Outcome = iota // not part of the server stream
	Identified                // locked onto a new server connection
	Accepted                  // appended or cached
	Stale                     // behind the cursor or before a frame start
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Identified:
		return "identified"
	case Accepted:
		return "accepted"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Result reports the effect of one Ingest call.
type Result struct {
	Outcome  Outcome
	Match    Match // set when Outcome == Identified
	Appended int   // bytes appended to the output buffer
	Expired  bool  // the previous lock was dropped by the idle watchdog
}

type entry struct {
	data []byte
	seen time.Time
}

// Reassembler follows at most one server connection. It is not safe for
// concurrent use; the engine owns it from a single goroutine.
type Reassembler struct {
	cfg        Config
	identifier Identifier

	server    core.ConnID
	locked    bool
	cursor    uint32
	cursorSet bool
	cache     map[uint32]entry
	buf       []byte

	lastProgress time.Time
}

// New creates a reconstructor using id to find the server connection.
func New(cfg Config, id Identifier) *Reassembler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SegmentTTL <= 0 {
		cfg.SegmentTTL = DefaultSegmentTTL
	}
	if id == nil {
		id = DefaultIdentifiers()
	}
	return &Reassembler{
		cfg:        cfg,
		identifier: id,
		cache:      make(map[uint32]entry),
	}
}

// Ingest offers one segment.
func (r *Reassembler) Ingest(seg core.Segment, now time.Time) Result {
	var res Result
	if len(seg.Payload) == 0 {
		return res
	}

	res.Expired = r.checkIdle(now)
	r.prune(now)

	if !r.locked || seg.Conn != r.server {
		if r.locked && seg.Conn == r.server.Reverse() {
			return res
		}
		m, ok := r.identifier.Identify(seg)
		if !ok {
			return res
		}
		r.lock(m, now)
		res.Outcome = Identified
		res.Match = m
		return res
	}

	seq, payload := seg.Seq, seg.Payload
	if !r.cursorSet {
		if !r.plausibleFrameStart(payload) {
			res.Outcome = Stale
			return res
		}
		r.cursor = seq
		r.cursorSet = true
	}

	if int32(seq-r.cursor) < 0 {
		end := seq + uint32(len(payload))
		if int32(end-r.cursor) <= 0 {
			res.Outcome = Stale
			return res
		}
		payload = payload[r.cursor-seq:]
		seq = r.cursor
	}

	if existing, ok := r.cache[seq]; !ok || len(existing.data) < len(payload) {
		r.cache[seq] = entry{data: append([]byte(nil), payload...), seen: now}
	}

	res.Outcome = Accepted
	res.Appended = r.drain(now)
	metrics.ReassemblyCachedSegments.Set(float64(len(r.cache)))
	return res
}

func (r *Reassembler) plausibleFrameStart(p []byte) bool {
	if r.cfg.MaxFrameSize <= 0 {
		return true
	}
	return len(p) > 4 && binary.BigEndian.Uint32(p) <= uint32(r.cfg.MaxFrameSize)
}

func (r *Reassembler) drain(now time.Time) int {
	appended := 0
	for {
		e, ok := r.cache[r.cursor]
		if !ok {
			return appended
		}
		delete(r.cache, r.cursor)
		r.buf = append(r.buf, e.data...)
		r.cursor += uint32(len(e.data))
		appended += len(e.data)
		r.lastProgress = now
	}
}

func (r *Reassembler) lock(m Match, now time.Time) {
	r.clear()
	r.server = m.Conn
	r.locked = true
	r.lastProgress = now
	if m.HasSeq {
		r.cursor = m.NextSeq
		r.cursorSet = true
	}
	log.GetLogger().
		WithField("server", m.Conn.String()).
		WithField("identifier", m.Strategy).
		Info("game server identified")
}

func (r *Reassembler) checkIdle(now time.Time) bool {
	if !r.locked || now.Sub(r.lastProgress) <= r.cfg.IdleTimeout {
		return false
	}
	log.GetLogger().
		WithField("server", r.server.String()).
		WithField("cursor", r.cursor).
		Warn("no progress on server stream, waiting for a new server")
	r.Reset()
	return true
}

func (r *Reassembler) prune(now time.Time) {
	for seq, e := range r.cache {
		if now.Sub(e.seen) > r.cfg.SegmentTTL {
			delete(r.cache, seq)
		}
	}
}

// Sweep runs the idle watchdog and cache expiry without a segment.
// It reports whether the lock was dropped.
func (r *Reassembler) Sweep(now time.Time) bool {
	expired := r.checkIdle(now)
	r.prune(now)
	metrics.ReassemblyCachedSegments.Set(float64(len(r.cache)))
	return expired
}

// Buffered returns the contiguous, not yet consumed stream bytes. The slice
// is only valid until the next Ingest or Consume.
func (r *Reassembler) Buffered() []byte {
	return r.buf
}

// Consume discards the first n buffered bytes.
func (r *Reassembler) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(r.buf) {
		r.buf = r.buf[:0]
		return
	}
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

// Reset drops the server lock and all stream state.
func (r *Reassembler) Reset() {
	r.clear()
	r.server = core.ConnID{}
	r.locked = false
	metrics.ReassemblyCachedSegments.Set(0)
}

func (r *Reassembler) clear() {
	r.cursor = 0
	r.cursorSet = false
	r.cache = make(map[uint32]entry)
	r.buf = nil
	r.lastProgress = time.Time{}
}

// Server returns the locked server connection.
func (r *Reassembler) Server() (core.ConnID, bool) {
	return r.server, r.locked
}

// Cursor returns the next expected sequence number.
func (r *Reassembler) Cursor() (uint32, bool) {
	return r.cursor, r.cursorSet
}

// CachedSegments is the number of out-of-order segments held.
func (r *Reassembler) CachedSegments() int {
	return len(r.cache)
}

// Stats describes the reconstruction state.
type Stats struct {
	Locked         bool
	Server         core.ConnID
	CachedSegments int
	BufferedBytes  int
}

func (r *Reassembler) Stats() Stats {
	return Stats{
		Locked:         r.locked,
		Server:         r.server,
		CachedSegments: len(r.cache),
		BufferedBytes:  len(r.buf),
	}
}
