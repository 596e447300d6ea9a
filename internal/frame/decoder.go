package frame

import (
	"encoding/binary"
	"fmt"
	"sync"

	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
)

// Notify is a server push addressed to a service method.
type Notify struct {
	ServiceID uint64
	StubID    uint32
	MethodID  uint32
	Payload   []byte
}

// NotifyHandler receives every notify message of the configured service.
type NotifyHandler interface {
	HandleNotify(n Notify) error
}

// Decompressor inflates compressed frame payloads.
type Decompressor interface {
	Decompress(src []byte) ([]byte, error)
}

// Options tunes a Decoder.
type Options struct {
	MaxDepth     int
	ServiceID    uint64
	Decompressor Decompressor // nil drops compressed payloads
}

// Decoder decodes single frames. It keeps no per-stream state.
type Decoder struct {
	opts     Options
	handler  NotifyHandler
	warnOnce sync.Once
}

// NewDecoder creates a decoder that hands notify messages to handler.
func NewDecoder(handler NotifyHandler, opts Options) *Decoder {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.ServiceID == 0 {
		opts.ServiceID = CombatServiceID
	}
	return &Decoder{opts: opts, handler: handler}
}

// Decode decodes one complete frame as produced by Split.
func (d *Decoder) Decode(raw []byte) error {
	return d.decode(raw, 0)
}

func (d *Decoder) decode(raw []byte, depth int) error {
	if depth > d.opts.MaxDepth {
		return fmt.Errorf("%w: depth %d", ErrTooDeep, depth)
	}
	h, err := ParseHeader(raw)
	if err != nil {
		return err
	}
	body := raw[HeaderLen:h.Length]
	metrics.FramesTotal.WithLabelValues(h.Type.String()).Inc()

	switch h.Type {
	case TypeNotify:
		return d.decodeNotify(body, h.Compressed)
	case TypeFrameDown:
		if len(body) < 4 {
			return fmt.Errorf("%w: frame down without sequence id", ErrShortFrame)
		}
		nested := body[4:]
		if h.Compressed {
			if nested, err = d.decompress(nested); err != nil {
				return err
			}
		}
		return d.decodeStream(nested, depth+1)
	case TypeNone, TypeCall, TypeReturn, TypeEcho, TypeFrameUp:
		if log.GetLogger().IsTraceEnabled() {
			log.GetLogger().WithField("type", h.Type.String()).WithField("len", h.Length).Trace("frame skipped")
		}
		return nil
	default:
		log.GetLogger().WithField("type", uint16(h.Type)).Debug("unknown frame type")
		return nil
	}
}

// decodeStream decodes consecutive frames of a frame-down body. A malformed
// length stops the stream; a failing frame does not stop its siblings.
func (d *Decoder) decodeStream(data []byte, depth int) error {
	var first error
	for len(data) > 0 {
		if len(data) < 4 {
			return fmt.Errorf("%w: %d trailing bytes", ErrShortFrame, len(data))
		}
		n := binary.BigEndian.Uint32(data)
		if n < HeaderLen || uint64(n) > uint64(len(data)) {
			return fmt.Errorf("%w: nested length %d of %d bytes", ErrShortFrame, n, len(data))
		}
		if err := d.decode(data[:n], depth); err != nil && first == nil {
			first = err
		}
		data = data[n:]
	}
	return first
}

func (d *Decoder) decodeNotify(body []byte, compressed bool) error {
	if len(body) < notifyHeaderLen {
		return fmt.Errorf("%w: notify header %d bytes", ErrShortFrame, len(body))
	}
	n := Notify{
		ServiceID: binary.BigEndian.Uint64(body),
		StubID:    binary.BigEndian.Uint32(body[8:]),
		MethodID:  binary.BigEndian.Uint32(body[12:]),
		Payload:   body[notifyHeaderLen:],
	}
	if n.ServiceID != d.opts.ServiceID {
		log.GetLogger().WithField("service", fmt.Sprintf("%#x", n.ServiceID)).Debug("notify for other service skipped")
		return nil
	}
	if compressed {
		p, err := d.decompress(n.Payload)
		if err != nil {
			return err
		}
		n.Payload = p
	}
	if d.handler == nil {
		return nil
	}
	return d.handler.HandleNotify(n)
}

func (d *Decoder) decompress(src []byte) ([]byte, error) {
	if d.opts.Decompressor == nil {
		d.warnOnce.Do(func() {
			log.GetLogger().Warn("compressed frames received but decompression is disabled, they will be dropped")
		})
		return nil, ErrNoDecompressor
	}
	out, err := d.opts.Decompressor.Decompress(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	return out, nil
}
