// Package frame splits the reconstructed server stream into frames and decodes
// them, unwrapping nested and compressed frames down to notify messages.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the low 15 bits of the frame type field.
type MessageType uint16

const (
	TypeNone MessageType = iota
	TypeCall
	TypeNotify
	TypeReturn
	TypeEcho
	TypeFrameUp
	TypeFrameDown
)

func (t MessageType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeCall:
		return "call"
	case TypeNotify:
		return "notify"
	case TypeReturn:
		return "return"
	case TypeEcho:
		return "echo"
	case TypeFrameUp:
		return "frame_up"
	case TypeFrameDown:
		return "frame_down"
	default:
		return fmt.Sprintf("type_%d", uint16(t))
	}
}

const (
	// HeaderLen is the length prefix plus the type field.
	HeaderLen = 6

	compressedFlag = 0x8000
	typeMask       = 0x7fff

	DefaultMaxFrameSize = 1 << 20
	DefaultMaxDepth     = 16

	// CombatServiceID is the only service whose notify messages are decoded.
	CombatServiceID uint64 = 0x0000000063335342

	notifyHeaderLen = 16
)

var (
	ErrFraming        = errors.New("frame: invalid length prefix")
	ErrShortFrame     = errors.New("frame: truncated frame")
	ErrTooDeep        = errors.New("frame: nesting too deep")
	ErrNoDecompressor = errors.New("frame: compressed payload without decompressor")
	ErrDecompress     = errors.New("frame: decompression failed")
)

// Header is the fixed frame prefix.
type Header struct {
	Length     uint32
	Type       MessageType
	Compressed bool
}

// ParseHeader reads the frame header and checks the length against raw.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(raw))
	}
	h := Header{Length: binary.BigEndian.Uint32(raw)}
	if h.Length < HeaderLen || uint64(h.Length) > uint64(len(raw)) {
		return Header{}, fmt.Errorf("%w: length %d of %d bytes", ErrShortFrame, h.Length, len(raw))
	}
	typ := binary.BigEndian.Uint16(raw[4:])
	h.Compressed = typ&compressedFlag != 0
	h.Type = MessageType(typ & typeMask)
	return h, nil
}

// Split slices complete frames off the front of buf. consumed is the number of
// bytes covered by frames. A length prefix outside [HeaderLen, maxSize] is a
// framing error: the stream can no longer be trusted.
func Split(buf []byte, maxSize int) (frames [][]byte, consumed int, err error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	for len(buf)-consumed > 4 {
		n := binary.BigEndian.Uint32(buf[consumed:])
		if n < HeaderLen || uint64(n) > uint64(maxSize) {
			return frames, consumed, fmt.Errorf("%w: %d", ErrFraming, n)
		}
		if len(buf)-consumed < int(n) {
			break
		}
		frames = append(frames, buf[consumed:consumed+int(n)])
		consumed += int(n)
	}
	return frames, consumed, nil
}

// Build assembles one frame. Used to construct fixtures for recorded sessions.
func Build(typ MessageType, compressed bool, body []byte) []byte {
	out := make([]byte, HeaderLen, HeaderLen+len(body))
	binary.BigEndian.PutUint32(out, uint32(HeaderLen+len(body)))
	t := uint16(typ) & typeMask
	if compressed {
		t |= compressedFlag
	}
	binary.BigEndian.PutUint16(out[4:], t)
	return append(out, body...)
}

// BuildNotify assembles an uncompressed notify frame.
func BuildNotify(serviceID uint64, stubID, methodID uint32, payload []byte) []byte {
	body := make([]byte, notifyHeaderLen, notifyHeaderLen+len(payload))
	binary.BigEndian.PutUint64(body, serviceID)
	binary.BigEndian.PutUint32(body[8:], stubID)
	binary.BigEndian.PutUint32(body[12:], methodID)
	return Build(TypeNotify, false, append(body, payload...))
}

// BuildFrameDown wraps an already framed stream with a server sequence id.
func BuildFrameDown(seqID uint32, compressed bool, nested []byte) []byte {
	body := make([]byte, 4, 4+len(nested))
	binary.BigEndian.PutUint32(body, seqID)
	return Build(TypeFrameDown, compressed, append(body, nested...))
}
