package reassembly

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"firestige.xyz/resmeter/internal/core"
)

// Match locks reconstruction onto a server connection.
type Match struct {
	Conn     core.ConnID
	NextSeq  uint32 // initial cursor, valid when HasSeq
	HasSeq   bool
	Strategy string
}

// Identifier recognises the game server connection from a single segment.
type Identifier interface {
	Identify(seg core.Segment) (Match, bool)
}

// Identifiers tries each strategy in order; the first match wins.
type Identifiers []Identifier

func (ids Identifiers) Identify(seg core.Segment) (Match, bool) {
	for _, id := range ids {
		if m, ok := id.Identify(seg); ok {
			return m, true
		}
	}
	return Match{}, false
}

// DefaultIdentifiers returns every built-in strategy.
func DefaultIdentifiers() Identifiers {
	return Identifiers{SignatureIdentifier{}, LoginReturnIdentifier{}, UplinkIdentifier{}}
}

// IdentifiersByName builds a strategy chain from configuration names.
func IdentifiersByName(names []string) (Identifiers, error) {
	if len(names) == 0 {
		return DefaultIdentifiers(), nil
	}
	ids := make(Identifiers, 0, len(names))
	for _, name := range names {
		switch name {
		case "signature":
			ids = append(ids, SignatureIdentifier{})
		case "login_return":
			ids = append(ids, LoginReturnIdentifier{})
		case "uplink":
			ids = append(ids, UplinkIdentifier{})
		default:
			return nil, fmt.Errorf("unknown identifier %q", name)
		}
	}
	return ids, nil
}

var (
	// serverSignature sits at offset 5 of a downlink notify frame body.
	serverSignature = []byte{0x00, 0x63, 0x33, 0x53, 0x42, 0x00}
	// uplinkSignature sits at offset 5 of a client call frame body.
	uplinkSignature = []byte{0x00, 0x06, 0x26, 0xad, 0x66, 0x00}

	loginReturnPattern = []byte{
		0x00, 0x00, 0x00, 0x62,
		0x00, 0x03,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x11, 0x45, 0x14,
		0x00, 0x00, 0x00, 0x00,
		0x0a, 0x4e, 0x08, 0x01, 0x22, 0x24,
	}
)

const loginReturnLen = 0x62

// SignatureIdentifier matches a small server frame whose nested frames carry the
// combat service signature.
type SignatureIdentifier struct{}

func (SignatureIdentifier) Identify(seg core.Segment) (Match, bool) {
	p := seg.Payload
	if len(p) <= 10 || p[4] != 0 {
		return Match{}, false
	}
	if nestedFrameHas(p[10:], serverSignature) {
		return Match{Conn: seg.Conn, Strategy: "signature"}, true
	}
	return Match{}, false
}

// LoginReturnIdentifier matches the fixed-size login response.
type LoginReturnIdentifier struct{}

func (LoginReturnIdentifier) Identify(seg core.Segment) (Match, bool) {
	p := seg.Payload
	if len(p) != loginReturnLen {
		return Match{}, false
	}
	if bytes.Equal(p[0:10], loginReturnPattern[0:10]) && bytes.Equal(p[14:20], loginReturnPattern[14:20]) {
		return Match{Conn: seg.Conn, Strategy: "login_return"}, true
	}
	return Match{}, false
}

// UplinkIdentifier matches a client frame-up carrying the client signature and
// locks the opposite direction, starting at the acknowledged sequence number.
type UplinkIdentifier struct{}

func (UplinkIdentifier) Identify(seg core.Segment) (Match, bool) {
	p := seg.Payload
	if len(p) <= 10 || p[4] != 0 || p[5] != 5 {
		return Match{}, false
	}
	if nestedFrameHas(p[10:], uplinkSignature) {
		return Match{Conn: seg.Conn.Reverse(), NextSeq: seg.Ack, HasSeq: true, Strategy: "uplink"}, true
	}
	return Match{}, false
}

// nestedFrameHas walks length-prefixed frames and reports whether one of them
// carries sig at body offset 5.
func nestedFrameHas(data []byte, sig []byte) bool {
	for len(data) >= 4 {
		n := binary.BigEndian.Uint32(data)
		if n < 4 || uint64(n) > uint64(len(data)) {
			return false
		}
		body := data[4:n]
		if len(body) >= 5+len(sig) && bytes.Equal(body[5:5+len(sig)], sig) {
			return true
		}
		data = data[n:]
	}
	return false
}
