// Package core defines core data structures with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"time"
)

// RawPacket is captured from the network interface, zero-copy reference to ring buffer.
type RawPacket struct {
	Data           []byte    // Raw frame data, zero-copy slice
	Timestamp      time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index
	LinkType       LinkType  // Link layer of Data
}

// LinkType identifies the first layer of a captured frame.
type LinkType uint8

const (
	LinkEthernet LinkType = iota
	LinkLinuxSLL
	LinkLoopback
	LinkRawIP
)

// ConnID identifies one direction of a TCP connection.
type ConnID struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

// Reverse returns the opposite direction of the same connection.
func (c ConnID) Reverse() ConnID {
	return ConnID{SrcIP: c.DstIP, DstIP: c.SrcIP, SrcPort: c.DstPort, DstPort: c.SrcPort}
}

// IsZero reports whether c is the zero connection.
func (c ConnID) IsZero() bool {
	return c == ConnID{}
}

func (c ConnID) String() string {
	return fmt.Sprintf("%s -> %s",
		netip.AddrPortFrom(c.SrcIP, c.SrcPort),
		netip.AddrPortFrom(c.DstIP, c.DstPort))
}

// Segment is one TCP segment with its payload, as handed to stream reconstruction.
type Segment struct {
	Conn      ConnID
	Seq       uint32
	Ack       uint32
	Payload   []byte
	Timestamp time.Time
}
