package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
)

func TestConnIDReverse(t *testing.T) {
	c := ConnID{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("192.168.1.20"),
		SrcPort: 5003,
		DstPort: 51234,
	}
	r := c.Reverse()
	if r.SrcIP != c.DstIP || r.DstIP != c.SrcIP {
		t.Errorf("addresses not swapped: %v", r)
	}
	if r.SrcPort != c.DstPort || r.DstPort != c.SrcPort {
		t.Errorf("ports not swapped: %v", r)
	}
	if r.Reverse() != c {
		t.Errorf("double reverse should be identity")
	}
}

func TestConnIDString(t *testing.T) {
	c := ConnID{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("10.0.0.2"),
		SrcPort: 80,
		DstPort: 1024,
	}
	if got, want := c.String(), "10.0.0.1:80 -> 10.0.0.2:1024"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestConnIDIsZero(t *testing.T) {
	var c ConnID
	if !c.IsZero() {
		t.Errorf("zero value should report IsZero")
	}
	c.SrcPort = 1
	if c.IsZero() {
		t.Errorf("non-zero value reported IsZero")
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("decode: %w", ErrNotTCP)
	if !errors.Is(wrapped, ErrNotTCP) {
		t.Errorf("errors.Is should unwrap to ErrNotTCP")
	}
	if errors.Is(wrapped, ErrPacketTooShort) {
		t.Errorf("unexpected match with ErrPacketTooShort")
	}
}
