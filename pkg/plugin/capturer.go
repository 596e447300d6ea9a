// Package plugin defines plugin interfaces.
package plugin

import (
	"context"

	"firestige.xyz/resmeter/internal/core"
)

// Capturer captures raw packets from a network interface or a capture file.
// Capture blocks until ctx is done or the source is exhausted.
type Capturer interface {
	Plugin
	Capture(ctx context.Context, output chan<- core.RawPacket) error
	Stats() CaptureStats
}

// CaptureStats represents capture statistics.
type CaptureStats struct {
	PacketsReceived  uint64
	PacketsDropped   uint64
	PacketsIfDropped uint64
}
