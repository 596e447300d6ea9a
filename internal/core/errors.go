// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared across the capture and decode path.
var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("resmeter: packet too short")
	ErrUnsupportedProto = errors.New("resmeter: unsupported protocol")
	ErrNotTCP           = errors.New("resmeter: not a tcp segment")

	// Plugin errors
	ErrPluginNotFound   = errors.New("resmeter: plugin not found")
	ErrPluginInitFailed = errors.New("resmeter: plugin init failed")

	// Engine errors
	ErrEngineStopped = errors.New("resmeter: engine stopped")
)
