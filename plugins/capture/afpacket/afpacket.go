//go:build linux

// Package afpacket implements AF_PACKET_V3 capture plugin.
package afpacket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
	"firestige.xyz/resmeter/internal/utils"
	"firestige.xyz/resmeter/pkg/plugin"
)

const (
	pluginName = "afpacket"

	defaultSnapLen    = 65535
	defaultBlockSize  = 4 * 1024 * 1024 // 4MB
	defaultNumBlocks  = 64
	defaultFanoutID   = 42
	defaultFanoutType = ""
)

// Config represents afpacket-specific configuration.
type Config struct {
	Interface  string `mapstructure:"interface"`   // required
	BPFFilter  string `mapstructure:"bpf_filter"`  // optional
	SnapLen    int    `mapstructure:"snap_len"`    // optional, default 65535
	BlockSize  int    `mapstructure:"block_size"`  // optional, default 4MB
	NumBlocks  int    `mapstructure:"num_blocks"`  // optional, default 64
	FanoutID   int    `mapstructure:"fanout_id"`   // optional, default 42
	FanoutType string `mapstructure:"fanout_type"` // optional: hash, default none
}

// AFPacketCapturer implements the Capturer interface using AF_PACKET_V3.
type AFPacketCapturer struct {
	name   string
	config Config

	handle *afpacket.TPacket
	mu     sync.Mutex
	cancel context.CancelFunc

	packetsReceived  atomic.Uint64
	packetsDropped   atomic.Uint64
	packetsIfDropped atomic.Uint64
}

// NewAFPacketCapturer creates a new AF_PACKET capturer instance.
func NewAFPacketCapturer() plugin.Capturer {
	return &AFPacketCapturer{name: pluginName}
}

func (c *AFPacketCapturer) Name() string {
	return c.name
}

// Init initializes the capturer with configuration.
func (c *AFPacketCapturer) Init(cfg map[string]any) error {
	c.config = Config{
		SnapLen:    defaultSnapLen,
		BlockSize:  defaultBlockSize,
		NumBlocks:  defaultNumBlocks,
		FanoutID:   defaultFanoutID,
		FanoutType: defaultFanoutType,
	}
	if err := utils.DecodeOptions(cfg, &c.config); err != nil {
		return fmt.Errorf("afpacket: %w", err)
	}
	if c.config.Interface == "" {
		return fmt.Errorf("afpacket: interface is required")
	}
	if _, err := parseFanoutType(c.config.FanoutType); err != nil {
		return fmt.Errorf("afpacket: %w", err)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"interface":   c.config.Interface,
		"bpf_filter":  c.config.BPFFilter,
		"snap_len":    c.config.SnapLen,
		"fanout_type": c.config.FanoutType,
	}).Debug("afpacket initialized")
	return nil
}

// Start is a no-op; the read loop runs in Capture.
func (c *AFPacketCapturer) Start(ctx context.Context) error {
	return nil
}

// Stop cancels a running Capture.
//
// handle.Close() is not called here: the TPacket handle is owned by Capture,
// which closes it once the read loop returns. Closing it from here would race
// with ZeroCopyReadPacketData on the mmap ring.
func (c *AFPacketCapturer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Capture reads packets until ctx is cancelled or Stop is called.
func (c *AFPacketCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(c.config.Interface),
		afpacket.OptFrameSize(c.config.SnapLen),
		afpacket.OptBlockSize(c.config.BlockSize),
		afpacket.OptNumBlocks(c.config.NumBlocks),
		afpacket.OptPollTimeout(100*time.Millisecond),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return fmt.Errorf("failed to create TPacket handle: %w", err)
	}
	c.handle = handle
	defer func() {
		c.handle.Close()
		c.handle = nil
	}()

	if c.config.FanoutType != "" {
		fanoutType, _ := parseFanoutType(c.config.FanoutType)
		if err := c.handle.SetFanout(fanoutType, uint16(c.config.FanoutID)); err != nil {
			return fmt.Errorf("failed to set fanout: %w", err)
		}
	}

	if c.config.BPFFilter != "" {
		insns, err := utils.CompileBPF(c.config.BPFFilter, c.config.SnapLen)
		if err != nil {
			return err
		}
		if err := c.handle.SetBPF(insns); err != nil {
			return fmt.Errorf("failed to set BPF: %w", err)
		}
		log.GetLogger().WithField("filter", c.config.BPFFilter).Debug("BPF filter applied")
	}

	if err := c.handle.InitSocketStats(); err != nil {
		log.GetLogger().WithError(err).Warn("failed to init socket stats")
	}

	log.GetLogger().WithField("interface", c.config.Interface).Info("afpacket capture started")
	received := metrics.CapturePacketsTotal.WithLabelValues(pluginName)
	dropped := metrics.CaptureDropsTotal.WithLabelValues("capture")

	// Read directly instead of through gopacket.PacketSource, whose goroutine
	// keeps touching the ring after Close.
	for {
		select {
		case <-ctx.Done():
			log.GetLogger().WithField("interface", c.config.Interface).Info("afpacket capture stopped")
			return nil
		default:
		}

		data, ci, err := c.handle.ZeroCopyReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				log.GetLogger().WithField("interface", c.config.Interface).Info("afpacket capture stopped")
				return nil
			}
			// poll timeout, EINTR
			continue
		}

		c.packetsReceived.Add(1)
		received.Inc()
		if socketStats, _, statsErr := c.handle.SocketStats(); statsErr == nil {
			c.packetsIfDropped.Store(uint64(socketStats.Drops()))
		}

		// data is only valid until the next read; the segment decoder copies
		// the TCP payload it keeps.
		raw := core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
			LinkType:       core.LinkEthernet,
		}

		select {
		case output <- raw:
		case <-ctx.Done():
			log.GetLogger().WithField("interface", c.config.Interface).Info("afpacket capture stopped")
			return nil
		default:
			c.packetsDropped.Add(1)
			dropped.Inc()
		}
	}
}

// Stats returns capture statistics.
func (c *AFPacketCapturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{
		PacketsReceived:  c.packetsReceived.Load(),
		PacketsDropped:   c.packetsDropped.Load(),
		PacketsIfDropped: c.packetsIfDropped.Load(),
	}
}

// parseFanoutType converts a fanout type string to the afpacket constant.
// gopacket v1.1.19 only exports FanoutHash.
func parseFanoutType(ft string) (afpacket.FanoutType, error) {
	switch ft {
	case "hash":
		return afpacket.FanoutHash, nil
	case "":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown fanout type: %q (only 'hash' is supported)", ft)
	}
}
