// Package pcap implements live capture through libpcap.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/core/decoder"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
	"firestige.xyz/resmeter/internal/utils"
	"firestige.xyz/resmeter/pkg/plugin"
)

const (
	pluginName = "pcap"

	defaultSnapLen     = 65535
	defaultFilter      = "ip and tcp"
	defaultReadTimeout = 100 * time.Millisecond
)

// Config represents pcap-specific configuration.
type Config struct {
	Interface   string        `mapstructure:"interface"` // required
	BPFFilter   string        `mapstructure:"bpf_filter"`
	SnapLen     int           `mapstructure:"snap_len"`
	Promiscuous bool          `mapstructure:"promiscuous"`
	BufferSize  int           `mapstructure:"buffer_size"` // bytes, 0 keeps the libpcap default
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Capturer reads packets from a live interface.
type Capturer struct {
	config Config

	mu     sync.Mutex
	cancel context.CancelFunc

	packetsReceived  atomic.Uint64
	packetsDropped   atomic.Uint64
	packetsIfDropped atomic.Uint64
}

func NewCapturer() plugin.Capturer {
	return &Capturer{}
}

func (c *Capturer) Name() string {
	return pluginName
}

func (c *Capturer) Init(cfg map[string]any) error {
	c.config = Config{
		BPFFilter:   defaultFilter,
		SnapLen:     defaultSnapLen,
		ReadTimeout: defaultReadTimeout,
	}
	if err := utils.DecodeOptions(cfg, &c.config); err != nil {
		return fmt.Errorf("pcap: %w", err)
	}
	if c.config.Interface == "" {
		return fmt.Errorf("pcap: interface is required")
	}
	return nil
}

func (c *Capturer) Start(ctx context.Context) error {
	return nil
}

// Stop cancels a running Capture. The handle is closed by Capture itself.
func (c *Capturer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Capturer) open() (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(c.config.Interface)
	if err != nil {
		return nil, fmt.Errorf("pcap inactive handle: %w", err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(c.config.SnapLen); err != nil {
		return nil, err
	}
	if err := inactive.SetPromisc(c.config.Promiscuous); err != nil {
		return nil, err
	}
	// timed reads let the loop observe cancellation
	if err := inactive.SetTimeout(c.config.ReadTimeout); err != nil {
		return nil, err
	}
	if c.config.BufferSize > 0 {
		if err := inactive.SetBufferSize(c.config.BufferSize); err != nil {
			return nil, err
		}
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("pcap activate %s: %w", c.config.Interface, err)
	}
	if c.config.BPFFilter != "" {
		if err := h.SetBPFFilter(c.config.BPFFilter); err != nil {
			h.Close()
			return nil, fmt.Errorf("pcap set filter %q: %w", c.config.BPFFilter, err)
		}
	}
	return h, nil
}

// Capture reads packets until ctx is cancelled or Stop is called.
func (c *Capturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	h, err := c.open()
	if err != nil {
		return err
	}
	defer h.Close()

	linkType, err := decoder.LinkTypeOf(h.LinkType())
	if err != nil {
		return fmt.Errorf("pcap %s: %w", c.config.Interface, err)
	}

	logger := log.GetLogger().WithField("interface", c.config.Interface)
	logger.WithField("filter", c.config.BPFFilter).Info("pcap capture started")
	received := metrics.CapturePacketsTotal.WithLabelValues(pluginName)
	dropped := metrics.CaptureDropsTotal.WithLabelValues("capture")

	for {
		if ctx.Err() != nil {
			logger.Info("pcap capture stopped")
			return nil
		}

		data, ci, err := h.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			c.refreshStats(h)
			continue
		default:
			if ctx.Err() != nil {
				logger.Info("pcap capture stopped")
				return nil
			}
			return fmt.Errorf("pcap read: %w", err)
		}

		c.packetsReceived.Add(1)
		received.Inc()

		raw := core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
			LinkType:       linkType,
		}
		select {
		case output <- raw:
		case <-ctx.Done():
			logger.Info("pcap capture stopped")
			return nil
		default:
			c.packetsDropped.Add(1)
			dropped.Inc()
		}
	}
}

func (c *Capturer) refreshStats(h *pcap.Handle) {
	s, err := h.Stats()
	if err != nil {
		return
	}
	c.packetsIfDropped.Store(uint64(s.PacketsDropped + s.PacketsIfDropped))
}

func (c *Capturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{
		PacketsReceived:  c.packetsReceived.Load(),
		PacketsDropped:   c.packetsDropped.Load(),
		PacketsIfDropped: c.packetsIfDropped.Load(),
	}
}

// Device describes a capture interface.
type Device struct {
	Name        string
	Description string
	Addresses   []string
}

// Devices lists the interfaces libpcap can open.
func Devices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	out := make([]Device, 0, len(ifs))
	for _, d := range ifs {
		dev := Device{Name: d.Name, Description: d.Description}
		for _, a := range d.Addresses {
			dev.Addresses = append(dev.Addresses, a.IP.String())
		}
		out = append(out, dev)
	}
	return out, nil
}
