// Package file replays packets from pcap and pcapng files.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/core/decoder"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
	"firestige.xyz/resmeter/internal/utils"
	"firestige.xyz/resmeter/pkg/plugin"
)

const pluginName = "file"

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Config represents file capture configuration. Filters are not applied;
// packets that are not TCP are skipped by segment decoding.
type Config struct {
	File string `mapstructure:"file"` // required
	// Realtime paces delivery by the recorded inter-packet gaps.
	Realtime bool `mapstructure:"realtime"`
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Capturer delivers every packet of a capture file, blocking instead of
// dropping when the consumer is slow.
type Capturer struct {
	config Config

	packetsReceived atomic.Uint64
}

func NewCapturer() plugin.Capturer {
	return &Capturer{}
}

func (c *Capturer) Name() string {
	return pluginName
}

func (c *Capturer) Init(cfg map[string]any) error {
	if err := utils.DecodeOptions(cfg, &c.config); err != nil {
		return fmt.Errorf("file: %w", err)
	}
	if c.config.File == "" {
		return fmt.Errorf("file: file is required")
	}
	return nil
}

func (c *Capturer) Start(ctx context.Context) error { return nil }

func (c *Capturer) Stop(ctx context.Context) error { return nil }

func openReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Capture reads the file to the end. It returns nil at end of file.
func (c *Capturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	f, err := os.Open(c.config.File)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	r, err := openReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", c.config.File, err)
	}
	linkType, err := decoder.LinkTypeOf(r.LinkType())
	if err != nil {
		return fmt.Errorf("%s: %w", c.config.File, err)
	}

	logger := log.GetLogger().WithField("file", c.config.File)
	logger.Info("file replay started")
	received := metrics.CapturePacketsTotal.WithLabelValues(pluginName)

	var prev time.Time
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			logger.WithField("packets", c.packetsReceived.Load()).Info("file replay finished")
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", c.config.File, err)
		}

		if c.config.Realtime && !prev.IsZero() {
			if gap := ci.Timestamp.Sub(prev); gap > 0 {
				select {
				case <-time.After(gap):
				case <-ctx.Done():
					return nil
				}
			}
		}
		prev = ci.Timestamp

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
			return nil
		}
	}
}

func (c *Capturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{PacketsReceived: c.packetsReceived.Load()}
}
