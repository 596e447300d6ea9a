package file

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/resmeter/internal/core"
)

var t0 = time.Date(2025, 7, 1, 20, 0, 0, 0, time.UTC)

func tcpPacket(t *testing.T, seq uint32, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{192, 168, 1, 2}}
	tcp := &layers.TCP{SrcPort: 5003, DstPort: 50000, Seq: seq, ACK: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writePcap(t *testing.T, packets [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, p := range packets {
		ci := gopacket.CaptureInfo{Timestamp: t0.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(p), Length: len(p)}
		require.NoError(t, w.WritePacket(ci, p))
	}
	return path
}

func writePcapng(t *testing.T, packets [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, p := range packets {
		ci := gopacket.CaptureInfo{Timestamp: t0.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(p), Length: len(p)}
		require.NoError(t, w.WritePacket(ci, p))
	}
	require.NoError(t, w.Flush())
	return path
}

func capture(t *testing.T, path string) []core.RawPacket {
	t.Helper()
	c := NewCapturer()
	require.NoError(t, c.Init(map[string]any{"file": path}))

	out := make(chan core.RawPacket, 16)
	require.NoError(t, c.Capture(context.Background(), out))
	close(out)

	var got []core.RawPacket
	for p := range out {
		got = append(got, p)
	}
	assert.Equal(t, uint64(len(got)), c.Stats().PacketsReceived)
	return got
}

func TestCapturePcap(t *testing.T) {
	packets := [][]byte{tcpPacket(t, 1, []byte("a")), tcpPacket(t, 2, []byte("b"))}
	got := capture(t, writePcap(t, packets))

	require.Len(t, got, 2)
	assert.Equal(t, core.LinkEthernet, got[0].LinkType)
	assert.True(t, got[0].Timestamp.Equal(t0))
	assert.Equal(t, packets[1], got[1].Data)
}

func TestCapturePcapng(t *testing.T) {
	packets := [][]byte{tcpPacket(t, 1, []byte("a")), tcpPacket(t, 2, []byte("b")), tcpPacket(t, 3, []byte("c"))}
	got := capture(t, writePcapng(t, packets))

	require.Len(t, got, 3)
	assert.Equal(t, packets[2], got[2].Data)
}

func TestCaptureStopsOnCancel(t *testing.T) {
	path := writePcap(t, [][]byte{tcpPacket(t, 1, []byte("a")), tcpPacket(t, 2, []byte("b"))})
	c := NewCapturer()
	require.NoError(t, c.Init(map[string]any{"file": path}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// unbuffered and never read: only cancellation can end the capture
	assert.NoError(t, c.Capture(ctx, make(chan core.RawPacket)))
}

func TestCaptureErrors(t *testing.T) {
	assert.Error(t, NewCapturer().Init(map[string]any{}))

	c := NewCapturer()
	require.NoError(t, c.Init(map[string]any{"file": filepath.Join(t.TempDir(), "missing.pcap")}))
	assert.Error(t, c.Capture(context.Background(), make(chan core.RawPacket, 1)))

	garbage := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(garbage, []byte("not a capture file"), 0o644))
	c = NewCapturer()
	require.NoError(t, c.Init(map[string]any{"file": garbage}))
	assert.Error(t, c.Capture(context.Background(), make(chan core.RawPacket, 1)))
}
