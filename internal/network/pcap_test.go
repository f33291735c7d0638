package network

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

	"github.com/banshee-data/activity.report/internal/timeutil"
)

type captured struct {
	at      time.Duration
	dstPort uint16
	payload string
}

func udpFrame(t *testing.T, dstPort uint16, payload string) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{192, 168, 1, 20},
		DstIP:    net.IP{192, 168, 1, 255},
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames []captured) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	for _, fr := range frames {
		data := udpFrame(t, fr.dstPort, fr.payload)
		ci := gopacket.CaptureInfo{Timestamp: base.Add(fr.at), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestReplayPCAP_FiltersByPort(t *testing.T) {
	path := writeCapture(t, []captured{
		{0, 5555, "first"},
		{10 * time.Millisecond, 6000, "other app"},
		{20 * time.Millisecond, 5555, "second"},
	})
	c := newCollector()
	stats := NewStats(nil, nil)

	err := ReplayPCAP(context.Background(), path, ReplayConfig{Port: 5555, Handler: c, Stats: stats})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, c.got())
	assert.Equal(t, int64(2), stats.Snapshot().Datagrams)
}

func TestReplayPCAP_AnyPort(t *testing.T) {
	path := writeCapture(t, []captured{{0, 5555, "a"}, {0, 6000, "b"}})
	c := newCollector()

	require.NoError(t, ReplayPCAP(context.Background(), path, ReplayConfig{Handler: c}))
	assert.Equal(t, []string{"a", "b"}, c.got())
}

func TestReplayPCAP_PacesByCaptureTime(t *testing.T) {
	path := writeCapture(t, []captured{
		{0, 5555, "a"},
		{400 * time.Millisecond, 5555, "b"},
		{500 * time.Millisecond, 5555, "c"},
	})
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	err := ReplayPCAP(context.Background(), path, ReplayConfig{Speed: 2, Handler: newCollector(), Clock: clock})
	require.NoError(t, err)

	var total time.Duration
	for _, d := range clock.Sleeps() {
		assert.LessOrEqual(t, d, maxPacingSleep)
		total += d
	}
	assert.Equal(t, 250*time.Millisecond, total)
}

func TestReplayPCAP_NoPacingAtSpeedZero(t *testing.T) {
	path := writeCapture(t, []captured{{0, 5555, "a"}, {time.Hour, 5555, "b"}})
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, ReplayPCAP(context.Background(), path, ReplayConfig{Handler: newCollector(), Clock: clock}))
	assert.Empty(t, clock.Sleeps())
}

func TestReplayPCAP_Cancelled(t *testing.T) {
	path := writeCapture(t, []captured{{0, 5555, "a"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ReplayPCAP(ctx, path, ReplayConfig{Handler: newCollector()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayPCAP_Errors(t *testing.T) {
	err := ReplayPCAP(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"), ReplayConfig{})
	assert.ErrorContains(t, err, "failed to open PCAP file")

	junk := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a capture"), 0o644))
	err = ReplayPCAP(context.Background(), junk, ReplayConfig{})
	assert.ErrorContains(t, err, "failed to read PCAP file")
}
