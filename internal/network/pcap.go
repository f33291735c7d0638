package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/monitoring"
	"github.com/banshee-data/activity.report/internal/timeutil"
)

// pcapngMagic is the section header block type that opens a pcapng file.
const pcapngMagic = 0x0A0D0D0A

// maxPacingSleep bounds each pacing sleep so cancellation stays responsive.
const maxPacingSleep = 100 * time.Millisecond

// ReplayConfig configures ReplayPCAP.
type ReplayConfig struct {
	// Port selects UDP datagrams by destination port; 0 accepts any port.
	Port int
	// Speed scales capture timing (1 = real time, 2 = twice as fast).
	// 0 replays as fast as possible.
	Speed   float64
	Handler DatagramHandler
	Stats   *Stats
	Clock   timeutil.Clock
	Logger  *zap.Logger
}

// ReplayPCAP feeds the UDP payloads of a pcap or pcapng capture to the
// handler, as if they had arrived on the listener.
func ReplayPCAP(ctx context.Context, path string, cfg ReplayConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	src, err := newPacketSource(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}
	return replay(ctx, src, cfg)
}

func newPacketSource(r *bufio.Reader) (*gopacket.PacketSource, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return gopacket.NewPacketSource(ng, ng.LinkType()), nil
	}
	rd, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	return gopacket.NewPacketSource(rd, rd.LinkType()), nil
}

func replay(ctx context.Context, src *gopacket.PacketSource, cfg ReplayConfig) error {
	logger := monitoring.OrNop(cfg.Logger)
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NewStats(clock, logger)
	}
	handler := cfg.Handler
	if handler == nil {
		handler = HandlerFunc(func(context.Context, []byte) {})
	}

	var (
		packets, delivered int
		lastCapture        time.Time
	)
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("PCAP replay cancelled", zap.Int("packets", packets))
			return err
		}

		packet, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			logger.Info("PCAP replay complete", zap.Int("packets", packets), zap.Int("datagrams", delivered))
			return nil
		}
		if err != nil {
			return fmt.Errorf("PCAP read after %d packets: %w", packets, err)
		}
		packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
			continue
		}

		captured := packet.Metadata().Timestamp
		if cfg.Speed > 0 && !lastCapture.IsZero() {
			if gap := captured.Sub(lastCapture); gap > 0 {
				if err := sleepCtx(ctx, clock, time.Duration(float64(gap)/cfg.Speed)); err != nil {
					return err
				}
			}
		}
		lastCapture = captured

		stats.AddDatagram(len(udp.Payload))
		handler.HandleDatagram(ctx, udp.Payload)
		delivered++
	}
}

func sleepCtx(ctx context.Context, clock timeutil.Clock, d time.Duration) error {
	for d > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := min(d, maxPacingSleep)
		clock.Sleep(step)
		d -= step
	}
	return ctx.Err()
}
