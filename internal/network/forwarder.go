package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/monitoring"
)

// forwardQueue is the number of datagrams buffered for forwarding.
const forwardQueue = 1000

// PacketForwarder copies received datagrams to another UDP address, for
// example a recorder running alongside the live recognizer. Forwarding never
// blocks the receive loop: when the queue is full the datagram is dropped.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       *Stats
	logInterval time.Duration
	address     string
	logger      *zap.Logger

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewPacketForwarder dials address ("host:port").
func NewPacketForwarder(address string, stats *Stats, logInterval time.Duration, logger *zap.Logger) (*PacketForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return newPacketForwarder(conn, address, stats, logInterval, logger), nil
}

func newPacketForwarder(conn net.Conn, address string, stats *Stats, logInterval time.Duration, logger *zap.Logger) *PacketForwarder {
	if stats == nil {
		stats = NewStats(nil, nil)
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, forwardQueue),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
		logger:      monitoring.OrNop(logger),
		done:        make(chan struct{}),
	}
}

// Start launches the send goroutine. Calling it more than once is a no-op.
func (f *PacketForwarder) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		go f.run(ctx)
		f.logger.Info("forwarding datagrams", zap.String("address", f.address))
	})
}

func (f *PacketForwarder) run(ctx context.Context) {
	failed := 0
	var lastErr error
	ticker := time.NewTicker(f.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case packet := <-f.channel:
			if _, err := f.conn.Write(packet); err != nil {
				failed++
				lastErr = err
			}
		case <-ticker.C:
			if failed > 0 {
				f.logger.Warn("forwarded datagrams failed", zap.Int("count", failed), zap.Error(lastErr))
				failed = 0
				lastErr = nil
			}
		}
	}
}

// ForwardAsync queues a copy of packet without blocking.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		f.stats.AddDropped()
	}
}

// Close stops the send goroutine and closes the connection.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
