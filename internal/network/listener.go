package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/activity.report/internal/monitoring"
)

// DefaultRcvBuf matches the largest datagram the sensor apps send.
const DefaultRcvBuf = 8192

// readPoll bounds how long a read blocks before the context is checked.
const readPoll = 100 * time.Millisecond

// DatagramHandler consumes received datagrams. payload is only valid for the
// duration of the call and HandleDatagram must not block.
type DatagramHandler interface {
	HandleDatagram(ctx context.Context, payload []byte)
}

// HandlerFunc adapts a function to DatagramHandler.
type HandlerFunc func(ctx context.Context, payload []byte)

// HandleDatagram implements DatagramHandler.
func (f HandlerFunc) HandleDatagram(ctx context.Context, payload []byte) { f(ctx, payload) }

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       *Stats
	Handler     DatagramHandler
	// Forwarder, if set, receives a copy of every datagram.
	Forwarder *PacketForwarder
	// SocketFactory defaults to the real network.
	SocketFactory UDPSocketFactory
	Logger        *zap.Logger
}

// UDPListener receives sensor datagrams and passes them to a handler.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	stats         *Stats
	handler       DatagramHandler
	forwarder     *PacketForwarder
	socketFactory UDPSocketFactory
	logger        *zap.Logger

	connMu sync.RWMutex
	conn   UDPSocket
}

// NewUDPListener creates a listener.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	l := &UDPListener{
		address:       cfg.Address,
		rcvBuf:        cfg.RcvBuf,
		logInterval:   cfg.LogInterval,
		stats:         cfg.Stats,
		handler:       cfg.Handler,
		forwarder:     cfg.Forwarder,
		socketFactory: cfg.SocketFactory,
		logger:        monitoring.OrNop(cfg.Logger),
	}
	if l.rcvBuf <= 0 {
		l.rcvBuf = DefaultRcvBuf
	}
	if l.logInterval <= 0 {
		l.logInterval = time.Minute
	}
	if l.stats == nil {
		l.stats = NewStats(nil, l.logger)
	}
	if l.handler == nil {
		l.handler = HandlerFunc(func(context.Context, []byte) {})
	}
	if l.socketFactory == nil {
		l.socketFactory = NewRealUDPSocketFactory()
	}
	return l
}

// Start receives datagrams until ctx is cancelled or the socket is closed.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.setConn(conn)
	defer conn.Close()

	if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
		l.logger.Warn("failed to set UDP receive buffer", zap.Int("bytes", l.rcvBuf), zap.Error(err))
	}
	l.logger.Info("UDP listener started", zap.String("address", l.address), zap.Stringer("local", conn.LocalAddr()))

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}
	go l.startStatsLogging(ctx)

	buffer := make([]byte, l.rcvBuf)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("UDP listener stopping")
			return ctx.Err()
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil && !deadlineErrLogged {
			l.logger.Warn("failed to set read deadline", zap.Error(err))
			deadlineErrLogged = true
		}

		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warn("UDP read error", zap.Error(err))
			continue
		}

		l.handlePacket(ctx, buffer[:n])
	}
}

func (l *UDPListener) handlePacket(ctx context.Context, packet []byte) {
	l.stats.AddDatagram(len(packet))
	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}
	l.handler.HandleDatagram(ctx, packet)
}

// startStatsLogging reports shortly after startup, then every logInterval.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

func (l *UDPListener) setConn(conn UDPSocket) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conn = conn
}

// LocalAddr returns the bound address once Start has opened the socket.
func (l *UDPListener) LocalAddr() net.Addr {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Close closes the socket, ending Start.
func (l *UDPListener) Close() error {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}
