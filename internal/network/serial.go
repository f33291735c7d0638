package network

import (
	"context"

	"github.com/banshee-data/activity.report/internal/serialport"
)

// ReadSerial treats every line from a wired sensor as one datagram.
func ReadSerial(ctx context.Context, port serialport.Port, handler DatagramHandler, stats *Stats) error {
	if stats == nil {
		stats = NewStats(nil, nil)
	}
	return serialport.ScanLines(ctx, port, func(line string) {
		stats.AddDatagram(len(line))
		handler.HandleDatagram(ctx, []byte(line))
	})
}
