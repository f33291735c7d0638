package serialport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// Port is the subset of a serial port the readers need. It lets tests stand
// in an in-memory stream for real hardware.
type Port interface {
	io.Reader
	io.Closer
}

// Opener opens the device at path.
type Opener func(path string, opts PortOptions) (Port, error)

// Open opens a real serial device.
func Open(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// ScanLines calls fn with every non-empty, whitespace-trimmed line read from
// port until the stream ends or ctx is cancelled. Cancellation closes port to
// unblock the pending read. A cancelled scan returns ctx.Err().
func ScanLines(ctx context.Context, port Port, fn func(line string)) error {
	var once sync.Once
	closePort := func() { once.Do(func() { port.Close() }) }
	defer closePort()

	stop := context.AfterFunc(ctx, closePort)
	defer stop()

	scan := bufio.NewScanner(port)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return nil
}
