package serial

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the part of a serial port the source needs.
type Port interface {
	io.Reader
	io.Closer
}

// OpenFunc opens a port. Tests substitute an in-memory pipe.
type OpenFunc func(path string, baud int) (Port, error)

// readTimeout bounds each Read so the loop notices Stop promptly.
const readTimeout = time.Second

// OpenPort opens a real serial device at the given baud rate, 8N1.
func OpenPort(path string, baud int) (Port, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return p, nil
}
