package board

import (
	"context"
	"regexp"
	"time"
)

// Console is the serial control channel to the target. *uart.Session
// satisfies it; tests script one.
type Console interface {
	// Send writes one command line.
	Send(line string) error
	// SendByte writes a single raw byte — the autoboot interrupt keystroke
	// must reach the wire without a line ending.
	SendByte(b byte) error
	// Expect blocks until incoming bytes match pattern or timeout elapses.
	Expect(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error)
	// Pending returns buffered output no Expect has consumed.
	Pending() string
	// Flush discards pending input.
	Flush()
}
