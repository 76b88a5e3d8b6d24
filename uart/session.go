// Package uart implements the line-oriented serial control channel to one
// target board: raw send plus pattern-expect with timeouts. Retry policy
// belongs to callers; this layer reports exactly what the wire did.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"go.bug.st/serial"
)

var (
	// ErrTimeout reports that no matching response arrived within the window.
	ErrTimeout = errors.New("uart: expect timeout")
	// ErrClosed reports that the session's byte stream has been torn down.
	ErrClosed = errors.New("uart: session closed")
)

const readChunkSize = 4096

// Session owns the byte stream to one target. A background reader pumps
// incoming chunks so Expect can match patterns across partial lines and
// leading noise. One goroutine at a time may call Expect; the station model
// is one in-flight run per physical device.
type Session struct {
	stream   io.ReadWriteCloser
	incoming chan []byte

	mu      sync.Mutex
	buf     []byte
	readErr error

	closeOnce sync.Once
}

// Open acquires exclusive ownership of the serial device at 8N1.
func Open(device string, baud int) (*Session, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial device %s: %w", device, err)
	}
	return NewSession(port), nil
}

// NewSession wraps an established byte stream. Tests inject pipes here.
func NewSession(stream io.ReadWriteCloser) *Session {
	s := &Session{
		stream:   stream,
		incoming: make(chan []byte, 64),
	}
	go s.pump()
	return s
}

func (s *Session) pump() {
	for {
		chunk := make([]byte, readChunkSize)
		n, err := s.stream.Read(chunk)
		if n > 0 {
			s.incoming <- chunk[:n]
		}
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			close(s.incoming)
			return
		}
	}
}

// Send writes one command line. Firmware consoles expect CRLF endings.
func (s *Session) Send(line string) error {
	if _, err := s.stream.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("send %q: %w", line, err)
	}
	return nil
}

// SendByte writes a single raw byte with no line ending. Used for the
// autoboot interrupt keystroke, which must not be followed by CR.
func (s *Session) SendByte(b byte) error {
	if _, err := s.stream.Write([]byte{b}); err != nil {
		return fmt.Errorf("send byte %#x: %w", b, err)
	}
	return nil
}

// Expect blocks until the incoming bytes match pattern or timeout elapses.
// On a match it returns the matched text and consumes the buffer through the
// end of the match. On timeout it fails with ErrTimeout; the unconsumed
// bytes remain available via Pending for diagnostics.
func (s *Session) Expect(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if matched, ok := s.consume(pattern); ok {
			return matched, nil
		}

		select {
		case chunk, ok := <-s.incoming:
			if !ok {
				return "", fmt.Errorf("expect %q: %w: %w", pattern, ErrClosed, s.readError())
			}
			s.mu.Lock()
			s.buf = append(s.buf, chunk...)
			s.mu.Unlock()
		case <-timer.C:
			return "", fmt.Errorf("expect %q after %s: %w", pattern, timeout, ErrTimeout)
		case <-ctx.Done():
			return "", fmt.Errorf("expect %q: %w", pattern, ctx.Err())
		}
	}
}

func (s *Session) consume(pattern *regexp.Regexp) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := pattern.FindIndex(s.buf)
	if loc == nil {
		return "", false
	}
	matched := string(s.buf[loc[0]:loc[1]])
	s.buf = append([]byte(nil), s.buf[loc[1]:]...)
	return matched, true
}

// Pending returns the buffered bytes no Expect has consumed yet, including
// anything the reader has delivered since the last call. It does not consume.
func (s *Session) Pending() string {
	s.drain()
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

// Flush discards all pending input. Call before sending a command whose
// response must be matched in isolation.
func (s *Session) Flush() {
	s.drain()
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}

func (s *Session) drain() {
	for {
		select {
		case chunk, ok := <-s.incoming:
			if !ok {
				return
			}
			s.mu.Lock()
			s.buf = append(s.buf, chunk...)
			s.mu.Unlock()
		default:
			return
		}
	}
}

func (s *Session) readError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil || errors.Is(s.readErr, io.EOF) {
		return io.EOF
	}
	return s.readErr
}

// Close releases the device. Safe to call on every exit path.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}
