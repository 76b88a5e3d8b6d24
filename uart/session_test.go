package uart

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"
)

var promptPattern = regexp.MustCompile(`=> `)

func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	s := NewSession(local)
	t.Cleanup(func() {
		_ = s.Close()
		_ = remote.Close()
	})
	return s, remote
}

func TestExpect_MatchesAcrossChunkedWrites(t *testing.T) {
	s, remote := newTestSession(t)

	go func() {
		_, _ = remote.Write([]byte("\x00\xffboot noise\r\nU-Bo"))
		time.Sleep(10 * time.Millisecond)
		_, _ = remote.Write([]byte("ot 2019.04\r\n=> "))
	}()

	matched, err := s.Expect(context.Background(), promptPattern, time.Second)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if matched != "=> " {
		t.Fatalf("matched %q, want %q", matched, "=> ")
	}
}

func TestExpect_TimeoutPreservesPending(t *testing.T) {
	s, remote := newTestSession(t)

	go func() { _, _ = remote.Write([]byte("Booting Linux...\r\n")) }()
	time.Sleep(10 * time.Millisecond)

	_, err := s.Expect(context.Background(), promptPattern, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expect error = %v, want ErrTimeout", err)
	}
	if got := s.Pending(); !strings.Contains(got, "Booting Linux") {
		t.Fatalf("Pending() = %q, want boot output preserved", got)
	}
}

func TestExpect_ConsumesThroughMatch(t *testing.T) {
	s, remote := newTestSession(t)

	go func() { _, _ = remote.Write([]byte("=> ok\r\n=> ")) }()

	for i := 0; i < 2; i++ {
		if _, err := s.Expect(context.Background(), promptPattern, time.Second); err != nil {
			t.Fatalf("Expect %d: %v", i, err)
		}
	}
	if got := s.Pending(); strings.Contains(got, "=>") {
		t.Fatalf("Pending() = %q, want both prompts consumed", got)
	}
}

func TestExpect_ContextCancel(t *testing.T) {
	s, _ := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := s.Expect(ctx, promptPattern, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expect error = %v, want context.Canceled", err)
	}
}

func TestExpect_ClosedStream(t *testing.T) {
	s, remote := newTestSession(t)
	_ = remote.Close()

	_, err := s.Expect(context.Background(), promptPattern, time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Expect error = %v, want ErrClosed", err)
	}
}

func TestSend_AppendsCRLF(t *testing.T) {
	s, remote := newTestSession(t)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := remote.Read(buf)
		got <- string(buf[:n])
	}()

	if err := s.Send("fuse read 4 2"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if line := <-got; line != "fuse read 4 2\r\n" {
		t.Fatalf("wire = %q, want CRLF-terminated command", line)
	}
}

func TestSendByte_NoLineEnding(t *testing.T) {
	s, remote := newTestSession(t)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := remote.Read(buf)
		got <- buf[:n]
	}()

	if err := s.SendByte(' '); err != nil {
		t.Fatalf("SendByte: %v", err)
	}
	if b := <-got; len(b) != 1 || b[0] != ' ' {
		t.Fatalf("wire = %q, want single space byte", b)
	}
}

func TestFlush_DiscardsPending(t *testing.T) {
	s, remote := newTestSession(t)

	go func() { _, _ = remote.Write([]byte("stale output\r\n")) }()
	time.Sleep(10 * time.Millisecond)

	s.Flush()
	if got := s.Pending(); got != "" {
		t.Fatalf("Pending() after Flush = %q, want empty", got)
	}
}
