package main

import (
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"
)

// blockingReader never delivers input until a line is pushed onto ch.
type blockingReader struct {
	ch chan string
}

func (r *blockingReader) Read(p []byte) (int, error) {
	line, ok := <-r.ch
	if !ok {
		return 0, io.EOF
	}
	return copy(p, line), nil
}

func TestManualPowerCancelledContext(t *testing.T) {
	in := &blockingReader{ch: make(chan string, 1)}
	p := newManualPower(in, io.Discard)

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.PowerCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("PowerCycle: %v, want context.Canceled", err)
	}

	// Repeated abandoned waits must not pile up readers.
	for n := 0; n < 10; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		if err := p.PowerCycle(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("PowerCycle: %v, want context.DeadlineExceeded", err)
		}
		cancel()
	}
	if after := runtime.NumGoroutine(); after > before+1 {
		t.Fatalf("goroutines grew from %d to %d across abandoned waits", before, after)
	}
}

func TestManualPowerEnterSatisfiesNextWait(t *testing.T) {
	in := &blockingReader{ch: make(chan string, 2)}
	var prompt strings.Builder
	p := newManualPower(in, &prompt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.PowerCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("PowerCycle: %v, want context.Canceled", err)
	}

	// The Enter typed while nobody was waiting unblocks the next call.
	in.ch <- "\n"
	if err := p.PowerCycle(context.Background()); err != nil {
		t.Fatalf("PowerCycle after Enter: %v", err)
	}
	if !strings.Contains(prompt.String(), "press Enter") {
		t.Fatalf("prompt not written: %q", prompt.String())
	}
}
