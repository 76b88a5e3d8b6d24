package timecheck

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCheckHealthyOffset(t *testing.T) {
	c := New(WithThreshold(500 * time.Millisecond))
	c.QueryFunc = func(pool string) (time.Duration, error) {
		return 20 * time.Millisecond, nil
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCheckSkewedClock(t *testing.T) {
	c := New(WithThreshold(500 * time.Millisecond))
	c.QueryFunc = func(pool string) (time.Duration, error) {
		return -2 * time.Second, nil
	}
	err := c.Check(context.Background())
	if err == nil {
		t.Fatal("skewed clock passed the check")
	}
	if !strings.Contains(err.Error(), "offset") {
		t.Fatalf("error %q does not name the offset", err)
	}
}

func TestCheckQueryError(t *testing.T) {
	c := New(WithPool("time.example.net"))
	queryErr := errors.New("no route to host")
	c.QueryFunc = func(pool string) (time.Duration, error) {
		if pool != "time.example.net" {
			t.Fatalf("queried %s", pool)
		}
		return 0, queryErr
	}
	if err := c.Check(context.Background()); !errors.Is(err, queryErr) {
		t.Fatalf("check: got %v, want the query error", err)
	}
}

func TestCheckHonorsContext(t *testing.T) {
	c := New()
	c.QueryFunc = func(pool string) (time.Duration, error) {
		time.Sleep(time.Second)
		return 0, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Check(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("check: got %v, want context.Canceled", err)
	}
}
