// Package timecheck sanity-checks the station wall clock against NTP.
// Assignment timestamps come from the local clock; a badly skewed station
// stamps ledger records with misleading times, so the orchestrator runs
// this check before finalizing and logs the result.
package timecheck

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

const (
	defaultPool      = "pool.ntp.org"
	defaultThreshold = 500 * time.Millisecond
)

// Checker measures the local clock offset against an NTP pool.
type Checker struct {
	pool      string
	threshold time.Duration

	// QueryFunc overrides the NTP query, for tests.
	QueryFunc func(pool string) (time.Duration, error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithPool sets the NTP pool to query.
func WithPool(pool string) Option {
	return func(c *Checker) {
		if pool != "" {
			c.pool = pool
		}
	}
}

// WithThreshold sets the tolerated absolute clock offset.
func WithThreshold(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.threshold = d
		}
	}
}

// New creates a checker with the default pool and threshold.
func New(opts ...Option) *Checker {
	c := &Checker{
		pool:      defaultPool,
		threshold: defaultThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check queries the pool once and fails if the clock is unreachable or the
// offset exceeds the threshold. The context bounds the overall attempt.
func (c *Checker) Check(ctx context.Context) error {
	type result struct {
		offset time.Duration
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		offset, err := c.query()
		ch <- result{offset, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("clock check: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("query %s: %w", c.pool, r.err)
		}
		if r.offset.Abs() >= c.threshold {
			return fmt.Errorf("clock offset %v exceeds %v against %s", r.offset, c.threshold, c.pool)
		}
		return nil
	}
}

func (c *Checker) query() (time.Duration, error) {
	if c.QueryFunc != nil {
		return c.QueryFunc(c.pool)
	}
	resp, err := ntp.Query(c.pool)
	if err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}
