// Package ledger maintains the authoritative mapping of hardware address to
// assignment status across every provisioning station. Nothing is locked
// pessimistically: allocation is a local reservation, and publishing goes
// through a change proposal that merges only if the fetched revision is
// still the remote tip.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"macline"
)

// Ledger is one station's view of the shared address store.
type Ledger struct {
	store Store
	now   func() time.Time

	mu      sync.Mutex
	snap    macline.Snapshot
	fetched bool
	// Local reservations made by Allocate but not yet merged. Keyed both
	// ways so a unit can hold at most one outstanding reservation.
	byAddr map[string]string
	byUnit map[string]string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock injects the assignment timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a ledger over the given store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		now:    time.Now,
		byAddr: make(map[string]string),
		byUnit: make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch pulls the current record sequence and revision from the shared store.
func (l *Ledger) Fetch(ctx context.Context) error {
	snap, err := l.store.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch ledger: %w", err)
	}

	l.mu.Lock()
	l.snap = snap
	l.fetched = true
	l.mu.Unlock()
	return nil
}

// Snapshot returns the last fetched state.
func (l *Ledger) Snapshot() macline.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := macline.Snapshot{
		Records:  append([]macline.AddressRecord(nil), l.snap.Records...),
		Revision: l.snap.Revision,
	}
	return out
}

// Lookup returns the existing assignment for a unit, if any. Units that
// come back through the line reuse their address instead of burning a
// second one.
func (l *Ledger) Lookup(unitID string) (macline.AddressRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.snap.Records {
		if rec.Status == macline.StatusAssigned && rec.Owner == unitID {
			return rec, true
		}
	}
	return macline.AddressRecord{}, false
}

// Allocate reserves the first free record in ascending address order for
// unitID. The reservation is local only — the shared store is untouched
// until Finalize. A unit holding a reservation gets the same one back.
func (l *Ledger) Allocate(unitID string) (macline.AddressRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fetched {
		return macline.AddressRecord{}, fmt.Errorf("allocate for %s: ledger not fetched: %w", unitID, ErrSync)
	}

	if addr, ok := l.byUnit[unitID]; ok {
		if rec, found := l.snap.Find(addr); found && rec.Status == macline.StatusFree {
			return rec, nil
		}
		// The reserved record vanished under us; drop it and rescan.
		delete(l.byUnit, unitID)
		delete(l.byAddr, addr)
	}

	records := append([]macline.AddressRecord(nil), l.snap.Records...)
	sort.Slice(records, func(i, j int) bool { return records[i].Addr < records[j].Addr })

	for _, rec := range records {
		if rec.Status != macline.StatusFree {
			continue
		}
		if _, taken := l.byAddr[rec.Addr]; taken {
			continue
		}
		l.byAddr[rec.Addr] = unitID
		l.byUnit[unitID] = rec.Addr
		slog.Debug("Reserved address.", "addr", rec.Addr, "unit", unitID)
		return rec, nil
	}
	return macline.AddressRecord{}, fmt.Errorf("allocate for %s: %w", unitID, ErrExhausted)
}

// Finalize publishes rec's assignment to owner. It re-fetches to the remote
// tip first; if the record changed concurrently the reservation is dropped
// and the caller must re-run Allocate against the refreshed ledger.
func (l *Ledger) Finalize(ctx context.Context, rec macline.AddressRecord, owner string) error {
	fresh, err := l.store.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("finalize %s: refresh: %w", rec.Addr, err)
	}

	l.mu.Lock()
	l.snap = fresh
	l.fetched = true
	l.mu.Unlock()

	before, ok := fresh.Find(rec.Addr)
	if !ok || before.Status != macline.StatusFree {
		l.Release(rec)
		return fmt.Errorf("finalize %s for %s: record taken concurrently: %w", rec.Addr, owner, ErrConflict)
	}

	after := before
	after.Status = macline.StatusAssigned
	after.Owner = owner
	after.AssignedAt = l.now().UTC()

	p := NewProposal(fresh.Revision, before, after)
	if err := p.Verify(); err != nil {
		return fmt.Errorf("finalize %s for %s: %w", rec.Addr, owner, err)
	}

	if err := l.store.Merge(ctx, p); err != nil {
		if errors.Is(err, ErrConflict) {
			l.Release(rec)
		}
		return fmt.Errorf("finalize %s for %s: %w", rec.Addr, owner, err)
	}

	l.mu.Lock()
	delete(l.byUnit, owner)
	delete(l.byAddr, rec.Addr)
	// Merge advanced the tip past our snapshot; force a refresh before the
	// next allocation.
	l.fetched = false
	l.mu.Unlock()

	slog.Info("Assignment merged.", "addr", rec.Addr, "unit", owner, "proposal", p.ID)
	return nil
}

// Release returns a locally reserved, not yet finalized record to the free
// pool. Finalized records are never released: addresses only ever move
// free -> assigned. Safe to call more than once.
func (l *Ledger) Release(rec macline.AddressRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if unit, ok := l.byAddr[rec.Addr]; ok {
		delete(l.byAddr, rec.Addr)
		delete(l.byUnit, unit)
		slog.Debug("Released reservation.", "addr", rec.Addr, "unit", unit)
	}
}
