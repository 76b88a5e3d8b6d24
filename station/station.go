// Package station orchestrates provisioning one unit: read its identity over
// serial, allocate an address from the shared ledger, burn it into fuses,
// and publish the assignment. The board machine and the ledger never talk
// to each other; this package is the only place the two meet.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"macline"
	"macline/board"
	"macline/ledger"
)

const (
	defaultBootRetries     = 3
	defaultConflictRetries = 5
)

// Station provisions units one at a time over an exclusively owned console.
type Station struct {
	board  Board
	power  Power
	ledger *ledger.Ledger

	bootRetries     int
	conflictRetries int
	checkClock      func(ctx context.Context) error
}

// Option configures a Station.
type Option func(*Station)

// WithBootRetries bounds power-cycle attempts around the autoboot window.
func WithBootRetries(n int) Option {
	return func(s *Station) {
		s.bootRetries = n
	}
}

// WithConflictRetries bounds full re-allocate cycles after merge conflicts.
func WithConflictRetries(n int) Option {
	return func(s *Station) {
		s.conflictRetries = n
	}
}

// WithClockCheck installs a wall-clock sanity check run before finalizing.
// Check failures are logged, never fatal: a skewed assignment timestamp is
// worth a warning, not a pulled unit.
func WithClockCheck(check func(ctx context.Context) error) Option {
	return func(s *Station) {
		s.checkClock = check
	}
}

// New assembles a station from its collaborators.
func New(b Board, p Power, l *ledger.Ledger, opts ...Option) *Station {
	s := &Station{
		board:           b,
		power:           p,
		ledger:          l,
		bootRetries:     defaultBootRetries,
		conflictRetries: defaultConflictRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision runs the full sequence for the unit on the console: identity,
// allocation, fuse programming, ledger finalize. Returns the provisioned
// unit with its address. A unit the ledger already knows is reported with
// Reused set and is not re-programmed.
func (s *Station) Provision(ctx context.Context) (macline.Board, error) {
	unitID, err := s.readIdentity(ctx)
	if err != nil {
		return macline.Board{}, err
	}
	slog.Info("Unit identified.", "unit", unitID)

	if err := s.ledger.Fetch(ctx); err != nil {
		return macline.Board{}, err
	}
	if rec, ok := s.ledger.Lookup(unitID); ok {
		slog.Info("Unit already holds an address, skipping programming.", "unit", unitID, "addr", rec.Addr)
		return macline.Board{UnitID: unitID, Addr: rec.Addr, Reused: true}, nil
	}

	for attempt := 1; attempt <= s.conflictRetries; attempt++ {
		rec, err := s.ledger.Allocate(unitID)
		if err != nil {
			return macline.Board{}, err
		}
		slog.Info("Address reserved.", "unit", unitID, "addr", rec.Addr, "attempt", attempt)

		if err := s.program(ctx, rec); err != nil {
			return macline.Board{}, err
		}

		if s.checkClock != nil {
			if err := s.checkClock(ctx); err != nil {
				slog.Warn("Wall clock check failed, assignment timestamp may be skewed.", "err", err)
			}
		}

		err = s.ledger.Finalize(ctx, rec, unitID)
		if err == nil {
			slog.Info("Unit provisioned.", "unit", unitID, "addr", rec.Addr)
			return macline.Board{UnitID: unitID, Addr: rec.Addr}, nil
		}
		if errors.Is(err, ledger.ErrConflict) {
			slog.Warn("Assignment lost the merge race, re-allocating.", "unit", unitID, "addr", rec.Addr, "err", err)
			continue
		}
		return macline.Board{}, err
	}
	return macline.Board{}, fmt.Errorf("provision %s: %d merge conflicts in a row: %w", unitID, s.conflictRetries, ledger.ErrConflict)
}

// readIdentity reaches an OS shell and reads the unit identity. A target
// parked at the bootloader prompt is power-cycled so the OS boots.
func (s *Station) readIdentity(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.bootRetries; attempt++ {
		err := s.board.EnsureShell(ctx)
		if err == nil {
			return s.board.UnitID(ctx)
		}
		if !errors.Is(err, board.ErrWrongPhase) {
			return "", fmt.Errorf("reach OS shell: %w", err)
		}
		lastErr = err
		slog.Info("Target not in the OS, power cycling.", "attempt", attempt, "err", err)
		if err := s.power.PowerCycle(ctx); err != nil {
			return "", fmt.Errorf("power cycle: %w", err)
		}
	}
	return "", fmt.Errorf("reach OS shell after %d power cycles: %w", s.bootRetries, lastErr)
}

// program power-cycles into the bootloader and burns rec's address. A failed
// burn releases the reservation before surfacing the per-unit fatal error.
func (s *Station) program(ctx context.Context, rec macline.AddressRecord) error {
	if err := s.enterBootloader(ctx); err != nil {
		s.ledger.Release(rec)
		return err
	}
	if err := s.board.ProgramFuse(ctx, rec.Addr); err != nil {
		s.ledger.Release(rec)
		if errors.Is(err, board.ErrVerify) {
			return fmt.Errorf("program %s: %w; last console output:\n%s", rec.Addr, err, s.board.LastOutput())
		}
		return fmt.Errorf("program %s: %w", rec.Addr, err)
	}
	return nil
}

// enterBootloader power-cycles and catches the autoboot window, retrying
// bounded times when the window is missed.
func (s *Station) enterBootloader(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.bootRetries; attempt++ {
		if err := s.power.PowerCycle(ctx); err != nil {
			return fmt.Errorf("power cycle: %w", err)
		}
		err := s.board.EnterBootloader(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, board.ErrWindowMissed) {
			return fmt.Errorf("enter bootloader: %w", err)
		}
		lastErr = err
		slog.Warn("Missed the autoboot window.", "attempt", attempt)
	}
	return fmt.Errorf("enter bootloader after %d attempts: %w", s.bootRetries, lastErr)
}
