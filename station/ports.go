package station

import "context"

// Board is the control-plane surface the orchestrator drives. *board.Machine
// satisfies it.
type Board interface {
	// EnsureShell drives the target to an OS shell, logging in if needed.
	EnsureShell(ctx context.Context) error
	// UnitID reads the unit's factory identity from the OS shell.
	UnitID(ctx context.Context) (string, error)
	// EnterBootloader interrupts a fresh boot at the autoboot countdown.
	EnterBootloader(ctx context.Context) error
	// ProgramFuse writes addr into the fuse registers and verifies it.
	ProgramFuse(ctx context.Context, addr string) error
	// LastOutput returns the most recent console output, for diagnostics.
	LastOutput() string
}

// Power cycles the target board's power. The orchestrator invokes it around
// boot-interrupt attempts; the board machine itself never touches power.
type Power interface {
	PowerCycle(ctx context.Context) error
}
