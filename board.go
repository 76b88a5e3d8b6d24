package macline

// Board is the per-run view of one physical unit on the line.
type Board struct {
	// UnitID is the unit's factory identity (ECC serial), read over the
	// serial console.
	UnitID string
	// Addr is the hardware address programmed into the unit. Empty until
	// programming succeeds.
	Addr string
	// Reused reports that the unit already held a ledger assignment and no
	// fuse programming was performed.
	Reused bool
}
