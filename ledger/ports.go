package ledger

import (
	"context"

	"macline"
)

// Store is the shared, versioned address store. Implementations must be
// fast-forward only: Merge applies a proposal exactly when its base revision
// is still the tip, and fails with ErrConflict otherwise. The concrete store
// (file on a shared mount, database, hosted service) is swappable without
// touching ledger logic.
type Store interface {
	// Fetch returns the full record sequence and the revision token that
	// identifies this exact state.
	Fetch(ctx context.Context) (macline.Snapshot, error)
	// Merge publishes the proposal if proposal.Base is still the tip.
	Merge(ctx context.Context, p Proposal) error
}
