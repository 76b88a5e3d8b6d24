package ledger

import (
	"fmt"

	"macline"

	"github.com/google/uuid"
)

// Proposal is a single-record change staged against a known revision of the
// shared store. Proposals are transient: built inside one finalize call,
// merged or discarded, never persisted.
type Proposal struct {
	// ID names the proposal in logs and store metadata.
	ID string
	// Base is the revision the change was built against. Merge succeeds only
	// if Base is still the tip.
	Base macline.Revision
	// Before is the record as fetched; After is the record to publish.
	Before macline.AddressRecord
	After  macline.AddressRecord
}

// NewProposal stages one record change against base.
func NewProposal(base macline.Revision, before, after macline.AddressRecord) Proposal {
	return Proposal{
		ID:     "assign-" + uuid.NewString()[:8],
		Base:   base,
		Before: before,
		After:  after,
	}
}

// Verify enforces the structural integrity contract every merge must pass:
// the delta touches exactly one record and constitutes exactly one
// free->assigned flip, with assignment fields appearing only on the after
// side. This goes beyond a line-count check: field-level validation also
// catches swapped or smeared values.
func (p Proposal) Verify() error {
	if p.Base == "" {
		return fmt.Errorf("%w: missing base revision", ErrBadProposal)
	}
	if _, err := macline.NormalizeAddr(p.Before.Addr); err != nil {
		return fmt.Errorf("%w: %v", ErrBadProposal, err)
	}
	if p.Before.Addr != p.After.Addr {
		return fmt.Errorf("%w: address changed %s -> %s", ErrBadProposal, p.Before.Addr, p.After.Addr)
	}
	if p.Before.Status != macline.StatusFree {
		return fmt.Errorf("%w: before-record is %s, want free", ErrBadProposal, p.Before.Status)
	}
	if p.Before.Owner != "" || !p.Before.AssignedAt.IsZero() {
		return fmt.Errorf("%w: before-record carries assignment fields", ErrBadProposal)
	}
	if p.After.Status != macline.StatusAssigned {
		return fmt.Errorf("%w: after-record is %s, want assigned", ErrBadProposal, p.After.Status)
	}
	if p.After.Owner == "" {
		return fmt.Errorf("%w: after-record has no owner", ErrBadProposal)
	}
	if p.After.AssignedAt.IsZero() {
		return fmt.Errorf("%w: after-record has no assignment timestamp", ErrBadProposal)
	}
	return nil
}
