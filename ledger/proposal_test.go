package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"macline"
)

func validProposal() Proposal {
	before := macline.AddressRecord{Addr: "02:1f:5e:00:00:01", Status: macline.StatusFree}
	after := macline.AddressRecord{
		Addr:       "02:1f:5e:00:00:01",
		Status:     macline.StatusAssigned,
		Owner:      "UNIT-A",
		AssignedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	return NewProposal("rev-1", before, after)
}

func TestNewProposalID(t *testing.T) {
	p := validProposal()
	if !strings.HasPrefix(p.ID, "assign-") {
		t.Fatalf("proposal id %q lacks assign- prefix", p.ID)
	}
	if len(p.ID) != len("assign-")+8 {
		t.Fatalf("proposal id %q, want 8 hex chars after prefix", p.ID)
	}
}

func TestVerifyAcceptsWellFormedChange(t *testing.T) {
	if err := validProposal().Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Proposal)
	}{
		{"missing base", func(p *Proposal) { p.Base = "" }},
		{"bad address", func(p *Proposal) { p.Before.Addr = "not-a-mac"; p.After.Addr = "not-a-mac" }},
		{"address changed", func(p *Proposal) { p.After.Addr = "02:1f:5e:00:00:02" }},
		{"before not free", func(p *Proposal) { p.Before.Status = macline.StatusAssigned }},
		{"before carries owner", func(p *Proposal) { p.Before.Owner = "UNIT-X" }},
		{"after not assigned", func(p *Proposal) { p.After.Status = macline.StatusFree }},
		{"after without owner", func(p *Proposal) { p.After.Owner = "" }},
		{"after without timestamp", func(p *Proposal) { p.After.AssignedAt = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validProposal()
			tc.mutate(&p)
			if err := p.Verify(); !errors.Is(err, ErrBadProposal) {
				t.Fatalf("verify: got %v, want ErrBadProposal", err)
			}
		})
	}
}

func TestMemStoreRejectsStaleBase(t *testing.T) {
	store := NewMemStore(macline.AddressRecord{Addr: "02:1f:5e:00:00:01", Status: macline.StatusFree})
	p := validProposal()
	p.Base = "0" // behind the seeded revision
	if err := store.Merge(context.Background(), p); !errors.Is(err, ErrConflict) {
		t.Fatalf("merge with stale base: got %v, want ErrConflict", err)
	}
}
