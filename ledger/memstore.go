package ledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"macline"
)

// MemStore is an in-memory Store for tests and dry runs. It honors the same
// fast-forward contract as the durable stores: a merge built on a stale
// revision fails with ErrConflict.
type MemStore struct {
	mu      sync.Mutex
	records []macline.AddressRecord
	rev     int
}

// NewMemStore seeds a store at revision 1.
func NewMemStore(records ...macline.AddressRecord) *MemStore {
	return &MemStore{
		records: append([]macline.AddressRecord(nil), records...),
		rev:     1,
	}
}

func (s *MemStore) Fetch(ctx context.Context) (macline.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return macline.Snapshot{
		Records:  append([]macline.AddressRecord(nil), s.records...),
		Revision: macline.Revision(strconv.Itoa(s.rev)),
	}, nil
}

func (s *MemStore) Merge(ctx context.Context, p Proposal) error {
	if err := p.Verify(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tip := macline.Revision(strconv.Itoa(s.rev))
	if p.Base != tip {
		return fmt.Errorf("merge %s: base %s behind tip %s: %w", p.ID, p.Base, tip, ErrConflict)
	}
	for i, rec := range s.records {
		if rec.Addr != p.Before.Addr {
			continue
		}
		if !rec.Equal(p.Before) {
			return fmt.Errorf("merge %s: record %s changed since base: %w", p.ID, rec.Addr, ErrConflict)
		}
		s.records[i] = p.After
		s.rev++
		return nil
	}
	return fmt.Errorf("merge %s: record %s not found: %w", p.ID, p.Before.Addr, ErrConflict)
}
