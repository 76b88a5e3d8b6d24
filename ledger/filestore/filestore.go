// Package filestore keeps the address ledger in a plain text file shared
// between stations, typically on an NFS or synced mount. The revision is a
// content digest, so any out-of-band edit is visible as a new revision, and
// merges replace exactly one line under an advisory file lock.
package filestore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"macline"
	"macline/ledger"
)

const lockSuffix = ".lock"

// Store is a ledger.Store backed by one record-per-line file.
type Store struct {
	path       string
	newBackoff func() backoff.BackOff
}

// Option configures a Store.
type Option func(*Store)

// WithLockBackoff sets the retry policy used while waiting for the
// advisory lock held by another station.
func WithLockBackoff(newBackoff func() backoff.BackOff) Option {
	return func(s *Store) {
		s.newBackoff = newBackoff
	}
}

// New opens a store over the ledger file at path. The file must already
// exist; create it with Init.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(50*time.Millisecond),
				backoff.WithMaxInterval(1*time.Second),
				backoff.WithMaxElapsedTime(30*time.Second),
			)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the ledger file seeded with free records for each address.
// It refuses to overwrite an existing ledger.
func Init(path string, addrs []string) error {
	records := make([]macline.AddressRecord, 0, len(addrs))
	for _, raw := range addrs {
		addr, err := macline.NormalizeAddr(raw)
		if err != nil {
			return fmt.Errorf("init ledger: %w", err)
		}
		records = append(records, macline.AddressRecord{Addr: addr, Status: macline.StatusFree})
	}
	data := macline.EncodeLedger(records)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("init ledger: %w", err)
	}
	return f.Close()
}

// Fetch reads the whole file and digests it into the revision.
func (s *Store) Fetch(ctx context.Context) (macline.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return macline.Snapshot{}, fmt.Errorf("read ledger %s: %w: %w", s.path, ledger.ErrSync, err)
	}
	records, err := macline.ParseLedger(data)
	if err != nil {
		return macline.Snapshot{}, fmt.Errorf("parse ledger %s: %w", s.path, err)
	}
	return macline.Snapshot{Records: records, Revision: digest(data)}, nil
}

// Merge applies p if the file still digests to p.Base. The write replaces
// exactly the one line holding p.Before and lands atomically via a temp
// file rename in the ledger's directory.
func (s *Store) Merge(ctx context.Context, p ledger.Proposal) error {
	if err := p.Verify(); err != nil {
		return err
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return fmt.Errorf("merge %s: %w", p.ID, err)
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("merge %s: read ledger: %w: %w", p.ID, ledger.ErrSync, err)
	}
	if digest(data) != p.Base {
		return fmt.Errorf("merge %s: ledger moved past base %s: %w", p.ID, p.Base, ledger.ErrConflict)
	}

	records, err := macline.ParseLedger(data)
	if err != nil {
		return fmt.Errorf("merge %s: parse ledger: %w", p.ID, err)
	}

	replaced := 0
	for i, rec := range records {
		if rec.Addr != p.Before.Addr {
			continue
		}
		if !rec.Equal(p.Before) {
			return fmt.Errorf("merge %s: record %s changed since base: %w", p.ID, rec.Addr, ledger.ErrConflict)
		}
		records[i] = p.After
		replaced++
	}
	switch replaced {
	case 0:
		return fmt.Errorf("merge %s: record %s not found: %w", p.ID, p.Before.Addr, ledger.ErrConflict)
	case 1:
	default:
		return fmt.Errorf("merge %s: %d lines match %s, refusing multi-line change: %w",
			p.ID, replaced, p.Before.Addr, ledger.ErrBadProposal)
	}

	if err := s.writeAtomic(macline.EncodeLedger(records)); err != nil {
		return fmt.Errorf("merge %s: %w: %w", p.ID, ledger.ErrSync, err)
	}
	return nil
}

// lock takes the sidecar advisory lock, retrying with backoff while another
// station holds it. The returned func releases the lock.
func (s *Store) lock(ctx context.Context) (func(), error) {
	f, err := os.OpenFile(s.path+lockSuffix, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w: %w", ledger.ErrSync, err)
	}

	attempt := func() error {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return err // held elsewhere, retry
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(attempt, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire ledger lock: %w: %w", ledger.ErrSync, err)
	}

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

func (s *Store) writeAtomic(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func digest(data []byte) macline.Revision {
	sum := blake3.Sum256(data)
	return macline.Revision(hex.EncodeToString(sum[:]))
}
