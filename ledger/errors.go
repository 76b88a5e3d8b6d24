package ledger

import "errors"

var (
	// ErrConflict reports that the shared store moved past the revision a
	// change was built against. Always recoverable: re-fetch, re-allocate,
	// retry.
	ErrConflict = errors.New("ledger: revision conflict")
	// ErrExhausted reports that no free address remains.
	ErrExhausted = errors.New("ledger: no free address")
	// ErrSync reports that the shared store could not be reached or read.
	ErrSync = errors.New("ledger: store sync failed")
	// ErrBadProposal reports a change that is not exactly one free->assigned
	// flip of one record. Nothing structurally suspect ever merges.
	ErrBadProposal = errors.New("ledger: malformed change proposal")
)
