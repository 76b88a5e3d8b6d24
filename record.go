package macline

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// AddressStatus is the assignment state of one ledger entry.
// Records only ever move free -> assigned; addresses are never reclaimed.
type AddressStatus uint8

const (
	StatusFree AddressStatus = iota + 1
	StatusAssigned
)

func (s AddressStatus) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusAssigned:
		return "assigned"
	default:
		return "unknown"
	}
}

// ParseStatus parses the wire form of an AddressStatus.
func ParseStatus(s string) (AddressStatus, error) {
	switch s {
	case "free":
		return StatusFree, nil
	case "assigned":
		return StatusAssigned, nil
	default:
		return 0, fmt.Errorf("invalid address status %q", s)
	}
}

// AddressRecord is one ledger entry: a unique hardware address and its
// assignment state. Owner and AssignedAt are set only when assigned.
type AddressRecord struct {
	Addr       string
	Status     AddressStatus
	Owner      string
	AssignedAt time.Time
}

// Line renders the record in the ledger wire format, one record per line:
//
//	addr,status,owner,assigned_at
//
// Owner and assigned_at are empty for free records.
func (r AddressRecord) Line() string {
	ts := ""
	if !r.AssignedAt.IsZero() {
		ts = r.AssignedAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s,%s,%s,%s", r.Addr, r.Status, r.Owner, ts)
}

// Equal reports whether two records are identical field for field.
// Timestamps compare by instant, not by location.
func (r AddressRecord) Equal(o AddressRecord) bool {
	return r.Addr == o.Addr &&
		r.Status == o.Status &&
		r.Owner == o.Owner &&
		r.AssignedAt.Equal(o.AssignedAt)
}

// ParseRecord parses a single ledger line.
func ParseRecord(line string) (AddressRecord, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return AddressRecord{}, fmt.Errorf("ledger line %q: want 4 fields, got %d", line, len(fields))
	}

	addr, err := NormalizeAddr(fields[0])
	if err != nil {
		return AddressRecord{}, fmt.Errorf("ledger line %q: %w", line, err)
	}
	status, err := ParseStatus(fields[1])
	if err != nil {
		return AddressRecord{}, fmt.Errorf("ledger line %q: %w", line, err)
	}

	rec := AddressRecord{Addr: addr, Status: status, Owner: fields[2]}
	if fields[3] != "" {
		ts, err := time.Parse(time.RFC3339, fields[3])
		if err != nil {
			return AddressRecord{}, fmt.Errorf("ledger line %q: parse timestamp: %w", line, err)
		}
		rec.AssignedAt = ts
	}

	if rec.Status == StatusAssigned && rec.Owner == "" {
		return AddressRecord{}, fmt.Errorf("ledger line %q: assigned record without owner", line)
	}
	if rec.Status == StatusFree && (rec.Owner != "" || !rec.AssignedAt.IsZero()) {
		return AddressRecord{}, fmt.Errorf("ledger line %q: free record carries assignment fields", line)
	}
	return rec, nil
}

// ParseLedger parses the full wire form: one record per line, blank lines
// ignored. Duplicate addresses are rejected — address values are unique
// across the ledger.
func ParseLedger(data []byte) ([]AddressRecord, error) {
	var records []AddressRecord
	seen := make(map[string]struct{})
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if _, dup := seen[rec.Addr]; dup {
			return nil, fmt.Errorf("line %d: duplicate address %s", i+1, rec.Addr)
		}
		seen[rec.Addr] = struct{}{}
		records = append(records, rec)
	}
	return records, nil
}

// EncodeLedger renders records in the wire form, one per line with a
// trailing newline.
func EncodeLedger(records []AddressRecord) []byte {
	var sb strings.Builder
	for _, rec := range records {
		sb.WriteString(rec.Line())
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// NormalizeAddr canonicalizes a hardware address (lowercase, colon-separated).
func NormalizeAddr(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse hardware address: %w", err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("hardware address %q: want 48 bits", s)
	}
	return hw.String(), nil
}

// Revision is an opaque token identifying an exact state of the shared
// ledger store. Stations compare revisions for freshness, never inspect them.
type Revision string

// Snapshot is the record sequence and revision returned by one store fetch.
type Snapshot struct {
	Records  []AddressRecord
	Revision Revision
}

// Find returns the record for addr, if present.
func (s Snapshot) Find(addr string) (AddressRecord, bool) {
	for _, rec := range s.Records {
		if rec.Addr == addr {
			return rec, true
		}
	}
	return AddressRecord{}, false
}
