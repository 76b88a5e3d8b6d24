package macline

import (
	"strings"
	"testing"
	"time"
)

func TestParseRecordFree(t *testing.T) {
	rec, err := ParseRecord("02:1f:5e:04:a0:01,free,,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Status != StatusFree || rec.Owner != "" || !rec.AssignedAt.IsZero() {
		t.Fatalf("parsed %+v", rec)
	}
}

func TestParseRecordAssigned(t *testing.T) {
	rec, err := ParseRecord("02:1f:5e:04:a0:01,assigned,A1B2C3D4E5F60718,2026-03-14T09:26:53Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Owner != "A1B2C3D4E5F60718" {
		t.Fatalf("owner %q", rec.Owner)
	}
	want := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if !rec.AssignedAt.Equal(want) {
		t.Fatalf("assigned at %v", rec.AssignedAt)
	}
}

func TestParseRecordNormalizesAddress(t *testing.T) {
	rec, err := ParseRecord("02-1F-5E-04-A0-01,free,,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Addr != "02:1f:5e:04:a0:01" {
		t.Fatalf("addr %q not canonical", rec.Addr)
	}
}

func TestParseRecordRejections(t *testing.T) {
	lines := []string{
		"02:1f:5e:04:a0:01,free",                          // too few fields
		"02:1f:5e:04:a0:01,parked,,",                      // unknown status
		"banana,free,,",                                   // not an address
		"02:1f:5e:04:a0:01,assigned,,",                    // assigned without owner
		"02:1f:5e:04:a0:01,free,UNIT,",                    // free with owner
		"02:1f:5e:04:a0:01,free,,2026-03-14T09:26:53Z",    // free with timestamp
		"02:1f:5e:04:a0:01,assigned,UNIT,not-a-timestamp", // bad timestamp
	}
	for _, line := range lines {
		if _, err := ParseRecord(line); err == nil {
			t.Errorf("ParseRecord(%q) accepted", line)
		}
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	records := []AddressRecord{
		{Addr: "02:1f:5e:00:00:01", Status: StatusFree},
		{Addr: "02:1f:5e:00:00:02", Status: StatusAssigned, Owner: "UNIT-A",
			AssignedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)},
	}
	parsed, err := ParseLedger(EncodeLedger(records))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != len(records) {
		t.Fatalf("%d records, want %d", len(parsed), len(records))
	}
	for i := range records {
		if !parsed[i].Equal(records[i]) {
			t.Fatalf("record %d: %+v != %+v", i, parsed[i], records[i])
		}
	}
}

func TestParseLedgerSkipsBlankLines(t *testing.T) {
	data := "\n02:1f:5e:00:00:01,free,,\n\n02:1f:5e:00:00:02,free,,\n\n"
	records, err := ParseLedger([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("%d records, want 2", len(records))
	}
}

func TestParseLedgerRejectsDuplicateAddress(t *testing.T) {
	data := "02:1f:5e:00:00:01,free,,\n02:1F:5E:00:00:01,free,,\n"
	_, err := ParseLedger([]byte(data))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("parse: %v", err)
	}
}

func TestNormalizeAddrRejectsEUI64(t *testing.T) {
	if _, err := NormalizeAddr("02:1f:5e:00:00:00:00:01"); err == nil {
		t.Fatal("64-bit address accepted")
	}
}
