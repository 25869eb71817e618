package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/treelight/internal/db"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndRecent(t *testing.T) {
	l := openTestLedger(t)

	entries := []Entry{
		{EventType: EventCommandApplied, MessageID: "m1", Source: "mqtt", Topic: "tree", Payload: `{"status":"colour","special":true}`, Detail: "set_special"},
		{EventType: EventCommandRejected, MessageID: "m2", Source: "mqtt", Topic: "tree", Payload: `{`, Detail: "malformed payload"},
		{EventType: EventStatusPublished, MessageID: "m3", Source: "http"},
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d entries, want 3", len(recent))
	}
	// newest first
	if recent[0].MessageID != "m3" || recent[2].MessageID != "m1" {
		t.Errorf("order = %s, %s, %s", recent[0].MessageID, recent[1].MessageID, recent[2].MessageID)
	}
	if recent[2].Payload != entries[0].Payload || recent[2].Detail != "set_special" {
		t.Errorf("entry = %+v", recent[2])
	}
	if recent[0].Topic != "" {
		t.Errorf("topic = %q, want empty", recent[0].Topic)
	}

	limited, err := l.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("got %d entries, want 1", len(limited))
	}

	rejected, err := l.GetByType(EventCommandRejected, 10)
	if err != nil {
		t.Fatalf("GetByType: %v", err)
	}
	if len(rejected) != 1 || rejected[0].MessageID != "m2" {
		t.Errorf("rejected = %+v", rejected)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	l := openTestLedger(t)

	base := time.Date(2025, 12, 24, 18, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base.Add(-48 * time.Hour) }
	if err := l.Append(Entry{EventType: EventCommandApplied, MessageID: "old"}); err != nil {
		t.Fatal(err)
	}
	l.now = func() time.Time { return base }
	if err := l.Append(Entry{EventType: EventCommandApplied, MessageID: "new"}); err != nil {
		t.Fatal(err)
	}

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d, want 1", deleted)
	}

	remaining, err := l.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].MessageID != "new" {
		t.Errorf("remaining = %+v", remaining)
	}
	if !remaining[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", remaining[0].Timestamp, base)
	}
}
