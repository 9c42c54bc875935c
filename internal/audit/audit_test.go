package audit

import (
	"path/filepath"
	"testing"
)

func TestAuditRecordAndRecent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	if err := l.Record(EventKeyExport, 7, "SOL", map[string]string{"wallet": "abc"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(EventCircuitOpen, 0, "SOL", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := l.Recent(EventKeyExport, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 key export event, got %d", len(events))
	}
	if events[0].UserID != 7 {
		t.Errorf("wrong user: %d", events[0].UserID)
	}

	all, err := l.Recent("", 10)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}
	if all[0].Kind != EventCircuitOpen {
		t.Errorf("newest first expected, got %s", all[0].Kind)
	}
}
