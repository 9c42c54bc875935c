package websocket

import (
	"testing"
	"time"
)

func TestActivityFeedDedup(t *testing.T) {
	f := NewActivityFeed(nil, 100*time.Millisecond)

	f.emit("MintA")
	f.emit("MintA") // inside the window, dropped
	f.emit("MintB")

	if got := len(f.hints); got != 2 {
		t.Fatalf("expected 2 hints, got %d", got)
	}

	time.Sleep(120 * time.Millisecond)
	f.emit("MintA")
	if got := len(f.hints); got != 3 {
		t.Errorf("expected hint after dedup window, got %d", got)
	}
}

func TestActivityFeedDropWhenFull(t *testing.T) {
	f := NewActivityFeed(nil, time.Nanosecond)

	for i := 0; i < 600; i++ {
		f.emit(string(rune('a'+i%26)) + "-mint-" + time.Now().String())
	}
	if got := len(f.hints); got > cap(f.hints) {
		t.Errorf("hint channel overflowed: %d > %d", got, cap(f.hints))
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("abcdefghij", 4); got != "abcd..." {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := truncateStr("ab", 4); got != "ab" {
		t.Errorf("short string should pass through, got %q", got)
	}
}
