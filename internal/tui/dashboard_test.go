package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"raptor/internal/store"
)

func TestUnrealizedPct(t *testing.T) {
	p := &store.Position{EntryPrice: 0.001, CurrentPrice: 0.0015}
	if got := unrealizedPct(p); got < 49.9 || got > 50.1 {
		t.Errorf("expected ~50%%, got %f", got)
	}

	p = &store.Position{EntryPrice: 0, CurrentPrice: 0.0015}
	if got := unrealizedPct(p); got != 0 {
		t.Errorf("zero entry should give 0, got %f", got)
	}
}

func TestTruncToken(t *testing.T) {
	if got := truncToken("PUMP", "mint123", 14); got != "PUMP" {
		t.Errorf("symbol should win: %q", got)
	}
	if got := truncToken("", "AbCdEfGhIjKlMnOpQrStUvWx", 8); len(got) == 0 || len([]rune(got)) > 8 {
		t.Errorf("mint fallback should truncate to width: %q", got)
	}
}

func TestFmtAge(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "1h30m"},
		{-time.Second, "0s"},
	}
	for _, tc := range cases {
		if got := fmtAge(tc.d); got != tc.want {
			t.Errorf("fmtAge(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestViewRendersSnapshot(t *testing.T) {
	m := NewModel(nil, store.ChainSolana)
	m.snap = Snapshot{
		Positions: []*store.Position{
			{ID: 1, TokenSymbol: "PUMP", EntryPrice: 0.001, CurrentPrice: 0.002, PeakPrice: 0.002, OpenedAt: time.Now().Add(-time.Minute)},
		},
		At: time.Now(),
	}

	out := m.View()
	if !strings.Contains(out, "PUMP") {
		t.Error("positions tab should list the token symbol")
	}
	if !strings.Contains(out, "RAPTOR") {
		t.Error("header missing")
	}
}

func TestTabSwitching(t *testing.T) {
	m := NewModel(nil, store.ChainSolana)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	m = next.(Model)
	if m.tab != TabJobs {
		t.Errorf("expected jobs tab, got %d", m.tab)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.tab != TabCandidates {
		t.Errorf("expected candidates tab after tab key, got %d", m.tab)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.tab != TabPositions {
		t.Errorf("expected wraparound to positions, got %d", m.tab)
	}
}
