package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"raptor/internal/store"
)

// Tab is one dashboard view.
type Tab int

const (
	TabPositions Tab = iota
	TabJobs
	TabCandidates
)

var tabNames = []string{"Positions", "Jobs", "Candidates"}

// Snapshot is one store poll. The dashboard is read-only; it never mutates
// trading state.
type Snapshot struct {
	Positions  []*store.Position
	Jobs       []*store.TradeJob
	Candidates []*store.LaunchCandidate
	At         time.Time
	Err        error
}

type keyMap struct {
	Tab1, Tab2, Tab3, NextTab, Refresh, Quit key.Binding
}

var keys = keyMap{
	Tab1:    key.NewBinding(key.WithKeys("1")),
	Tab2:    key.NewBinding(key.WithKeys("2")),
	Tab3:    key.NewBinding(key.WithKeys("3")),
	NextTab: key.NewBinding(key.WithKeys("tab")),
	Refresh: key.NewBinding(key.WithKeys("r")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

// Model is the bubbletea model for the ops dashboard.
type Model struct {
	store   *store.Store
	chain   store.Chain
	refresh time.Duration
	tab     Tab
	width   int
	snap    Snapshot
}

// NewModel creates the dashboard over an open store.
func NewModel(st *store.Store, chain store.Chain) Model {
	return Model{
		store:   st,
		chain:   chain,
		refresh: 2 * time.Second,
		width:   100,
	}
}

type snapshotMsg Snapshot

type tickMsg time.Time

func (m Model) Init() tea.Cmd {
	return m.poll()
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		snap := Snapshot{At: time.Now()}
		snap.Positions, snap.Err = m.store.WatchSet(ctx, m.chain)
		if snap.Err == nil {
			snap.Jobs, snap.Err = m.store.RecentJobs(ctx, m.chain, 30)
		}
		if snap.Err == nil {
			snap.Candidates, snap.Err = m.store.PendingCandidates(ctx, m.chain, 30)
		}
		return snapshotMsg(snap)
	}
}

func (m Model) schedule() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		m.snap = Snapshot(msg)
		return m, m.schedule()

	case tickMsg:
		return m, m.poll()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Tab1):
			m.tab = TabPositions
		case key.Matches(msg, keys.Tab2):
			m.tab = TabJobs
		case key.Matches(msg, keys.Tab3):
			m.tab = TabCandidates
		case key.Matches(msg, keys.NextTab):
			m.tab = (m.tab + 1) % Tab(len(tabNames))
		case key.Matches(msg, keys.Refresh):
			return m, m.poll()
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styleHeader.Render("RAPTOR  "))
	for i, name := range tabNames {
		if Tab(i) == m.tab {
			b.WriteString(styleTabOn.Render(name))
		} else {
			b.WriteString(styleTabOff.Render(name))
		}
		b.WriteString("  ")
	}
	b.WriteString("\n")

	if m.snap.Err != nil {
		b.WriteString(styleError.Render("store error: " + m.snap.Err.Error()))
		b.WriteString("\n")
	}

	var body string
	switch m.tab {
	case TabPositions:
		body = m.renderPositions()
	case TabJobs:
		body = m.renderJobs()
	case TabCandidates:
		body = m.renderCandidates()
	}
	b.WriteString(styleFrame.Width(m.width - 4).Render(body))
	b.WriteString("\n")

	footer := renderHotKey("1-3", "tabs ") + renderHotKey("r", "refresh ") + renderHotKey("q", "quit")
	if !m.snap.At.IsZero() {
		footer += styleFooter.Render("  updated " + m.snap.At.Format("15:04:05"))
	}
	b.WriteString(footer)
	return b.String()
}

func (m Model) renderPositions() string {
	if len(m.snap.Positions) == 0 {
		return styleFooter.Render("no monitored positions")
	}
	rows := []string{styleColumn.Render(fmt.Sprintf(
		"%-6s %-14s %-12s %-12s %-12s %-9s %-6s",
		"ID", "TOKEN", "ENTRY", "CURRENT", "PEAK", "PNL%", "AGE"))}
	for _, p := range m.snap.Positions {
		rows = append(rows, positionRow(p, time.Now()))
	}
	return strings.Join(rows, "\n")
}

func positionRow(p *store.Position, now time.Time) string {
	pnl := unrealizedPct(p)
	return fmt.Sprintf("%-6d %-14s %-12s %-12s %-12s %s %-6s",
		p.ID,
		truncToken(p.TokenSymbol, p.TokenMint, 14),
		fmtPrice(p.EntryPrice),
		fmtPrice(p.CurrentPrice),
		fmtPrice(p.PeakPrice),
		fmtPnl(pnl),
		fmtAge(now.Sub(p.OpenedAt)),
	)
}

func (m Model) renderJobs() string {
	if len(m.snap.Jobs) == 0 {
		return styleFooter.Render("no jobs")
	}
	rows := []string{styleColumn.Render(fmt.Sprintf(
		"%-6s %-5s %-10s %-4s %-4s %-20s %s",
		"ID", "ACT", "STATUS", "PRI", "TRY", "WORKER", "ERROR"))}
	for _, j := range m.snap.Jobs {
		workerID := ""
		if j.WorkerID != nil {
			workerID = *j.WorkerID
		}
		rows = append(rows, fmt.Sprintf("%-6d %-5s %-10s %-4d %-4d %-20s %s",
			j.ID, j.Action, j.Status, j.Priority, j.Attempts,
			runewidth.Truncate(workerID, 20, "…"),
			runewidth.Truncate(j.LastError, 40, "…"),
		))
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderCandidates() string {
	if len(m.snap.Candidates) == 0 {
		return styleFooter.Render("no pending candidates")
	}
	rows := []string{styleColumn.Render(fmt.Sprintf(
		"%-6s %-10s %-14s %-7s %-10s %s",
		"ID", "SOURCE", "TOKEN", "SCORE", "LIQ SOL", "SEEN"))}
	for _, c := range m.snap.Candidates {
		rows = append(rows, fmt.Sprintf("%-6d %-10s %-14s %-7.1f %-10.2f %s",
			c.ID,
			runewidth.Truncate(c.Source, 10, "…"),
			truncToken(c.Symbol, c.TokenMint, 14),
			c.Score,
			c.InitialLiqSol,
			c.FirstSeenAt.Format("15:04:05"),
		))
	}
	return strings.Join(rows, "\n")
}

// unrealizedPct is the mark-to-market gain against entry cost.
func unrealizedPct(p *store.Position) float64 {
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice/p.EntryPrice - 1) * 100
}

func truncToken(symbol, mint string, width int) string {
	name := symbol
	if name == "" {
		name = mint
	}
	return runewidth.Truncate(name, width, "…")
}

func fmtPrice(v float64) string {
	if v == 0 {
		return "-"
	}
	if v < 0.0001 {
		return fmt.Sprintf("%.9f", v)
	}
	return fmt.Sprintf("%.6f", v)
}

func fmtPnl(pct float64) string {
	s := fmt.Sprintf("%+8.2f", pct)
	if pct < 0 {
		return styleLoss.Render(s)
	}
	return styleProfit.Render(s)
}

func fmtAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
