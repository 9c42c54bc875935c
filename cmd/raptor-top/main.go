// raptor-top is a read-only terminal dashboard over the shared store:
// monitored positions, recent jobs and pending candidates.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"raptor/internal/config"
	"raptor/internal/store"
	"raptor/internal/tui"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// The TUI owns the terminal; logs would corrupt it.
	log.Logger = zerolog.Nop()

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.New(context.Background(), cfg.StoreDSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "store connection failed: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	p := tea.NewProgram(tui.NewModel(st, store.ChainSolana), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard failed: %v\n", err)
		os.Exit(1)
	}
}
