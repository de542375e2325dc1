package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

func main() {
	configFlag := flag.String("config", "", "path to config file")
	debugFlag := flag.Bool("debug", false, "enable debug logging to debug.log")
	flag.Parse()

	if *debugFlag {
		f, err := tea.LogToFile("debug.log", "matcha")
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not open debug log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.Println("debug logging enabled")
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := LoadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "config error: homeserver, user_id and access_token are required")
		os.Exit(1)
	}
	log.Printf("config loaded: %s as %s", cfg.Homeserver, cfg.UserID)

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client error: %v\n", err)
		os.Exit(1)
	}

	// Create the markdown renderer before the TUI starts so the terminal
	// background-color query (OSC 11) completes while stdio is still normal.
	// Detect style once, store it for re-creation on resize.
	mdStyle := detectGlamourStyle()
	mdRender := newMarkdownRenderer(contentWrapWidth(80), mdStyle)

	m := newModel(cfg, *configFlag, client, mdRender, mdStyle)

	log.Println("starting TUI")
	p := tea.NewProgram(&m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
