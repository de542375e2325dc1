package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"maunium.net/go/mautrix/id"
)

type Config struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`

	Reactions []string `toml:"reactions"`
	Muted     []string `toml:"muted"`
	ClearVim  bool     `toml:"clear_vim"`
	BlurDelay int      `toml:"blur_delay"` // seconds of inactivity, 0 = disabled
	MaxEvents int      `toml:"max_events"` // per-room cache bound, negative = unlimited

	PageSize          int    `toml:"page_size"`
	SearchNewestFirst *bool  `toml:"search_newest_first"` // nil = default (true)
	Editor            string `toml:"editor"`              // fallback $EDITOR
	HistoryDir        string `toml:"history_dir"`         // empty = no persistence
}

const defaultMaxEvents = 8192

func defaultConfig() Config {
	return Config{
		Reactions: []string{"❤️", "👍", "👎", "😂", "‼️", "❓️"},
		MaxEvents: defaultMaxEvents,
		PageSize:  10,
	}
}

// IsMuted reports whether a room is on the configured mute list.
func (c Config) IsMuted(roomID id.RoomID) bool {
	for _, m := range c.Muted {
		if id.RoomID(m) == roomID {
			return true
		}
	}
	return false
}

// NewestFirst resolves the search direction (default newest first).
func (c Config) NewestFirst() bool {
	if c.SearchNewestFirst == nil {
		return true
	}
	return *c.SearchNewestFirst
}

func configPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("MATCHA_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "matcha", "config.toml")
}

// LoadConfig reads and validates the config file. A missing file yields
// the defaults; a malformed one is an error so the caller can keep the
// previous configuration.
func LoadConfig(flagPath string) (Config, error) {
	cfg := defaultConfig()

	path := configPath(flagPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	// Zero means unset; negative is a deliberate "unlimited".
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if len(cfg.Reactions) == 0 {
		cfg.Reactions = defaultConfig().Reactions
	}
	if cfg.BlurDelay < 0 {
		cfg.BlurDelay = 0
	}

	return cfg, nil
}

type configWatchStartedMsg struct {
	changes <-chan struct{}
	cancel  func()
}
type configChangedMsg struct{}
type configWatchStoppedMsg struct{}

// watchConfigCmd watches the config file's directory and signals on every
// write to the file itself. Watching the directory instead of the file
// survives editors that replace rather than modify.
func watchConfigCmd(flagPath string) tea.Cmd {
	return func() tea.Msg {
		path := configPath(flagPath)
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return clientErrMsg{fmt.Errorf("config watch: %w", err)}
		}
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
			return clientErrMsg{fmt.Errorf("config watch: %w", err)}
		}

		changes := make(chan struct{}, 1)
		go func() {
			defer close(changes)
			for {
				select {
				case ev, ok := <-watcher.Events:
					if !ok {
						return
					}
					if ev.Name != path {
						continue
					}
					if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					// Coalesce bursts; the reload reads the final state.
					select {
					case changes <- struct{}{}:
					default:
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("config watch: %v", err)
				}
			}
		}()

		return configWatchStartedMsg{
			changes: changes,
			cancel:  func() { watcher.Close() },
		}
	}
}

// waitForConfigChange re-arms after every reload.
func waitForConfigChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return configWatchStoppedMsg{}
		}
		return configChangedMsg{}
	}
}

// applyConfig installs a freshly loaded config into the live model.
// Connection settings are startup-only and deliberately not re-applied.
func (m *model) applyConfig(cfg Config) {
	m.cfg.Reactions = cfg.Reactions
	m.cfg.Muted = cfg.Muted
	m.cfg.ClearVim = cfg.ClearVim
	m.cfg.BlurDelay = cfg.BlurDelay
	m.cfg.MaxEvents = cfg.MaxEvents
	m.cfg.PageSize = cfg.PageSize
	m.cfg.SearchNewestFirst = cfg.SearchNewestFirst
	m.cfg.Editor = cfg.Editor
	if cfg.HistoryDir != m.cfg.HistoryDir {
		m.cfg.HistoryDir = cfg.HistoryDir
		m.history = NewHistoryLog(cfg.HistoryDir)
	}

	m.registry.ApplyMutes(cfg.Muted)
	m.registry.SetMaxEvents(cfg.MaxEvents)
	for _, r := range m.registry.Rooms() {
		r.Timeline.SetPageSize(cfg.PageSize)
	}
	if m.reactCursor >= len(m.cfg.Reactions) {
		m.reactCursor = 0
	}
}
