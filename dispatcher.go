package main

import (
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Mode is the single process-wide UI mode. Exactly one is active; key
// routing depends on nothing else. Transitions happen only inside the
// handle*Key functions below.
type Mode int

const (
	ModeNormal Mode = iota
	ModeRoomSwitcher
	ModeSearch
	ModeSearchResults
	ModeCompose
	ModeReact
	ModeVerify
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeRoomSwitcher:
		return "ROOMS"
	case ModeSearch:
		return "SEARCH"
	case ModeSearchResults:
		return "RESULTS"
	case ModeCompose:
		return "COMPOSE"
	case ModeReact:
		return "REACT"
	case ModeVerify:
		return "VERIFY"
	}
	return "?"
}

// handleKey routes a key press through the mode table. An invalid key for
// the current mode is a no-op, never an error.
func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// QR overlay sits above every mode: any key dismisses it.
	if m.qrOverlay != "" {
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		m.qrOverlay = ""
		return m, nil
	}

	switch m.mode {
	case ModeNormal:
		return m.handleNormalKey(msg)
	case ModeRoomSwitcher:
		return m.handleRoomSwitcherKey(msg)
	case ModeSearch:
		return m.handleSearchKey(msg)
	case ModeSearchResults:
		return m.handleSearchResultsKey(msg)
	case ModeReact:
		return m.handleReactKey(msg)
	case ModeVerify:
		return m.handleVerifyKey(msg)
	}
	// ModeCompose: the external editor owns the terminal; nothing to do.
	return m, nil
}

func (m *model) handleNormalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	room := m.registry.Focused()

	switch msg.String() {
	case "ctrl+c", "q":
		return m, m.quit()

	case " ":
		m.mode = ModeRoomSwitcher
		m.switcherInput.Reset()
		m.switcherCursor = m.focusedSwitcherIndex()
		return m, nil

	case "/":
		if room == nil {
			return m, nil
		}
		m.mode = ModeSearch
		m.searchInput.Reset()
		m.searchInput.Focus()
		m.searchMatches = nil
		m.searchCursor = 0
		return m, nil

	case "i":
		if room == nil {
			return m, nil
		}
		m.prevMode = m.mode
		m.mode = ModeCompose
		m.composeTarget = ""
		return m, m.startCompose("")

	case "e":
		ev := m.selectedEvent()
		if ev == nil || ev.Redacted || ev.Sender != m.client.UserID || ev.Kind != ContentText {
			return m, nil
		}
		m.prevMode = m.mode
		m.mode = ModeCompose
		m.composeTarget = ev.ID
		return m, m.startCompose(ev.Body)

	case "r":
		if ev := m.selectedEvent(); ev != nil && !ev.Redacted {
			m.mode = ModeReact
			m.reactCursor = 0
		}
		return m, nil

	case "d":
		ev := m.selectedEvent()
		if ev == nil || ev.Redacted || ev.Sender != m.client.UserID {
			return m, nil
		}
		return m, redactCmd(m.client, ev.RoomID, ev.ID)

	case "v":
		m.mode = ModeVerify
		m.verifyInput.Reset()
		m.verifyInput.Focus()
		return m, nil

	case "Q":
		if room != nil {
			m.qrOverlay = renderQR(room.DisplayName(), "https://matrix.to/#/"+string(room.ID))
		}
		return m, nil

	case "o":
		if ev := m.selectedEvent(); ev != nil && ev.Kind == ContentMedia {
			return m, openMediaCmd(m.client, ev.MediaURL, ev.Body)
		}
		return m, nil

	case "m":
		if room != nil {
			room.Muted = !room.Muted
			log.Printf("mute: %s -> %v", room.ID, room.Muted)
		}
		return m, nil

	case "k", "up":
		if room != nil {
			room.Timeline.Up(room.Store.Len())
			m.syncViewportToSelection()
		}
		return m, nil

	case "j", "down":
		if room != nil {
			room.Timeline.Down(room.Store.Len())
			m.syncViewportToSelection()
		}
		return m, nil

	case "pgup", "ctrl+u":
		if room != nil {
			room.Timeline.PageUp(room.Store.Len())
			m.syncViewportToSelection()
		}
		return m, nil

	case "pgdown", "ctrl+d":
		if room != nil {
			room.Timeline.PageDown(room.Store.Len())
			m.syncViewportToSelection()
		}
		return m, nil

	case "G", "end":
		if room != nil {
			room.Timeline.JumpLatest(room.Store.Len())
			m.syncViewportToSelection()
		}
		return m, nil
	}

	return m, nil
}

func (m *model) handleRoomSwitcherKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, m.quit()

	case "esc":
		m.mode = ModeNormal
		return m, nil

	case "enter":
		rooms := m.filteredRooms()
		if m.switcherCursor >= 0 && m.switcherCursor < len(rooms) {
			m.registry.Focus(rooms[m.switcherCursor].ID)
			m.refreshTimeline()
		}
		m.mode = ModeNormal
		return m, nil

	case "up", "ctrl+k":
		if m.switcherCursor > 0 {
			m.switcherCursor--
		}
		return m, nil

	case "down", "ctrl+j":
		if m.switcherCursor < len(m.filteredRooms())-1 {
			m.switcherCursor++
		}
		return m, nil
	}

	// Everything else edits the filter.
	var cmd tea.Cmd
	m.switcherInput, cmd = m.switcherInput.Update(msg)
	if n := len(m.filteredRooms()); m.switcherCursor >= n {
		m.switcherCursor = 0
	}
	return m, cmd
}

func (m *model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, m.quit()

	case "esc":
		m.mode = ModeNormal
		m.searchInput.Reset()
		m.searchMatches = nil
		m.searchCursor = 0
		return m, nil

	case "enter":
		m.mode = ModeSearchResults
		m.searchCursor = 0
		return m, nil
	}

	// Live search: re-scan the cache on every keystroke.
	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	if room := m.registry.Focused(); room != nil {
		m.searchMatches = searchStore(room.Store, m.searchInput.Value(), m.cfg.NewestFirst())
	}
	m.searchCursor = 0
	return m, cmd
}

func (m *model) handleSearchResultsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, m.quit()

	case "esc":
		m.mode = ModeNormal
		m.searchInput.Reset()
		m.searchMatches = nil
		m.searchCursor = 0
		return m, nil

	case "/":
		m.mode = ModeSearch
		m.searchInput.Focus()
		return m, nil

	case "up", "k":
		if m.searchCursor > 0 {
			m.searchCursor--
		}
		return m, nil

	case "down", "j":
		if m.searchCursor < len(m.searchMatches)-1 {
			m.searchCursor++
		}
		return m, nil

	case "enter":
		room := m.registry.Focused()
		if room == nil || len(m.searchMatches) == 0 {
			return m, nil
		}
		idx := resolveJump(room.Store, m.searchMatches, m.searchCursor)
		if idx < 0 {
			// Every match evicted since the scan: keep the selection.
			m.statusMsg = "result no longer cached"
			return m, nil
		}
		room.Timeline.Select(idx, room.Store.Len())
		m.mode = ModeNormal
		m.searchInput.Reset()
		m.searchMatches = nil
		m.searchCursor = 0
		m.syncViewportToSelection()
		return m, nil
	}

	return m, nil
}

func (m *model) handleReactKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	palette := m.cfg.Reactions
	// Cursor math below assumes a non-empty palette.
	if len(palette) == 0 {
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		m.mode = ModeNormal
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return m, m.quit()

	case "esc":
		m.mode = ModeNormal
		return m, nil

	case "left", "h", "shift+tab":
		m.reactCursor--
		if m.reactCursor < 0 {
			m.reactCursor = len(palette) - 1
		}
		return m, nil

	case "right", "l", "tab":
		m.reactCursor = (m.reactCursor + 1) % len(palette)
		return m, nil

	case "enter":
		ev := m.selectedEvent()
		m.mode = ModeNormal
		if ev == nil || m.reactCursor >= len(palette) {
			return m, nil
		}
		return m, sendReactionCmd(m.client, ev.RoomID, ev.ID, palette[m.reactCursor])
	}

	// Digit shortcuts jump straight to a palette slot.
	if s := msg.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
		if i := int(s[0] - '1'); i < len(palette) {
			ev := m.selectedEvent()
			m.mode = ModeNormal
			if ev == nil {
				return m, nil
			}
			return m, sendReactionCmd(m.client, ev.RoomID, ev.ID, palette[i])
		}
	}

	return m, nil
}

func (m *model) handleVerifyKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, m.quit()

	case "esc":
		m.mode = ModeNormal
		m.verifyInput.Reset()
		return m, nil

	case "enter":
		passphrase := m.verifyInput.Value()
		m.mode = ModeNormal
		m.verifyInput.Reset()
		if strings.TrimSpace(passphrase) == "" {
			return m, nil
		}
		return m, submitVerifyCmd(m.client, passphrase)
	}

	var cmd tea.Cmd
	m.verifyInput, cmd = m.verifyInput.Update(msg)
	return m, cmd
}

// filteredRooms applies the switcher filter, case-insensitive, over the
// registry's activity ordering.
func (m *model) filteredRooms() []*Room {
	filter := strings.ToLower(strings.TrimSpace(m.switcherInput.Value()))
	if filter == "" {
		return m.registry.Rooms()
	}
	var out []*Room
	for _, r := range m.registry.Rooms() {
		if strings.Contains(strings.ToLower(r.DisplayName()), filter) {
			out = append(out, r)
		}
	}
	return out
}

// focusedSwitcherIndex finds the focused room in switcher order so the
// cursor opens on it.
func (m *model) focusedSwitcherIndex() int {
	focused := m.registry.Focused()
	if focused == nil {
		return 0
	}
	for i, r := range m.registry.Rooms() {
		if r == focused {
			return i
		}
	}
	return 0
}

// selectedEvent resolves the focused room's timeline selection, nil if
// there is no room or the room is empty.
func (m *model) selectedEvent() *Event {
	room := m.registry.Focused()
	if room == nil {
		return nil
	}
	return room.Store.At(room.Timeline.Selected())
}
