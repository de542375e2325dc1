package main

import (
	"log"
	"os"
	"os/exec"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

type editorFinishedMsg struct {
	path string
	err  error
}

// editorProgram resolves the compose editor: config first, then $EDITOR.
func (m *model) editorProgram() string {
	if m.cfg.Editor != "" {
		return m.cfg.Editor
	}
	return os.Getenv("EDITOR")
}

// startCompose writes the message body (empty for a fresh compose) to a
// temp file and suspends the TUI while the editor runs. The temp file is
// removed in finishCompose on every exit path.
func (m *model) startCompose(initial string) tea.Cmd {
	editor := m.editorProgram()
	if editor == "" {
		return func() tea.Msg {
			return editorFinishedMsg{err: errNoEditor}
		}
	}

	f, err := os.CreateTemp("", "matcha-*.md")
	if err != nil {
		return func() tea.Msg { return editorFinishedMsg{err: err} }
	}
	path := f.Name()
	if initial != "" {
		if _, err := f.WriteString(initial); err != nil {
			f.Close()
			os.Remove(path)
			return func() tea.Msg { return editorFinishedMsg{err: err} }
		}
	}
	f.Close()

	c := buildEditorCmd(editor, path, initial == "", m.cfg.ClearVim)
	return tea.ExecProcess(c, func(err error) tea.Msg {
		return editorFinishedMsg{path: path, err: err}
	})
}

type noEditorError struct{}

func (noEditorError) Error() string { return "no editor configured and $EDITOR not set" }

var errNoEditor = noEditorError{}

// buildEditorCmd prepares the editor invocation. xterm1 is a terminfo that
// ignores the alternate screen, so the editor doesn't yank us back to the
// main buffer. Vim gets compose ergonomics unless clear_vim disables them.
func buildEditorCmd(editor, path string, empty, clearVim bool) *exec.Cmd {
	var args []string
	if !clearVim && (strings.HasSuffix(editor, "vim") || strings.HasSuffix(editor, "vi")) {
		if empty {
			// Open in insert mode with enter mapped to save-and-quit.
			args = append(args, "+star", "-c", "imap <C-M> <esc>:wq<enter>")
		}
		args = append(args, "-c", "set wrap linebreak nolist")
	}
	args = append(args, path)

	c := exec.Command(editor, args...)
	c.Env = append(os.Environ(), "TERM=xterm1")
	return c
}

// finishCompose runs when the editor exits. Failure or an empty body
// returns to the mode active before the suspension with nothing sent.
func (m *model) finishCompose(msg editorFinishedMsg) (tea.Model, tea.Cmd) {
	target := m.composeTarget
	m.composeTarget = ""
	m.mode = m.prevMode

	var body string
	if msg.path != "" {
		if data, err := os.ReadFile(msg.path); err == nil {
			body = strings.TrimSpace(string(data))
		}
		if err := os.Remove(msg.path); err != nil && !os.IsNotExist(err) {
			log.Printf("compose: could not remove temp file: %v", err)
		}
	}

	if msg.err != nil {
		log.Printf("compose: editor failed: %v", msg.err)
		m.statusMsg = "editor failed, message not sent"
		return m, nil
	}
	if body == "" {
		m.statusMsg = "empty message discarded"
		return m, nil
	}

	room := m.registry.Focused()
	if room == nil {
		return m, nil
	}
	if target != "" {
		return m, sendEditCmd(m.client, room.ID, target, body)
	}
	return m, sendMessageCmd(m.client, room.ID, body)
}
