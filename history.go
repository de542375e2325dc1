package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maunium.net/go/mautrix/id"
)

// HistoryLog persists plain message events per room as append-only
// tab-separated files, replayed into a room's EventStore when the room
// first appears. Folds are not persisted; replayed history is the leaf
// messages only.
type HistoryLog struct {
	dir string // empty disables persistence
}

func NewHistoryLog(dir string) *HistoryLog {
	return &HistoryLog{dir: dir}
}

// escapeBody escapes newlines and backslashes for single-line storage.
// Backslash first to avoid double-escaping.
func escapeBody(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func unescapeBody(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		if i+1 < len(s) && s[i] == '\\' {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i += 2
				continue
			case '\\':
				b.WriteByte('\\')
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func (h *HistoryLog) path(roomID id.RoomID) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_").Replace(string(roomID))
	return filepath.Join(h.dir, safe+".log")
}

// Append records one text message. Media, tombstones and folds are skipped.
func (h *HistoryLog) Append(ev *Event) {
	if h.dir == "" || ev.Kind != ContentText || ev.Redacted {
		return
	}
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		log.Printf("history: mkdir: %v", err)
		return
	}

	f, err := os.OpenFile(h.path(ev.RoomID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("history: open: %v", err)
		return
	}
	defer f.Close()

	ts := ev.Timestamp.UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s\t%s\t%s\t%s\n", ts, ev.ID, ev.Sender, escapeBody(ev.Body))
	if _, err := f.WriteString(line); err != nil {
		log.Printf("history: write: %v", err)
	}
}

// Load returns up to max most recent persisted messages for a room, oldest
// first, ready to replay into a fresh store. max < 0 loads everything.
func (h *HistoryLog) Load(roomID id.RoomID, max int) []*Event {
	if h.dir == "" || max == 0 {
		return nil
	}
	f, err := os.Open(h.path(roomID))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("history: open: %v", err)
		}
		return nil
	}
	defer f.Close()

	if max < 0 {
		max = int(^uint(0) >> 1)
	}
	lines, err := readLastNLines(f, max)
	if err != nil {
		log.Printf("history: read: %v", err)
		return nil
	}

	events := make([]*Event, 0, len(lines))
	for _, line := range lines {
		ev, err := parseHistoryLine(roomID, line)
		if err != nil {
			log.Printf("history: skipping malformed line: %v", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// readLastNLines reads the last n lines of a file by seeking backward in
// chunks, so large logs don't get slurped whole.
func readLastNLines(f *os.File, n int) ([]string, error) {
	const chunkSize = 8192

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		return nil, nil
	}

	var buf []byte
	offset := size
	linesFound := 0

	for offset > 0 && linesFound <= n {
		readSize := int64(chunkSize)
		if readSize > offset {
			readSize = offset
		}
		offset -= readSize

		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)

		for _, b := range chunk {
			if b == '\n' {
				linesFound++
			}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(string(buf)))
	var all []string
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			all = append(all, line)
		}
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func parseHistoryLine(roomID id.RoomID, line string) (*Event, error) {
	parts := strings.SplitN(line, "\t", 4)
	if len(parts) < 4 {
		return nil, fmt.Errorf("expected 4 tab-separated fields, got %d", len(parts))
	}
	ts, err := time.Parse("2006-01-02 15:04:05", parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", parts[0], err)
	}
	return &Event{
		ID:        id.EventID(parts[1]),
		RoomID:    roomID,
		Sender:    id.UserID(parts[2]),
		Timestamp: ts.UTC(),
		Kind:      ContentText,
		Body:      unescapeBody(parts[3]),
	}, nil
}
