package main

import (
	"context"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// noteKind enumerates the protocol-level changes the bridge forwards.
type noteKind int

const (
	noteMessage noteKind = iota
	noteEdit
	noteReaction
	noteRedaction
	noteMembership
	noteRoomName
	noteVerification
)

// SyncNote is one discrete mutation from the protocol layer, already
// decrypted and room-ordered by the client library. The UI task applies
// notes in receipt order; the bridge never reorders or batches.
type SyncNote struct {
	Kind      noteKind
	RoomID    id.RoomID
	Event     *Event     // noteMessage only
	TargetID  id.EventID // fold targets
	Sender    id.UserID
	Body      string // new body, reaction key, membership, or room name
	Timestamp time.Time
}

// syncNoteBuffer bounds the bridge channel. A full buffer blocks the sync
// goroutine (backpressure); notes are never dropped.
const syncNoteBuffer = 256

type syncStartedMsg struct {
	notes  <-chan SyncNote
	cancel context.CancelFunc
}
type syncNoteMsg SyncNote
type syncStoppedMsg struct{ err error }
type clientErrMsg struct{ err error }

func (e clientErrMsg) Error() string { return e.err.Error() }

// startSyncCmd wires the mautrix syncer into a note channel and starts the
// sync loop on a background goroutine. The returned cancel func is the
// only way the loop stops while the client is connected.
func startSyncCmd(client *mautrix.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		notes := make(chan SyncNote, syncNoteBuffer)

		// Handlers live on the syncer, so each connection gets a fresh
		// one; the previous connection's handlers die with its syncer.
		syncer := mautrix.NewDefaultSyncer()
		forward := func(_ context.Context, evt *event.Event) {
			note, ok := translateEvent(evt)
			if !ok {
				return
			}
			select {
			case notes <- note:
			case <-ctx.Done():
			}
		}
		syncer.OnEventType(event.EventMessage, forward)
		syncer.OnEventType(event.EventReaction, forward)
		syncer.OnEventType(event.EventRedaction, forward)
		syncer.OnEventType(event.StateMember, forward)
		syncer.OnEventType(event.StateRoomName, forward)
		client.Syncer = syncer

		go func() {
			defer close(notes)
			log.Println("sync: loop starting")
			if err := client.SyncWithContext(ctx); err != nil && ctx.Err() == nil {
				log.Printf("sync: loop ended: %v", err)
			}
		}()

		return syncStartedMsg{notes: notes, cancel: cancel}
	}
}

// waitForSyncNote blocks until the next note; the Update loop re-arms it
// after applying each one.
func waitForSyncNote(notes <-chan SyncNote) tea.Cmd {
	return func() tea.Msg {
		note, ok := <-notes
		if !ok {
			return syncStoppedMsg{}
		}
		return syncNoteMsg(note)
	}
}

// translateEvent maps a raw protocol event onto a SyncNote. Unknown or
// malformed events are skipped, never errors.
func translateEvent(evt *event.Event) (SyncNote, bool) {
	// Sync handlers may hand us unparsed content; ParseRaw is a no-op when
	// it is already parsed.
	_ = evt.Content.ParseRaw(evt.Type)

	ts := time.UnixMilli(evt.Timestamp)

	switch evt.Type {
	case event.EventMessage:
		msg := evt.Content.AsMessage()
		if msg == nil {
			return SyncNote{}, false
		}

		if msg.MsgType == event.MsgVerificationRequest {
			return SyncNote{
				Kind:      noteVerification,
				RoomID:    evt.RoomID,
				Sender:    evt.Sender,
				Timestamp: ts,
			}, true
		}

		// An m.replace relation makes this an edit of its target, not a
		// new timeline entry.
		if target := msg.RelatesTo.GetReplaceID(); target != "" {
			body := msg.Body
			if msg.NewContent != nil {
				body = msg.NewContent.Body
			}
			return SyncNote{
				Kind:      noteEdit,
				RoomID:    evt.RoomID,
				TargetID:  target,
				Sender:    evt.Sender,
				Body:      body,
				Timestamp: ts,
			}, true
		}

		kind := ContentText
		mediaURL := ""
		switch msg.MsgType {
		case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
			kind = ContentMedia
			mediaURL = string(msg.URL)
		case event.MsgNotice:
			kind = ContentNotice
		case event.MsgText, event.MsgEmote:
			kind = ContentText
		default:
			return SyncNote{}, false
		}

		return SyncNote{
			Kind:   noteMessage,
			RoomID: evt.RoomID,
			Event: &Event{
				ID:        evt.ID,
				RoomID:    evt.RoomID,
				Sender:    evt.Sender,
				Timestamp: ts,
				Kind:      kind,
				Body:      msg.Body,
				MediaURL:  mediaURL,
			},
			Timestamp: ts,
		}, true

	case event.EventReaction:
		rel := evt.Content.AsReaction().GetRelatesTo()
		if rel.EventID == "" || rel.Key == "" {
			return SyncNote{}, false
		}
		return SyncNote{
			Kind:      noteReaction,
			RoomID:    evt.RoomID,
			TargetID:  rel.EventID,
			Sender:    evt.Sender,
			Body:      rel.Key,
			Timestamp: ts,
		}, true

	case event.EventRedaction:
		if evt.Redacts == "" {
			return SyncNote{}, false
		}
		return SyncNote{
			Kind:      noteRedaction,
			RoomID:    evt.RoomID,
			TargetID:  evt.Redacts,
			Sender:    evt.Sender,
			Timestamp: ts,
		}, true

	case event.StateMember:
		member := evt.Content.AsMember()
		if member == nil {
			return SyncNote{}, false
		}
		return SyncNote{
			Kind:   noteMembership,
			RoomID: evt.RoomID,
			Sender: evt.Sender,
			Body:   string(member.Membership),
			Event: &Event{
				ID:        evt.ID,
				RoomID:    evt.RoomID,
				Sender:    evt.Sender,
				Timestamp: ts,
				Kind:      ContentMembership,
				Body:      string(evt.Sender) + " " + membershipVerb(member.Membership),
			},
			Timestamp: ts,
		}, true

	case event.StateRoomName:
		name, ok := evt.Content.Parsed.(*event.RoomNameEventContent)
		if !ok {
			return SyncNote{}, false
		}
		return SyncNote{
			Kind:      noteRoomName,
			RoomID:    evt.RoomID,
			Body:      name.Name,
			Timestamp: ts,
		}, true
	}

	return SyncNote{}, false
}

func membershipVerb(membership event.Membership) string {
	switch membership {
	case event.MembershipJoin:
		return "joined"
	case event.MembershipLeave:
		return "left"
	case event.MembershipInvite:
		return "was invited"
	case event.MembershipBan:
		return "was banned"
	}
	return string(membership)
}

// applySyncNote folds one note into the registry. Runs on the UI task only,
// so the core data never sees concurrent mutation.
func (m *model) applySyncNote(note SyncNote) {
	room := m.ensureRoom(note.RoomID)

	switch note.Kind {
	case noteMessage:
		// A timestamp behind the newest cached event means the protocol
		// layer's ordering promise was broken. Surface it, don't repair.
		if last := room.Store.At(room.Store.Len() - 1); last != nil && note.Timestamp.Before(last.Timestamp) {
			log.Printf("sync: out-of-order delivery in %s: %s is older than %s", note.RoomID, note.Event.ID, last.ID)
		}
		if room.Store.Insert(note.Event) {
			m.history.Append(note.Event)
			if m.registry.Focused() != room {
				room.Unread = true
			}
		}

	case noteEdit:
		room.Store.FoldEdit(note.TargetID, note.Sender, note.Body)

	case noteReaction:
		room.Store.FoldReaction(note.TargetID, note.Sender, note.Body)

	case noteRedaction:
		room.Store.FoldRedaction(note.TargetID)

	case noteMembership:
		log.Printf("sync: membership %s for %s in %s", note.Body, note.Sender, note.RoomID)
		if note.Body == "leave" && note.Sender == m.client.UserID {
			m.registry.Remove(note.RoomID)
			return
		}
		room.Store.Insert(note.Event)

	case noteRoomName:
		room.Name = note.Body

	case noteVerification:
		m.statusMsg = "verification requested by " + string(note.Sender) + ", press v to enter passphrase"
	}

	m.registry.Touch(note.RoomID, note.Timestamp)
	room.Timeline.Clamp(room.Store.Len())

	// Live search tracks the cache, not a snapshot.
	if (m.mode == ModeSearch || m.mode == ModeSearchResults) && m.registry.Focused() == room {
		m.searchMatches = searchStore(room.Store, m.searchInput.Value(), m.cfg.NewestFirst())
		if m.searchCursor >= len(m.searchMatches) {
			m.searchCursor = 0
		}
	}
}
