package main

import (
	"testing"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

func rawEvent(evtType event.Type, parsed any) *event.Event {
	return &event.Event{
		ID:        "$raw:example.org",
		RoomID:    "!room:example.org",
		Sender:    "@alice:example.org",
		Timestamp: 1700000000000,
		Type:      evtType,
		Content:   event.Content{Parsed: parsed},
	}
}

func TestTranslateEvent(t *testing.T) {
	t.Run("text message", func(t *testing.T) {
		evt := rawEvent(event.EventMessage, &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    "hello",
		})
		note, ok := translateEvent(evt)
		if !ok {
			t.Fatal("expected a note")
		}
		if note.Kind != noteMessage || note.Event == nil {
			t.Fatalf("wrong note: %+v", note)
		}
		if note.Event.Body != "hello" || note.Event.Kind != ContentText {
			t.Errorf("event: %+v", note.Event)
		}
		if !note.Event.Timestamp.Equal(time.UnixMilli(1700000000000)) {
			t.Errorf("timestamp: %v", note.Event.Timestamp)
		}
	})

	t.Run("media message", func(t *testing.T) {
		evt := rawEvent(event.EventMessage, &event.MessageEventContent{
			MsgType: event.MsgImage,
			Body:    "cat.png",
			URL:     "mxc://example.org/abc123",
		})
		note, ok := translateEvent(evt)
		if !ok || note.Event.Kind != ContentMedia {
			t.Fatalf("expected media note, got %+v", note)
		}
		if note.Event.MediaURL != "mxc://example.org/abc123" {
			t.Errorf("media URL: %q", note.Event.MediaURL)
		}
	})

	t.Run("edit relation", func(t *testing.T) {
		evt := rawEvent(event.EventMessage, &event.MessageEventContent{
			MsgType:   event.MsgText,
			Body:      "* fixed",
			RelatesTo: &event.RelatesTo{Type: event.RelReplace, EventID: "$orig"},
			NewContent: &event.MessageEventContent{
				MsgType: event.MsgText,
				Body:    "fixed",
			},
		})
		note, ok := translateEvent(evt)
		if !ok || note.Kind != noteEdit {
			t.Fatalf("expected edit note, got %+v", note)
		}
		if note.TargetID != "$orig" || note.Body != "fixed" {
			t.Errorf("edit note: target=%s body=%q", note.TargetID, note.Body)
		}
	})

	t.Run("reaction", func(t *testing.T) {
		evt := rawEvent(event.EventReaction, &event.ReactionEventContent{
			RelatesTo: event.RelatesTo{Type: event.RelAnnotation, EventID: "$target", Key: "👍"},
		})
		note, ok := translateEvent(evt)
		if !ok || note.Kind != noteReaction {
			t.Fatalf("expected reaction note, got %+v", note)
		}
		if note.TargetID != "$target" || note.Body != "👍" {
			t.Errorf("reaction note: %+v", note)
		}
	})

	t.Run("redaction", func(t *testing.T) {
		evt := rawEvent(event.EventRedaction, &event.RedactionEventContent{})
		evt.Redacts = "$target"
		note, ok := translateEvent(evt)
		if !ok || note.Kind != noteRedaction || note.TargetID != "$target" {
			t.Fatalf("expected redaction note, got %+v", note)
		}
	})

	t.Run("membership", func(t *testing.T) {
		evt := rawEvent(event.StateMember, &event.MemberEventContent{
			Membership: event.MembershipJoin,
		})
		note, ok := translateEvent(evt)
		if !ok || note.Kind != noteMembership {
			t.Fatalf("expected membership note, got %+v", note)
		}
		if note.Event == nil || note.Event.Kind != ContentMembership {
			t.Errorf("membership note missing timeline entry: %+v", note)
		}
	})

	t.Run("room name", func(t *testing.T) {
		evt := rawEvent(event.StateRoomName, &event.RoomNameEventContent{Name: "General"})
		note, ok := translateEvent(evt)
		if !ok || note.Kind != noteRoomName || note.Body != "General" {
			t.Fatalf("expected room name note, got %+v", note)
		}
	})

	t.Run("verification request", func(t *testing.T) {
		evt := rawEvent(event.EventMessage, &event.MessageEventContent{
			MsgType: event.MsgVerificationRequest,
		})
		note, ok := translateEvent(evt)
		if !ok || note.Kind != noteVerification {
			t.Fatalf("expected verification note, got %+v", note)
		}
	})

	t.Run("unknown msgtype skipped", func(t *testing.T) {
		evt := rawEvent(event.EventMessage, &event.MessageEventContent{
			MsgType: event.MessageType("m.bogus"),
		})
		if _, ok := translateEvent(evt); ok {
			t.Error("unknown msgtype should be skipped")
		}
	})
}

func TestApplySyncNote(t *testing.T) {
	t.Run("message creates room and marks unread", func(t *testing.T) {
		m := newTestModel(t)
		seedRoom(m, "!focused:example.org", "hi")

		ev := mkEvent(1)
		ev.RoomID = "!other:example.org"
		m.applySyncNote(SyncNote{
			Kind: noteMessage, RoomID: "!other:example.org",
			Event: ev, Timestamp: ev.Timestamp,
		})

		other := m.registry.Get("!other:example.org")
		if other == nil {
			t.Fatal("room not created")
		}
		if !other.Unread {
			t.Error("unfocused room not marked unread")
		}
		if f := m.registry.Focused(); f == nil || f.ID != "!focused:example.org" {
			t.Error("focus moved on background activity")
		}
	})

	t.Run("duplicate message absorbed", func(t *testing.T) {
		m := newTestModel(t)
		ev := mkEvent(0)
		note := SyncNote{Kind: noteMessage, RoomID: ev.RoomID, Event: ev, Timestamp: ev.Timestamp}
		m.applySyncNote(note)
		m.applySyncNote(note)
		if n := m.registry.Get(ev.RoomID).Store.Len(); n != 1 {
			t.Errorf("expected 1 event, got %d", n)
		}
	})

	t.Run("folds reach the store", func(t *testing.T) {
		m := newTestModel(t)
		ev := mkEvent(0)
		m.applySyncNote(SyncNote{Kind: noteMessage, RoomID: ev.RoomID, Event: ev, Timestamp: ev.Timestamp})
		m.applySyncNote(SyncNote{
			Kind: noteEdit, RoomID: ev.RoomID, TargetID: ev.ID,
			Sender: ev.Sender, Body: "edited", Timestamp: ev.Timestamp.Add(time.Second),
		})
		m.applySyncNote(SyncNote{
			Kind: noteReaction, RoomID: ev.RoomID, TargetID: ev.ID,
			Sender: "@bob:example.org", Body: "👍", Timestamp: ev.Timestamp.Add(2 * time.Second),
		})

		got := m.registry.Get(ev.RoomID).Store.At(0)
		if got.Body != "edited" || !got.Edited {
			t.Errorf("edit not folded: %+v", got)
		}
		if !got.HasReaction("@bob:example.org", "👍") {
			t.Error("reaction not folded")
		}
	})

	t.Run("own leave removes the room", func(t *testing.T) {
		m := newTestModel(t)
		seedRoom(m, "!a:example.org", "hi")
		m.applySyncNote(SyncNote{
			Kind: noteMembership, RoomID: "!a:example.org",
			Sender: m.client.UserID, Body: "leave",
			Event:     &Event{ID: "$leave", RoomID: "!a:example.org", Kind: ContentMembership},
			Timestamp: time.Now(),
		})
		if m.registry.Get("!a:example.org") != nil {
			t.Error("own leave did not remove the room")
		}
	})

	t.Run("foreign leave keeps the room", func(t *testing.T) {
		m := newTestModel(t)
		seedRoom(m, "!a:example.org", "hi")
		m.applySyncNote(SyncNote{
			Kind: noteMembership, RoomID: "!a:example.org",
			Sender: "@other:example.org", Body: "leave",
			Event:     &Event{ID: "$leave2", RoomID: "!a:example.org", Kind: ContentMembership, Body: "@other:example.org left"},
			Timestamp: time.Now(),
		})
		if m.registry.Get("!a:example.org") == nil {
			t.Error("foreign leave removed the room")
		}
	})

	t.Run("room name note renames", func(t *testing.T) {
		m := newTestModel(t)
		m.applySyncNote(SyncNote{Kind: noteRoomName, RoomID: "!a:example.org", Body: "General", Timestamp: time.Now()})
		if got := m.registry.Get("!a:example.org").DisplayName(); got != "General" {
			t.Errorf("expected 'General', got %q", got)
		}
	})

	t.Run("live search refreshes on new events", func(t *testing.T) {
		m := newTestModel(t)
		seedRoom(m, "!a:example.org", "foo one")
		m.handleKey(keyRunes("/"))
		for _, r := range "foo" {
			m.handleKey(keyRunes(string(r)))
		}
		if len(m.searchMatches) != 1 {
			t.Fatalf("expected 1 match, got %d", len(m.searchMatches))
		}

		ev := mkEvent(10)
		ev.RoomID = "!a:example.org"
		ev.Body = "foo two"
		m.applySyncNote(SyncNote{Kind: noteMessage, RoomID: ev.RoomID, Event: ev, Timestamp: ev.Timestamp})
		if len(m.searchMatches) != 2 {
			t.Errorf("live search not refreshed: %d matches", len(m.searchMatches))
		}
	})
}

func TestStartSyncFreshSyncerPerConnection(t *testing.T) {
	client, err := mautrix.NewClient("http://127.0.0.1:1", "@me:example.org", "syt_test")
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	first, ok := startSyncCmd(client)().(syncStartedMsg)
	if !ok {
		t.Fatal("expected syncStartedMsg")
	}
	defer first.cancel()
	installed := client.Syncer

	second, ok := startSyncCmd(client)().(syncStartedMsg)
	if !ok {
		t.Fatal("expected syncStartedMsg")
	}
	defer second.cancel()

	if client.Syncer == installed {
		t.Error("reconnect reused the previous syncer, handlers accumulate")
	}
}

func TestMembershipVerb(t *testing.T) {
	cases := map[event.Membership]string{
		event.MembershipJoin:   "joined",
		event.MembershipLeave:  "left",
		event.MembershipInvite: "was invited",
		event.MembershipBan:    "was banned",
		event.Membership("knock"): "knock",
	}
	for membership, want := range cases {
		if got := membershipVerb(membership); got != want {
			t.Errorf("membershipVerb(%q) = %q, want %q", membership, got, want)
		}
	}
}
