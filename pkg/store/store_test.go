package store

import (
	"errors"
	"testing"

	"chatsync/pkg/models"
)

func openTestStore(t *testing.T) {
	t.Helper()
	ResetSubscribers()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		ResetSubscribers()
		if err := Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
}

func TestSaveAndGetChat(t *testing.T) {
	openTestStore(t)

	chat := models.Chat{ID: "c1", Title: "hello", CreatedTS: 1, UpdatedTS: 1}
	if err := SaveChat(chat, OriginLocal); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	got, err := GetChat("c1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if got.Title != "hello" {
		t.Fatalf("expected title hello, got %q", got.Title)
	}

	if _, err := GetChat("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveMessageDuplicate(t *testing.T) {
	openTestStore(t)

	msg := models.Message{ID: "m1", ChatID: "c1", Role: models.RoleUser, Content: "hi", TS: 10}
	if err := SaveMessage(msg, OriginLocal); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if err := SaveMessage(msg, OriginLocal); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if !HasMessage("m1") {
		t.Fatalf("expected message index hit")
	}

	msgs, err := ListMessages("c1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestSaveMessageRequiresChatID(t *testing.T) {
	openTestStore(t)

	if err := SaveMessage(models.Message{ID: "m1"}, OriginLocal); err == nil {
		t.Fatalf("expected error for message without chat id")
	}
}

func TestMessageOrdering(t *testing.T) {
	openTestStore(t)

	for i, id := range []string{"m1", "m2", "m3"} {
		msg := models.Message{ID: id, ChatID: "c1", TS: int64(100 + i)}
		if err := SaveMessage(msg, OriginLocal); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	msgs, err := ListMessages("c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Fatalf("position %d: got %s want %s", i, msgs[i].ID, want)
		}
	}
}

func TestDeleteChatCascades(t *testing.T) {
	openTestStore(t)

	if err := SaveChat(models.Chat{ID: "c1", UpdatedTS: 1}, OriginLocal); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	if err := SaveMessage(models.Message{ID: "m1", ChatID: "c1", TS: 1}, OriginLocal); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if err := SaveArtifact(models.Artifact{ID: "a1", ChatID: "c1", UpdatedTS: 1}, OriginLocal); err != nil {
		t.Fatalf("save artifact: %v", err)
	}

	if err := DeleteChat("c1", OriginLocal); err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	if _, err := GetChat("c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("chat should be gone, got %v", err)
	}
	if HasMessage("m1") {
		t.Fatalf("message index entry should be gone")
	}
	if _, err := GetArtifact("a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("artifact should be gone, got %v", err)
	}
}

func TestSoftDeleteChat(t *testing.T) {
	openTestStore(t)

	if err := SaveChat(models.Chat{ID: "c1", UpdatedTS: 1}, OriginLocal); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	if err := SoftDeleteChat("c1", OriginLocal); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, err := GetChat("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Deleted || got.DeletedTS == 0 {
		t.Fatalf("expected deletion marker, got %+v", got)
	}
}

func TestEventsCarryOrigin(t *testing.T) {
	openTestStore(t)

	var events []Event
	Subscribe(func(ev Event) { events = append(events, ev) })

	if err := SaveChat(models.Chat{ID: "c1"}, OriginRemote); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	if err := SaveMessage(models.Message{ID: "m1", ChatID: "c1"}, OriginPeer); err != nil {
		t.Fatalf("save message: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Origin != OriginRemote || events[0].Entity != EntityChat {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Origin != OriginPeer || events[1].ChatID != "c1" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestPreferencesAndActiveChatProduceNoEvents(t *testing.T) {
	openTestStore(t)

	var count int
	Subscribe(func(Event) { count++ })

	if err := SavePreferences(map[string]interface{}{"theme": "dark"}); err != nil {
		t.Fatalf("save prefs: %v", err)
	}
	if err := SetActiveChatID("c1"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if count != 0 {
		t.Fatalf("per-peer state must not publish events, got %d", count)
	}

	prefs, err := GetPreferences()
	if err != nil {
		t.Fatalf("get prefs: %v", err)
	}
	if prefs["theme"] != "dark" {
		t.Fatalf("unexpected prefs: %v", prefs)
	}
	active, err := GetActiveChatID()
	if err != nil || active != "c1" {
		t.Fatalf("active chat: %q %v", active, err)
	}
}

func TestSnapshotExcludesDeletedAndPerPeerState(t *testing.T) {
	openTestStore(t)

	if err := SaveChat(models.Chat{ID: "live", UpdatedTS: 1}, OriginLocal); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveChat(models.Chat{ID: "gone", UpdatedTS: 1, Deleted: true, DeletedTS: 1}, OriginLocal); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveMessage(models.Message{ID: "m1", ChatID: "live"}, OriginLocal); err != nil {
		t.Fatalf("save msg: %v", err)
	}
	if err := SavePreferences(map[string]interface{}{"theme": "dark"}); err != nil {
		t.Fatalf("save prefs: %v", err)
	}

	snap, err := Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Chats) != 1 || snap.Chats[0].ID != "live" {
		t.Fatalf("expected only the live chat, got %+v", snap.Chats)
	}
	if len(snap.MessagesByChat["live"]) != 1 {
		t.Fatalf("expected 1 message for live chat")
	}
}

func TestSessionMarkerLifecycle(t *testing.T) {
	openTestStore(t)

	if _, err := GetSessionMarker(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	sess := models.Session{RoomID: "collab-abc", Role: models.RoleLeader, Permission: models.PermissionEdit}
	if err := SaveSessionMarker(sess); err != nil {
		t.Fatalf("save marker: %v", err)
	}
	got, err := GetSessionMarker()
	if err != nil || got.RoomID != "collab-abc" {
		t.Fatalf("get marker: %+v %v", got, err)
	}
	if err := ClearSessionMarker(); err != nil {
		t.Fatalf("clear marker: %v", err)
	}
	if _, err := GetSessionMarker(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("marker should be gone, got %v", err)
	}
}

func TestAckCursor(t *testing.T) {
	openTestStore(t)

	cur, err := GetAckCursor()
	if err != nil || cur != -1 {
		t.Fatalf("expected unset cursor -1, got %d %v", cur, err)
	}
	if err := SetAckCursor(42); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	cur, err = GetAckCursor()
	if err != nil || cur != 42 {
		t.Fatalf("expected 42, got %d %v", cur, err)
	}
}
