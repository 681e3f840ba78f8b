package syncmgr

import (
	"testing"

	"chatsync/pkg/models"
	"chatsync/pkg/store"
)

func openSyncStore(t *testing.T) {
	t.Helper()
	store.ResetSubscribers()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		store.ResetSubscribers()
		_ = store.Close()
	})
}

func TestInitialSyncConvergesBothDirections(t *testing.T) {
	openSyncStore(t)

	// local-only records
	if err := store.SaveChat(models.Chat{ID: "c-local", Title: "local", CreatedTS: 1, UpdatedTS: 1}, store.OriginLocal); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	if err := store.SaveMessage(models.Message{ID: "m-local", ChatID: "c-local", TS: 1}, store.OriginLocal); err != nil {
		t.Fatalf("save message: %v", err)
	}

	up := &fakeUploader{snapshot: models.Snapshot{
		Chats: []models.Chat{{ID: "c-remote", Title: "remote", CreatedTS: 2, UpdatedTS: 2}},
		MessagesByChat: map[string][]models.Message{
			"c-remote": {{ID: "m-remote", ChatID: "c-remote", TS: 2}},
		},
		Artifacts: []models.Artifact{{ID: "a-remote", ChatID: "c-remote", UpdatedTS: 2}},
	}}
	m := newOnlineManager(t, up)

	if err := m.PerformInitialSync(); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	// remote-only records landed locally
	if _, err := store.GetChat("c-remote"); err != nil {
		t.Fatalf("remote chat not applied: %v", err)
	}
	if !store.HasMessage("m-remote") {
		t.Fatalf("remote message not applied")
	}
	if _, err := store.GetArtifact("a-remote"); err != nil {
		t.Fatalf("remote artifact not applied: %v", err)
	}

	// local-only records were queued, not uploaded inline
	chats, msgs := up.delivered()
	if chats != 0 || msgs != 0 {
		t.Fatalf("initial sync must queue uploads, got %d/%d inline", chats, msgs)
	}
	if m.QueueDepth() != 2 {
		t.Fatalf("expected local chat + message queued, got depth %d", m.QueueDepth())
	}
	m.FlushQueue()
	chats, msgs = up.delivered()
	if chats != 1 || msgs != 1 {
		t.Fatalf("expected local records delivered on flush, got %d/%d", chats, msgs)
	}
	if up.chats[0].ID != "c-local" || up.messages[0].ID != "m-local" {
		t.Fatalf("wrong records uploaded: %+v %+v", up.chats, up.messages)
	}
}

func TestInitialSyncMergesConflictingChat(t *testing.T) {
	openSyncStore(t)

	if err := store.SaveChat(models.Chat{ID: "c1", Title: "stale", CreatedTS: 1, UpdatedTS: 100}, store.OriginLocal); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	up := &fakeUploader{snapshot: models.Snapshot{
		Chats: []models.Chat{{ID: "c1", Title: "newer", CreatedTS: 5, UpdatedTS: 200}},
	}}
	m := newOnlineManager(t, up)

	if err := m.PerformInitialSync(); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	got, err := store.GetChat("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "newer" {
		t.Fatalf("newer remote write must win locally, got %q", got.Title)
	}
	if got.CreatedTS != 1 {
		t.Fatalf("earliest created ts must survive, got %d", got.CreatedTS)
	}
	// the merged record differs from the remote copy (created ts), so it
	// is uploaded back
	if m.QueueDepth() != 1 {
		t.Fatalf("expected merged chat queued for upload, got depth %d", m.QueueDepth())
	}
}

func TestInitialSyncIdenticalSetsAreQuiet(t *testing.T) {
	openSyncStore(t)

	chat := models.Chat{ID: "c1", Title: "same", CreatedTS: 1, UpdatedTS: 1}
	if err := store.SaveChat(chat, store.OriginLocal); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	up := &fakeUploader{snapshot: models.Snapshot{Chats: []models.Chat{chat}}}
	m := newOnlineManager(t, up)

	if err := m.PerformInitialSync(); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	if m.QueueDepth() != 0 {
		t.Fatalf("identical records must not re-upload, got depth %d", m.QueueDepth())
	}
}
