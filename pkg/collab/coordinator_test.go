package collab

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/pkg/config"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
)

func testCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	store.ResetSubscribers()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		store.ResetSubscribers()
		_ = store.Close()
	})
	return NewCoordinator(config.CollabConfig{SignalAddr: "ws://relay.invalid"}, nil)
}

// puts the coordinator in the state a collaborator is in right after
// Join returned: transport assumed up, bootstrap snapshot not yet seen.
func asCollaborator(c *Coordinator, permission string) {
	c.mu.Lock()
	c.doc = NewDoc()
	c.session = models.Session{
		RoomID:        "collab-room",
		ParticipantID: "p-b",
		Role:          models.RoleCollaborator,
		Permission:    permission,
	}
	c.state = SessionBootstrapping
	c.mu.Unlock()
	atomic.StoreInt32(&c.bootstrapped, 0)
}

func leaderSnapshotFrame(t *testing.T, snap models.Snapshot, permission string) Frame {
	t.Helper()
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return Frame{Type: FrameSnapshot, From: "p-leader", Payload: payload, Permission: permission}
}

func TestBootstrapAppliesLeaderSnapshot(t *testing.T) {
	c := testCoordinator(t)
	asCollaborator(c, models.PermissionEdit)

	// a record the collaborator already had must survive the bootstrap
	if err := store.SaveChat(models.Chat{ID: "mine", Title: "local", UpdatedTS: 5}, store.OriginLocal); err != nil {
		t.Fatalf("save local chat: %v", err)
	}

	snap := models.Snapshot{
		Chats: []models.Chat{
			{ID: "c1", Title: "one", UpdatedTS: 1},
			{ID: "c2", Title: "two", UpdatedTS: 2},
			{ID: "c3", Title: "three", UpdatedTS: 3},
		},
		MessagesByChat: map[string][]models.Message{
			"c1": {{ID: "m1", ChatID: "c1", Content: "hello", TS: 1}},
		},
		Artifacts: []models.Artifact{{ID: "a1", ChatID: "c1", UpdatedTS: 1}},
	}
	c.onSnapshot(leaderSnapshotFrame(t, snap, ""))

	for _, id := range []string{"c1", "c2", "c3", "mine"} {
		if _, err := store.GetChat(id); err != nil {
			t.Fatalf("chat %s missing after bootstrap: %v", id, err)
		}
	}
	msgs, err := store.ListMessages("c1")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected leader's message applied, got %d %v", len(msgs), err)
	}
	if _, err := store.GetArtifact("a1"); err != nil {
		t.Fatalf("artifact missing after bootstrap: %v", err)
	}
	if atomic.LoadInt32(&c.bootstrapped) != 1 {
		t.Fatalf("bootstrap latch must be set after the first snapshot")
	}

	// the relay redelivers: applying the same snapshot again must not
	// duplicate anything
	c.onSnapshot(leaderSnapshotFrame(t, snap, ""))
	msgs, _ = store.ListMessages("c1")
	if len(msgs) != 1 {
		t.Fatalf("snapshot redelivery duplicated messages: %d", len(msgs))
	}
}

func TestBootstrapAdoptsLeaderPermission(t *testing.T) {
	c := testCoordinator(t)
	asCollaborator(c, models.PermissionEdit)

	snap := models.Snapshot{Chats: []models.Chat{{ID: "c1", UpdatedTS: 1}}}
	c.onSnapshot(leaderSnapshotFrame(t, snap, models.PermissionView))

	sess, err := c.Session()
	if err == nil {
		t.Fatalf("Session without a provider should fail, got %+v", sess)
	}
	c.mu.Lock()
	got := c.session.Permission
	c.mu.Unlock()
	if got != models.PermissionView {
		t.Fatalf("collaborator must adopt the leader's permission, got %q", got)
	}
	marker, err := store.GetSessionMarker()
	if err != nil {
		t.Fatalf("session marker: %v", err)
	}
	if marker.Permission != models.PermissionView {
		t.Fatalf("marker permission: %q", marker.Permission)
	}
}

func TestLeaderKeepsOwnPermission(t *testing.T) {
	c := testCoordinator(t)
	c.mu.Lock()
	c.session = models.Session{RoomID: "collab-room", Role: models.RoleLeader, Permission: models.PermissionEdit}
	c.mu.Unlock()

	c.adoptPermission(models.PermissionView)
	c.mu.Lock()
	got := c.session.Permission
	c.mu.Unlock()
	if got != models.PermissionEdit {
		t.Fatalf("a leader never adopts a permission, got %q", got)
	}
}

func TestLocalAppendHeldUntilPeerJoins(t *testing.T) {
	c := testCoordinator(t)

	provider := NewProvider(ProviderOptions{
		SignalAddr:       "ws://relay.invalid",
		Room:             "collab-room",
		Participant:      "p-a",
		OutboundCapacity: 8,
		FlushStagger:     time.Millisecond,
	}, c.handleFrame)
	c.mu.Lock()
	c.doc = NewDoc()
	c.provider = provider
	c.session = models.Session{RoomID: "collab-room", ParticipantID: "p-a", Role: models.RoleLeader, Permission: models.PermissionEdit}
	c.mu.Unlock()
	atomic.StoreInt32(&c.bootstrapped, 1)

	payload, _ := json.Marshal(models.Message{ID: "m1", ChatID: "c1", Content: "hi", TS: 1})
	c.handleStoreEvent(store.Event{
		Entity: store.EntityMessage, Type: store.ChangePut,
		Origin: store.OriginLocal, ID: "m1", ChatID: "c1", Payload: payload,
	})

	if len(provider.out) != 0 {
		t.Fatalf("append with no peers must not hit the transport")
	}
	if provider.HeldCount() != 1 {
		t.Fatalf("expected the append held, got %d", provider.HeldCount())
	}

	provider.dispatch(Frame{Type: FramePresence, From: "relay", Peers: 2})
	frames := drainOut(t, provider, 1)
	if frames[0].Type != FrameAppend || frames[0].Entity != EntityMessage {
		t.Fatalf("unexpected released frame: %+v", frames[0])
	}
	var released models.Message
	if err := json.Unmarshal(frames[0].Payload, &released); err != nil || released.ID != "m1" {
		t.Fatalf("released payload: %v %+v", err, released)
	}
}

func TestViewCollaboratorDoesNotBroadcastLocalEdits(t *testing.T) {
	c := testCoordinator(t)

	provider := NewProvider(ProviderOptions{
		SignalAddr:       "ws://relay.invalid",
		Room:             "collab-room",
		Participant:      "p-b",
		OutboundCapacity: 8,
	}, c.handleFrame)
	c.mu.Lock()
	c.doc = NewDoc()
	c.provider = provider
	c.session = models.Session{RoomID: "collab-room", ParticipantID: "p-b", Role: models.RoleCollaborator, Permission: models.PermissionView}
	c.mu.Unlock()
	atomic.StoreInt32(&c.bootstrapped, 1)
	provider.dispatch(Frame{Type: FramePresence, From: "relay", Peers: 2})

	payload, _ := json.Marshal(models.Message{ID: "m1", ChatID: "c1", TS: 1})
	c.handleStoreEvent(store.Event{
		Entity: store.EntityMessage, Type: store.ChangePut,
		Origin: store.OriginLocal, ID: "m1", ChatID: "c1", Payload: payload,
	})
	if len(provider.out) != 0 || provider.HeldCount() != 0 {
		t.Fatalf("view-permission local edits must stay local")
	}
}
