package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/merge"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/utils"
)

// SessionState is the coordinator's lifecycle state.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionCreating
	SessionJoining
	SessionBootstrapping
	SessionSynced
	SessionDisconnected
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionCreating:
		return "creating"
	case SessionJoining:
		return "joining"
	case SessionBootstrapping:
		return "bootstrapping"
	case SessionSynced:
		return "synced"
	case SessionDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("session(%d)", int(s))
}

// ErrSessionActive is returned when a session already exists.
var ErrSessionActive = errors.New("collaboration session already active")

// ErrNoSession is returned by session operations when no session exists.
var ErrNoSession = errors.New("no active collaboration session")

// SessionMirror is the slice of the remote client used for durable
// session records. Nil when running offline-only.
type SessionMirror interface {
	UserID() string
	SaveCollaboration(remote.CollaborationRow) error
	CloseCollaboration(roomID string) error
	SaveParticipant(remote.ParticipantRow) error
	DeactivateParticipant(collaborationID, participantID string) error
}

// Coordinator runs the peer collaboration session for this process: one
// session at a time, either as the leader that bootstraps joiners with
// its snapshot or as a collaborator that applies the leader's snapshot
// before contributing.
type Coordinator struct {
	cfg    config.CollabConfig
	mirror SessionMirror

	mu       sync.Mutex
	state    SessionState
	session  models.Session
	doc      *SharedDoc
	provider *Provider
	cancel   context.CancelFunc

	// bootstrapped latches once the initial snapshot has been applied
	// (leaders latch immediately; their store is the snapshot). Local
	// edits are not broadcast before the latch to keep the session
	// document's history rooted in the leader's snapshot.
	bootstrapped int32
}

// NewCoordinator builds an idle coordinator. mirror may be nil.
func NewCoordinator(cfg config.CollabConfig, mirror SessionMirror) *Coordinator {
	c := &Coordinator{cfg: cfg, mirror: mirror, state: SessionIdle}
	store.Subscribe(c.handleStoreEvent)
	return c
}

// State returns the session lifecycle state, resolving the transport's
// health for active sessions.
func (c *Coordinator) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveStateLocked()
}

func (c *Coordinator) resolveStateLocked() SessionState {
	if c.provider == nil {
		return c.state
	}
	if !c.provider.Connected() {
		return SessionDisconnected
	}
	if atomic.LoadInt32(&c.bootstrapped) == 0 {
		return SessionBootstrapping
	}
	return SessionSynced
}

// Session returns the active session marker.
func (c *Coordinator) Session() (models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == nil {
		return models.Session{}, ErrNoSession
	}
	return c.session, nil
}

// PeerCount returns the number of connected peers, zero when idle.
func (c *Coordinator) PeerCount() int {
	c.mu.Lock()
	p := c.provider
	c.mu.Unlock()
	if p == nil {
		return 0
	}
	return p.PeerCount()
}

// Transport exposes the live provider for the connection monitor. Nil
// when no session is active.
func (c *Coordinator) Transport() *Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// Create starts a session with this node as leader and returns the share
// link. The leader's snapshot is the session document's initial state;
// it is pushed when peers join.
func (c *Coordinator) Create(ctx context.Context, permission string) (string, error) {
	if permission == "" {
		permission = models.PermissionEdit
	}
	if !models.ValidPermission(permission) {
		return "", fmt.Errorf("invalid session permission %q", permission)
	}

	c.mu.Lock()
	if c.provider != nil {
		c.mu.Unlock()
		return "", ErrSessionActive
	}
	c.state = SessionCreating
	doc := NewDoc()
	sess := models.Session{
		RoomID:        utils.GenRoomID(),
		DocID:         doc.ID(),
		ParticipantID: utils.GenParticipantID(),
		Role:          models.RoleLeader,
		Permission:    permission,
		CreatedTS:     time.Now().UTC().UnixNano(),
	}
	c.mu.Unlock()

	link, err := BuildShareLink(sess.RoomID, permission)
	if err != nil {
		c.reset()
		return "", err
	}
	if err := c.start(ctx, sess, doc); err != nil {
		c.reset()
		return "", err
	}
	// the leader's own store is the bootstrap state
	atomic.StoreInt32(&c.bootstrapped, 1)

	if err := store.SaveSessionMarker(sess); err != nil {
		logger.Warn("session_marker_save_failed", "room", sess.RoomID, "error", err)
	}
	c.mirrorCreate(sess)
	logger.Info("session_created", "room", sess.RoomID, "permission", permission)
	return link, nil
}

// Join attaches this node to an existing session as a collaborator. The
// call returns once the transport is up; the snapshot bootstrap
// completes asynchronously and is nudged by a snapshot request if the
// leader's push does not arrive within the configured delay.
func (c *Coordinator) Join(ctx context.Context, link string) (models.Session, error) {
	parsed, err := ParseShareLink(link)
	if err != nil {
		return models.Session{}, err
	}

	c.mu.Lock()
	if c.provider != nil {
		c.mu.Unlock()
		return models.Session{}, ErrSessionActive
	}
	c.state = SessionJoining
	doc := NewDoc()
	sess := models.Session{
		RoomID:        parsed.RoomID,
		DocID:         doc.ID(),
		ParticipantID: utils.GenParticipantID(),
		Role:          models.RoleCollaborator,
		Permission:    parsed.Permission,
		CreatedTS:     time.Now().UTC().UnixNano(),
	}
	c.mu.Unlock()

	if err := c.start(ctx, sess, doc); err != nil {
		c.reset()
		return models.Session{}, err
	}
	atomic.StoreInt32(&c.bootstrapped, 0)
	go c.awaitBootstrap()

	if err := store.SaveSessionMarker(sess); err != nil {
		logger.Warn("session_marker_save_failed", "room", sess.RoomID, "error", err)
	}
	c.mirrorJoin(sess)
	logger.Info("session_joined", "room", sess.RoomID, "permission", sess.Permission)
	return sess, nil
}

// Leave tears the session down. The local store keeps everything applied
// during the session; only the session itself ends.
func (c *Coordinator) Leave() error {
	c.mu.Lock()
	if c.provider == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	sess := c.session
	provider := c.provider
	cancel := c.cancel
	c.provider = nil
	c.doc = nil
	c.cancel = nil
	c.state = SessionIdle
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	provider.Close()
	atomic.StoreInt32(&c.bootstrapped, 0)
	telemetry.SetPeerCount(0)

	if err := store.ClearSessionMarker(); err != nil {
		logger.Warn("session_marker_clear_failed", "room", sess.RoomID, "error", err)
	}
	c.mirrorLeave(sess)
	logger.Info("session_left", "room", sess.RoomID, "role", sess.Role)
	return nil
}

func (c *Coordinator) start(ctx context.Context, sess models.Session, doc *SharedDoc) error {
	if c.cfg.SignalAddr == "" {
		return fmt.Errorf("collaboration requires a signal relay address")
	}
	provider := NewProvider(ProviderOptions{
		SignalAddr:              c.cfg.SignalAddr,
		Room:                    sess.RoomID,
		Participant:             sess.ParticipantID,
		ReconnectDelay:          c.cfg.ReconnectDelay.Duration(),
		ImmediateReconnectDelay: c.cfg.ImmediateReconnectDelay.Duration(),
		OutboundCapacity:        c.cfg.OutboundCapacity,
		FlushStagger:            c.cfg.FlushStagger.Duration(),
	}, c.handleFrame)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	provider.Run(runCtx)

	c.mu.Lock()
	c.session = sess
	c.doc = doc
	c.provider = provider
	c.cancel = cancel
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) reset() {
	c.mu.Lock()
	c.state = SessionIdle
	c.doc = nil
	c.provider = nil
	c.cancel = nil
	c.mu.Unlock()
}

// awaitBootstrap nudges the leader with snapshot requests until the
// bootstrap snapshot lands. The wait itself is unbounded: a session with
// an unreachable leader stays in bootstrapping until the user leaves.
func (c *Coordinator) awaitBootstrap() {
	delay := c.cfg.SnapshotRequestDelay.Duration()
	for {
		time.Sleep(delay)
		if atomic.LoadInt32(&c.bootstrapped) == 1 {
			return
		}
		c.mu.Lock()
		p := c.provider
		c.mu.Unlock()
		if p == nil {
			return
		}
		logger.Debug("bootstrap_snapshot_requested")
		p.Send(Frame{Type: FrameSnapshotRequest})
	}
}

// --- frame handling ---

func (c *Coordinator) handleFrame(f Frame) {
	switch f.Type {
	case FrameJoin:
		c.onPeerJoin(f)
	case FrameSnapshotRequest:
		c.onSnapshotRequest()
	case FrameSnapshot:
		c.onSnapshot(f)
	case FrameAppend:
		c.onAppend(f)
	case FramePresence, FrameTouch:
		// presence is consumed by the provider; touch is a liveness probe
	default:
		logger.Debug("collab_frame_ignored", "type", f.Type)
	}
}

func (c *Coordinator) onPeerJoin(f Frame) {
	c.mu.Lock()
	isLeader := c.session.Role == models.RoleLeader
	c.mu.Unlock()
	logger.Info("peer_joined", "peer", f.From)
	if isLeader {
		c.pushSnapshot(false)
	}
}

func (c *Coordinator) onSnapshotRequest() {
	c.mu.Lock()
	isLeader := c.session.Role == models.RoleLeader
	c.mu.Unlock()
	if isLeader {
		// an explicit request means the requester is missing state, so
		// push even if the hash says nothing changed
		c.pushSnapshot(true)
	}
}

// pushSnapshot broadcasts the leader's full record set. The doc's
// snapshot hash suppresses identical re-pushes on repeated join events.
func (c *Coordinator) pushSnapshot(force bool) {
	snap, err := store.Snapshot()
	if err != nil {
		logger.Error("snapshot_build_failed", "error", err)
		return
	}
	c.mu.Lock()
	doc := c.doc
	provider := c.provider
	permission := c.session.Permission
	c.mu.Unlock()
	if doc == nil || provider == nil {
		return
	}
	hash := merge.SnapshotHash(snap)
	if !doc.MarkSnapshot(hash) && !force {
		logger.Debug("snapshot_push_skipped_unchanged")
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		logger.Error("snapshot_marshal_failed", "error", err)
		return
	}
	provider.Send(Frame{Type: FrameSnapshot, Payload: payload, Permission: permission})
	telemetry.SnapshotsPushed.Inc()
	chats, msgs, arts := snap.Counts()
	logger.Info("snapshot_pushed", "chats", chats, "messages", msgs, "artifacts", arts)
}

// onSnapshot applies a bootstrap snapshot. Snapshot apply is a merge,
// not a replace: records the local store already holds survive, so a
// late or duplicate snapshot cannot destroy local state.
func (c *Coordinator) onSnapshot(f Frame) {
	var snap models.Snapshot
	if err := json.Unmarshal(f.Payload, &snap); err != nil {
		logger.Warn("snapshot_invalid", "from", f.From, "error", err)
		return
	}
	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()
	if doc == nil {
		return
	}
	doc.MarkSnapshot(merge.SnapshotHash(snap))
	c.adoptPermission(f.Permission)

	applied := 0
	for _, chat := range snap.Chats {
		if !doc.MarkChat(chat.ID, chat.UpdatedTS) {
			continue
		}
		if c.applyChat(chat) {
			applied++
		}
	}
	for _, msgs := range snap.MessagesByChat {
		for _, msg := range msgs {
			if !doc.MarkMessage(msg.ID) {
				continue
			}
			if c.applyMessage(msg) {
				applied++
			}
		}
	}
	for _, art := range snap.Artifacts {
		if !doc.MarkArtifact(art.ID, art.UpdatedTS) {
			continue
		}
		if c.applyArtifact(art) {
			applied++
		}
	}

	first := atomic.CompareAndSwapInt32(&c.bootstrapped, 0, 1)
	logger.Info("snapshot_applied", "from", f.From, "records", applied, "bootstrap", first)
}

// adoptPermission applies the permission level the leader carried on its
// snapshot frame. The share link seeds the permission; the leader's
// replicated copy is authoritative over it.
func (c *Coordinator) adoptPermission(permission string) {
	if permission == "" || !models.ValidPermission(permission) {
		return
	}
	c.mu.Lock()
	if c.session.Role != models.RoleCollaborator || c.session.Permission == permission {
		c.mu.Unlock()
		return
	}
	old := c.session.Permission
	c.session.Permission = permission
	sess := c.session
	c.mu.Unlock()

	if err := store.SaveSessionMarker(sess); err != nil {
		logger.Warn("session_marker_save_failed", "room", sess.RoomID, "error", err)
	}
	logger.Info("session_permission_adopted", "from", old, "to", permission)
}

func (c *Coordinator) onAppend(f Frame) {
	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()
	if doc == nil {
		return
	}
	switch f.Entity {
	case EntityChat:
		var chat models.Chat
		if err := json.Unmarshal(f.Payload, &chat); err != nil || chat.ID == "" {
			logger.Warn("peer_chat_invalid", "from", f.From, "error", err)
			return
		}
		if doc.MarkChat(chat.ID, chat.UpdatedTS) {
			c.applyChat(chat)
		}
	case EntityMessage:
		var msg models.Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil || msg.ID == "" {
			logger.Warn("peer_message_invalid", "from", f.From, "error", err)
			return
		}
		if msg.ChatID == "" {
			logger.Warn("peer_message_missing_chat", "from", f.From, "message", msg.ID)
			return
		}
		if doc.MarkMessage(msg.ID) {
			c.applyMessage(msg)
		}
	case EntityArtifact:
		var art models.Artifact
		if err := json.Unmarshal(f.Payload, &art); err != nil || art.ID == "" {
			logger.Warn("peer_artifact_invalid", "from", f.From, "error", err)
			return
		}
		if doc.MarkArtifact(art.ID, art.UpdatedTS) {
			c.applyArtifact(art)
		}
	default:
		logger.Debug("peer_append_ignored", "entity", f.Entity)
	}
}

// apply helpers write peer records with peer origin so the store
// subscription neither re-broadcasts them into the session nor uploads
// them; peer records reach the remote database only through a later
// initial sync pass on whichever member holds a remote connection.

func (c *Coordinator) applyChat(incoming models.Chat) bool {
	local, err := store.GetChat(incoming.ID)
	if err == nil {
		incoming = merge.Chat(local, incoming)
		if incoming == local {
			return false
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("peer_chat_lookup_failed", "chat", incoming.ID, "error", err)
		return false
	}
	if err := store.SaveChat(incoming, store.OriginPeer); err != nil {
		logger.Warn("peer_chat_apply_failed", "chat", incoming.ID, "error", err)
		return false
	}
	return true
}

func (c *Coordinator) applyMessage(msg models.Message) bool {
	err := store.SaveMessage(msg, store.OriginPeer)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false
		}
		logger.Warn("peer_message_apply_failed", "message", msg.ID, "error", err)
		return false
	}
	return true
}

func (c *Coordinator) applyArtifact(incoming models.Artifact) bool {
	local, err := store.GetArtifact(incoming.ID)
	if err == nil {
		merged, changed := merge.Artifact(local, incoming)
		if !changed {
			return false
		}
		incoming = merged
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Warn("peer_artifact_lookup_failed", "artifact", incoming.ID, "error", err)
		return false
	}
	if err := store.SaveArtifact(incoming, store.OriginPeer); err != nil {
		logger.Warn("peer_artifact_apply_failed", "artifact", incoming.ID, "error", err)
		return false
	}
	return true
}

// handleStoreEvent broadcasts local mutations into the session.
// Remote-origin writes also go out: peers without their own remote
// connection rely on session members relaying remote changes. Peer-origin
// writes never re-enter the session; the relay already delivered them to
// everyone.
func (c *Coordinator) handleStoreEvent(ev store.Event) {
	if ev.Origin == store.OriginPeer {
		return
	}
	if ev.Type != store.ChangePut {
		return
	}

	c.mu.Lock()
	provider := c.provider
	doc := c.doc
	sess := c.session
	c.mu.Unlock()
	if provider == nil || doc == nil {
		return
	}
	if atomic.LoadInt32(&c.bootstrapped) == 0 {
		return
	}
	// view permission is advisory but honored locally
	if sess.Role == models.RoleCollaborator && sess.Permission == models.PermissionView && ev.Origin == store.OriginLocal {
		return
	}

	var entity string
	switch ev.Entity {
	case store.EntityChat:
		entity = EntityChat
		var chat models.Chat
		if err := json.Unmarshal(ev.Payload, &chat); err == nil {
			doc.MarkChat(chat.ID, chat.UpdatedTS)
		}
	case store.EntityMessage:
		entity = EntityMessage
		doc.MarkMessage(ev.ID)
	case store.EntityArtifact:
		entity = EntityArtifact
		var art models.Artifact
		if err := json.Unmarshal(ev.Payload, &art); err == nil {
			doc.MarkArtifact(art.ID, art.UpdatedTS)
		}
	default:
		return
	}
	provider.Send(Frame{Type: FrameAppend, Entity: entity, Payload: ev.Payload})
}

// --- remote session mirroring ---

func (c *Coordinator) mirrorCreate(sess models.Session) {
	if c.mirror == nil {
		return
	}
	row := remote.CollaborationRow{
		ID:           sess.RoomID,
		RoomID:       sess.RoomID,
		DocID:        sess.DocID,
		LeaderUserID: c.mirror.UserID(),
		Permissions:  sess.Permission,
		Status:       "active",
		CreatedAt:    time.Unix(0, sess.CreatedTS),
	}
	if err := c.mirror.SaveCollaboration(row); err != nil {
		logger.Warn("session_mirror_failed", "room", sess.RoomID, "error", err)
		return
	}
	c.mirrorJoin(sess)
}

func (c *Coordinator) mirrorJoin(sess models.Session) {
	if c.mirror == nil {
		return
	}
	row := remote.ParticipantRow{
		CollaborationID: sess.RoomID,
		ParticipantID:   sess.ParticipantID,
		PeerID:          c.mirror.UserID(),
		Permissions:     sess.Permission,
		IsActive:        true,
	}
	if err := c.mirror.SaveParticipant(row); err != nil {
		logger.Warn("participant_mirror_failed", "room", sess.RoomID, "error", err)
	}
}

func (c *Coordinator) mirrorLeave(sess models.Session) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.DeactivateParticipant(sess.RoomID, sess.ParticipantID); err != nil {
		logger.Warn("participant_deactivate_failed", "room", sess.RoomID, "error", err)
	}
	if sess.Role == models.RoleLeader {
		if err := c.mirror.CloseCollaboration(sess.RoomID); err != nil {
			logger.Warn("session_close_failed", "room", sess.RoomID, "error", err)
		}
	}
}
