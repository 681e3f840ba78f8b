package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"

	"github.com/cockroachdb/pebble"
)

var (
	db     *pebble.DB
	dbPath string
)

// seq provides a small counter to reduce key collisions when multiple
// messages share the same nanosecond timestamp.
var seq uint64

// Key namespaces:
//
//	chat:<id>:meta                 chat metadata JSON
//	chat:<id>:msg:<ts20>-<seq6>    message JSON, ordered by insertion
//	msgid:<message_id>             idempotency index -> message JSON
//	artifact:<id>                  artifact JSON
//	prefs:local                    per-peer preferences JSON
//	active:chat                    active-chat pointer
//	session:current                collaboration session marker JSON
//	sync:ack                       queue flush cursor
const (
	prefsKey      = "prefs:local"
	activeChatKey = "active:chat"
	sessionKey    = "session:current"
	ackCursorKey  = "sync:ack"
)

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	dbPath = ""
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func chatMetaKey(chatID string) []byte {
	return []byte("chat:" + chatID + ":meta")
}

func msgIndexKey(msgID string) []byte {
	return []byte("msgid:" + msgID)
}

func artifactKey(id string) []byte {
	return []byte("artifact:" + id)
}

// SaveChat writes chat metadata and publishes a change event tagged with
// the mutation's origin so sync subscribers can ignore their own writes.
func SaveChat(chat models.Chat, origin Origin) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if chat.ID == "" {
		return fmt.Errorf("chat id required")
	}
	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}
	if err := db.Set(chatMetaKey(chat.ID), data, pebble.Sync); err != nil {
		logger.Error("save_chat_failed", "chat", chat.ID, "error", err)
		return err
	}
	logger.Debug("chat_saved", "chat", chat.ID, "origin", string(origin))
	publish(Event{Entity: EntityChat, Type: ChangePut, Origin: origin, ID: chat.ID, Payload: data})
	return nil
}

// GetChat returns the chat metadata for the given ID, or ErrNotFound.
func GetChat(chatID string) (models.Chat, error) {
	var chat models.Chat
	if db == nil {
		return chat, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(chatMetaKey(chatID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return chat, ErrNotFound
		}
		return chat, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &chat); err != nil {
		return chat, fmt.Errorf("invalid chat metadata: %w", err)
	}
	return chat, nil
}

// ListChats returns all chat metadata records, including soft-deleted ones.
func ListChats() ([]models.Chat, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("chat:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Chat
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var c models.Chat
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			logger.Warn("list_chats_invalid_json", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// SaveMessage appends a message to its chat under a sortable timestamp
// key and indexes it by its idempotency key. A message whose ID already
// exists is not rewritten; ErrDuplicate is returned so callers can treat
// the append as already delivered.
func SaveMessage(msg models.Message, origin Origin) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if msg.ID == "" {
		return fmt.Errorf("message id required")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("message %s missing chat id", msg.ID)
	}
	if HasMessage(msg.ID) {
		return ErrDuplicate
	}

	ts := msg.TS
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	s := atomic.AddUint64(&seq, 1)
	key := fmt.Sprintf("chat:%s:msg:%020d-%06d", msg.ChatID, ts, s)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "chat", msg.ChatID, "key", key, "error", err)
		return err
	}
	if err := db.Set(msgIndexKey(msg.ID), data, pebble.Sync); err != nil {
		logger.Error("save_message_index_failed", "msg_id", msg.ID, "error", err)
		return err
	}
	logger.Debug("message_saved", "chat", msg.ChatID, "msg_id", msg.ID, "origin", string(origin))
	publish(Event{Entity: EntityMessage, Type: ChangePut, Origin: origin, ID: msg.ID, ChatID: msg.ChatID, Payload: data})
	return nil
}

// HasMessage reports whether a message with the given idempotency key is
// already stored.
func HasMessage(msgID string) bool {
	if db == nil {
		return false
	}
	_, closer, err := db.Get(msgIndexKey(msgID))
	if err != nil {
		return false
	}
	closer.Close()
	return true
}

// GetMessage returns the stored message for the given idempotency key.
func GetMessage(msgID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(msgIndexKey(msgID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return m, ErrNotFound
		}
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

// ListMessages returns all messages for a chat in insertion order.
func ListMessages(chatID string, limit ...int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("chat:" + chatID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	max := -1
	if len(limit) > 0 {
		max = limit[0]
	}
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("list_messages_invalid_json", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, iter.Error()
}

// SaveArtifact writes an artifact record and publishes a change event.
func SaveArtifact(a models.Artifact, origin Origin) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if a.ID == "" {
		return fmt.Errorf("artifact id required")
	}
	if a.ChatID == "" {
		return fmt.Errorf("artifact %s missing chat id", a.ID)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := db.Set(artifactKey(a.ID), data, pebble.Sync); err != nil {
		logger.Error("save_artifact_failed", "artifact", a.ID, "error", err)
		return err
	}
	logger.Debug("artifact_saved", "artifact", a.ID, "origin", string(origin))
	publish(Event{Entity: EntityArtifact, Type: ChangePut, Origin: origin, ID: a.ID, ChatID: a.ChatID, Payload: data})
	return nil
}

// GetArtifact returns the artifact for the given ID, or ErrNotFound.
func GetArtifact(id string) (models.Artifact, error) {
	var a models.Artifact
	if db == nil {
		return a, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(artifactKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return a, ErrNotFound
		}
		return a, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &a); err != nil {
		return a, fmt.Errorf("invalid artifact JSON: %w", err)
	}
	return a, nil
}

// ListArtifacts returns all artifact records.
func ListArtifacts() ([]models.Artifact, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("artifact:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Artifact
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var a models.Artifact
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			logger.Warn("list_artifacts_invalid_json", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, iter.Error()
}

// ListArtifactsByChat returns all artifacts attached to the given chat.
func ListArtifactsByChat(chatID string) ([]models.Artifact, error) {
	all, err := ListArtifacts()
	if err != nil {
		return nil, err
	}
	var out []models.Artifact
	for _, a := range all {
		if a.ChatID == chatID {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteArtifact removes an artifact. Deleting a missing artifact is a
// no-op.
func DeleteArtifact(id string, origin Origin) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := db.Delete(artifactKey(id), pebble.Sync); err != nil {
		return err
	}
	publish(Event{Entity: EntityArtifact, Type: ChangeDelete, Origin: origin, ID: id})
	return nil
}

// SoftDeleteChat marks the chat as deleted without removing its records.
// The permanent purge happens later in the retention runner.
func SoftDeleteChat(chatID string, origin Origin) error {
	chat, err := GetChat(chatID)
	if err != nil {
		return err
	}
	chat.Deleted = true
	chat.DeletedTS = time.Now().UTC().UnixNano()
	return SaveChat(chat, origin)
}

// DeleteChat removes the chat, all its messages (and their idempotency
// index entries) and all its artifacts. Deleting a chat that does not
// exist locally is a no-op.
func DeleteChat(chatID string, origin Origin) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	msgs, err := ListMessages(chatID)
	if err != nil {
		return err
	}
	arts, err := ListArtifactsByChat(chatID)
	if err != nil {
		return err
	}

	wb := db.NewBatch()
	defer wb.Close()
	for _, m := range msgs {
		_ = wb.Delete(msgIndexKey(m.ID), nil)
	}
	prefix := []byte("chat:" + chatID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		k := append([]byte(nil), iter.Key()...)
		_ = wb.Delete(k, nil)
	}
	if err := iter.Close(); err != nil {
		return err
	}
	for _, a := range arts {
		_ = wb.Delete(artifactKey(a.ID), nil)
	}
	if err := db.Apply(wb, pebble.Sync); err != nil {
		logger.Error("delete_chat_failed", "chat", chatID, "error", err)
		return err
	}
	logger.Info("chat_deleted", "chat", chatID, "messages", len(msgs), "artifacts", len(arts))
	publish(Event{Entity: EntityChat, Type: ChangeDelete, Origin: origin, ID: chatID})
	return nil
}

// GetPreferences returns the per-peer preferences map. A missing record
// yields an empty map.
func GetPreferences() (map[string]interface{}, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(prefsKey))
	if err != nil {
		if err == pebble.ErrNotFound {
			return map[string]interface{}{}, nil
		}
		return nil, err
	}
	defer closer.Close()
	out := map[string]interface{}{}
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, fmt.Errorf("invalid preferences JSON: %w", err)
	}
	return out, nil
}

// SavePreferences stores the per-peer preferences map. Preferences are
// never replicated, so no change event is published.
func SavePreferences(prefs map[string]interface{}) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	return db.Set([]byte(prefsKey), data, pebble.Sync)
}

// GetActiveChatID returns the per-peer active-chat pointer ("" if unset).
func GetActiveChatID() (string, error) {
	if db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(activeChatKey))
	if err != nil {
		if err == pebble.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// SetActiveChatID stores the per-peer active-chat pointer. Like
// preferences, it never leaves this peer.
func SetActiveChatID(chatID string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set([]byte(activeChatKey), []byte(chatID), pebble.Sync)
}

// SaveSessionMarker persists the durable collaboration session marker.
func SaveSessionMarker(s models.Session) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return db.Set([]byte(sessionKey), data, pebble.Sync)
}

// GetSessionMarker returns the persisted session marker, or ErrNotFound.
func GetSessionMarker() (models.Session, error) {
	var s models.Session
	if db == nil {
		return s, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(sessionKey))
	if err != nil {
		if err == pebble.ErrNotFound {
			return s, ErrNotFound
		}
		return s, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &s); err != nil {
		return s, fmt.Errorf("invalid session JSON: %w", err)
	}
	return s, nil
}

// ClearSessionMarker removes the persisted session marker.
func ClearSessionMarker() error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Delete([]byte(sessionKey), pebble.Sync)
}

// GetAckCursor returns the persisted queue flush cursor (-1 when unset).
func GetAckCursor() (int64, error) {
	if db == nil {
		return -1, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(ackCursorKey))
	if err != nil {
		if err == pebble.ErrNotFound {
			return -1, nil
		}
		return -1, err
	}
	defer closer.Close()
	var cur int64
	if err := json.Unmarshal(v, &cur); err != nil {
		return -1, fmt.Errorf("invalid ack cursor: %w", err)
	}
	return cur, nil
}

// SetAckCursor persists the queue flush cursor.
func SetAckCursor(offset int64) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, _ := json.Marshal(offset)
	return db.Set([]byte(ackCursorKey), data, pebble.Sync)
}

// Snapshot builds the full local record set shared during leader
// bootstrap and initial sync. Soft-deleted chats are excluded;
// preferences and the active-chat pointer are deliberately absent.
func Snapshot() (models.Snapshot, error) {
	var snap models.Snapshot
	chats, err := ListChats()
	if err != nil {
		return snap, err
	}
	snap.MessagesByChat = map[string][]models.Message{}
	for _, c := range chats {
		if c.Deleted {
			continue
		}
		snap.Chats = append(snap.Chats, c)
		msgs, err := ListMessages(c.ID)
		if err != nil {
			return snap, err
		}
		if len(msgs) > 0 {
			snap.MessagesByChat[c.ID] = msgs
		}
	}
	arts, err := ListArtifacts()
	if err != nil {
		return snap, err
	}
	snap.Artifacts = arts
	return snap, nil
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if prefix == "" {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, string(iter.Key()))
		}
		return out, iter.Error()
	}
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// GetKey returns the raw value for the given key.
func GetKey(key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// DBSet writes a raw key (bytes) into the DB. Low-level helper used by
// admin utilities and tests.
func DBSet(key, value []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set(key, value, pebble.Sync)
}
