// Package collab implements the peer collaboration session: a replicated
// session document bootstrapped by the leader's snapshot, a relay
// transport for frame exchange, and the coordinator that ties both to
// the local store.
package collab

import (
	"sync"

	"chatsync/pkg/utils"
)

// SharedDoc tracks what this peer has already applied to the session
// document. Frame delivery is at-least-once (the relay echoes, and
// reconnects can replay), so every apply goes through the doc's marks to
// stay idempotent.
type SharedDoc struct {
	mu sync.Mutex

	id           string
	seenMessages map[string]struct{}
	chatTS       map[string]int64
	artifactTS   map[string]int64
	snapshotHash string
}

// NewDoc creates an empty session document.
func NewDoc() *SharedDoc {
	return &SharedDoc{
		id:           utils.GenDocID(),
		seenMessages: make(map[string]struct{}),
		chatTS:       make(map[string]int64),
		artifactTS:   make(map[string]int64),
	}
}

// ID returns the document's identity for the session marker.
func (d *SharedDoc) ID() string { return d.id }

// MarkMessage records a message key; returns false if it was already
// applied.
func (d *SharedDoc) MarkMessage(msgID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seenMessages[msgID]; ok {
		return false
	}
	d.seenMessages[msgID] = struct{}{}
	return true
}

// MarkChat records a chat update; returns false when the doc already
// holds a copy at least as new.
func (d *SharedDoc) MarkChat(chatID string, updatedTS int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.chatTS[chatID]; ok && ts >= updatedTS {
		return false
	}
	d.chatTS[chatID] = updatedTS
	return true
}

// MarkArtifact records an artifact update; returns false when the doc
// already holds a copy at least as new.
func (d *SharedDoc) MarkArtifact(id string, updatedTS int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.artifactTS[id]; ok && ts >= updatedTS {
		return false
	}
	d.artifactTS[id] = updatedTS
	return true
}

// MarkSnapshot records the hash of the last snapshot this peer pushed or
// applied; returns false when the hash is unchanged, which the leader
// uses to skip re-pushing an identical snapshot on repeated joins.
func (d *SharedDoc) MarkSnapshot(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.snapshotHash == hash {
		return false
	}
	d.snapshotHash = hash
	return true
}

// Counts reports how many distinct records the doc has seen.
func (d *SharedDoc) Counts() (chats, messages, artifacts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chatTS), len(d.seenMessages), len(d.artifactTS)
}
