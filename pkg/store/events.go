package store

import (
	"encoding/json"
	"errors"
	"sync"
)

// Sentinel errors shared by store callers. Merge paths treat ErrDuplicate
// as "already delivered" and ErrNotFound on delete as a no-op.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// EntityKind names the record type a change event refers to.
type EntityKind string

const (
	EntityChat     EntityKind = "chat"
	EntityMessage  EntityKind = "message"
	EntityArtifact EntityKind = "artifact"
)

// ChangeType is the kind of mutation that occurred.
type ChangeType string

const (
	ChangePut    ChangeType = "put"
	ChangeDelete ChangeType = "delete"
)

// Origin tags where a mutation came from so sync subscribers can skip
// changes they produced themselves instead of re-processing echoes.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginPeer   Origin = "peer"
)

// Event describes a single store mutation. Payload carries the record
// JSON for put events and is nil for deletes.
type Event struct {
	Entity  EntityKind
	Type    ChangeType
	Origin  Origin
	ID      string
	ChatID  string
	Payload json.RawMessage
}

var (
	subMu       sync.RWMutex
	subscribers []func(Event)
)

// Subscribe registers a callback invoked synchronously for every store
// mutation. Subscribers must not block; long work belongs on their own
// queue.
func Subscribe(fn func(Event)) {
	subMu.Lock()
	defer subMu.Unlock()
	subscribers = append(subscribers, fn)
}

// ResetSubscribers removes all subscribers. Intended for tests.
func ResetSubscribers() {
	subMu.Lock()
	defer subMu.Unlock()
	subscribers = nil
}

func publish(ev Event) {
	subMu.RLock()
	subs := subscribers
	subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
