// Package merge holds the pure replication merge policy shared by the
// remote sync manager and the peer session coordinator: append-with-dedup
// for log-like entities (chats, messages) keyed by their stable IDs, and
// last-write-wins by update timestamp for mutable singletons (artifacts).
package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"chatsync/pkg/models"
)

// Chat resolves two copies of the same chat. The copy with the later
// UpdatedTS wins on mutable fields; CreatedTS keeps the earliest value
// and a deletion on either side sticks.
func Chat(local, incoming models.Chat) models.Chat {
	out := local
	if incoming.UpdatedTS > local.UpdatedTS {
		out = incoming
	}
	if local.CreatedTS != 0 && (out.CreatedTS == 0 || local.CreatedTS < out.CreatedTS) {
		out.CreatedTS = local.CreatedTS
	}
	if incoming.CreatedTS != 0 && (out.CreatedTS == 0 || incoming.CreatedTS < out.CreatedTS) {
		out.CreatedTS = incoming.CreatedTS
	}
	if local.Deleted || incoming.Deleted {
		out.Deleted = true
		if out.DeletedTS == 0 {
			if local.DeletedTS != 0 {
				out.DeletedTS = local.DeletedTS
			} else {
				out.DeletedTS = incoming.DeletedTS
			}
		}
	}
	return out
}

// Chats merges two chat sets by ID. Local ordering is preserved;
// incoming-only chats are appended in their incoming order.
func Chats(local, incoming []models.Chat) []models.Chat {
	byID := make(map[string]int, len(local))
	out := make([]models.Chat, len(local))
	copy(out, local)
	for i, c := range out {
		byID[c.ID] = i
	}
	for _, c := range incoming {
		if i, ok := byID[c.ID]; ok {
			out[i] = Chat(out[i], c)
			continue
		}
		byID[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}

// NewMessages returns the incoming messages whose idempotency key is not
// present in local, in incoming order. Duplicate keys inside incoming
// itself are also collapsed.
func NewMessages(local, incoming []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(local))
	for _, m := range local {
		seen[m.ID] = struct{}{}
	}
	var out []models.Message
	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Messages appends incoming to local with dedup by idempotency key.
func Messages(local, incoming []models.Message) []models.Message {
	out := make([]models.Message, len(local))
	copy(out, local)
	return append(out, NewMessages(local, incoming)...)
}

// Artifact resolves two copies of the same artifact with last-write-wins
// on UpdatedTS; the version lists are unioned so a stale write can never
// drop a version the other side appended. Returns the merged record and
// whether it differs from local.
func Artifact(local, incoming models.Artifact) (models.Artifact, bool) {
	out := local
	if incoming.UpdatedTS > local.UpdatedTS {
		out = incoming
	}
	out.Versions = unionVersions(local.Versions, incoming.Versions)
	changed := out.UpdatedTS != local.UpdatedTS || len(out.Versions) != len(local.Versions) ||
		out.Title != local.Title || out.Type != local.Type
	return out, changed
}

func unionVersions(a, b []models.ArtifactVersion) []models.ArtifactVersion {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []models.ArtifactVersion
	add := func(vs []models.ArtifactVersion) {
		for _, v := range vs {
			k := fmt.Sprintf("%d:%s", v.CreatedTS, v.Content)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, v)
		}
	}
	add(a)
	add(b)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedTS < out[j].CreatedTS })
	return out
}

// Artifacts merges two artifact sets by ID with LWW per record.
func Artifacts(local, incoming []models.Artifact) []models.Artifact {
	byID := make(map[string]int, len(local))
	out := make([]models.Artifact, len(local))
	copy(out, local)
	for i, a := range out {
		byID[a.ID] = i
	}
	for _, a := range incoming {
		if i, ok := byID[a.ID]; ok {
			out[i], _ = Artifact(out[i], a)
			continue
		}
		byID[a.ID] = len(out)
		out = append(out, a)
	}
	return out
}

// SnapshotHash returns a stable content hash of a snapshot. The leader
// uses it to skip re-pushing an unchanged snapshot on repeated peer-join
// events.
func SnapshotHash(s models.Snapshot) string {
	h := sha256.New()
	ids := make([]string, 0, len(s.Chats))
	for _, c := range s.Chats {
		ids = append(ids, fmt.Sprintf("c:%s:%d", c.ID, c.UpdatedTS))
	}
	for chatID, msgs := range s.MessagesByChat {
		for _, m := range msgs {
			ids = append(ids, "m:"+chatID+":"+m.ID)
		}
	}
	for _, a := range s.Artifacts {
		ids = append(ids, fmt.Sprintf("a:%s:%d:%d", a.ID, a.UpdatedTS, len(a.Versions)))
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
