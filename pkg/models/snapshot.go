package models

// Snapshot is the full record set exchanged during leader bootstrap and
// initial remote reconciliation. It deliberately excludes preferences and
// the active-chat pointer, which stay per-peer.
type Snapshot struct {
	Chats          []Chat               `json:"chats"`
	MessagesByChat map[string][]Message `json:"messages_by_chat"`
	Artifacts      []Artifact           `json:"artifacts"`
}

// Empty reports whether the snapshot holds no records at all.
func (s *Snapshot) Empty() bool {
	return len(s.Chats) == 0 && len(s.MessagesByChat) == 0 && len(s.Artifacts) == 0
}

// Counts returns the number of chats, messages and artifacts in the snapshot.
func (s *Snapshot) Counts() (chats, messages, artifacts int) {
	chats = len(s.Chats)
	for _, ms := range s.MessagesByChat {
		messages += len(ms)
	}
	artifacts = len(s.Artifacts)
	return
}
