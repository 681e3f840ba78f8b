package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenChatID returns a new client-generated chat identifier.
func GenChatID() string {
	return "chat-" + uuid.NewString()
}

// GenMessageID returns a new globally unique message idempotency key.
func GenMessageID() string {
	return "msg-" + uuid.NewString()
}

// GenArtifactID returns a new artifact identifier.
func GenArtifactID() string {
	return "artifact-" + uuid.NewString()
}

// GenRoomID returns a short, shareable collaboration room identifier.
func GenRoomID() string {
	return "collab-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GenDocID returns a new replicated session document identifier.
func GenDocID() string {
	return "doc-" + uuid.NewString()
}

// GenParticipantID returns a stable per-join participant identifier.
func GenParticipantID() string {
	return "peer-" + uuid.NewString()
}
