package remote

import (
	"encoding/json"
	"fmt"

	"chatsync/pkg/models"
)

// Decode helpers turn raw feed row payloads into local models. The feed
// delivers rows in remote table shape, so these go through the row types.

// DecodeChat parses a chats-table row payload.
func DecodeChat(row json.RawMessage) (models.Chat, error) {
	var r ChatRow
	if err := json.Unmarshal(row, &r); err != nil {
		return models.Chat{}, fmt.Errorf("invalid chat row: %w", err)
	}
	if r.ID == "" {
		return models.Chat{}, fmt.Errorf("chat row missing id")
	}
	return rowToChat(r), nil
}

// DecodeMessage parses a messages-table row payload. A row without its
// chat linkage is invalid and can never be applied.
func DecodeMessage(row json.RawMessage) (models.Message, error) {
	var r MessageRow
	if err := json.Unmarshal(row, &r); err != nil {
		return models.Message{}, fmt.Errorf("invalid message row: %w", err)
	}
	if r.MessageID == "" {
		return models.Message{}, fmt.Errorf("message row missing message_id")
	}
	if r.ChatID == "" {
		return models.Message{}, fmt.Errorf("message %s missing chat_id", r.MessageID)
	}
	return rowToMessage(r), nil
}

// DecodeArtifact parses an artifacts-table row payload.
func DecodeArtifact(row json.RawMessage) (models.Artifact, error) {
	var r ArtifactRow
	if err := json.Unmarshal(row, &r); err != nil {
		return models.Artifact{}, fmt.Errorf("invalid artifact row: %w", err)
	}
	if r.ID == "" {
		return models.Artifact{}, fmt.Errorf("artifact row missing id")
	}
	if r.ChatID == "" {
		return models.Artifact{}, fmt.Errorf("artifact %s missing chat_id", r.ID)
	}
	return rowToArtifact(r), nil
}
