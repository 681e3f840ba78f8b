package syncmgr

import (
	"errors"

	"chatsync/pkg/logger"
	"chatsync/pkg/merge"
	"chatsync/pkg/remote"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
)

// HandleRealtimeChange applies one feed event to the local store. Writes
// use remote origin so the store subscription does not echo them back as
// uploads. Malformed payloads are logged and dropped; a DELETE for a
// record we never had is a no-op.
func (m *Manager) HandleRealtimeChange(ev remote.ChangeEvent) {
	telemetry.FeedEvents.WithLabelValues(ev.Table).Inc()
	switch ev.Table {
	case "chats":
		m.applyChatChange(ev)
	case "messages":
		m.applyMessageChange(ev)
	case "artifacts":
		m.applyArtifactChange(ev)
	default:
		logger.Debug("feed_table_ignored", "table", ev.Table)
	}
}

func (m *Manager) applyChatChange(ev remote.ChangeEvent) {
	incoming, err := remote.DecodeChat(ev.Row)
	if err != nil {
		logger.Warn("feed_chat_invalid", "type", ev.Type, "error", err)
		return
	}
	switch ev.Type {
	case remote.ChangeInsert, remote.ChangeUpdate:
		local, err := store.GetChat(incoming.ID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Warn("feed_chat_lookup_failed", "chat", incoming.ID, "error", err)
				return
			}
			local = incoming
		} else {
			local = merge.Chat(local, incoming)
		}
		if err := store.SaveChat(local, store.OriginRemote); err != nil {
			logger.Warn("feed_chat_apply_failed", "chat", incoming.ID, "error", err)
		}
	case remote.ChangeDelete:
		if err := store.DeleteChat(incoming.ID, store.OriginRemote); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("feed_chat_delete_failed", "chat", incoming.ID, "error", err)
		}
	}
}

func (m *Manager) applyMessageChange(ev remote.ChangeEvent) {
	msg, err := remote.DecodeMessage(ev.Row)
	if err != nil {
		logger.Warn("feed_message_invalid", "type", ev.Type, "error", err)
		return
	}
	switch ev.Type {
	case remote.ChangeInsert, remote.ChangeUpdate:
		err := store.SaveMessage(msg, store.OriginRemote)
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			logger.Warn("feed_message_apply_failed", "message", msg.ID, "error", err)
		}
	case remote.ChangeDelete:
		// local message log is append-only; remote deletes are not
		// propagated into it
	}
}

func (m *Manager) applyArtifactChange(ev remote.ChangeEvent) {
	incoming, err := remote.DecodeArtifact(ev.Row)
	if err != nil {
		logger.Warn("feed_artifact_invalid", "type", ev.Type, "error", err)
		return
	}
	switch ev.Type {
	case remote.ChangeInsert, remote.ChangeUpdate:
		local, err := store.GetArtifact(incoming.ID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Warn("feed_artifact_lookup_failed", "artifact", incoming.ID, "error", err)
				return
			}
			if err := store.SaveArtifact(incoming, store.OriginRemote); err != nil {
				logger.Warn("feed_artifact_apply_failed", "artifact", incoming.ID, "error", err)
			}
			return
		}
		merged, changed := merge.Artifact(local, incoming)
		if !changed {
			return
		}
		if err := store.SaveArtifact(merged, store.OriginRemote); err != nil {
			logger.Warn("feed_artifact_apply_failed", "artifact", incoming.ID, "error", err)
		}
	case remote.ChangeDelete:
		if err := store.DeleteArtifact(incoming.ID, store.OriginRemote); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("feed_artifact_delete_failed", "artifact", incoming.ID, "error", err)
		}
	}
}
