package syncmgr

import (
	"encoding/json"
	"fmt"

	"chatsync/pkg/logger"
	"chatsync/pkg/merge"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/syncq"
	"chatsync/pkg/telemetry"
)

// PerformInitialSync reconciles the local store with the remote record
// set in both directions: remote-only records are applied locally with
// remote origin, local-only records are uploaded through the queue so
// they ride the same journal and retry path as live changes. Neither
// side is authoritative; both converge on the merged set.
func (m *Manager) PerformInitialSync() error {
	if m.client == nil {
		return nil
	}
	remoteSnap, err := m.client.FetchAll()
	if err != nil {
		return fmt.Errorf("failed to fetch remote records: %w", err)
	}
	localSnap, err := store.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to snapshot local store: %w", err)
	}

	applied, uploaded := 0, 0

	localChats := make(map[string]models.Chat, len(localSnap.Chats))
	for _, c := range localSnap.Chats {
		localChats[c.ID] = c
	}
	remoteChats := make(map[string]models.Chat, len(remoteSnap.Chats))
	for _, c := range remoteSnap.Chats {
		remoteChats[c.ID] = c
	}

	for _, rc := range remoteSnap.Chats {
		lc, ok := localChats[rc.ID]
		if !ok {
			if err := store.SaveChat(rc, store.OriginRemote); err != nil {
				logger.Warn("initial_sync_chat_apply_failed", "chat", rc.ID, "error", err)
				continue
			}
			applied++
			continue
		}
		merged := merge.Chat(lc, rc)
		if merged != lc {
			if err := store.SaveChat(merged, store.OriginRemote); err != nil {
				logger.Warn("initial_sync_chat_merge_failed", "chat", rc.ID, "error", err)
				continue
			}
			applied++
		}
		if merged != rc {
			m.enqueueUpload(syncq.KindUploadChat, merged.ID, merged.ID, merged)
			uploaded++
		}
	}
	for _, lc := range localSnap.Chats {
		if _, ok := remoteChats[lc.ID]; !ok {
			m.enqueueUpload(syncq.KindUploadChat, lc.ID, lc.ID, lc)
			uploaded++
		}
	}

	for chatID, remoteMsgs := range remoteSnap.MessagesByChat {
		localMsgs := localSnap.MessagesByChat[chatID]
		for _, msg := range merge.NewMessages(localMsgs, remoteMsgs) {
			if err := store.SaveMessage(msg, store.OriginRemote); err != nil && err != store.ErrDuplicate {
				logger.Warn("initial_sync_message_apply_failed", "message", msg.ID, "error", err)
				continue
			}
			applied++
		}
	}
	for chatID, localMsgs := range localSnap.MessagesByChat {
		for _, msg := range merge.NewMessages(remoteSnap.MessagesByChat[chatID], localMsgs) {
			m.enqueueUpload(syncq.KindUploadMessage, msg.ID, msg.ChatID, msg)
			uploaded++
		}
	}

	localArts := make(map[string]models.Artifact, len(localSnap.Artifacts))
	for _, a := range localSnap.Artifacts {
		localArts[a.ID] = a
	}
	remoteArts := make(map[string]models.Artifact, len(remoteSnap.Artifacts))
	for _, a := range remoteSnap.Artifacts {
		remoteArts[a.ID] = a
	}
	for _, ra := range remoteSnap.Artifacts {
		la, ok := localArts[ra.ID]
		if !ok {
			if err := store.SaveArtifact(ra, store.OriginRemote); err != nil {
				logger.Warn("initial_sync_artifact_apply_failed", "artifact", ra.ID, "error", err)
				continue
			}
			applied++
			continue
		}
		merged, changed := merge.Artifact(la, ra)
		if changed {
			if err := store.SaveArtifact(merged, store.OriginRemote); err != nil {
				logger.Warn("initial_sync_artifact_merge_failed", "artifact", ra.ID, "error", err)
				continue
			}
			applied++
		}
		// the union may hold versions the remote copy lacks
		if len(merged.Versions) != len(ra.Versions) || merged.UpdatedTS != ra.UpdatedTS {
			m.enqueueUpload(syncq.KindUploadArtifact, merged.ID, merged.ChatID, merged)
			uploaded++
		}
	}
	for _, la := range localSnap.Artifacts {
		if _, ok := remoteArts[la.ID]; !ok {
			m.enqueueUpload(syncq.KindUploadArtifact, la.ID, la.ChatID, la)
			uploaded++
		}
	}

	telemetry.InitialSyncs.Inc()
	logger.Info("initial_sync_complete", "applied_local", applied, "queued_uploads", uploaded)
	return nil
}

// enqueueUpload marshals v and places an upload op on the queue. Initial
// sync never uploads inline; queued delivery keeps ordering with any
// backlog journaled before the reconnect.
func (m *Manager) enqueueUpload(kind syncq.Kind, id, chatID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Error("initial_sync_marshal_failed", "kind", string(kind), "id", id, "error", err)
		return
	}
	op := &syncq.Op{Kind: kind, ID: id, ChatID: chatID, Payload: payload}
	if err := m.Enqueue(op); err != nil {
		logger.Warn("initial_sync_enqueue_failed", "kind", string(kind), "id", id, "error", err)
	}
}
