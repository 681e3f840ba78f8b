// Package syncmgr owns the local-to-remote relationship: it journals and
// queues outbound operations, performs the initial reconciliation on
// (re)connect, and applies incoming realtime changes through the
// replication merge policy. All uploads are idempotent; retries rely on
// dedup, not ordering.
package syncmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
	"chatsync/pkg/store"
	"chatsync/pkg/syncq"
	"chatsync/pkg/telemetry"
)

// Uploader is the slice of the remote client the manager needs. Tests
// substitute an in-memory implementation.
type Uploader interface {
	UpsertChat(models.Chat) error
	InsertMessage(models.Message) error
	UpsertArtifact(models.Artifact) error
	DeleteChat(chatID string) error
	DeleteMessage(messageID string) error
	DeleteArtifact(id string) error
	FetchAll() (models.Snapshot, error)
}

// Manager reconciles the local store with the remote database.
type Manager struct {
	client Uploader
	queue  *syncq.Queue
	wal    *syncq.FileWAL
	cfg    config.SyncConfig

	mu    sync.Mutex
	state State
	// ackCursor is the highest journal offset whose op was delivered.
	ackCursor int64

	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a manager. client may be nil, in which case the manager
// runs offline-only: enqueues are journaled but nothing is uploaded.
// walDir may be empty to disable the durable journal (tests).
func New(client Uploader, cfg config.SyncConfig, walDir string) (*Manager, error) {
	m := &Manager{
		client:    client,
		queue:     syncq.NewQueue(cfg.Queue.Capacity),
		cfg:       cfg,
		state:     StateUninitialized,
		ackCursor: -1,
		stop:      make(chan struct{}),
	}
	if walDir != "" && cfg.Queue.WAL.Enabled {
		wal, err := syncq.NewWAL(syncq.WALOptions{
			Dir:            walDir,
			MaxFileSize:    cfg.Queue.WAL.MaxFileSize.Int64(),
			EnableCompress: cfg.Queue.WAL.EnableCompress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sync queue WAL: %w", err)
		}
		m.wal = wal
	}
	return m, nil
}

// Start transitions out of Uninitialized, replays the journal, and
// registers the store subscription that feeds the queue.
func (m *Manager) Start() error {
	if m.client == nil {
		if err := m.transition(StateOfflineOnly); err != nil {
			return err
		}
	} else {
		if err := m.transition(StateAuthPending); err != nil {
			return err
		}
	}
	if err := m.replayJournal(); err != nil {
		return err
	}
	store.Subscribe(m.handleStoreEvent)
	return nil
}

// Stop shuts the manager down. Pending queue items stay journaled and
// are replayed on the next start.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.queue.CloseAndDrain()
	if m.wal != nil {
		_ = m.wal.Close()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueueDepth returns the number of ops waiting for delivery.
func (m *Manager) QueueDepth() int { return m.queue.Len() }

func (m *Manager) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == to {
		return nil
	}
	if !canTransition(m.state, to) {
		return fmt.Errorf("invalid sync state transition %s -> %s", m.state, to)
	}
	logger.Info("sync_state_transition", "from", m.state.String(), "to", to.String())
	m.state = to
	return nil
}

// SetConnectivity is driven by the realtime feed's connection callback
// (and the connection monitor). Coming online triggers the initial
// reconciliation followed by a staggered queue flush.
func (m *Manager) SetConnectivity(up bool) {
	if m.client == nil {
		return
	}
	if !up {
		if err := m.transition(StateOffline); err != nil {
			logger.Warn("sync_offline_transition_refused", "error", err)
		}
		return
	}
	if err := m.transition(StateOnline); err != nil {
		logger.Warn("sync_online_transition_refused", "error", err)
		return
	}
	go func() {
		if err := m.PerformInitialSync(); err != nil {
			logger.Error("initial_sync_failed", "error", err)
		}
		// stagger the flush so a freshly established transport is not
		// slammed with the whole backlog at once
		select {
		case <-time.After(m.cfg.FlushStagger.Duration()):
		case <-m.stop:
			return
		}
		m.FlushQueue()
	}()
}

// Online reports whether uploads currently go straight to the remote.
func (m *Manager) Online() bool { return m.State() == StateOnline }

// replayJournal re-enqueues journaled ops that were never acknowledged.
func (m *Manager) replayJournal() error {
	if m.wal == nil {
		return nil
	}
	cursor, err := store.GetAckCursor()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ackCursor = cursor
	m.mu.Unlock()

	records, err := m.wal.Recover()
	if err != nil {
		return err
	}
	var replayed int
	for _, rec := range records {
		if rec.Offset <= cursor {
			continue
		}
		op, err := syncq.DecodeOp(rec.Data)
		if err != nil {
			logger.Warn("journal_replay_invalid_op", "offset", rec.Offset, "error", err)
			continue
		}
		op.WALOffset = rec.Offset
		if err := m.queue.TryEnqueue(op); err != nil {
			logger.Error("journal_replay_enqueue_failed", "offset", rec.Offset, "error", err)
			break
		}
		replayed++
	}
	if replayed > 0 {
		logger.Info("journal_replayed", "ops", replayed)
	}
	telemetry.SetQueueDepth(m.queue.Len())
	return nil
}

// Enqueue journals the op and places it on the in-memory queue. Journal
// first: an op that fits the WAL but not the queue is recovered on the
// next start instead of being lost.
func (m *Manager) Enqueue(op *syncq.Op) error {
	if !op.Kind.Valid() {
		return syncq.ErrInvalidOp
	}
	if op.TS == 0 {
		op.TS = time.Now().UTC().UnixNano()
	}
	op.WALOffset = -1
	if m.wal != nil {
		data, err := syncq.EncodeOp(op)
		if err != nil {
			return err
		}
		offset, err := m.wal.Append(data)
		if err != nil {
			return fmt.Errorf("failed to journal op: %w", err)
		}
		op.WALOffset = offset
	}
	if err := m.queue.TryEnqueue(op); err != nil {
		logger.Error("sync_enqueue_failed", "kind", string(op.Kind), "id", op.ID, "error", err)
		return err
	}
	telemetry.OpsEnqueued.Inc()
	telemetry.SetQueueDepth(m.queue.Len())
	return nil
}

// FlushQueue iterates a snapshot of the queue and re-attempts each op.
// Failed ops are re-journaled and re-enqueued, never dropped, which
// gives at-least-once delivery; dedup on the remote side makes the
// retries harmless.
func (m *Manager) FlushQueue() {
	if m.client == nil || !m.Online() {
		return
	}
	items := m.queue.DrainSnapshot(0)
	if len(items) == 0 {
		return
	}
	logger.Info("queue_flush_start", "ops", len(items))
	var acked int64 = -1
	for _, it := range items {
		op := it.Op
		err := m.upload(op)
		if err != nil {
			logger.Warn("queue_flush_op_failed", "kind", string(op.Kind), "id", op.ID, "error", err)
			telemetry.OpsRetried.Inc()
			requeue := *op
			requeue.Payload = append([]byte(nil), op.Payload...)
			it.Done()
			if err := m.Enqueue(&requeue); err != nil {
				logger.Error("queue_flush_requeue_failed", "kind", string(requeue.Kind), "id", requeue.ID, "error", err)
			}
			continue
		}
		if op.WALOffset > acked {
			acked = op.WALOffset
		}
		telemetry.OpsDelivered.Inc()
		it.Done()
	}
	if acked >= 0 {
		m.ack(acked)
	}
	telemetry.SetQueueDepth(m.queue.Len())
}

// ack advances the persisted flush cursor and prunes fully-acked journal
// files. Re-journaled failures always sit above the cursor, so pruning
// never drops a pending op.
func (m *Manager) ack(offset int64) {
	m.mu.Lock()
	if offset <= m.ackCursor {
		m.mu.Unlock()
		return
	}
	m.ackCursor = offset
	m.mu.Unlock()

	if err := store.SetAckCursor(offset); err != nil {
		logger.Error("ack_cursor_save_failed", "offset", offset, "error", err)
		return
	}
	if m.wal != nil {
		if err := m.wal.TruncateBefore(offset + 1); err != nil {
			logger.Warn("journal_truncate_failed", "offset", offset, "error", err)
		}
	}
}

// upload dispatches one op to the remote. Duplicate-key and not-found
// results are expected under retry and absorbed as success; validation
// failures are dropped because retrying an invalid record cannot
// succeed.
func (m *Manager) upload(op *syncq.Op) error {
	err := m.dispatch(op)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, remote.ErrDuplicate):
		logger.Debug("upload_duplicate_absorbed", "kind", string(op.Kind), "id", op.ID)
		return nil
	case errors.Is(err, remote.ErrNotFound):
		logger.Debug("upload_notfound_absorbed", "kind", string(op.Kind), "id", op.ID)
		return nil
	case errors.Is(err, errMalformedOp):
		logger.Error("upload_malformed_dropped", "kind", string(op.Kind), "id", op.ID, "error", err)
		return nil
	}
	return err
}

var errMalformedOp = errors.New("malformed sync op")

func (m *Manager) dispatch(op *syncq.Op) error {
	switch op.Kind {
	case syncq.KindUploadChat:
		var c models.Chat
		if err := json.Unmarshal(op.Payload, &c); err != nil || c.ID == "" {
			return fmt.Errorf("%w: chat payload: %v", errMalformedOp, err)
		}
		return m.client.UpsertChat(c)
	case syncq.KindUploadMessage:
		var msg models.Message
		if err := json.Unmarshal(op.Payload, &msg); err != nil || msg.ID == "" {
			return fmt.Errorf("%w: message payload: %v", errMalformedOp, err)
		}
		if msg.ChatID == "" {
			return fmt.Errorf("%w: message %s missing chat id", errMalformedOp, msg.ID)
		}
		return m.client.InsertMessage(msg)
	case syncq.KindUploadArtifact:
		var a models.Artifact
		if err := json.Unmarshal(op.Payload, &a); err != nil || a.ID == "" {
			return fmt.Errorf("%w: artifact payload: %v", errMalformedOp, err)
		}
		return m.client.UpsertArtifact(a)
	case syncq.KindDeleteChat:
		return m.client.DeleteChat(op.ID)
	case syncq.KindDeleteMessage:
		return m.client.DeleteMessage(op.ID)
	case syncq.KindDeleteArtifact:
		return m.client.DeleteArtifact(op.ID)
	}
	return fmt.Errorf("%w: unknown kind %q", errMalformedOp, op.Kind)
}

// handleStoreEvent turns local mutations into uploads. Remote- and
// peer-origin writes are skipped: they are someone else's delivery, not
// ours to re-upload.
func (m *Manager) handleStoreEvent(ev store.Event) {
	if ev.Origin != store.OriginLocal {
		return
	}
	op, ok := opFromEvent(ev)
	if !ok {
		return
	}
	if m.client != nil && m.Online() {
		if err := m.upload(op); err == nil {
			return
		} else {
			logger.Warn("direct_upload_failed_enqueueing", "kind", string(op.Kind), "id", op.ID, "error", err)
		}
	}
	if err := m.Enqueue(op); err != nil {
		logger.Error("local_change_enqueue_failed", "kind", string(op.Kind), "id", op.ID, "error", err)
	}
}

func opFromEvent(ev store.Event) (*syncq.Op, bool) {
	op := &syncq.Op{ID: ev.ID, ChatID: ev.ChatID, Payload: ev.Payload}
	switch {
	case ev.Entity == store.EntityChat && ev.Type == store.ChangePut:
		op.Kind = syncq.KindUploadChat
	case ev.Entity == store.EntityChat && ev.Type == store.ChangeDelete:
		op.Kind = syncq.KindDeleteChat
	case ev.Entity == store.EntityMessage && ev.Type == store.ChangePut:
		op.Kind = syncq.KindUploadMessage
	case ev.Entity == store.EntityMessage && ev.Type == store.ChangeDelete:
		op.Kind = syncq.KindDeleteMessage
	case ev.Entity == store.EntityArtifact && ev.Type == store.ChangePut:
		op.Kind = syncq.KindUploadArtifact
	case ev.Entity == store.EntityArtifact && ev.Type == store.ChangeDelete:
		op.Kind = syncq.KindDeleteArtifact
	default:
		return nil, false
	}
	return op, true
}
