// Package remote implements the client side of the remote database: a
// GORM/Postgres connection for uploads and fetches plus a websocket
// subscription to the per-table realtime change feed.
package remote

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Sentinel errors. ErrDuplicate marks an insert that failed only because
// the idempotency key already exists remotely; callers treat it as
// success.
var (
	ErrDuplicate = errors.New("remote duplicate key")
	ErrNotFound  = errors.New("remote record not found")
)

// Client wraps the remote database connection for a single user.
type Client struct {
	db     *gorm.DB
	userID string
}

// Connect opens the remote database. With TranslateError enabled GORM
// maps driver unique-violation errors to gorm.ErrDuplicatedKey, which
// this package re-exposes as ErrDuplicate.
func Connect(dsn, userID string, migrate bool) (*Client, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if migrate {
		if err := db.AutoMigrate(
			&UserRow{},
			&ChatRow{},
			&MessageRow{},
			&ArtifactRow{},
			&CollaborationRow{},
			&ParticipantRow{},
		); err != nil {
			return nil, fmt.Errorf("failed to migrate remote schema: %w", err)
		}
	}
	logger.Info("remote_connected", "user", userID)
	return &Client{db: db, userID: userID}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UserID returns the authenticated user this client uploads for.
func (c *Client) UserID() string { return c.userID }

func (c *Client) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	}
	return err
}

// UpsertChat inserts or updates the chat row.
func (c *Client) UpsertChat(chat models.Chat) error {
	row := chatToRow(chat, c.userID)
	return c.translate(c.db.Save(&row).Error)
}

// InsertMessage inserts the message row. A unique violation on the
// idempotency key comes back as ErrDuplicate.
func (c *Client) InsertMessage(m models.Message) error {
	row, err := messageToRow(m, c.userID)
	if err != nil {
		return err
	}
	return c.translate(c.db.Create(&row).Error)
}

// UpsertArtifact inserts or updates the artifact row.
func (c *Client) UpsertArtifact(a models.Artifact) error {
	row, err := artifactToRow(a, c.userID)
	if err != nil {
		return err
	}
	return c.translate(c.db.Save(&row).Error)
}

// DeleteChat removes the chat and its dependent rows. Missing rows are
// not an error.
func (c *Client) DeleteChat(chatID string) error {
	if err := c.db.Where("chat_id = ? AND user_id = ?", chatID, c.userID).Delete(&MessageRow{}).Error; err != nil {
		return c.translate(err)
	}
	if err := c.db.Where("chat_id = ? AND user_id = ?", chatID, c.userID).Delete(&ArtifactRow{}).Error; err != nil {
		return c.translate(err)
	}
	return c.translate(c.db.Where("id = ? AND user_id = ?", chatID, c.userID).Delete(&ChatRow{}).Error)
}

// DeleteMessage removes a message by idempotency key.
func (c *Client) DeleteMessage(messageID string) error {
	return c.translate(c.db.Where("message_id = ? AND user_id = ?", messageID, c.userID).Delete(&MessageRow{}).Error)
}

// DeleteArtifact removes an artifact row.
func (c *Client) DeleteArtifact(id string) error {
	return c.translate(c.db.Where("id = ? AND user_id = ?", id, c.userID).Delete(&ArtifactRow{}).Error)
}

// FetchAll returns the user's full remote record set for initial
// reconciliation.
func (c *Client) FetchAll() (models.Snapshot, error) {
	var snap models.Snapshot

	var chatRows []ChatRow
	if err := c.db.Where("user_id = ?", c.userID).Order("timestamp asc").Find(&chatRows).Error; err != nil {
		return snap, fmt.Errorf("failed to fetch remote chats: %w", err)
	}
	var msgRows []MessageRow
	if err := c.db.Where("user_id = ?", c.userID).Order("ts asc").Find(&msgRows).Error; err != nil {
		return snap, fmt.Errorf("failed to fetch remote messages: %w", err)
	}
	var artRows []ArtifactRow
	if err := c.db.Where("user_id = ?", c.userID).Find(&artRows).Error; err != nil {
		return snap, fmt.Errorf("failed to fetch remote artifacts: %w", err)
	}

	snap.MessagesByChat = map[string][]models.Message{}
	for _, r := range chatRows {
		snap.Chats = append(snap.Chats, rowToChat(r))
	}
	for _, r := range msgRows {
		m := rowToMessage(r)
		snap.MessagesByChat[m.ChatID] = append(snap.MessagesByChat[m.ChatID], m)
	}
	for _, r := range artRows {
		snap.Artifacts = append(snap.Artifacts, rowToArtifact(r))
	}
	return snap, nil
}

// SavePreferences stores the remote account preferences blob.
func (c *Client) SavePreferences(prefs []byte) error {
	row := UserRow{ID: c.userID, Preferences: prefs}
	return c.translate(c.db.Save(&row).Error)
}

// SaveCollaboration persists a durable session record for rejoin/audit.
func (c *Client) SaveCollaboration(row CollaborationRow) error {
	return c.translate(c.db.Save(&row).Error)
}

// CloseCollaboration marks a session record as ended.
func (c *Client) CloseCollaboration(roomID string) error {
	return c.translate(c.db.Model(&CollaborationRow{}).
		Where("room_id = ?", roomID).
		Update("status", "closed").Error)
}

// SaveParticipant registers (or refreshes) a participant row.
func (c *Client) SaveParticipant(row ParticipantRow) error {
	return c.translate(c.db.Save(&row).Error)
}

// DeactivateParticipant marks a participant inactive on leave.
func (c *Client) DeactivateParticipant(collaborationID, participantID string) error {
	return c.translate(c.db.Model(&ParticipantRow{}).
		Where("collaboration_id = ? AND participant_id = ?", collaborationID, participantID).
		Update("is_active", false).Error)
}
