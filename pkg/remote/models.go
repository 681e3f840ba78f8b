package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"chatsync/pkg/models"
)

// Row types mirror the remote database schema. Record identifiers are
// client-generated, so primary keys are plain strings rather than
// database-assigned serials.

// UserRow is the per-user preferences row. Preferences here belong to the
// remote account, not to a collaborating peer; peer preferences never
// leave the local store.
type UserRow struct {
	ID          string         `gorm:"primaryKey;size:190"`
	Preferences datatypes.JSON `gorm:"type:jsonb"`
}

func (UserRow) TableName() string { return "users" }

// ChatRow mirrors the chats table.
type ChatRow struct {
	ID          string `gorm:"primaryKey;size:190"`
	UserID      string `gorm:"size:190;not null;index"`
	Title       string
	Description string
	Timestamp   int64 `gorm:"not null"`
	UpdatedTS   int64 `gorm:"column:updated_ts"`
	EndTime     int64 `gorm:"column:end_time"`
	Deleted     bool
}

func (ChatRow) TableName() string { return "chats" }

// MessageRow mirrors the messages table. MessageID is the client-generated
// idempotency key; the UNIQUE constraint on it is what makes concurrent
// uploads of the same logical message collapse to one row.
type MessageRow struct {
	ID        string         `gorm:"primaryKey;size:190"`
	ChatID    string         `gorm:"size:190;not null;index"`
	UserID    string         `gorm:"size:190;not null;index"`
	Role      string         `gorm:"size:32"`
	Content   string         `gorm:"type:text"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	MessageID string         `gorm:"column:message_id;size:190;not null;uniqueIndex"`
	TS        int64          `gorm:"column:ts;not null"`
}

func (MessageRow) TableName() string { return "messages" }

// ArtifactRow mirrors the artifacts table; versions are stored as a JSON
// array of immutable revisions.
type ArtifactRow struct {
	ID        string         `gorm:"primaryKey;size:190"`
	UserID    string         `gorm:"size:190;not null;index"`
	ChatID    string         `gorm:"size:190;not null;index"`
	Title     string
	Type      string         `gorm:"size:64"`
	Versions  datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt int64          `gorm:"column:updated_at;not null"`
}

func (ArtifactRow) TableName() string { return "artifacts" }

// CollaborationRow is the durable record of a collaboration session.
type CollaborationRow struct {
	ID           string `gorm:"primaryKey;size:190"`
	RoomID       string `gorm:"size:190;not null;index"`
	DocID        string `gorm:"size:190;not null"`
	LeaderUserID string `gorm:"size:190;not null"`
	Permissions  string `gorm:"size:32"`
	Status       string `gorm:"size:32"`
	CreatedAt    time.Time
}

func (CollaborationRow) TableName() string { return "collaborations" }

// ParticipantRow registers a peer that joined a collaboration.
type ParticipantRow struct {
	CollaborationID string `gorm:"primaryKey;size:190"`
	ParticipantID   string `gorm:"primaryKey;size:190"`
	PeerID          string `gorm:"size:190"`
	Permissions     string `gorm:"size:32"`
	IsActive        bool
}

func (ParticipantRow) TableName() string { return "collaboration_participants" }

// --- row <-> model conversions ---

func chatToRow(c models.Chat, userID string) ChatRow {
	return ChatRow{
		ID:          c.ID,
		UserID:      userID,
		Title:       c.Title,
		Description: c.Description,
		Timestamp:   c.CreatedTS,
		UpdatedTS:   c.UpdatedTS,
		EndTime:     c.EndTS,
		Deleted:     c.Deleted,
	}
}

func rowToChat(r ChatRow) models.Chat {
	return models.Chat{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		CreatedTS:   r.Timestamp,
		UpdatedTS:   r.UpdatedTS,
		EndTS:       r.EndTime,
		Deleted:     r.Deleted,
	}
}

func messageToRow(m models.Message, userID string) (MessageRow, error) {
	var meta datatypes.JSON
	if len(m.Meta) > 0 {
		b, err := json.Marshal(m.Meta)
		if err != nil {
			return MessageRow{}, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		meta = datatypes.JSON(b)
	}
	return MessageRow{
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    userID,
		Role:      m.Role,
		Content:   m.Content,
		Metadata:  meta,
		MessageID: m.ID,
		TS:        m.TS,
	}, nil
}

func rowToMessage(r MessageRow) models.Message {
	m := models.Message{
		ID:      r.MessageID,
		ChatID:  r.ChatID,
		Role:    r.Role,
		Content: r.Content,
		TS:      r.TS,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &m.Meta)
	}
	return m
}

func artifactToRow(a models.Artifact, userID string) (ArtifactRow, error) {
	versions, err := json.Marshal(a.Versions)
	if err != nil {
		return ArtifactRow{}, fmt.Errorf("failed to marshal artifact versions: %w", err)
	}
	return ArtifactRow{
		ID:        a.ID,
		UserID:    userID,
		ChatID:    a.ChatID,
		Title:     a.Title,
		Type:      a.Type,
		Versions:  datatypes.JSON(versions),
		UpdatedAt: a.UpdatedTS,
	}, nil
}

func rowToArtifact(r ArtifactRow) models.Artifact {
	a := models.Artifact{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Title:     r.Title,
		Type:      r.Type,
		UpdatedTS: r.UpdatedAt,
	}
	if len(r.Versions) > 0 {
		_ = json.Unmarshal(r.Versions, &a.Versions)
	}
	return a
}
