package models

// Session roles.
const (
	RoleLeader       = "leader"
	RoleCollaborator = "collaborator"
)

// Permission levels embedded in share links. Advisory: enforced only by
// client-side checks against the replicated session document.
const (
	PermissionView = "view"
	PermissionEdit = "edit"
	PermissionFull = "full"
)

// Session is the durable marker for an active collaboration session.
// Persisted locally so a restart can observe (and clean up) a session,
// and mirrored to the remote collaborations table for rejoin/audit.
type Session struct {
	RoomID        string `json:"room_id"`
	DocID         string `json:"doc_id"`
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
	Permission    string `json:"permission"`
	CreatedTS     int64  `json:"created_ts"`
}

// ValidPermission reports whether p is a known share-link permission.
func ValidPermission(p string) bool {
	switch p {
	case PermissionView, PermissionEdit, PermissionFull:
		return true
	}
	return false
}
