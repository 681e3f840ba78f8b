package collab

import (
	"fmt"
	"net/url"
	"strings"

	"chatsync/pkg/models"
)

// Share links use a custom scheme so host applications can register a
// handler for them: chatsync://join?room=<room>&perm=<permission>.
const linkScheme = "chatsync"

// ShareLink is a parsed invitation.
type ShareLink struct {
	RoomID     string
	Permission string
}

// BuildShareLink renders an invitation for a room. An empty permission
// defaults to edit.
func BuildShareLink(roomID, permission string) (string, error) {
	if roomID == "" {
		return "", fmt.Errorf("share link requires a room id")
	}
	if permission == "" {
		permission = models.PermissionEdit
	}
	if !models.ValidPermission(permission) {
		return "", fmt.Errorf("invalid share permission %q", permission)
	}
	q := url.Values{}
	q.Set("room", roomID)
	q.Set("perm", permission)
	return linkScheme + "://join?" + q.Encode(), nil
}

// ParseShareLink validates and decodes an invitation link. Both the
// custom-scheme form and an https form with a /join path are accepted.
func ParseShareLink(link string) (ShareLink, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ShareLink{}, fmt.Errorf("invalid share link: %w", err)
	}
	switch u.Scheme {
	case linkScheme:
		if u.Host != "join" {
			return ShareLink{}, fmt.Errorf("invalid share link action %q", u.Host)
		}
	case "https", "http":
		if !strings.HasSuffix(u.Path, "/join") {
			return ShareLink{}, fmt.Errorf("invalid share link path %q", u.Path)
		}
	default:
		return ShareLink{}, fmt.Errorf("invalid share link scheme %q", u.Scheme)
	}
	q := u.Query()
	room := q.Get("room")
	if room == "" {
		return ShareLink{}, fmt.Errorf("share link missing room")
	}
	perm := q.Get("perm")
	if perm == "" {
		perm = models.PermissionEdit
	}
	if !models.ValidPermission(perm) {
		return ShareLink{}, fmt.Errorf("invalid share permission %q", perm)
	}
	return ShareLink{RoomID: room, Permission: perm}, nil
}
