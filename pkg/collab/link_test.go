package collab

import (
	"strings"
	"testing"

	"chatsync/pkg/models"
)

func TestBuildAndParseShareLink(t *testing.T) {
	link, err := BuildShareLink("collab-abc123", models.PermissionView)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasPrefix(link, "chatsync://join?") {
		t.Fatalf("unexpected link form: %s", link)
	}

	parsed, err := ParseShareLink(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.RoomID != "collab-abc123" || parsed.Permission != models.PermissionView {
		t.Fatalf("roundtrip mismatch: %+v", parsed)
	}
}

func TestBuildShareLinkDefaultsToEdit(t *testing.T) {
	link, err := BuildShareLink("collab-abc", "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parsed, err := ParseShareLink(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Permission != models.PermissionEdit {
		t.Fatalf("expected edit default, got %q", parsed.Permission)
	}
}

func TestParseShareLinkHTTPSForm(t *testing.T) {
	parsed, err := ParseShareLink("https://example.com/s/join?room=collab-xyz&perm=edit")
	if err != nil {
		t.Fatalf("parse https form: %v", err)
	}
	if parsed.RoomID != "collab-xyz" {
		t.Fatalf("unexpected room: %q", parsed.RoomID)
	}
}

func TestParseShareLinkRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"ftp://join?room=r",
		"chatsync://leave?room=r",
		"chatsync://join?perm=edit",
		"chatsync://join?room=r&perm=admin",
		"https://example.com/invite?room=r",
	}
	for _, link := range cases {
		if _, err := ParseShareLink(link); err == nil {
			t.Fatalf("expected error for %q", link)
		}
	}
}

func TestBuildShareLinkRejectsInvalid(t *testing.T) {
	if _, err := BuildShareLink("", models.PermissionEdit); err == nil {
		t.Fatalf("expected error for empty room")
	}
	if _, err := BuildShareLink("collab-abc", "owner"); err == nil {
		t.Fatalf("expected error for invalid permission")
	}
}
