package models

// ArtifactVersion is one immutable revision of an artifact's content.
type ArtifactVersion struct {
	Content   string `json:"content"`
	CreatedTS int64  `json:"created_ts"`
}

// Artifact is a mutable singleton attached to a chat. Updates append a new
// version; UpdatedTS is the last-write-wins merge key.
type Artifact struct {
	ID        string            `json:"id"`
	ChatID    string            `json:"chat_id"`
	Title     string            `json:"title,omitempty"`
	Type      string            `json:"type,omitempty"`
	Versions  []ArtifactVersion `json:"versions,omitempty"`
	UpdatedTS int64             `json:"updated_ts"`
}

// Latest returns the newest version, or nil when the artifact has none.
func (a *Artifact) Latest() *ArtifactVersion {
	if len(a.Versions) == 0 {
		return nil
	}
	return &a.Versions[len(a.Versions)-1]
}
