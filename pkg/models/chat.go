package models

// Chat is the metadata record for a single conversation. IDs are
// client-generated and stable across local, remote and peer replicas.
type Chat struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - last time metadata or chat activity changed
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// EndTS is set when the conversation is explicitly ended (ns)
	EndTS int64 `json:"end_ts,omitempty"`
	// Deleted marks a chat as soft-deleted; DeletedTS records deletion time (ns)
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`
}
