package store

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Stats is a compact view of store contents for the control API.
type Stats struct {
	DiskBytes uint64 `json:"disk_bytes"`
	Chats     int    `json:"chats"`
	Messages  int    `json:"messages"`
	Artifacts int    `json:"artifacts"`
}

// GetStats returns best-effort store statistics: total on-disk size of
// the DB directory plus record counts derived from the key namespaces.
func GetStats() Stats {
	var s Stats
	if db == nil {
		return s
	}
	if dbPath != "" {
		_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				s.DiskBytes += uint64(fi.Size())
			}
			return nil
		})
	}
	keys, err := ListKeys("")
	if err != nil {
		return s
	}
	for _, k := range keys {
		switch {
		case strings.HasPrefix(k, "chat:") && strings.HasSuffix(k, ":meta"):
			s.Chats++
		case strings.HasPrefix(k, "msgid:"):
			s.Messages++
		case strings.HasPrefix(k, "artifact:"):
			s.Artifacts++
		}
	}
	return s
}
