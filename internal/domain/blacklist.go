package domain

import (
	"strings"
	"time"
)

// BlacklistEntry blocks either one exact source ID or one uploader on a source.
type BlacklistEntry struct {
	ID        int64
	SourceID  string
	Uploader  string
	Source    Source
	Reason    string
	Note      string
	JobID     string
	CreatedAt time.Time
}

// Blocklist is the snapshot the aggregator filters against.
type Blocklist struct {
	IDs       map[string]struct{}
	Uploaders map[Source]map[string]struct{}
}

// NewBlocklist builds a lookup snapshot from stored entries.
func NewBlocklist(entries []BlacklistEntry) Blocklist {
	b := Blocklist{
		IDs:       make(map[string]struct{}),
		Uploaders: make(map[Source]map[string]struct{}),
	}
	for _, e := range entries {
		if e.SourceID != "" {
			b.IDs[e.SourceID] = struct{}{}
		}
		if e.Uploader != "" {
			src := e.Source
			if src == "" {
				src = SourceYouTube
			}
			if b.Uploaders[src] == nil {
				b.Uploaders[src] = make(map[string]struct{})
			}
			b.Uploaders[src][strings.ToLower(e.Uploader)] = struct{}{}
		}
	}
	return b
}

// BlocksID reports whether the exact source ID is blocked.
func (b Blocklist) BlocksID(id string) bool {
	_, ok := b.IDs[id]
	return ok
}

// BlocksUploader reports whether the uploader is blocked on the given source.
func (b Blocklist) BlocksUploader(src Source, uploader string) bool {
	if uploader == "" {
		return false
	}
	_, ok := b.Uploaders[src][strings.ToLower(uploader)]
	return ok
}
