package domain

import "time"

// ImportStatus is the lifecycle of a bulk import.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportError      ImportStatus = "error"
)

// TrackStatus is the lifecycle of one line in a bulk import.
type TrackStatus string

const (
	TrackPending   TrackStatus = "pending"
	TrackSearching TrackStatus = "searching"
	TrackQueued    TrackStatus = "queued"
	TrackFailed    TrackStatus = "failed"
)

// TrackRef is an artist/title pair as typed by a user or read from a playlist.
type TrackRef struct {
	Artist string
	Title  string
}

// BulkImport groups many searched-and-queued tracks.
type BulkImport struct {
	ID              string
	Status          ImportStatus
	TotalTracks     int
	Searched        int
	Queued          int
	Failed          int
	Skipped         int
	ConvertToFLAC   bool
	CreatePlaylist  bool
	UsePlaylistsDir bool
	PlaylistName    string
	WatchPlaylistID string
	Error           string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// BulkTrack is one line of a bulk import.
type BulkTrack struct {
	ID       int64
	ImportID string
	LineNum  int
	Artist   string
	Song     string
	Status   TrackStatus
	JobID    string
	SourceID string
	Error    string
}

// WatchedPlaylist is an external playlist refreshed on a schedule.
type WatchedPlaylist struct {
	ID              string
	URL             string
	Name            string
	Platform        string
	RefreshInterval time.Duration
	LastChecked     *time.Time
	LastTrackCount  int
	Enabled         bool
	ConvertToFLAC   bool
	MakeM3U         bool
	CreatedAt       time.Time
}

// Due reports whether the playlist should be refreshed at now.
func (p WatchedPlaylist) Due(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.LastChecked == nil {
		return true
	}
	return !p.LastChecked.Add(p.RefreshInterval).After(now)
}

// WatchedTrack is a song seen in a watched playlist.
type WatchedTrack struct {
	PlaylistID   string
	Hash         string
	Artist       string
	Title        string
	FirstSeen    time.Time
	DownloadedAt *time.Time
	JobID        string
	JobStatus    JobStatus
}
