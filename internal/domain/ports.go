package domain

import (
	"context"
	"time"
)

// JobRepository is the driven port for job persistence.
type JobRepository interface {
	Create(ctx context.Context, req NewJobRequest) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, limit int) ([]Job, error)
	FindQueued(ctx context.Context, limit int) ([]Job, error)
	Claim(ctx context.Context, id string) error
	Update(ctx context.Context, id string, u JobUpdate) error
	Increment(ctx context.Context, id string, c Counter) error
	Finish(ctx context.Context, id string, status JobStatus, reason string) error
	Reset(ctx context.Context, id string) error
	RecoverInterrupted(ctx context.Context) (int64, error)
	FailStale(ctx context.Context, status JobStatus, before time.Time, reason string) (int64, error)
}

// BlacklistRepository persists blocked source IDs and uploaders.
type BlacklistRepository interface {
	AddBlacklist(ctx context.Context, e BlacklistEntry) (*BlacklistEntry, error)
	ListBlacklist(ctx context.Context) ([]BlacklistEntry, error)
	RemoveBlacklist(ctx context.Context, id int64) error
}

// ImportRepository persists bulk imports and their tracks.
type ImportRepository interface {
	CreateImport(ctx context.Context, imp BulkImport, tracks []TrackRef) (*BulkImport, error)
	GetImport(ctx context.Context, id string) (*BulkImport, error)
	SetImportStatus(ctx context.Context, id string, status ImportStatus, reason string) error
	NextPendingTrack(ctx context.Context, importID string) (*BulkTrack, error)
	ImportTracks(ctx context.Context, importID string) ([]BulkTrack, error)
	SetTrackStatus(ctx context.Context, trackID int64, status TrackStatus, reason string) error
	QueueTrack(ctx context.Context, t BulkTrack, jobID, sourceID string) error
	FailTrack(ctx context.Context, t BulkTrack, reason string) error
}

// WatchRepository persists watched playlists and the tracks seen in them.
type WatchRepository interface {
	AddWatched(ctx context.Context, p WatchedPlaylist) (*WatchedPlaylist, error)
	GetWatched(ctx context.Context, id string) (*WatchedPlaylist, error)
	ListWatched(ctx context.Context) ([]WatchedPlaylist, error)
	MarkChecked(ctx context.Context, id string, trackCount int) error
	WatchedTracks(ctx context.Context, playlistID string) ([]WatchedTrack, error)
	AddWatchedTrack(ctx context.Context, t WatchedTrack) error
	MarkTrackDownloaded(ctx context.Context, playlistID, hash string) error
	MarkJobDownloaded(ctx context.Context, jobID string) error
	LinkTrackJob(ctx context.Context, playlistID, hash, jobID string) error
}

// SettingsStore persists runtime settings.
type SettingsStore interface {
	AllSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Settings is the typed read side of runtime settings.
// Environment overrides beat persisted values, which beat defaults.
type Settings interface {
	String(key, def string) string
	Bool(key string, def bool) bool
	Int(key string, def int) int
}

// Searcher is a per-source search backend. Search never fails:
// transient errors are logged and produce an empty slice.
type Searcher interface {
	Name() Source
	Search(ctx context.Context, query string, limit int) []SearchResult
}

// NotificationType selects which notify_on bucket a notification belongs to.
type NotificationType string

const (
	NotifySingle   NotificationType = "single"
	NotifyPlaylist NotificationType = "playlist"
	NotifyBulk     NotificationType = "bulk"
	NotifyError    NotificationType = "error"
)

// Notification is a best-effort message about a finished job or import.
type Notification struct {
	Type         NotificationType
	Title        string
	Artist       string
	Source       Source
	Status       string
	Error        string
	TrackCount   int
	FailedCount  int
	SkippedCount int
	PlaylistName string
}

// Notifier delivers notifications. Implementations swallow delivery errors.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
