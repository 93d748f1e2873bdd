package domain

import "time"

// JobStatus represents the processing state of a job.
type JobStatus string

const (
	StatusQueued              JobStatus = "queued"
	StatusDownloading         JobStatus = "downloading"
	StatusCompleted           JobStatus = "completed"
	StatusCompletedWithErrors JobStatus = "completed_with_errors"
	StatusFailed              JobStatus = "failed"
)

// IsTerminal reports whether no further pipeline progress happens without a retry.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed:
		return true
	}
	return false
}

// DownloadType distinguishes single-track jobs from multi-track ones.
type DownloadType string

const (
	DownloadSingle   DownloadType = "single"
	DownloadPlaylist DownloadType = "playlist"
	DownloadAlbum    DownloadType = "album"
)

// IsMultiTrack reports whether the job carries aggregate track counters.
func (t DownloadType) IsMultiTrack() bool {
	return t == DownloadPlaylist || t == DownloadAlbum
}

// Job is a persisted download request driven through the pipeline.
type Job struct {
	ID           string
	SourceID     string
	Title        string
	Artist       string
	Uploader     string
	Status       JobStatus
	DownloadType DownloadType
	Source       Source

	PeerUsername string
	PeerFilename string

	ConvertToFLAC bool
	SourceURL     string
	PlaylistName  string

	TotalTracks     int
	CompletedTracks int
	FailedTracks    int
	SkippedTracks   int
	M3UPath         string

	Error          string
	AudioQuality   string
	MetadataSource string
	FileDeleted    bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// JobUpdate carries the fields a pipeline run may set. Nil fields are left untouched.
type JobUpdate struct {
	Status         *JobStatus
	Title          *string
	Artist         *string
	Uploader       *string
	Error          *string
	AudioQuality   *string
	MetadataSource *string
	TotalTracks    *int
	M3UPath        *string
	FileDeleted    *bool
}

// Counter names one of the multi-track progress counters.
type Counter string

const (
	CounterCompleted Counter = "completed_tracks"
	CounterFailed    Counter = "failed_tracks"
	CounterSkipped   Counter = "skipped_tracks"
)

// NewJobRequest describes a job to be created.
type NewJobRequest struct {
	SourceID      string
	Title         string
	Artist        string
	Uploader      string
	DownloadType  DownloadType
	Source        Source
	PeerUsername  string
	PeerFilename  string
	ConvertToFLAC bool
	SourceURL     string
	PlaylistName  string
}

// Validate checks the request carries what its source needs to acquire audio.
func (r NewJobRequest) Validate() error {
	if !r.Source.Valid() {
		return ErrInvalidRequest
	}
	switch r.Source {
	case SourceSoulseek:
		if r.PeerUsername == "" || r.PeerFilename == "" {
			return ErrInvalidRequest
		}
	case SourceSoundCloud:
		if r.SourceURL == "" {
			return ErrInvalidRequest
		}
	default:
		if r.SourceID == "" && r.SourceURL == "" {
			return ErrInvalidRequest
		}
	}
	return nil
}
