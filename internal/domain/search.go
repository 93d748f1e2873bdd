package domain

// Source names an audio backend.
type Source string

const (
	SourceYouTube    Source = "youtube"
	SourceSoundCloud Source = "soundcloud"
	SourceMonochrome Source = "monochrome"
	SourceSoulseek   Source = "soulseek"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceYouTube, SourceSoundCloud, SourceMonochrome, SourceSoulseek:
		return true
	}
	return false
}

// SearchResult is one normalised candidate returned by a source adapter.
// QualityScore is comparable across sources and is the only ranking key.
type SearchResult struct {
	SourceID     string `json:"source_id"`
	Title        string `json:"title"`
	Channel      string `json:"channel"`
	Duration     int    `json:"duration_seconds"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	IsPlaylist   bool   `json:"is_playlist"`
	VideoCount   int    `json:"video_count,omitempty"`
	Source       Source `json:"source"`
	SourceURL    string `json:"source_url,omitempty"`
	QualityTier  string `json:"quality,omitempty"`
	QualityScore int    `json:"quality_score"`

	// Artist is set when it differs from Channel, as for Soulseek peers.
	Artist       string `json:"artist,omitempty"`
	PeerUsername string `json:"peer_username,omitempty"`
	PeerFilename string `json:"peer_filename,omitempty"`
	Size         int64  `json:"size,omitempty"`

	Album      string `json:"album,omitempty"`
	AlbumID    string `json:"album_id,omitempty"`
	AlbumCover string `json:"album_cover,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
	Explicit   bool   `json:"explicit,omitempty"`
}

// JobRequest turns a chosen result into a job request.
func (r SearchResult) JobRequest(convertToFLAC bool) NewJobRequest {
	artist := r.Artist
	if artist == "" {
		artist = r.Channel
	}
	req := NewJobRequest{
		SourceID:      r.SourceID,
		Title:         r.Title,
		Artist:        artist,
		Uploader:      r.Channel,
		DownloadType:  DownloadSingle,
		Source:        r.Source,
		PeerUsername:  r.PeerUsername,
		PeerFilename:  r.PeerFilename,
		ConvertToFLAC: convertToFLAC,
		SourceURL:     r.SourceURL,
	}
	if r.IsPlaylist {
		req.DownloadType = DownloadPlaylist
		req.PlaylistName = r.Title
		if r.Source == SourceMonochrome {
			req.DownloadType = DownloadAlbum
		}
	}
	return req
}
