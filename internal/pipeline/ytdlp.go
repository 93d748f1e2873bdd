package pipeline

import (
	"context"
	"net/url"

	"github.com/cwygoda/musicgrabber/internal/adapter/source"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
	"github.com/cwygoda/musicgrabber/internal/media"
)

type ytBackend interface {
	Info(ctx context.Context, target string, youtube bool) (*source.Entry, error)
	Download(ctx context.Context, req source.DownloadRequest) (string, error)
}

type playlistBackend interface {
	PlaylistEntries(ctx context.Context, playlistID string) ([]source.Entry, error)
}

// YTDLPAcquirer fetches YouTube and SoundCloud audio through yt-dlp.
// yt-dlp converts on its own, so requests with Convert set come back in
// the target format already.
type YTDLPAcquirer struct {
	yt        ytBackend
	playlists playlistBackend
	source    domain.Source
}

// NewYouTubeAcquirer creates the YouTube acquirer. playlists may be nil.
func NewYouTubeAcquirer(yt ytBackend, playlists playlistBackend) *YTDLPAcquirer {
	return &YTDLPAcquirer{yt: yt, playlists: playlists, source: domain.SourceYouTube}
}

// NewSoundCloudAcquirer creates the SoundCloud acquirer.
func NewSoundCloudAcquirer(yt ytBackend) *YTDLPAcquirer {
	return &YTDLPAcquirer{yt: yt, source: domain.SourceSoundCloud}
}

func (a *YTDLPAcquirer) youtube() bool { return a.source == domain.SourceYouTube }

func (a *YTDLPAcquirer) target(t Track) string {
	switch {
	case t.URL != "":
		return t.URL
	case a.youtube():
		return source.WatchURL(t.ID)
	}
	return t.ID
}

// Resolve reads the video info and splits its title into artist and title.
func (a *YTDLPAcquirer) Resolve(ctx context.Context, seed Track) Result[Track] {
	info, err := a.yt.Info(ctx, a.target(seed), a.youtube())
	if err != nil {
		return Fatal[Track](err)
	}
	channel := info.ChannelName(!a.youtube())
	t := seed
	t.Artist, t.Title = library.ExtractArtistTitle(info.Title, channel)
	t.Uploader = channel
	if t.ID == "" {
		t.ID = info.ID
	}
	if t.URL == "" {
		t.URL = info.Link()
	}
	if codec, abr := info.SourceFormat(); codec != "" {
		t.Format = &media.SourceFormat{Codec: codec, Bitrate: abr}
	}
	t.Resolved = true
	return Ok(t)
}

// Acquire downloads the track, converting through yt-dlp when asked.
func (a *YTDLPAcquirer) Acquire(ctx context.Context, req Request) Result[Acquired] {
	format := ""
	if req.Convert {
		format = req.Format
	}
	path, err := a.yt.Download(ctx, source.DownloadRequest{
		URL:     a.target(req.Track),
		Dir:     req.Dir,
		Stem:    req.Stem,
		Format:  format,
		YouTube: a.youtube(),
		JobID:   req.JobID,
	})
	if err != nil {
		return Fatal[Acquired](err)
	}
	out := Acquired{Path: path}
	if req.Convert {
		out.Source = req.Track.Format
		out.SourceUnknown = out.Source == nil
	}
	return Ok(out)
}

// List returns the playlist's videos in order. Tracks are resolved one by
// one as the job reaches them.
func (a *YTDLPAcquirer) List(ctx context.Context, job *domain.Job) Result[Listing] {
	if a.playlists == nil {
		return Failed[Listing]("playlists are not supported for "+string(a.source), KindFatal)
	}
	id := job.SourceID
	if id == "" {
		id = playlistID(job.SourceURL)
	}
	if id == "" {
		return Failed[Listing]("no playlist id", KindFatal)
	}
	entries, err := a.playlists.PlaylistEntries(ctx, id)
	if err != nil {
		return Fatal[Listing](err)
	}
	if len(entries) == 0 {
		return Failed[Listing]("No videos found in playlist", KindFatal)
	}

	tracks := make([]Track, 0, len(entries))
	for _, e := range entries {
		tracks = append(tracks, Track{ID: e.ID, Title: e.Title})
	}
	name := job.PlaylistName
	if name == "" {
		name = job.Title
	}
	if name == "" {
		name = "Playlist"
	}
	return Ok(Listing{Name: name, Tracks: tracks})
}

func playlistID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("list")
}
