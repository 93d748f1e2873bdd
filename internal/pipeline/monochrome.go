package pipeline

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/command"
	"github.com/cwygoda/musicgrabber/internal/adapter/source"
	"github.com/cwygoda/musicgrabber/internal/domain"
)

type monochromeBackend interface {
	Info(ctx context.Context, trackID string) (*source.TidalTrack, error)
	Album(ctx context.Context, albumID string) (*source.TidalAlbum, error)
	Download(ctx context.Context, trackID, dir, stem string) (string, error)
	Cover(ctx context.Context, uuid string) ([]byte, error)
}

// MonochromeAcquirer streams lossless tracks and albums from Monochrome.
// Its metadata is kept as-is.
type MonochromeAcquirer struct {
	api monochromeBackend
	log zerolog.Logger
}

// NewMonochromeAcquirer creates the Monochrome acquirer.
func NewMonochromeAcquirer(api monochromeBackend, log zerolog.Logger) *MonochromeAcquirer {
	return &MonochromeAcquirer{api: api, log: log}
}

func tidalTrack(tt source.TidalTrack, artist string, album *source.TidalAlbum) Track {
	t := Track{
		ID:           string(tt.ID),
		Title:        tt.Title,
		Artist:       tt.ArtistName(artist),
		ISRC:         tt.ISRC,
		TrackNumber:  tt.TrackNumber,
		Album:        "Singles",
		KeepMetadata: true,
		Resolved:     true,
	}
	if album == nil {
		album = tt.Album
	}
	if album != nil {
		if album.Title != "" {
			t.Album = album.Title
		}
		t.CoverID = album.Cover
	}
	if tt.Album != nil && tt.Album.Cover != "" {
		t.CoverID = tt.Album.Cover
	}
	return t
}

// Resolve fetches the track's API metadata.
func (a *MonochromeAcquirer) Resolve(ctx context.Context, seed Track) Result[Track] {
	id := seed.ID
	if id == "" {
		id, _ = source.MonochromeTrackID(seed.URL)
	}
	if id == "" {
		return Failed[Track]("no Monochrome track id", KindFatal)
	}
	info, err := a.api.Info(ctx, id)
	if err != nil {
		return Fatal[Track](err)
	}
	def := seed.Artist
	if def == "" {
		def = "Unknown Artist"
	}
	t := tidalTrack(*info, def, nil)
	t.ID = id
	t.URL = seed.URL
	t.Uploader = "Monochrome"
	return Ok(t)
}

// Acquire downloads the stream and fetches the cover art.
func (a *MonochromeAcquirer) Acquire(ctx context.Context, req Request) Result[Acquired] {
	log := a.log.With().Str("job_id", req.JobID).Str("track", req.Track.ID).Logger()

	var name string
	_, err := command.Isolated(ctx, log, "monochrome-"+req.JobID, req.Dir, func(ctx context.Context, tempDir string) error {
		p, err := a.api.Download(ctx, req.Track.ID, tempDir, req.Stem)
		if err != nil {
			return errors.Wrap(err, "Monochrome download failed")
		}
		name = filepath.Base(p)
		return nil
	})
	if err != nil {
		return Fatal[Acquired](err)
	}

	out := Acquired{Path: filepath.Join(req.Dir, name)}
	if req.Track.CoverID != "" {
		cover, err := a.api.Cover(ctx, req.Track.CoverID)
		if err != nil {
			log.Debug().Err(err).Msg("cover art unavailable")
		} else {
			out.Cover = cover
		}
	}
	return Ok(out)
}

// List returns the album's tracks, already resolved.
func (a *MonochromeAcquirer) List(ctx context.Context, job *domain.Job) Result[Listing] {
	id := job.SourceID
	if id == "" {
		id, _ = source.MonochromeAlbumID(job.SourceURL)
	}
	if id == "" {
		return Failed[Listing]("no Monochrome album id", KindFatal)
	}
	album, err := a.api.Album(ctx, id)
	if err != nil {
		return Fatal[Listing](err)
	}
	items := album.TrackList()
	if len(items) == 0 {
		return Failed[Listing]("No tracks found in album", KindFatal)
	}

	def := job.Artist
	if def == "" {
		def = "Unknown Artist"
	}
	artist := album.ArtistName(def)
	name := album.Title
	if name == "" {
		name = job.PlaylistName
	}
	tracks := make([]Track, 0, len(items))
	for _, it := range items {
		t := tidalTrack(it, artist, album)
		t.Uploader = "Monochrome"
		tracks = append(tracks, t)
	}
	return Ok(Listing{Name: name, Artist: artist, Album: true, Tracks: tracks})
}
