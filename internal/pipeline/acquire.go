package pipeline

import (
	"context"

	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/media"
)

// Track is one song as a source knows it.
type Track struct {
	ID           string
	URL          string
	Artist       string
	Title        string
	Uploader     string
	PeerUsername string
	PeerFilename string

	Album       string
	TrackNumber int
	ISRC        string
	CoverID     string

	// Format is the audio a source will deliver before any conversion.
	Format *media.SourceFormat

	// KeepMetadata marks the source's tags as authoritative; enrichment
	// only adds the release year.
	KeepMetadata bool
	Resolved     bool
}

// Request asks an acquirer to put one track at Dir/Stem.<ext>.
type Request struct {
	JobID   string
	Track   Track
	Dir     string
	Stem    string
	Convert bool
	Format  string
}

// Acquired is a file an acquirer placed in the library.
type Acquired struct {
	Path   string
	Source *media.SourceFormat
	// SourceUnknown marks a file the source transcoded from audio it did
	// not describe, so its real bitrate cannot be checked.
	SourceUnknown bool
	Cover         []byte
	// Uploader is set when the file came from someone other than the
	// job's original uploader.
	Uploader string
}

// Listing is the resolved content of a multi-track job.
type Listing struct {
	Name   string
	Artist string
	Album  bool
	Tracks []Track
}

// Acquirer resolves and fetches tracks for one source.
type Acquirer interface {
	Resolve(ctx context.Context, seed Track) Result[Track]
	Acquire(ctx context.Context, req Request) Result[Acquired]
}

// Lister is implemented by acquirers whose source has playlists or albums.
type Lister interface {
	List(ctx context.Context, job *domain.Job) Result[Listing]
}

func seedFromJob(job *domain.Job) Track {
	return Track{
		ID:           job.SourceID,
		URL:          job.SourceURL,
		Artist:       job.Artist,
		Title:        job.Title,
		Uploader:     job.Uploader,
		PeerUsername: job.PeerUsername,
		PeerFilename: job.PeerFilename,
	}
}
