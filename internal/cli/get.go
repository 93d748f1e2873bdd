package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwygoda/musicgrabber/internal/adapter/source"
	"github.com/cwygoda/musicgrabber/internal/domain"
)

type getOptions struct {
	title    string
	artist   string
	peer     string
	playlist bool
	noFLAC   bool
}

func newGetCmd(e *env) *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get <source> <id|url>",
		Short: "Queue a download",
		Long: `Queue a download from one source. The job runs on a serve process.

Examples:
  musicgrabber get youtube dQw4w9WgXcQ
  musicgrabber get youtube "https://www.youtube.com/playlist?list=PL..."
  musicgrabber get soundcloud https://soundcloud.com/artist/track
  musicgrabber get monochrome https://monochrome.tf/album/123
  musicgrabber get soulseek "Music\\Artist\\01 Song.flac" --peer someuser`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(domain.Source(args[0]), args[1], opts)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("no-flac") {
				req.ConvertToFLAC = e.app.Settings.Bool("default_convert_to_flac", true)
			}
			job, err := e.app.Jobs.Submit(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s\n", job.DownloadType, job.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.title, "title", "", "track title")
	f.StringVar(&opts.artist, "artist", "", "artist name")
	f.StringVar(&opts.peer, "peer", "", "Soulseek username sharing the file")
	f.BoolVar(&opts.playlist, "playlist", false, "treat the id as a playlist or album")
	f.BoolVar(&opts.noFLAC, "no-flac", false, "keep the source format")
	return cmd
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// buildRequest turns a command-line reference into a job request.
func buildRequest(src domain.Source, ref string, opts getOptions) (domain.NewJobRequest, error) {
	if !src.Valid() {
		return domain.NewJobRequest{}, fmt.Errorf("unknown source %q", src)
	}
	r := domain.SearchResult{
		Source:     src,
		Title:      opts.title,
		Artist:     opts.artist,
		IsPlaylist: opts.playlist,
	}

	switch src {
	case domain.SourceYouTube:
		if isURL(ref) {
			r.SourceURL = ref
			if strings.Contains(ref, "/playlist") && strings.Contains(ref, "list=") {
				r.IsPlaylist = true
			}
		} else if source.ValidYouTubeID(ref) {
			r.SourceID = ref
		} else {
			return domain.NewJobRequest{}, errors.New("not a YouTube video ID or URL")
		}
	case domain.SourceSoundCloud:
		if !isURL(ref) {
			return domain.NewJobRequest{}, errors.New("SoundCloud needs a track or set URL")
		}
		r.SourceURL = ref
		r.IsPlaylist = r.IsPlaylist || strings.Contains(ref, "/sets/")
	case domain.SourceMonochrome:
		if isURL(ref) {
			r.SourceURL = ref
			if id, ok := source.MonochromeAlbumID(ref); ok {
				r.SourceID, r.IsPlaylist = id, true
			} else if id, ok := source.MonochromeTrackID(ref); ok {
				r.SourceID = id
			}
		} else {
			r.SourceID = ref
		}
	case domain.SourceSoulseek:
		if opts.peer == "" {
			return domain.NewJobRequest{}, errors.New("--peer is required for soulseek")
		}
		r.PeerUsername, r.PeerFilename = opts.peer, ref
		r.SourceID = "slskd_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		r.IsPlaylist = false
		if r.Title == "" || r.Artist == "" {
			artist, title := source.ExtractTrackInfo(ref)
			if r.Title == "" {
				r.Title = title
			}
			if r.Artist == "" {
				r.Artist = artist
			}
		}
	}
	return r.JobRequest(!opts.noFLAC), nil
}
