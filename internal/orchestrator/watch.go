package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/ytget/ytdlp/v2"

	"github.com/cwygoda/musicgrabber/internal/adapter/source"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
	"github.com/cwygoda/musicgrabber/internal/logging"
)

// PlatformYouTube is the only platform a playlist can be watched on.
const PlatformYouTube = "youtube"

// ErrUnsupportedPlaylist is returned for URLs no fetcher understands.
var ErrUnsupportedPlaylist = errors.New("invalid playlist URL: only YouTube and YouTube Music playlists are supported")

var youtubePlaylist = regexp.MustCompile(`^https?://(?:www\.|music\.)?(?:youtube\.com|youtu\.be)/playlist\?(?:.*&)?list=([A-Za-z0-9_-]+)`)

// DetectPlatform returns the platform and playlist ID for a watchable URL.
func DetectPlatform(url string) (platform, id string, err error) {
	if m := youtubePlaylist.FindStringSubmatch(url); m != nil {
		return PlatformYouTube, m[1], nil
	}
	return "", "", ErrUnsupportedPlaylist
}

// PlaylistFetcher lists the tracks currently in a playlist.
type PlaylistFetcher interface {
	Fetch(ctx context.Context, url string) (name string, tracks []domain.TrackRef, err error)
}

type playlistItem struct {
	ID       string
	Title    string
	Channel  string
	Playlist string
}

type itemLister func(ctx context.Context, playlistID string) ([]playlistItem, error)

// YouTubeFetcher reads playlists through the ytget library and falls back
// to a flat yt-dlp listing, which also carries channel names.
type YouTubeFetcher struct {
	primary  itemLister
	fallback itemLister
	log      zerolog.Logger
}

// NewYouTubeFetcher creates a fetcher. yt may be nil to disable the yt-dlp fallback.
func NewYouTubeFetcher(yt *source.YouTube, log zerolog.Logger) *YouTubeFetcher {
	f := &YouTubeFetcher{
		primary: ytgetItems,
		log:     logging.Component(log, "playlist_fetcher"),
	}
	if yt != nil {
		f.fallback = func(ctx context.Context, id string) ([]playlistItem, error) {
			entries, err := yt.PlaylistEntries(ctx, id)
			if err != nil {
				return nil, err
			}
			items := make([]playlistItem, 0, len(entries))
			for _, e := range entries {
				items = append(items, playlistItem{
					ID:       e.ID,
					Title:    e.Title,
					Channel:  e.ChannelName(false),
					Playlist: e.PlaylistTitle,
				})
			}
			return items, nil
		}
	}
	return f
}

func ytgetItems(ctx context.Context, playlistID string) ([]playlistItem, error) {
	ctx, cancel := context.WithTimeout(ctx, source.TimeoutPlaylist)
	defer cancel()
	found, err := ytdlp.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}
	items := make([]playlistItem, 0, len(found))
	for _, it := range found {
		items = append(items, playlistItem{ID: it.VideoID, Title: it.Title})
	}
	return items, nil
}

// Fetch implements PlaylistFetcher.
func (f *YouTubeFetcher) Fetch(ctx context.Context, url string) (string, []domain.TrackRef, error) {
	_, id, err := DetectPlatform(url)
	if err != nil {
		return "", nil, err
	}

	items, err := f.primary(ctx, id)
	if (err != nil || len(items) == 0) && f.fallback != nil {
		f.log.Debug().Err(err).Str("playlist_id", id).Msg("falling back to yt-dlp listing")
		items, err = f.fallback(ctx, id)
	}
	if err != nil {
		return "", nil, fmt.Errorf("fetch YouTube playlist: %w", err)
	}

	name := "YouTube Playlist"
	var tracks []domain.TrackRef
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if it.Playlist != "" && name == "YouTube Playlist" {
			name = it.Playlist
		}
		artist, title := library.ExtractArtistTitle(it.Title, it.Channel)
		tracks = append(tracks, domain.TrackRef{Artist: artist, Title: title})
	}
	if len(tracks) == 0 {
		return "", nil, errors.New("No tracks found in YouTube playlist")
	}
	return name, tracks, nil
}

// Importer starts bulk imports.
type Importer interface {
	Start(ctx context.Context, req ImportRequest) (*domain.BulkImport, error)
}

// WatchConfig wires a Watcher.
type WatchConfig struct {
	Repo    domain.WatchRepository
	Imports Importer
	Fetcher PlaylistFetcher
	Layout  *library.Layout
	Log     zerolog.Logger

	// CheckInterval is how often due playlists are looked for.
	CheckInterval time.Duration
}

// WatchOptions are the user choices for a new watched playlist.
type WatchOptions struct {
	Name            string
	RefreshInterval time.Duration
	ConvertToFLAC   bool
	MakeM3U         bool
}

// RefreshResult summarises one playlist refresh.
type RefreshResult struct {
	PlaylistID string `json:"playlist_id"`
	Name       string `json:"name"`
	Total      int    `json:"total_tracks"`
	New        int    `json:"new_tracks"`
	Missing    int    `json:"missing_tracks"`
	Queued     int    `json:"queued"`
	ImportID   string `json:"import_id,omitempty"`
	M3UPath    string `json:"m3u_path,omitempty"`
}

// Watcher keeps watched playlists in sync with the library.
type Watcher struct {
	cfg WatchConfig
	log zerolog.Logger
	now func() time.Time
}

// NewWatcher creates a Watcher.
func NewWatcher(cfg WatchConfig) *Watcher {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 24 * time.Hour
	}
	return &Watcher{cfg: cfg, log: logging.Component(cfg.Log, "watch"), now: time.Now}
}

// Add starts watching url and runs a first refresh.
func (w *Watcher) Add(ctx context.Context, url string, opts WatchOptions) (*domain.WatchedPlaylist, *RefreshResult, error) {
	platform, _, err := DetectPlatform(url)
	if err != nil {
		return nil, nil, err
	}
	name := opts.Name
	if name == "" {
		if name, _, err = w.cfg.Fetcher.Fetch(ctx, url); err != nil {
			return nil, nil, err
		}
	}
	p, err := w.cfg.Repo.AddWatched(ctx, domain.WatchedPlaylist{
		URL:             url,
		Name:            name,
		Platform:        platform,
		RefreshInterval: opts.RefreshInterval,
		Enabled:         true,
		ConvertToFLAC:   opts.ConvertToFLAC,
		MakeM3U:         opts.MakeM3U,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("add watched playlist: %w", err)
	}
	w.log.Info().Str("playlist_id", p.ID).Str("name", p.Name).Msg("watching playlist")

	res, err := w.Refresh(ctx, p.ID)
	return p, res, err
}

// Refresh fetches a playlist and queues tracks that are new or whose earlier
// download did not complete.
func (w *Watcher) Refresh(ctx context.Context, id string) (*RefreshResult, error) {
	p, err := w.cfg.Repo.GetWatched(ctx, id)
	if err != nil {
		return nil, err
	}
	log := w.log.With().Str("playlist_id", id).Logger()

	_, tracks, err := w.cfg.Fetcher.Fetch(ctx, p.URL)
	if err != nil {
		if merr := w.cfg.Repo.MarkChecked(ctx, id, p.LastTrackCount); merr != nil {
			log.Error().Err(merr).Msg("mark checked")
		}
		return nil, err
	}

	known, err := w.cfg.Repo.WatchedTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	tracked := make(map[string]domain.WatchedTrack, len(known))
	for _, t := range known {
		tracked[t.Hash] = t
	}

	res := &RefreshResult{PlaylistID: id, Name: p.Name, Total: len(tracks)}
	var queue []domain.TrackRef
	seen := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		hash := library.HashTrack(t.Artist, t.Title)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		existing, ok := tracked[hash]
		switch {
		case !ok:
			if err := w.cfg.Repo.AddWatchedTrack(ctx, domain.WatchedTrack{
				PlaylistID: id, Hash: hash, Artist: t.Artist, Title: t.Title,
			}); err != nil {
				return nil, err
			}
			res.New++
			queue = append(queue, t)
		case existing.DownloadedAt != nil:
		case existing.JobStatus == domain.StatusCompleted:
			if err := w.cfg.Repo.MarkTrackDownloaded(ctx, id, hash); err != nil {
				return nil, err
			}
		case existing.JobStatus == domain.StatusQueued, existing.JobStatus == domain.StatusDownloading:
		default:
			res.Missing++
			queue = append(queue, t)
		}
	}

	if len(queue) > 0 {
		imp, err := w.cfg.Imports.Start(ctx, ImportRequest{
			Tracks:          queue,
			ConvertToFLAC:   p.ConvertToFLAC,
			WatchPlaylistID: id,
		})
		if err != nil {
			return nil, fmt.Errorf("queue playlist tracks: %w", err)
		}
		res.Queued = len(queue)
		res.ImportID = imp.ID
	}

	if err := w.cfg.Repo.MarkChecked(ctx, id, len(tracks)); err != nil {
		return nil, err
	}

	if p.MakeM3U {
		path, err := w.rebuildM3U(ctx, p)
		if err != nil {
			log.Warn().Err(err).Msg("watched playlist m3u not rebuilt")
		}
		res.M3UPath = path
	}

	if res.Queued > 0 {
		log.Info().Int("new", res.New).Int("missing", res.Missing).Int("queued", res.Queued).Msg("watched playlist refreshed")
	}
	return res, nil
}

// rebuildM3U writes the playlist from every track downloaded so far. Tracks
// queued by this refresh appear on the next one.
func (w *Watcher) rebuildM3U(ctx context.Context, p *domain.WatchedPlaylist) (string, error) {
	tracks, err := w.cfg.Repo.WatchedTracks(ctx, p.ID)
	if err != nil {
		return "", err
	}
	var refs []library.TrackRef
	for _, t := range tracks {
		if t.DownloadedAt != nil {
			refs = append(refs, library.TrackRef{Artist: t.Artist, Title: t.Title})
		}
	}
	if len(refs) == 0 {
		return "", nil
	}
	return w.cfg.Layout.BuildPlaylist(p.Name, refs, false)
}

// CheckDue refreshes every enabled playlist whose interval has elapsed.
func (w *Watcher) CheckDue(ctx context.Context) int {
	playlists, err := w.cfg.Repo.ListWatched(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("list watched playlists")
		return 0
	}
	now := w.now()
	refreshed := 0
	for _, p := range playlists {
		if !p.Due(now) {
			continue
		}
		if _, err := w.Refresh(ctx, p.ID); err != nil {
			w.log.Warn().Err(err).Str("playlist_id", p.ID).Msg("watched playlist refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed
}

// Run checks for due playlists now and then every CheckInterval until ctx
// is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	sched := cron.New()
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", w.cfg.CheckInterval), func() { w.CheckDue(ctx) }); err != nil {
		return fmt.Errorf("schedule playlist checks: %w", err)
	}
	w.log.Info().Dur("interval", w.cfg.CheckInterval).Msg("watched playlist scheduler started")
	w.CheckDue(ctx)
	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}
