package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/musicgrabber/internal/catalog"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
	"github.com/cwygoda/musicgrabber/internal/media"
	"github.com/cwygoda/musicgrabber/internal/metrics"
)

type fakeScanner struct{ calls chan struct{} }

func (f *fakeScanner) Scan(ctx context.Context) { f.calls <- struct{}{} }

type harness struct {
	p        *Pipeline
	root     string
	jobs     *fakeJobs
	acq      *fakeAcquirer
	media    *fakeMedia
	enricher *fakeEnricher
	notifier *fakeNotifier
	tracker  *fakeTracker
	scanner  *fakeScanner
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, settings mapSettings, job domain.Job) *harness {
	t.Helper()
	h := &harness{
		root:     t.TempDir(),
		jobs:     newFakeJobs(job),
		acq:      &fakeAcquirer{},
		media:    &fakeMedia{quality: media.Quality{Codec: "FLAC", Label: "FLAC 44.1kHz 16bit"}},
		enricher: &fakeEnricher{},
		notifier: &fakeNotifier{},
		tracker:  &fakeTracker{},
		scanner:  &fakeScanner{calls: make(chan struct{}, 16)},
		metrics:  metrics.New(),
	}
	if settings == nil {
		settings = mapSettings{}
	}
	h.p = New(Config{
		Jobs:     h.jobs,
		Tracker:  h.tracker,
		Settings: settings,
		Layout:   library.NewLayout(h.root, settings, zerolog.Nop()),
		Media:    h.media,
		Enricher: h.enricher,
		Scanner:  h.scanner,
		Notifier: h.notifier,
		Metrics:  h.metrics,
		Log:      zerolog.Nop(),
	})
	h.p.Register(job.Source, h.acq)
	return h
}

func (h *harness) run(t *testing.T, id string) domain.Job {
	t.Helper()
	job := h.jobs.job(id)
	require.NoError(t, h.p.Process(context.Background(), &job))
	return h.jobs.job(id)
}

func singleJob() domain.Job {
	return domain.Job{
		ID:           "j1",
		Source:       domain.SourceYouTube,
		SourceID:     "abc",
		Title:        "Song",
		Artist:       "Artist",
		DownloadType: domain.DownloadSingle,
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestProcess_Single(t *testing.T) {
	h := newHarness(t, nil, singleJob())
	h.enricher.lyrics = "[00:01.00] la"

	job := h.run(t, "j1")

	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Empty(t, job.Error)
	assert.Equal(t, "FLAC 44.1kHz 16bit", job.AudioQuality)
	assert.Equal(t, "youtube_guessed", job.MetadataSource)
	assert.FileExists(t, filepath.Join(h.root, "Singles", "Artist", "Song.flac"))
	assert.FileExists(t, filepath.Join(h.root, "Singles", "Artist", "Song.lrc"))

	assert.Equal(t, []string{"j1"}, h.tracker.marked)
	assert.Equal(t, domain.NotifySingle, h.notifier.last().Type)
	require.Len(t, h.media.tags, 1)
	assert.Equal(t, media.Tags{Artist: "Artist", Title: "Song"}, h.media.tags[0])

	select {
	case <-h.scanner.calls:
	case <-time.After(time.Second):
		t.Fatal("media servers were not asked to rescan")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JobsTotal.WithLabelValues("youtube", "completed")))
}

func TestProcess_DuplicateCompletesWithoutAcquiring(t *testing.T) {
	h := newHarness(t, nil, singleJob())
	writeFile(t, filepath.Join(h.root, "Singles", "Artist", "Song.mp3"))

	job := h.run(t, "j1")

	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, "Already exists: Song.mp3", job.Error)
	assert.Zero(t, h.acq.calls())
	assert.Equal(t, []string{"j1"}, h.tracker.marked)
}

func TestProcess_RetryOfCompletedJobShortCircuits(t *testing.T) {
	h := newHarness(t, nil, singleJob())

	require.Equal(t, domain.StatusCompleted, h.run(t, "j1").Status)
	require.NoError(t, h.jobs.Reset(context.Background(), "j1"))

	job := h.run(t, "j1")
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Equal(t, "Already exists: Song.flac", job.Error)
	assert.Equal(t, 1, h.acq.calls())
}

func TestProcess_ResolveFailure(t *testing.T) {
	h := newHarness(t, nil, singleJob())
	h.acq.resolve = func(seed Track) Result[Track] {
		return Failed[Track]("YouTube blocked this request (403).", KindFatal)
	}

	job := h.run(t, "j1")

	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, "YouTube blocked this request (403).", job.Error)
	assert.Zero(t, h.acq.calls())
	n := h.notifier.last()
	assert.Equal(t, domain.NotifyError, n.Type)
	assert.Equal(t, "YouTube blocked this request (403).", n.Error)
}

func TestProcess_NoAcquirer(t *testing.T) {
	job := singleJob()
	job.Source = domain.SourceSoundCloud
	h := newHarness(t, nil, job)
	h.p.acquirers = map[domain.Source]Acquirer{}

	got := h.run(t, "j1")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "no acquirer")
}

func TestProcess_QualityGateDeletesFile(t *testing.T) {
	h := newHarness(t, mapSettings{"min_audio_bitrate": "192"}, singleJob())
	runner := &fakeRunner{probe: map[string]string{
		".mp3": `{"streams":[{"codec_name":"mp3","bit_rate":"128000","sample_rate":"44100"}]}`,
	}}
	h.p.cfg.Media = media.New(media.Binaries{}, runner, zerolog.Nop())
	h.acq.ext = ".mp3"

	job := h.run(t, "j1")

	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, "Audio quality too low (128kbps, minimum is 192kbps)", job.Error)
	assert.NoFileExists(t, filepath.Join(h.root, "Singles", "Artist", "Song.mp3"))
	assert.Empty(t, h.tracker.marked)
}

func TestProcess_QualityGatePassesLossless(t *testing.T) {
	h := newHarness(t, mapSettings{"min_audio_bitrate": "320"}, singleJob())

	job := h.run(t, "j1")
	assert.Equal(t, domain.StatusCompleted, job.Status)
}

func TestProcess_ConvertThenProbeReportsTargetCodec(t *testing.T) {
	job := singleJob()
	job.ConvertToFLAC = true
	h := newHarness(t, nil, job)
	runner := &fakeRunner{probe: map[string]string{
		".webm": `{"streams":[{"codec_name":"opus","bit_rate":"160000","sample_rate":"48000"}]}`,
		".flac": `{"streams":[{"codec_name":"flac","sample_rate":"48000","bits_per_raw_sample":"16"}]}`,
	}}
	h.p.cfg.Media = media.New(media.Binaries{}, runner, zerolog.Nop())
	h.acq.ext = ".webm"

	got := h.run(t, "j1")

	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "FLAC (from OPUS 160kbps)", got.AudioQuality)
	dir := filepath.Join(h.root, "Singles", "Artist")
	assert.FileExists(t, filepath.Join(dir, "Song.flac"))
	assert.NoFileExists(t, filepath.Join(dir, "Song.webm"))

	var converted bool
	for _, c := range runner.cmds {
		if c.Name == "ffmpeg" && strings.Contains(strings.Join(c.Args, " "), "-c:a flac") {
			converted = true
		}
	}
	assert.True(t, converted)
}

func TestProcess_QualityGateUsesSourceBitrateAfterConversion(t *testing.T) {
	job := singleJob()
	job.ConvertToFLAC = true
	h := newHarness(t, mapSettings{"audio_format": "opus", "min_audio_bitrate": "192"}, job)
	runner := &fakeRunner{probe: map[string]string{
		".mp3":  `{"streams":[{"codec_name":"mp3","bit_rate":"96000","sample_rate":"44100"}]}`,
		".opus": `{"streams":[{"codec_name":"opus","bit_rate":"320000","sample_rate":"48000"}]}`,
	}}
	h.p.cfg.Media = media.New(media.Binaries{}, runner, zerolog.Nop())
	h.acq.ext = ".mp3"

	got := h.run(t, "j1")

	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "Audio quality too low (96kbps, minimum is 192kbps)", got.Error)
	dir := filepath.Join(h.root, "Singles", "Artist")
	assert.NoFileExists(t, filepath.Join(dir, "Song.opus"))
	assert.NoFileExists(t, filepath.Join(dir, "Song.mp3"))
}

func TestProcess_UnreportedSourceFormat(t *testing.T) {
	job := singleJob()
	job.ConvertToFLAC = true

	t.Run("fails while a minimum is set", func(t *testing.T) {
		h := newHarness(t, mapSettings{"min_audio_bitrate": "192"}, job)
		h.acq.unknownSource = true

		got := h.run(t, "j1")

		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, "Audio quality unknown (source format not reported, minimum is 192kbps)", got.Error)
		assert.NoFileExists(t, filepath.Join(h.root, "Singles", "Artist", "Song.flac"))
	})

	t.Run("passes without a minimum", func(t *testing.T) {
		h := newHarness(t, nil, job)
		h.acq.unknownSource = true

		got := h.run(t, "j1")
		assert.Equal(t, domain.StatusCompleted, got.Status)
	})
}

func TestProcess_ConvertSkippedWhenAlreadyTarget(t *testing.T) {
	job := singleJob()
	job.ConvertToFLAC = true
	h := newHarness(t, mapSettings{"audio_format": "opus"}, job)
	h.acq.ext = ".opus"
	h.media.quality = media.Quality{Codec: "OPUS", Label: "OPUS 320kbps", Bitrate: 320}

	got := h.run(t, "j1")
	assert.Equal(t, "OPUS 320kbps", got.AudioQuality)
	require.Len(t, h.acq.acquired, 1)
	assert.Equal(t, "opus", h.acq.acquired[0].Format)
}

func TestProcess_EnrichmentRelocatesToCanonicalArtist(t *testing.T) {
	h := newHarness(t, nil, singleJob())
	h.enricher.ok = true
	h.enricher.meta = catalog.Metadata{Artist: "The Artist", Title: "Song", Album: "LP", Year: "1999", Source: catalog.SourceText}
	h.enricher.lyrics = "[00:01.00] la"

	job := h.run(t, "j1")

	assert.Equal(t, "The Artist", job.Artist)
	assert.Equal(t, catalog.SourceText, job.MetadataSource)
	newDir := filepath.Join(h.root, "Singles", "The Artist")
	assert.FileExists(t, filepath.Join(newDir, "Song.flac"))
	assert.FileExists(t, filepath.Join(newDir, "Song.lrc"))
	assert.NoDirExists(t, filepath.Join(h.root, "Singles", "Artist"))

	require.Len(t, h.media.tags, 1)
	assert.Equal(t, "1999", h.media.tags[0].Year)
	assert.Equal(t, "LP", h.media.tags[0].Album)
}

func TestProcess_KeepsSourceMetadata(t *testing.T) {
	job := singleJob()
	job.Source = domain.SourceMonochrome
	h := newHarness(t, nil, job)
	h.enricher.ok = true
	h.enricher.meta = catalog.Metadata{Artist: "Someone Else"}
	h.enricher.year = "2001"
	h.acq.resolve = func(seed Track) Result[Track] {
		return Ok(Track{ID: "1", Artist: "Artist", Title: "Song", Album: "Singles", ISRC: "USX", KeepMetadata: true, Resolved: true})
	}

	got := h.run(t, "j1")

	assert.Equal(t, "monochrome_api", got.MetadataSource)
	assert.Equal(t, "Artist", got.Artist)
	require.Len(t, h.media.tags, 1)
	assert.Equal(t, media.Tags{Artist: "Artist", Title: "Song", Album: "Singles", Year: "2001", ISRC: "USX"}, h.media.tags[0])
}

func TestProcess_SingleIntoPlaylistFolder(t *testing.T) {
	job := singleJob()
	job.PlaylistName = "Road Trip"
	h := newHarness(t, mapSettings{"playlists_subdir": "Playlists"}, job)

	require.Equal(t, domain.StatusCompleted, h.run(t, "j1").Status)
	assert.FileExists(t, filepath.Join(h.root, "Playlists", "Road Trip", "Artist - Song.flac"))
}

func playlistJob() domain.Job {
	return domain.Job{
		ID:           "p1",
		Source:       domain.SourceYouTube,
		SourceID:     "PL1",
		Title:        "Mix",
		PlaylistName: "Mix",
		DownloadType: domain.DownloadPlaylist,
	}
}

func tenTracks() *Listing {
	l := &Listing{Name: "Mix"}
	for i := 1; i <= 10; i++ {
		l.Tracks = append(l.Tracks, Track{ID: fmt.Sprint(i), Artist: "Band", Title: fmt.Sprintf("Track %d", i)})
	}
	return l
}

func TestProcess_PlaylistWithOneFailedTrack(t *testing.T) {
	h := newHarness(t, nil, playlistJob())
	h.acq.listing = tenTracks()
	h.acq.fail = map[string]string{"Track 3": "Download failed: boom"}

	job := h.run(t, "p1")

	assert.Equal(t, domain.StatusCompletedWithErrors, job.Status)
	assert.Equal(t, "1 track(s) failed", job.Error)
	assert.Equal(t, 10, job.TotalTracks)
	assert.Equal(t, 9, job.CompletedTracks)
	assert.Equal(t, 1, job.FailedTracks)
	assert.Zero(t, job.SkippedTracks)

	assert.Equal(t, filepath.Join("Singles", "Mix.m3u"), job.M3UPath)
	data, err := os.ReadFile(filepath.Join(h.root, "Singles", "Mix.m3u"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "Band/Track 1.flac", lines[1])
	assert.NotContains(t, string(data), "Track 3.flac")

	n := h.notifier.last()
	assert.Equal(t, domain.NotifyPlaylist, n.Type)
	assert.Equal(t, 10, n.TrackCount)
	assert.Equal(t, 1, n.FailedCount)
	assert.Equal(t, string(domain.StatusCompletedWithErrors), n.Status)
}

func TestProcess_PlaylistSkipsDuplicates(t *testing.T) {
	h := newHarness(t, nil, playlistJob())
	h.acq.listing = tenTracks()
	h.acq.fail = map[string]string{"Track 5": "Download failed: boom"}
	writeFile(t, filepath.Join(h.root, "Singles", "Band", "Track 2.opus"))

	job := h.run(t, "p1")

	assert.Equal(t, "1 track(s) failed, 1 skipped (duplicates)", job.Error)
	assert.Equal(t, 8, job.CompletedTracks)
	assert.Equal(t, 1, job.SkippedTracks)
	assert.Equal(t, 9, h.acq.calls())

	data, err := os.ReadFile(filepath.Join(h.root, "Singles", "Mix.m3u"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Band/Track 2.opus", "duplicates stay in the playlist")
}

func TestProcess_PlaylistAllCompleted(t *testing.T) {
	h := newHarness(t, mapSettings{"playlists_subdir": "Playlists"}, playlistJob())
	h.acq.listing = tenTracks()

	job := h.run(t, "p1")

	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Empty(t, job.Error)
	assert.Equal(t, filepath.Join("Playlists", "Mix.m3u"), job.M3UPath)
	assert.FileExists(t, filepath.Join(h.root, "Playlists", "Mix", "Band - Track 10.flac"))
	data, err := os.ReadFile(filepath.Join(h.root, "Playlists", "Mix.m3u"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Mix/Band - Track 1.flac")
}

func TestProcess_PlaylistTrackPanicIsContained(t *testing.T) {
	h := newHarness(t, nil, playlistJob())
	h.acq.listing = &Listing{Name: "Mix", Tracks: []Track{{ID: "1", Title: "Boom"}, {ID: "2", Title: "Fine"}}}
	h.acq.resolve = func(seed Track) Result[Track] {
		if seed.Title == "Boom" {
			panic("bad entry")
		}
		seed.Artist, seed.Resolved = "Band", true
		return Ok(seed)
	}

	job := h.run(t, "p1")

	assert.Equal(t, domain.StatusCompletedWithErrors, job.Status)
	assert.Equal(t, 1, job.FailedTracks)
	assert.Equal(t, 1, job.CompletedTracks)
}

func TestProcess_EmptyPlaylistFails(t *testing.T) {
	h := newHarness(t, nil, playlistJob())

	job := h.run(t, "p1")
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, "No videos found in playlist", job.Error)
}

func TestProcess_Album(t *testing.T) {
	job := domain.Job{ID: "a1", Source: domain.SourceMonochrome, SourceID: "77", DownloadType: domain.DownloadAlbum}
	h := newHarness(t, nil, job)
	h.acq.listing = &Listing{Name: "LP", Artist: "Band", Album: true, Tracks: []Track{
		{ID: "1", Artist: "Band", Title: "One", TrackNumber: 1, Album: "LP", KeepMetadata: true, Resolved: true},
		{ID: "2", Artist: "Band", Title: "Two", Album: "LP", KeepMetadata: true, Resolved: true},
	}}

	got := h.run(t, "a1")

	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "LP", got.Title)
	assert.Equal(t, "Band", got.Artist)
	dir := filepath.Join(h.root, "Albums", "Band - LP")
	assert.FileExists(t, filepath.Join(dir, "01 - One.flac"))
	assert.FileExists(t, filepath.Join(dir, "02 - Two.flac"), "missing numbers fall back to list position")
	assert.Equal(t, filepath.Join("Albums", "Band - LP", "LP.m3u"), got.M3UPath)

	data, err := os.ReadFile(filepath.Join(dir, "LP.m3u"))
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n01 - One.flac\n02 - Two.flac\n", string(data))
	assert.Equal(t, "Band - LP", h.notifier.last().PlaylistName)
	assert.Equal(t, 2, h.media.tags[1].TrackNumber)
}

func TestProcess_CancelledJobStaysDownloading(t *testing.T) {
	h := newHarness(t, nil, singleJob())
	ctx, cancel := context.WithCancel(context.Background())
	h.acq.resolve = func(seed Track) Result[Track] {
		cancel()
		return Fatal[Track](context.Canceled)
	}

	job := h.jobs.job("j1")
	err := h.p.Process(ctx, &job)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusDownloading, h.jobs.job("j1").Status)
	assert.Empty(t, h.notifier.sent)
}

func TestProcess_SweptJobKeepsFailedStatus(t *testing.T) {
	h := newHarness(t, nil, singleJob())
	h.acq.resolve = func(seed Track) Result[Track] {
		h.jobs.sweep("j1", "Timed out (no progress)")
		seed.Resolved = true
		return Ok(seed)
	}

	job := h.run(t, "j1")

	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, "Timed out (no progress)", job.Error)
	assert.Empty(t, h.notifier.sent)
	assert.Zero(t, testutil.CollectAndCount(h.metrics.Registry(), "musicgrabber_jobs_total"))
}

func TestProcess_SweptPlaylistStopsCounting(t *testing.T) {
	h := newHarness(t, nil, playlistJob())
	h.acq.listing = tenTracks()
	h.acq.resolve = func(seed Track) Result[Track] {
		if seed.Title == "Track 3" {
			h.jobs.sweep("p1", "Timed out (no progress)")
		}
		seed.Resolved = true
		return Ok(seed)
	}

	job := h.run(t, "p1")

	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Less(t, job.CompletedTracks, 10)
	assert.Empty(t, h.notifier.sent)
}

func TestProcess_HeartbeatRefreshesLongJobs(t *testing.T) {
	h := newHarness(t, nil, singleJob())
	h.p.cfg.Heartbeat = 5 * time.Millisecond
	h.acq.resolve = func(seed Track) Result[Track] {
		time.Sleep(60 * time.Millisecond)
		seed.Resolved = true
		return Ok(seed)
	}

	job := h.run(t, "j1")

	assert.Equal(t, domain.StatusCompleted, job.Status)
	// two writes come from the job itself, the rest from the heartbeat
	assert.Greater(t, h.jobs.updateCount(), 3)
}

func TestResult(t *testing.T) {
	ok := Ok(3)
	assert.True(t, ok.OK())
	assert.False(t, ok.Is(KindFatal))

	f := Failed[int]("nope", KindBestEffort)
	assert.False(t, f.OK())
	assert.True(t, f.Is(KindBestEffort))
	assert.Equal(t, "best_effort", f.Kind.String())

	s := Skipped("/music/a.flac", "Already exists: a.flac")
	assert.True(t, s.Is(KindSkip))
	assert.Equal(t, "/music/a.flac", s.Value)
}
