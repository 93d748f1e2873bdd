package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/catalog"
	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/library"
	"github.com/cwygoda/musicgrabber/internal/media"
)

// track runs the per-track stages after resolution: duplicate check,
// acquisition, conversion, quality gate, enrichment and tagging, lyrics
// and permissions.
func (p *Pipeline) track(ctx context.Context, log zerolog.Logger, job *domain.Job, acq Acquirer, t Track, place placement) Result[Outcome] {
	if dup := p.duplicate(t, place); !dup.OK() {
		return Skipped(Outcome{Path: dup.Value, Artist: t.Artist, Title: t.Title}, dup.Reason)
	}

	format := p.audioFormat()
	got := acq.Acquire(ctx, Request{
		JobID:   job.ID,
		Track:   t,
		Dir:     place.Dir,
		Stem:    place.Stem,
		Convert: job.ConvertToFLAC,
		Format:  format,
	})
	if !got.OK() {
		return Failed[Outcome](got.Reason, KindFatal)
	}
	a := got.Value
	if a.Uploader != "" && !job.DownloadType.IsMultiTrack() {
		if err := p.cfg.Jobs.Update(ctx, job.ID, domain.JobUpdate{Uploader: &a.Uploader}); err != nil {
			log.Warn().Err(err).Msg("could not record uploader")
		}
	}

	if conv := p.convert(ctx, a, job.ConvertToFLAC, format); conv.OK() {
		a = conv.Value
	} else {
		log.Warn().Str("reason", conv.Reason).Msg("conversion failed, keeping original")
	}

	gate := p.gate(ctx, log, a)
	if gate.Is(KindFatal) {
		return Failed[Outcome](gate.Reason, KindFatal)
	}
	if !gate.OK() {
		log.Warn().Str("reason", gate.Reason).Msg("could not probe audio quality")
	}

	meta := p.metadata(ctx, job, t, a.Path)
	if tag := p.tag(ctx, a, t, meta); !tag.OK() {
		log.Warn().Str("reason", tag.Reason).Msg("could not write tags")
	}
	path := a.Path
	if place.Relocatable && meta.Artist != t.Artist {
		path = library.Relocate(log, path, p.cfg.Layout.DownloadDir(meta.Artist))
	}
	if lyr := p.lyrics(ctx, path, meta); !lyr.OK() {
		log.Debug().Str("reason", lyr.Reason).Msg("no lyrics saved")
	}
	library.SetPermissions(path)

	return Ok(Outcome{
		Path:           path,
		Quality:        gate.Value.Label,
		MetadataSource: meta.Source,
		Artist:         meta.Artist,
		Title:          meta.Title,
	})
}

// duplicate reports an existing copy of the track, either anywhere the
// layout would have put it or at the exact target path.
func (p *Pipeline) duplicate(t Track, place placement) Result[string] {
	if path, ok := p.cfg.Layout.FindDuplicate(t.Artist, t.Title); ok {
		return Skipped(path, "Already exists: "+filepath.Base(path))
	}
	if path, err := library.FindAudio(place.Dir, place.Stem); err == nil {
		return Skipped(path, "Already exists: "+filepath.Base(path))
	}
	return Ok("")
}

// convert transcodes into the configured format when asked and the file
// is not already in it. The pre-conversion format is probed first so the
// quality label can say what the file was made from.
func (p *Pipeline) convert(ctx context.Context, a Acquired, want bool, format string) Result[Acquired] {
	ext := filepath.Ext(a.Path)
	target := media.TargetExt(format)
	if !want || strings.EqualFold(ext, target) {
		return Ok(a)
	}
	if a.Source == nil {
		if q, err := p.cfg.Media.Probe(ctx, a.Path, nil); err == nil {
			a.Source = q.Source()
			a.SourceUnknown = false
		}
	}
	dst := strings.TrimSuffix(a.Path, ext) + target
	if err := p.cfg.Media.Convert(ctx, a.Path, dst, format); err != nil {
		return Failed[Acquired](err.Error(), KindBestEffort)
	}
	a.Path = dst
	return Ok(a)
}

// gate probes the file and deletes it when it is below min_audio_bitrate.
// Lossless files report no bitrate and always pass. A file transcoded from
// an unreported format fails while a minimum is set.
func (p *Pipeline) gate(ctx context.Context, log zerolog.Logger, a Acquired) Result[media.Quality] {
	q, err := p.cfg.Media.Probe(ctx, a.Path, a.Source)
	if err != nil {
		return Failed[media.Quality](err.Error(), KindBestEffort)
	}
	minRate := p.cfg.Settings.Int("min_audio_bitrate", 0)
	if a.Source == nil && a.SourceUnknown {
		if minRate > 0 {
			removeFile(log, a.Path)
			return Failed[media.Quality](fmt.Sprintf("Audio quality unknown (source format not reported, minimum is %dkbps)", minRate), KindFatal)
		}
		log.Warn().Str("file", a.Path).Msg("source format not reported, quality label reflects the converted file")
	}
	if minRate > 0 && q.Bitrate > 0 && q.Bitrate < minRate {
		removeFile(log, a.Path)
		return Failed[media.Quality](fmt.Sprintf("Audio quality too low (%dkbps, minimum is %dkbps)", q.Bitrate, minRate), KindFatal)
	}
	return Ok(q)
}

type trackMeta struct {
	Artist string
	Title  string
	Album  string
	Year   string
	Source string
}

func (p *Pipeline) metadata(ctx context.Context, job *domain.Job, t Track, path string) trackMeta {
	m := trackMeta{Artist: t.Artist, Title: t.Title, Album: t.Album, Source: string(job.Source) + "_guessed"}
	if t.KeepMetadata {
		m.Source = string(job.Source) + "_api"
	}
	if p.cfg.Enricher == nil {
		return m
	}
	if t.KeepMetadata {
		m.Year = p.cfg.Enricher.Year(ctx, t.Artist, t.Title)
		return m
	}
	md, ok := p.cfg.Enricher.Enrich(ctx, catalog.Input{Artist: t.Artist, Title: t.Title, Path: path})
	if !ok {
		return m
	}
	if md.Artist != "" {
		m.Artist = md.Artist
	}
	if md.Title != "" {
		m.Title = md.Title
	}
	if md.Album != "" {
		m.Album = md.Album
	}
	m.Year = md.Year
	m.Source = md.Source
	return m
}

func (p *Pipeline) tag(ctx context.Context, a Acquired, t Track, m trackMeta) Result[struct{}] {
	err := p.cfg.Media.WriteTags(ctx, a.Path, media.Tags{
		Artist:      m.Artist,
		Title:       m.Title,
		Album:       m.Album,
		Year:        m.Year,
		TrackNumber: t.TrackNumber,
		ISRC:        t.ISRC,
		Cover:       a.Cover,
	})
	if err != nil {
		return Failed[struct{}](err.Error(), KindBestEffort)
	}
	return Ok(struct{}{})
}

func (p *Pipeline) lyrics(ctx context.Context, path string, m trackMeta) Result[string] {
	if p.cfg.Enricher == nil {
		return Failed[string]("lyrics disabled", KindBestEffort)
	}
	text, ok := p.cfg.Enricher.Lyrics(ctx, m.Artist, m.Title)
	if !ok {
		return Failed[string]("no lyrics found", KindBestEffort)
	}
	lrc, err := catalog.SaveLyrics(path, text)
	if err != nil {
		return Failed[string](err.Error(), KindBestEffort)
	}
	return Ok(lrc)
}
