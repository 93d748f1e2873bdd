package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/command"
	"github.com/cwygoda/musicgrabber/internal/adapter/source"
	"github.com/cwygoda/musicgrabber/internal/backoff"
	"github.com/cwygoda/musicgrabber/internal/domain"
)

const peerSearchLimit = 20

type peerBackend interface {
	Search(ctx context.Context, query string, limit int) []domain.SearchResult
	Download(ctx context.Context, username, filename, destDir string) (string, error)
}

type candidate struct {
	username string
	filename string
}

func (c candidate) key() string { return c.username + "\x00" + c.filename }

// SoulseekAcquirer downloads from peers through slskd. When a peer fails
// in a way another peer might not, it searches again and tries the next
// candidate.
type SoulseekAcquirer struct {
	peers peerBackend
	log   zerolog.Logger
}

// NewSoulseekAcquirer creates the Soulseek acquirer.
func NewSoulseekAcquirer(peers peerBackend, log zerolog.Logger) *SoulseekAcquirer {
	return &SoulseekAcquirer{peers: peers, log: log}
}

// Resolve fills artist and title from the shared path when the job has none.
func (a *SoulseekAcquirer) Resolve(ctx context.Context, seed Track) Result[Track] {
	if seed.PeerUsername == "" || seed.PeerFilename == "" {
		return Failed[Track]("missing peer username or filename", KindFatal)
	}
	t := seed
	artist, title := source.ExtractTrackInfo(seed.PeerFilename)
	if t.Artist == "" {
		t.Artist = artist
	}
	if t.Title == "" {
		t.Title = title
	}
	t.Uploader = seed.PeerUsername
	t.Resolved = true
	return Ok(t)
}

// Acquire tries up to backoff.MaxPeerCandidates peers in turn.
func (a *SoulseekAcquirer) Acquire(ctx context.Context, req Request) Result[Acquired] {
	log := a.log.With().Str("job_id", req.JobID).Logger()
	t := req.Track

	queue := []candidate{{username: t.PeerUsername, filename: t.PeerFilename}}
	tried := make(map[string]bool)
	searched := false
	var lastErr error

	for n := 0; n < backoff.MaxPeerCandidates; n++ {
		if len(queue) == 0 {
			if searched {
				break
			}
			searched = true
			queue = a.alternatives(ctx, t, tried)
			if len(queue) == 0 {
				break
			}
			log.Info().Int("candidates", len(queue)).Msg("trying alternative peers")
		}
		c := queue[0]
		queue = queue[1:]
		tried[c.key()] = true

		path, err := a.fetch(ctx, log, req, c)
		if err == nil {
			out := Acquired{Path: path}
			if c.username != t.PeerUsername {
				out.Uploader = c.username
			}
			return Ok(out)
		}
		lastErr = err
		if ctx.Err() != nil || !backoff.RetryablePeerError(err.Error()) {
			break
		}
		log.Warn().Err(err).Str("peer", c.username).Msg("peer failed, moving on")
	}
	if lastErr == nil {
		lastErr = errors.New("no Soulseek peers available")
	}
	return Fatal[Acquired](lastErr)
}

func (a *SoulseekAcquirer) alternatives(ctx context.Context, t Track, tried map[string]bool) []candidate {
	query := strings.TrimSpace(t.Artist + " " + t.Title)
	if query == "" {
		return nil
	}
	var out []candidate
	for _, r := range a.peers.Search(ctx, query, peerSearchLimit) {
		c := candidate{username: r.PeerUsername, filename: r.PeerFilename}
		if c.username == "" || c.filename == "" || tried[c.key()] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// fetch downloads one candidate into a temp dir, renames it to the
// requested stem and moves it into place.
func (a *SoulseekAcquirer) fetch(ctx context.Context, log zerolog.Logger, req Request, c candidate) (string, error) {
	var name string
	_, err := command.Isolated(ctx, log, "slskd-"+req.JobID, req.Dir, func(ctx context.Context, tempDir string) error {
		p, err := a.peers.Download(ctx, c.username, c.filename, tempDir)
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(p))
		stem := req.Stem
		if stem == "" {
			stem = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		}
		renamed := filepath.Join(tempDir, stem+ext)
		if renamed != p {
			if err := os.Rename(p, renamed); err != nil {
				log.Warn().Err(err).Msg("could not rename download, keeping peer file name")
				renamed = p
			}
		}
		name = filepath.Base(renamed)
		return nil
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(req.Dir, name), nil
}
