package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

const watchedColumns = `id, url, COALESCE(name, ''), platform, refresh_hours, last_checked, last_track_count,
	enabled, convert_to_flac, make_m3u, created_at`

// AddWatched stores a new watched playlist. A duplicate URL returns domain.ErrInvalidRequest.
func (r *Repository) AddWatched(ctx context.Context, p domain.WatchedPlaylist) (*domain.WatchedPlaylist, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.RefreshInterval <= 0 {
		p.RefreshInterval = 24 * time.Hour
	}
	p.CreatedAt = r.now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watched_playlists (id, url, name, platform, refresh_hours, enabled, convert_to_flac, make_m3u, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.URL, nullable(p.Name), p.Platform, int(p.RefreshInterval/time.Hour), p.Enabled, p.ConvertToFLAC, p.MakeM3U, p.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, domain.ErrInvalidRequest
		}
		return nil, err
	}
	return &p, nil
}

func scanWatched(row scanner) (*domain.WatchedPlaylist, error) {
	var p domain.WatchedPlaylist
	var hours int
	var lastChecked sql.NullTime
	err := row.Scan(&p.ID, &p.URL, &p.Name, &p.Platform, &hours, &lastChecked, &p.LastTrackCount,
		&p.Enabled, &p.ConvertToFLAC, &p.MakeM3U, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.RefreshInterval = time.Duration(hours) * time.Hour
	p.LastChecked = nullTime(lastChecked)
	return &p, nil
}

// GetWatched retrieves one watched playlist.
func (r *Repository) GetWatched(ctx context.Context, id string) (*domain.WatchedPlaylist, error) {
	p, err := scanWatched(r.db.QueryRowContext(ctx, `SELECT `+watchedColumns+` FROM watched_playlists WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

// ListWatched returns every watched playlist, oldest first.
func (r *Repository) ListWatched(ctx context.Context) ([]domain.WatchedPlaylist, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+watchedColumns+` FROM watched_playlists ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WatchedPlaylist
	for rows.Next() {
		p, err := scanWatched(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MarkChecked stamps last_checked and the observed track count.
func (r *Repository) MarkChecked(ctx context.Context, id string, trackCount int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE watched_playlists SET last_checked = ?, last_track_count = ? WHERE id = ?`,
		r.now(), trackCount, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, domain.ErrNotFound)
}

// WatchedTracks returns the tracks seen in a playlist with their job status.
func (r *Repository) WatchedTracks(ctx context.Context, playlistID string) ([]domain.WatchedTrack, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.playlist_id, t.track_hash, COALESCE(t.artist, ''), COALESCE(t.title, ''), t.first_seen,
		  t.downloaded_at, COALESCE(t.job_id, ''), COALESCE(j.status, '')
		 FROM watched_playlist_tracks t
		 LEFT JOIN jobs j ON j.id = t.job_id
		 WHERE t.playlist_id = ?
		 ORDER BY t.first_seen, t.rowid`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WatchedTrack
	for rows.Next() {
		var t domain.WatchedTrack
		var downloadedAt sql.NullTime
		var status string
		if err := rows.Scan(&t.PlaylistID, &t.Hash, &t.Artist, &t.Title, &t.FirstSeen, &downloadedAt, &t.JobID, &status); err != nil {
			return nil, err
		}
		t.DownloadedAt = nullTime(downloadedAt)
		t.JobStatus = domain.JobStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddWatchedTrack records a newly seen track; an existing hash is left unchanged.
func (r *Repository) AddWatchedTrack(ctx context.Context, t domain.WatchedTrack) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watched_playlist_tracks (playlist_id, track_hash, artist, title, first_seen)
		 VALUES (?, ?, ?, ?, ?)`,
		t.PlaylistID, t.Hash, t.Artist, t.Title, r.now(),
	)
	return err
}

// MarkTrackDownloaded stamps downloaded_at for one track.
func (r *Repository) MarkTrackDownloaded(ctx context.Context, playlistID, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE watched_playlist_tracks SET downloaded_at = ? WHERE playlist_id = ? AND track_hash = ?`,
		r.now(), playlistID, hash,
	)
	return err
}

// MarkJobDownloaded stamps downloaded_at on every watched track linked to jobID.
func (r *Repository) MarkJobDownloaded(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE watched_playlist_tracks SET downloaded_at = ? WHERE job_id = ?`, r.now(), jobID)
	return err
}

// LinkTrackJob attaches the job queued for a watched track.
func (r *Repository) LinkTrackJob(ctx context.Context, playlistID, hash, jobID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE watched_playlist_tracks SET job_id = ? WHERE playlist_id = ? AND track_hash = ?`,
		jobID, playlistID, hash,
	)
	return err
}
