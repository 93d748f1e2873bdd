package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

// CreateImport persists an import and its tracks in one transaction.
func (r *Repository) CreateImport(ctx context.Context, imp domain.BulkImport, tracks []domain.TrackRef) (*domain.BulkImport, error) {
	if imp.ID == "" {
		imp.ID = newID()
	}
	imp.Status = domain.ImportPending
	imp.TotalTracks = len(tracks)
	imp.CreatedAt = r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bulk_imports (id, status, total_tracks, convert_to_flac, create_playlist, use_playlists_dir,
		   playlist_name, watch_playlist_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.ID, imp.Status, imp.TotalTracks, imp.ConvertToFLAC, imp.CreatePlaylist, imp.UsePlaylistsDir,
		nullable(imp.PlaylistName), nullable(imp.WatchPlaylistID), imp.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert import: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bulk_import_tracks (import_id, line_num, artist, song, status) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for i, t := range tracks {
		if _, err := stmt.ExecContext(ctx, imp.ID, i+1, t.Artist, t.Title, domain.TrackPending); err != nil {
			return nil, fmt.Errorf("insert track %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &imp, nil
}

// GetImport retrieves an import with its counters.
func (r *Repository) GetImport(ctx context.Context, id string) (*domain.BulkImport, error) {
	var imp domain.BulkImport
	var status string
	var completedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, status, total_tracks, searched, queued, failed, skipped, convert_to_flac,
		  create_playlist, use_playlists_dir, COALESCE(playlist_name, ''), COALESCE(watch_playlist_id, ''), COALESCE(error, ''), created_at, completed_at
		 FROM bulk_imports WHERE id = ?`, id,
	).Scan(&imp.ID, &status, &imp.TotalTracks, &imp.Searched, &imp.Queued, &imp.Failed, &imp.Skipped,
		&imp.ConvertToFLAC, &imp.CreatePlaylist, &imp.UsePlaylistsDir, &imp.PlaylistName, &imp.WatchPlaylistID, &imp.Error, &imp.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	imp.Status = domain.ImportStatus(status)
	imp.CompletedAt = nullTime(completedAt)
	return &imp, nil
}

// SetImportStatus updates the import status; completed and error stamp completed_at.
func (r *Repository) SetImportStatus(ctx context.Context, id string, status domain.ImportStatus, reason string) error {
	var completedAt any
	if status == domain.ImportCompleted || status == domain.ImportError {
		completedAt = r.now()
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE bulk_imports SET status = ?, error = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		status, nullable(reason), completedAt, id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, domain.ErrNotFound)
}

const trackColumns = `id, import_id, line_num, COALESCE(artist, ''), COALESCE(song, ''), status,
	COALESCE(job_id, ''), COALESCE(source_id, ''), COALESCE(error, '')`

func scanTrack(row scanner) (*domain.BulkTrack, error) {
	var t domain.BulkTrack
	var status string
	if err := row.Scan(&t.ID, &t.ImportID, &t.LineNum, &t.Artist, &t.Song, &status, &t.JobID, &t.SourceID, &t.Error); err != nil {
		return nil, err
	}
	t.Status = domain.TrackStatus(status)
	return &t, nil
}

// NextPendingTrack returns the lowest-numbered pending track, or domain.ErrNotFound.
func (r *Repository) NextPendingTrack(ctx context.Context, importID string) (*domain.BulkTrack, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM bulk_import_tracks
		 WHERE import_id = ? AND status = ? ORDER BY line_num LIMIT 1`,
		importID, domain.TrackPending,
	)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

// ImportTracks returns every track of an import in line order.
func (r *Repository) ImportTracks(ctx context.Context, importID string) ([]domain.BulkTrack, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM bulk_import_tracks WHERE import_id = ? ORDER BY line_num`, importID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []domain.BulkTrack
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, *t)
	}
	return tracks, rows.Err()
}

// SetTrackStatus updates one track's status.
func (r *Repository) SetTrackStatus(ctx context.Context, trackID int64, status domain.TrackStatus, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bulk_import_tracks SET status = ?, error = ? WHERE id = ?`,
		status, nullable(reason), trackID,
	)
	return err
}

// QueueTrack links a track to its job and bumps searched and queued.
func (r *Repository) QueueTrack(ctx context.Context, t domain.BulkTrack, jobID, sourceID string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bulk_import_tracks SET status = ?, job_id = ?, source_id = ?, error = NULL WHERE id = ?`,
			domain.TrackQueued, jobID, sourceID, t.ID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE bulk_imports SET searched = searched + 1, queued = queued + 1 WHERE id = ?`, t.ImportID)
		return err
	})
}

// FailTrack records a track failure and bumps searched and failed.
func (r *Repository) FailTrack(ctx context.Context, t domain.BulkTrack, reason string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bulk_import_tracks SET status = ?, error = ? WHERE id = ?`,
			domain.TrackFailed, reason, t.ID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE bulk_imports SET searched = searched + 1, failed = failed + 1 WHERE id = ?`, t.ImportID)
		return err
	})
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
