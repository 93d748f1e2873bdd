package sqlite

import (
	"context"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

// AddBlacklist stores a block entry. An entry needs a source ID or an uploader.
func (r *Repository) AddBlacklist(ctx context.Context, e domain.BlacklistEntry) (*domain.BlacklistEntry, error) {
	if e.SourceID == "" && e.Uploader == "" {
		return nil, domain.ErrInvalidRequest
	}
	if e.Source == "" {
		e.Source = domain.SourceYouTube
	}
	e.CreatedAt = r.now()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO blacklist (source_id, uploader, source, reason, note, job_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullable(e.SourceID), nullable(e.Uploader), e.Source, nullable(e.Reason), nullable(e.Note), nullable(e.JobID), e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListBlacklist returns every entry, newest first.
func (r *Repository) ListBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, COALESCE(source_id, ''), COALESCE(uploader, ''), source, COALESCE(reason, ''),
		  COALESCE(note, ''), COALESCE(job_id, ''), created_at
		 FROM blacklist ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.BlacklistEntry
	for rows.Next() {
		var e domain.BlacklistEntry
		var source string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Uploader, &source, &e.Reason, &e.Note, &e.JobID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Source = domain.Source(source)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemoveBlacklist deletes one entry.
func (r *Repository) RemoveBlacklist(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blacklist WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result, domain.ErrNotFound)
}

// AllSettings returns every persisted setting.
func (r *Repository) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, COALESCE(value, '') FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetSetting upserts one setting.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, r.now(),
	)
	return err
}
