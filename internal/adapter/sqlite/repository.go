package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    source_id        TEXT,
    title            TEXT,
    artist           TEXT,
    uploader         TEXT,
    status           TEXT NOT NULL DEFAULT 'queued',
    download_type    TEXT NOT NULL DEFAULT 'single',
    source           TEXT NOT NULL DEFAULT 'youtube',
    peer_username    TEXT,
    peer_filename    TEXT,
    convert_to_flac  INTEGER NOT NULL DEFAULT 1,
    source_url       TEXT,
    playlist_name    TEXT,
    total_tracks     INTEGER NOT NULL DEFAULT 0,
    completed_tracks INTEGER NOT NULL DEFAULT 0,
    failed_tracks    INTEGER NOT NULL DEFAULT 0,
    skipped_tracks   INTEGER NOT NULL DEFAULT 0,
    m3u_path         TEXT,
    error            TEXT,
    audio_quality    TEXT,
    metadata_source  TEXT,
    file_deleted     INTEGER NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL,
    completed_at     DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS blacklist (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id  TEXT,
    uploader   TEXT,
    source     TEXT NOT NULL DEFAULT 'youtube',
    reason     TEXT,
    note       TEXT,
    job_id     TEXT,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blacklist_source_id ON blacklist(source_id);
CREATE INDEX IF NOT EXISTS idx_blacklist_uploader ON blacklist(uploader, source);

CREATE TABLE IF NOT EXISTS bulk_imports (
    id                TEXT PRIMARY KEY,
    status            TEXT NOT NULL DEFAULT 'pending',
    total_tracks      INTEGER NOT NULL DEFAULT 0,
    searched          INTEGER NOT NULL DEFAULT 0,
    queued            INTEGER NOT NULL DEFAULT 0,
    failed            INTEGER NOT NULL DEFAULT 0,
    skipped           INTEGER NOT NULL DEFAULT 0,
    convert_to_flac   INTEGER NOT NULL DEFAULT 1,
    create_playlist   INTEGER NOT NULL DEFAULT 0,
    use_playlists_dir INTEGER NOT NULL DEFAULT 0,
    playlist_name     TEXT,
    watch_playlist_id TEXT,
    error             TEXT,
    created_at        DATETIME NOT NULL,
    completed_at      DATETIME
);

CREATE TABLE IF NOT EXISTS bulk_import_tracks (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    import_id TEXT NOT NULL REFERENCES bulk_imports(id),
    line_num  INTEGER NOT NULL,
    artist    TEXT,
    song      TEXT,
    status    TEXT NOT NULL DEFAULT 'pending',
    job_id    TEXT,
    source_id TEXT,
    error     TEXT
);
CREATE INDEX IF NOT EXISTS idx_bulk_tracks_import ON bulk_import_tracks(import_id, status);

CREATE TABLE IF NOT EXISTS watched_playlists (
    id               TEXT PRIMARY KEY,
    url              TEXT NOT NULL UNIQUE,
    name             TEXT,
    platform         TEXT NOT NULL,
    refresh_hours    INTEGER NOT NULL DEFAULT 24,
    last_checked     DATETIME,
    last_track_count INTEGER NOT NULL DEFAULT 0,
    enabled          INTEGER NOT NULL DEFAULT 1,
    convert_to_flac  INTEGER NOT NULL DEFAULT 1,
    make_m3u         INTEGER NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS watched_playlist_tracks (
    playlist_id   TEXT NOT NULL REFERENCES watched_playlists(id) ON DELETE CASCADE,
    track_hash    TEXT NOT NULL,
    artist        TEXT,
    title         TEXT,
    first_seen    DATETIME NOT NULL,
    downloaded_at DATETIME,
    job_id        TEXT,
    PRIMARY KEY (playlist_id, track_hash)
);
`

// Repository implements the domain persistence ports using SQLite.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dsn := "file:" + dbPath + "?_time_format=sqlite&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// newID returns an opaque 8-character token.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

const jobColumns = `id, COALESCE(source_id, ''), COALESCE(title, ''), COALESCE(artist, ''), COALESCE(uploader, ''),
	status, download_type, source, COALESCE(peer_username, ''), COALESCE(peer_filename, ''),
	convert_to_flac, COALESCE(source_url, ''), COALESCE(playlist_name, ''),
	total_tracks, completed_tracks, failed_tracks, skipped_tracks, COALESCE(m3u_path, ''),
	COALESCE(error, ''), COALESCE(audio_quality, ''), COALESCE(metadata_source, ''), file_deleted,
	created_at, updated_at, completed_at`

// Create inserts a new queued job.
func (r *Repository) Create(ctx context.Context, req domain.NewJobRequest) (*domain.Job, error) {
	now := r.now()
	id := newID()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, source_id, title, artist, uploader, status, download_type, source,
		  peer_username, peer_filename, convert_to_flac, source_url, playlist_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.SourceID, req.Title, req.Artist, req.Uploader, domain.StatusQueued, req.DownloadType, req.Source,
		nullable(req.PeerUsername), nullable(req.PeerFilename), req.ConvertToFLAC, nullable(req.SourceURL),
		nullable(req.PlaylistName), now, now,
	)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns the most recent jobs first.
func (r *Repository) List(ctx context.Context, limit int) ([]domain.Job, error) {
	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
}

// FindQueued returns queued jobs oldest first.
func (r *Repository) FindQueued(ctx context.Context, limit int) ([]domain.Job, error) {
	return r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		domain.StatusQueued, limit,
	)
}

func (r *Repository) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Claim atomically moves a queued job to downloading.
func (r *Repository) Claim(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusDownloading, r.now(), id, domain.StatusQueued,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Update writes the non-nil fields of u on a downloading job and bumps
// updated_at. An empty update only refreshes updated_at.
func (r *Repository) Update(ctx context.Context, id string, u domain.JobUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{r.now()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Artist != nil {
		add("artist", *u.Artist)
	}
	if u.Uploader != nil {
		add("uploader", *u.Uploader)
	}
	if u.Error != nil {
		add("error", nullable(*u.Error))
	}
	if u.AudioQuality != nil {
		add("audio_quality", nullable(*u.AudioQuality))
	}
	if u.MetadataSource != nil {
		add("metadata_source", nullable(*u.MetadataSource))
	}
	if u.TotalTracks != nil {
		add("total_tracks", *u.TotalTracks)
	}
	if u.M3UPath != nil {
		add("m3u_path", nullable(*u.M3UPath))
	}
	if u.FileDeleted != nil {
		add("file_deleted", *u.FileDeleted)
	}
	args = append(args, id, domain.StatusDownloading)

	result, err := r.db.ExecContext(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return err
	}
	return r.requireOwned(ctx, result, id)
}

var counterColumns = map[domain.Counter]string{
	domain.CounterCompleted: "completed_tracks",
	domain.CounterFailed:    "failed_tracks",
	domain.CounterSkipped:   "skipped_tracks",
}

// Increment bumps one progress counter in a single statement.
func (r *Repository) Increment(ctx context.Context, id string, c domain.Counter) error {
	col, ok := counterColumns[c]
	if !ok {
		return fmt.Errorf("unknown counter %q", c)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET `+col+` = `+col+` + 1, updated_at = ? WHERE id = ? AND status = ?`,
		r.now(), id, domain.StatusDownloading,
	)
	if err != nil {
		return err
	}
	return r.requireOwned(ctx, result, id)
}

// Finish moves a downloading job to a terminal status. A job that already
// left downloading is not touched and ErrJobReleased is returned.
func (r *Repository) Finish(ctx context.Context, id string, status domain.JobStatus, reason string) error {
	now := r.now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`,
		status, nullable(reason), now, now, id, domain.StatusDownloading,
	)
	if err != nil {
		return err
	}
	return r.requireOwned(ctx, result, id)
}

// Reset returns a job to queued with error, quality and counters cleared.
func (r *Repository) Reset(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = NULL, audio_quality = NULL, metadata_source = NULL,
		  completed_tracks = 0, failed_tracks = 0, skipped_tracks = 0, file_deleted = 0,
		  completed_at = NULL, updated_at = ?
		 WHERE id = ?`,
		domain.StatusQueued, r.now(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, domain.ErrJobNotFound)
}

// RecoverInterrupted resets downloading jobs back to queued (for crash recovery).
func (r *Repository) RecoverInterrupted(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		domain.StatusQueued, r.now(), domain.StatusDownloading,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// FailStale fails jobs in status whose last update is older than before.
func (r *Repository) FailStale(ctx context.Context, status domain.JobStatus, before time.Time, reason string) (int64, error) {
	now := r.now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ?, completed_at = ?
		 WHERE status = ? AND updated_at < ?`,
		domain.StatusFailed, reason, now, now, status, before.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var status, downloadType, source string
	var completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.SourceID, &job.Title, &job.Artist, &job.Uploader,
		&status, &downloadType, &source, &job.PeerUsername, &job.PeerFilename,
		&job.ConvertToFLAC, &job.SourceURL, &job.PlaylistName,
		&job.TotalTracks, &job.CompletedTracks, &job.FailedTracks, &job.SkippedTracks, &job.M3UPath,
		&job.Error, &job.AudioQuality, &job.MetadataSource, &job.FileDeleted,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.DownloadType = domain.DownloadType(downloadType)
	job.Source = domain.Source(source)
	job.CompletedAt = nullTime(completedAt)
	return &job, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// requireOwned maps a write that matched no downloading row to
// ErrJobReleased when the job exists, ErrJobNotFound otherwise.
func (r *Repository) requireOwned(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrJobReleased
}

func requireRow(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
