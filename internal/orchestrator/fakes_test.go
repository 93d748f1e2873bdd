package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cwygoda/musicgrabber/internal/domain"
)

type mapSettings map[string]string

func (m mapSettings) String(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m mapSettings) Bool(key string, def bool) bool {
	if v, ok := m[key]; ok {
		return v == "true"
	}
	return def
}

func (m mapSettings) Int(key string, def int) int { return def }

// memImports implements domain.ImportRepository in memory.
type memImports struct {
	mu      sync.Mutex
	imports map[string]*domain.BulkImport
	tracks  map[string][]*domain.BulkTrack
	nextID  int64
}

func newMemImports() *memImports {
	return &memImports{imports: map[string]*domain.BulkImport{}, tracks: map[string][]*domain.BulkTrack{}}
}

func (m *memImports) CreateImport(ctx context.Context, imp domain.BulkImport, tracks []domain.TrackRef) (*domain.BulkImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp.ID = fmt.Sprintf("imp%d", len(m.imports)+1)
	imp.Status = domain.ImportPending
	imp.TotalTracks = len(tracks)
	m.imports[imp.ID] = &imp
	for i, t := range tracks {
		m.nextID++
		m.tracks[imp.ID] = append(m.tracks[imp.ID], &domain.BulkTrack{
			ID: m.nextID, ImportID: imp.ID, LineNum: i + 1, Artist: t.Artist, Song: t.Title, Status: domain.TrackPending,
		})
	}
	cp := imp
	return &cp, nil
}

func (m *memImports) GetImport(ctx context.Context, id string) (*domain.BulkImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *imp
	return &cp, nil
}

func (m *memImports) SetImportStatus(ctx context.Context, id string, status domain.ImportStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imports[id].Status = status
	m.imports[id].Error = reason
	return nil
}

func (m *memImports) NextPendingTrack(ctx context.Context, importID string) (*domain.BulkTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracks[importID] {
		if t.Status == domain.TrackPending {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memImports) ImportTracks(ctx context.Context, importID string) ([]domain.BulkTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BulkTrack
	for _, t := range m.tracks[importID] {
		out = append(out, *t)
	}
	return out, nil
}

func (m *memImports) find(id int64) *domain.BulkTrack {
	for _, ts := range m.tracks {
		for _, t := range ts {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

func (m *memImports) SetTrackStatus(ctx context.Context, trackID int64, status domain.TrackStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(trackID)
	t.Status = status
	t.Error = reason
	return nil
}

func (m *memImports) QueueTrack(ctx context.Context, bt domain.BulkTrack, jobID, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(bt.ID)
	t.Status, t.JobID, t.SourceID = domain.TrackQueued, jobID, sourceID
	m.imports[bt.ImportID].Searched++
	m.imports[bt.ImportID].Queued++
	return nil
}

func (m *memImports) FailTrack(ctx context.Context, bt domain.BulkTrack, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(bt.ID)
	t.Status, t.Error = domain.TrackFailed, reason
	m.imports[bt.ImportID].Searched++
	m.imports[bt.ImportID].Failed++
	return nil
}

func (m *memImports) track(importID string, line int) domain.BulkTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tracks[importID][line-1]
}

// memWatch implements domain.WatchRepository in memory.
type memWatch struct {
	mu        sync.Mutex
	playlists map[string]*domain.WatchedPlaylist
	tracks    map[string]map[string]*domain.WatchedTrack
	jobs      *memJobs
	checked   map[string]int
}

func newMemWatch(jobs *memJobs) *memWatch {
	return &memWatch{
		playlists: map[string]*domain.WatchedPlaylist{},
		tracks:    map[string]map[string]*domain.WatchedTrack{},
		checked:   map[string]int{},
		jobs:      jobs,
	}
}

func (m *memWatch) AddWatched(ctx context.Context, p domain.WatchedPlaylist) (*domain.WatchedPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.playlists {
		if existing.URL == p.URL {
			return nil, domain.ErrInvalidRequest
		}
	}
	p.ID = fmt.Sprintf("wp%d", len(m.playlists)+1)
	if p.RefreshInterval <= 0 {
		p.RefreshInterval = 24 * time.Hour
	}
	m.playlists[p.ID] = &p
	m.tracks[p.ID] = map[string]*domain.WatchedTrack{}
	cp := p
	return &cp, nil
}

func (m *memWatch) GetWatched(ctx context.Context, id string) (*domain.WatchedPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.playlists[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memWatch) ListWatched(ctx context.Context) ([]domain.WatchedPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WatchedPlaylist
	for _, p := range m.playlists {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memWatch) MarkChecked(ctx context.Context, id string, trackCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.playlists[id].LastChecked = &now
	m.playlists[id].LastTrackCount = trackCount
	m.checked[id]++
	return nil
}

func (m *memWatch) WatchedTracks(ctx context.Context, playlistID string) ([]domain.WatchedTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WatchedTrack
	for _, t := range m.tracks[playlistID] {
		cp := *t
		if cp.JobID != "" && m.jobs != nil {
			if j, err := m.jobs.Get(ctx, cp.JobID); err == nil {
				cp.JobStatus = j.Status
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *memWatch) AddWatchedTrack(ctx context.Context, t domain.WatchedTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracks[t.PlaylistID][t.Hash]; !ok {
		m.tracks[t.PlaylistID][t.Hash] = &t
	}
	return nil
}

func (m *memWatch) MarkTrackDownloaded(ctx context.Context, playlistID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.tracks[playlistID][hash].DownloadedAt = &now
	return nil
}

func (m *memWatch) MarkJobDownloaded(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, ts := range m.tracks {
		for _, t := range ts {
			if t.JobID == jobID {
				t.DownloadedAt = &now
			}
		}
	}
	return nil
}

func (m *memWatch) LinkTrackJob(ctx context.Context, playlistID, hash, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tracks[playlistID][hash]; ok {
		t.JobID = jobID
	}
	return nil
}

// memJobs records submitted jobs; status marks them terminal on submit.
type memJobs struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	order  []string
	status domain.JobStatus
}

func newMemJobs(status domain.JobStatus) *memJobs {
	return &memJobs{jobs: map[string]*domain.Job{}, status: status}
}

func (m *memJobs) Submit(ctx context.Context, req domain.NewJobRequest) (*domain.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j := &domain.Job{
		ID:            fmt.Sprintf("job%d", len(m.jobs)+1),
		SourceID:      req.SourceID,
		Title:         req.Title,
		Artist:        req.Artist,
		Source:        req.Source,
		Status:        m.status,
		DownloadType:  req.DownloadType,
		PlaylistName:  req.PlaylistName,
		ConvertToFLAC: req.ConvertToFLAC,
	}
	m.jobs[j.ID] = j
	m.order = append(m.order, j.ID)
	cp := *j
	return &cp, nil
}

func (m *memJobs) Get(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) submitted() []domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, id := range m.order {
		out = append(out, *m.jobs[id])
	}
	return out
}

func (m *memJobs) setStatus(id string, s domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = s
}

// fakeSearch answers per-query results.
type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]domain.SearchResult
	queries []string
}

func (f *fakeSearch) SearchAll(ctx context.Context, query string, limit int) []domain.SearchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.results[query]
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n domain.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) all() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Notification(nil), f.sent...)
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
}
