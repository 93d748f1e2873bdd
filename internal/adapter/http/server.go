package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/domain"
	"github.com/cwygoda/musicgrabber/internal/orchestrator"
	"github.com/cwygoda/musicgrabber/internal/search"
)

const maxBodySize = 1 << 20

// Searcher runs aggregated and single-source searches.
type Searcher interface {
	SearchAll(ctx context.Context, query string, limit int) []domain.SearchResult
	SearchOne(ctx context.Context, source domain.Source, query string, limit int) ([]domain.SearchResult, error)
}

// Importer starts bulk imports.
type Importer interface {
	Start(ctx context.Context, req orchestrator.ImportRequest) (*domain.BulkImport, error)
}

// Options configures a Server.
type Options struct {
	Addr      string
	APIKey    string
	RateLimit int // requests per minute per client on /api/*, 0 disables
	Metrics   http.Handler
	Log       zerolog.Logger
}

// Server is the HTTP adapter for the download service.
type Server struct {
	svc       *domain.JobService
	search    Searcher
	imports   Importer
	blacklist domain.BlacklistRepository
	mux       *http.ServeMux
	server    *http.Server
	opts      Options
	limiter   *clientLimiter
	log       zerolog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(svc *domain.JobService, searcher Searcher, imports Importer, blacklist domain.BlacklistRepository, opts Options) *Server {
	s := &Server{
		svc:       svc,
		search:    searcher,
		imports:   imports,
		blacklist: blacklist,
		mux:       http.NewServeMux(),
		opts:      opts,
		log:       opts.Log.With().Str("component", "http").Logger(),
	}
	if opts.RateLimit > 0 {
		s.limiter = newClientLimiter(opts.RateLimit)
	}
	s.routes()
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}
	s.mux.Handle("GET /api/search", s.api(s.handleSearch))
	s.mux.Handle("POST /api/jobs", s.api(s.handleCreateJob))
	s.mux.Handle("GET /api/jobs", s.api(s.handleListJobs))
	s.mux.Handle("GET /api/jobs/{id}", s.api(s.handleGetJob))
	s.mux.Handle("POST /api/jobs/{id}/retry", s.api(s.handleRetryJob))
	s.mux.Handle("POST /api/bulk-import", s.api(s.handleBulkImport))
	s.mux.Handle("POST /api/blacklist", s.api(s.handleBlacklist))
}

// createJobRequest is the request body for POST /api/jobs. It mirrors a
// search result so a client can post back what it picked.
type createJobRequest struct {
	SourceID      string `json:"source_id"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Uploader      string `json:"channel"`
	Source        string `json:"source"`
	SourceURL     string `json:"source_url"`
	IsPlaylist    bool   `json:"is_playlist"`
	PeerUsername  string `json:"peer_username"`
	PeerFilename  string `json:"peer_filename"`
	ConvertToFLAC *bool  `json:"convert_to_flac"`
}

// jobResponse is the JSON response for job endpoints.
type jobResponse struct {
	ID              string `json:"id"`
	SourceID        string `json:"source_id,omitempty"`
	Source          string `json:"source"`
	Title           string `json:"title,omitempty"`
	Artist          string `json:"artist,omitempty"`
	Status          string `json:"status"`
	DownloadType    string `json:"download_type"`
	PlaylistName    string `json:"playlist_name,omitempty"`
	TotalTracks     int    `json:"total_tracks,omitempty"`
	CompletedTracks int    `json:"completed_tracks,omitempty"`
	FailedTracks    int    `json:"failed_tracks,omitempty"`
	SkippedTracks   int    `json:"skipped_tracks,omitempty"`
	AudioQuality    string `json:"audio_quality,omitempty"`
	MetadataSource  string `json:"metadata_source,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

// bulkImportRequest is the request body for POST /api/bulk-import.
type bulkImportRequest struct {
	Songs           string `json:"songs"`
	ConvertToFLAC   *bool  `json:"convert_to_flac"`
	CreatePlaylist  bool   `json:"create_playlist"`
	PlaylistName    string `json:"playlist_name"`
	UsePlaylistsDir bool   `json:"use_playlists_dir"`
}

type bulkImportResponse struct {
	ImportID    string `json:"import_id"`
	TotalTracks int    `json:"total_tracks"`
	Status      string `json:"status"`
}

// blacklistRequest is the request body for POST /api/blacklist.
type blacklistRequest struct {
	SourceID string `json:"source_id"`
	Uploader string `json:"uploader"`
	Source   string `json:"source"`
	Reason   string `json:"reason"`
	Note     string `json:"note"`
	JobID    string `json:"job_id"`
}

type blacklistResponse struct {
	ID        int64  `json:"id"`
	SourceID  string `json:"source_id,omitempty"`
	Uploader  string `json:"uploader,omitempty"`
	Source    string `json:"source"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 15
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	var results []domain.SearchResult
	if src := r.URL.Query().Get("source"); src != "" && src != "all" {
		var err error
		results, err = s.search.SearchOne(r.Context(), domain.Source(src), q, limit)
		if err != nil {
			if errors.Is(err, search.ErrUnknownSource) {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.log.Error().Err(err).Str("query", q).Msg("search failed")
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	} else {
		results = s.search.SearchAll(r.Context(), q, limit)
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !s.decode(w, r, &req) {
		return
	}
	convert := true
	if req.ConvertToFLAC != nil {
		convert = *req.ConvertToFLAC
	}
	result := domain.SearchResult{
		SourceID:     req.SourceID,
		Title:        req.Title,
		Artist:       req.Artist,
		Channel:      req.Uploader,
		Source:       domain.Source(req.Source),
		SourceURL:    req.SourceURL,
		IsPlaylist:   req.IsPlaylist,
		PeerUsername: req.PeerUsername,
		PeerFilename: req.PeerFilename,
	}
	if result.Source == "" {
		result.Source = domain.SourceYouTube
	}

	job, err := s.svc.Submit(r.Context(), result.JobRequest(convert))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("submit failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	jobs, err := s.svc.List(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list jobs failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobToResponse(&jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.jobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		s.jobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) jobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrNotRetryable):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("job lookup failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleBulkImport(w http.ResponseWriter, r *http.Request) {
	var req bulkImportRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CreatePlaylist && strings.TrimSpace(req.PlaylistName) == "" {
		s.writeError(w, http.StatusBadRequest, "playlist_name is required when create_playlist is set")
		return
	}
	convert := true
	if req.ConvertToFLAC != nil {
		convert = *req.ConvertToFLAC
	}

	imp, err := s.imports.Start(r.Context(), orchestrator.ImportRequest{
		Tracks:          orchestrator.ParseTracks(req.Songs),
		ConvertToFLAC:   convert,
		CreatePlaylist:  req.CreatePlaylist,
		PlaylistName:    strings.TrimSpace(req.PlaylistName),
		UsePlaylistsDir: req.UsePlaylistsDir,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoTracks) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("bulk import failed to start")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusAccepted, bulkImportResponse{
		ImportID:    imp.ID,
		TotalTracks: imp.TotalTracks,
		Status:      string(imp.Status),
	})
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if !s.decode(w, r, &req) {
		return
	}
	src := domain.Source(req.Source)
	if src != "" && !src.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown source")
		return
	}
	e, err := s.blacklist.AddBlacklist(r.Context(), domain.BlacklistEntry{
		SourceID: strings.TrimSpace(req.SourceID),
		Uploader: strings.TrimSpace(req.Uploader),
		Source:   src,
		Reason:   req.Reason,
		Note:     req.Note,
		JobID:    req.JobID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, "source_id or uploader is required")
			return
		}
		s.log.Error().Err(err).Msg("blacklist add failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusCreated, blacklistResponse{
		ID:        e.ID,
		SourceID:  e.SourceID,
		Uploader:  e.Uploader,
		Source:    string(e.Source),
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.Job) jobResponse {
	resp := jobResponse{
		ID:              job.ID,
		SourceID:        job.SourceID,
		Source:          string(job.Source),
		Title:           job.Title,
		Artist:          job.Artist,
		Status:          string(job.Status),
		DownloadType:    string(job.DownloadType),
		PlaylistName:    job.PlaylistName,
		TotalTracks:     job.TotalTracks,
		CompletedTracks: job.CompletedTracks,
		FailedTracks:    job.FailedTracks,
		SkippedTracks:   job.SkippedTracks,
		AudioQuality:    job.AudioQuality,
		MetadataSource:  job.MetadataSource,
		Error:           job.Error,
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
