package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extractd/extractd/internal/config"
	"github.com/extractd/extractd/internal/extractor"
	"github.com/extractd/extractd/internal/job"
	"github.com/extractd/extractd/internal/queue"
	"github.com/extractd/extractd/internal/results"
	"github.com/extractd/extractd/internal/upload"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store    job.Store
	queue    *queue.Queue
	registry *extractor.Registry
	staging  *upload.Staging
	results  *results.Materializer
	cfg      *config.Config
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(store job.Store, q *queue.Queue, reg *extractor.Registry, staging *upload.Staging, m *results.Materializer, cfg *config.Config) *Handler {
	return &Handler{store: store, queue: q, registry: reg, staging: staging, results: m, cfg: cfg}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/download", h.DownloadResult)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /api/v1/formats", h.Formats)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// CreateJob handles POST /api/v1/jobs. It stages the uploaded file, creates a
// pending job record and hands the job to the worker queue, responding 202.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	// Allow some slack over the file size limit for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field in multipart form")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "uploaded file has no filename")
		return
	}

	path, size, err := h.staging.Save(header.Filename, file)
	if err != nil {
		if errors.Is(err, upload.ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds maximum size of %d bytes", h.cfg.MaxFileSize))
			return
		}
		log.Printf("upload: save %s: %v", header.Filename, err)
		writeError(w, http.StatusInternalServerError, "failed to store uploaded file")
		return
	}

	if h.registry.Resolve(path) == nil {
		os.Remove(path) //nolint:errcheck
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file type %q, supported: %s",
				filepath.Ext(header.Filename), strings.Join(h.registry.SupportedTypes(), ", ")))
		return
	}

	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	j, err := h.store.Create(r.Context(), header.Filename, size, fileType)
	if err != nil {
		os.Remove(path) //nolint:errcheck
		log.Printf("api: create job for %s: %v", header.Filename, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.queue.Enqueue(r.Context(), j.ID, path); err != nil {
		writeError(w, http.StatusServiceUnavailable, "server is busy, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, j)
}

// ListJobs handles GET /api/v1/jobs and responds 200 with the newest jobs.
// Supports ?limit= and ?status= query parameters.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 50)

	var filter job.Status
	if s := r.URL.Query().Get("status"); s != "" {
		filter = job.Status(s)
		if !filter.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status filter %q", s))
			return
		}
	}

	jobs, err := h.store.List(r.Context(), limit, filter)
	if err != nil {
		log.Printf("api: list jobs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	// Return an empty array instead of null when there are no jobs.
	if jobs == nil {
		jobs = []*job.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// GetJob handles GET /api/v1/jobs/{id} and responds 200 with the job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("api: get job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, j)
}

// DownloadResult handles GET /api/v1/jobs/{id}/download. It serves a zip
// archive of the job's output directory. Only completed jobs can be downloaded.
func (h *Handler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	j, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("api: get job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	if j.Status != job.StatusCompleted {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("job is %s, results are only available for completed jobs", j.Status))
		return
	}

	zipPath, err := h.results.Archive(j.ID)
	if err != nil {
		if errors.Is(err, results.ErrNoOutput) {
			writeError(w, http.StatusNotFound, "job output no longer available")
			return
		}
		log.Printf("api: archive %s: %v", j.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to build results archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", j.ID+"_results.zip"))
	http.ServeFile(w, r, zipPath)
}

// DeleteJob handles DELETE /api/v1/jobs/{id}. It removes the job record and
// any materialized output, responding 204.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		log.Printf("api: delete job %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	if err := h.results.Remove(id); err != nil {
		log.Printf("api: remove output for %s: %v", id, err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Formats handles GET /api/v1/formats and lists the supported file types.
func (h *Handler) Formats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"supported_types": h.registry.SupportedTypes(),
	})
}

// Health handles GET /api/v1/health and responds 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
