package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/lucasew/audiocache/internal/errutil"
	"github.com/lucasew/audiocache/internal/eviction"
	"github.com/lucasew/audiocache/internal/eviction/policy"
	"github.com/lucasew/audiocache/internal/fetcher"
	"github.com/lucasew/audiocache/internal/pipeline"
	"github.com/lucasew/audiocache/internal/repository"
)

// Downloader stores the audio behind a link.
type Downloader interface {
	Download(ctx context.Context, sourceURL string) (*pipeline.Download, error)
}

// Evictor is the operational surface of the eviction manager.
type Evictor interface {
	CheckCapacity() (policy.Decision, error)
	RunOnce(ctx context.Context) (*eviction.Report, error)
	EnforceRetention(ctx context.Context) (*eviction.Result, error)
}

// MediaHandler exposes downloads, artifact retrieval and the eviction pass over HTTP.
//
// Routes:
//   - POST /download          stores ?url=... and returns its retrieval URL (stream=1 sends the bytes instead)
//   - GET  /media/{name}      serves a stored artifact
//   - GET  /admin/capacity    reports the capacity decision
//   - POST /admin/evict       runs check-and-evict (force=1 skips the capacity check)
type MediaHandler struct {
	Repo       repository.Repository
	Downloader Downloader
	Evictor    Evictor
	// BaseURL prefixes returned retrieval URLs. Empty means relative URLs.
	BaseURL string
}

func NewMediaHandler(repo repository.Repository, downloader Downloader, evictor Evictor, baseURL string) *MediaHandler {
	return &MediaHandler{
		Repo:       repo,
		Downloader: downloader,
		Evictor:    evictor,
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Routes returns the mux serving every endpoint.
func (h *MediaHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /download", h.handleDownload)
	mux.HandleFunc("GET /media/{name}", h.handleMedia)
	mux.HandleFunc("GET /admin/capacity", h.handleCapacity)
	mux.HandleFunc("POST /admin/evict", h.handleEvict)
	return mux
}

type downloadResponse struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Title  string `json:"title"`
	Size   int64  `json:"size"`
	Cached bool   `json:"cached"`
}

func (h *MediaHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	sourceURL := r.FormValue("url")
	if sourceURL == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	slog.Info("Received a URL to convert", "url", sourceURL)
	d, err := h.Downloader.Download(r.Context(), sourceURL)
	if err != nil {
		errutil.ReportError(err, "Download failed", "url", sourceURL)
		status := http.StatusBadGateway
		if errors.Is(err, fetcher.ErrUnsupportedURL) {
			status = http.StatusBadRequest
		}
		writeError(w, status, fmt.Sprintf("failed to download: %v", err))
		return
	}

	if r.FormValue("stream") == "1" {
		h.serveArtifact(w, r, d.Name, d.Title)
		return
	}

	writeJSON(w, http.StatusOK, downloadResponse{
		URL:    h.BaseURL + "/media/" + url.PathEscape(d.Name),
		Name:   d.Name,
		Title:  d.Title,
		Size:   d.Size,
		Cached: d.Cached,
	})
}

func (h *MediaHandler) handleMedia(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, r.PathValue("name"), "")
}

// serveArtifact streams a stored artifact with immutable caching headers.
// Artifacts are never rewritten in place, only deleted.
func (h *MediaHandler) serveArtifact(w http.ResponseWriter, r *http.Request, name, title string) {
	reader, size, err := h.Repo.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, repository.ErrInvalidName) || errors.Is(err, repository.ErrNotRegular) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		errutil.ReportError(err, "Failed to open artifact", "name", name)
		http.Error(w, "Failed to open artifact", http.StatusInternalServerError)
		return
	}
	defer errutil.CloseQuietly(reader, "Failed to close artifact", "name", name)

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.Header().Set("Content-Type", "application/octet-stream")
	if title != "" {
		w.Header().Set("Content-Disposition", contentDisposition(title+extOf(name)))
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, reader); err != nil {
		errutil.LogMsg(err, "Failed to send artifact", "name", name)
	}
}

type capacityResponse struct {
	MustEvict  bool   `json:"must_evict"`
	FreeBytes  int64  `json:"free_bytes"`
	TotalBytes int64  `json:"total_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	Threshold  int64  `json:"threshold"`
	Summary    string `json:"summary"`
}

func newCapacityResponse(d policy.Decision) capacityResponse {
	return capacityResponse{
		MustEvict:  d.MustEvict,
		FreeBytes:  d.FreeBytes,
		TotalBytes: d.TotalBytes,
		UsedBytes:  d.UsedBytes,
		Threshold:  d.Threshold,
		Summary:    d.String(),
	}
}

func (h *MediaHandler) handleCapacity(w http.ResponseWriter, r *http.Request) {
	d, err := h.Evictor.CheckCapacity()
	if err != nil {
		h.writeEvictionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCapacityResponse(d))
}

type evictResponse struct {
	Action             string            `json:"action"`
	Capacity           *capacityResponse `json:"capacity,omitempty"`
	Pass               string            `json:"pass,omitempty"`
	Scanned            int               `json:"scanned"`
	Deleted            int               `json:"deleted"`
	SkippedAlreadyGone int               `json:"skipped_already_gone"`
	Failed             int               `json:"failed"`
	FreedBytes         int64             `json:"freed_bytes"`
	Failures           []string          `json:"failures,omitempty"`
	Summary            string            `json:"summary"`
}

func newEvictResponse(result *eviction.Result) evictResponse {
	resp := evictResponse{
		Action:             "evicted",
		Pass:               result.ID,
		Scanned:            result.Scanned,
		Deleted:            result.Deleted,
		SkippedAlreadyGone: result.SkippedAlreadyGone,
		Failed:             result.Failed,
		FreedBytes:         result.FreedBytes,
		Summary:            result.String(),
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, f.Error())
	}
	return resp
}

func (h *MediaHandler) handleEvict(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("force") == "1" {
		result, err := h.Evictor.EnforceRetention(r.Context())
		if err != nil {
			h.writeEvictionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newEvictResponse(result))
		return
	}

	report, err := h.Evictor.RunOnce(r.Context())
	if err != nil {
		h.writeEvictionError(w, err)
		return
	}

	capacity := newCapacityResponse(report.Decision)
	if report.Result == nil {
		writeJSON(w, http.StatusOK, evictResponse{Action: "none", Capacity: &capacity, Summary: report.Summary()})
		return
	}
	resp := newEvictResponse(report.Result)
	resp.Capacity = &capacity
	resp.Summary = report.Summary()
	writeJSON(w, http.StatusOK, resp)
}

func (h *MediaHandler) writeEvictionError(w http.ResponseWriter, err error) {
	errutil.ReportError(err, "Eviction request failed")
	status := http.StatusInternalServerError
	if errors.Is(err, policy.ErrStorageUnavailable) || errors.Is(err, eviction.ErrEnumeration) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

// contentDisposition falls back to a bare attachment when the file name
// cannot be encoded.
func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errutil.LogMsg(json.NewEncoder(w).Encode(v), "Failed to encode response")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
