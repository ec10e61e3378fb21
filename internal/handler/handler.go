// Package handler serves the grading API: batch submission, stored results,
// exports and HTML reports.
package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/extract"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/pipeline"
	"github.com/pavelanni/assessor/internal/report"
	"github.com/pavelanni/assessor/internal/report/views"
	"github.com/pavelanni/assessor/internal/rubric"
	"github.com/pavelanni/assessor/internal/store"
)

const defaultMaxUpload = 32 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	pipeline  *pipeline.Pipeline
	extractor *extract.Extractor
	limiter   *rateLimiter
	config    model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, p *pipeline.Pipeline, x *extract.Extractor, cfg model.ServerConfig) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	return &Handler{
		store:     s,
		pipeline:  p,
		extractor: x,
		limiter:   newRateLimiter(cfg.BatchesPerMinute),
		config:    cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Use(h.requireToken)
		api.With(h.limiter.Middleware).Post("/batches", h.handleCreateBatch)
		api.Get("/batches", h.handleListBatches)
		api.Route("/batches/{batchID}", func(b chi.Router) {
			b.Get("/", h.handleGetBatch)
			b.Delete("/", h.handleDeleteBatch)
			b.Get("/scores.csv", h.handleScores)
			b.Get("/integrity", h.handleIntegrity)
			b.Get("/export", h.handleExport)
			b.Get("/report", h.handleReport)
			b.Get("/students/{student}/report", h.handleStudentReport)
		})
		api.Route("/admin/tokens", func(a chi.Router) {
			a.Use(requireAdmin)
			a.Get("/", h.handleListTokens)
			a.Post("/", h.handleCreateToken)
			a.Delete("/{tokenID}", h.handleRevokeToken)
		})
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

type createBatchRequest struct {
	Rubric      string             `json:"rubric"`
	Submissions []model.Submission `json:"submissions"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.BatchCount(); err != nil {
		slog.Error("health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	var req createBatchRequest
	var err error
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, err = h.readMultipart(r)
	} else {
		err = json.NewDecoder(r.Body).Decode(&req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if err := pipeline.ValidateSubmissions(req.Submissions); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch, err := h.pipeline.Run(r.Context(), req.Rubric, req.Submissions)
	if errors.Is(err, pipeline.ErrInvalidSubmissions) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, rubric.ErrEmpty) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		slog.Error("batch evaluation failed", "error", err)
		writeError(w, http.StatusBadGateway, "evaluation failed: "+err.Error())
		return
	}
	if err := h.store.SaveBatch(batch); err != nil {
		slog.Error("failed to save batch", "batch", batch.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save batch")
		return
	}

	caller := ""
	if t := model.TokenFromContext(r.Context()); t != nil {
		caller = t.Label
	}
	slog.Info("batch created", "batch", batch.ID, "students", len(batch.Students), "token", caller)
	w.Header().Set("Location", h.path("/api/batches/"+batch.ID))
	writeJSON(w, http.StatusCreated, batch)
}

// readMultipart builds a batch request from an upload form: the rubric as a
// "rubric" field or "rubric_file" file, and one "submissions" file per student.
func (h *Handler) readMultipart(r *http.Request) (createBatchRequest, error) {
	var req createBatchRequest
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		return req, err
	}
	req.Rubric = r.FormValue("rubric")
	if req.Rubric == "" {
		f, _, err := r.FormFile("rubric_file")
		if err != nil {
			return req, fmt.Errorf("rubric is required")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return req, fmt.Errorf("read rubric: %w", err)
		}
		req.Rubric = string(data)
	}

	for _, fh := range r.MultipartForm.File["submissions"] {
		if !extract.Supported(fh.Filename) {
			slog.Warn("skipping unsupported upload", "file", fh.Filename)
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return req, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		text, err := h.extractor.Reader(r.Context(), fh.Filename, f)
		f.Close()
		if err != nil {
			return req, fmt.Errorf("extract %s: %w", fh.Filename, err)
		}
		req.Submissions = append(req.Submissions, model.Submission{
			Student: extract.StudentID(fh.Filename),
			Text:    text,
		})
	}
	return req, nil
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListBatches()
	if err != nil {
		slog.Error("failed to list batches", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []model.BatchSummary{}
	}
	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := views.BatchListPage(list, h.path("/api")).Render(r.Context(), w); err != nil {
			slog.Error("render error", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// loadBatch fetches the batch named in the URL, writing a 404 when it does
// not exist. A nil result means the response has been written.
func (h *Handler) loadBatch(w http.ResponseWriter, r *http.Request) *model.Batch {
	id := chi.URLParam(r, "batchID")
	b, err := h.store.GetBatch(id)
	if err != nil {
		slog.Error("failed to get batch", "batch", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return nil
	}
	return b
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if b := h.loadBatch(w, r); b != nil {
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *Handler) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	err := h.store.DeleteBatch(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		slog.Error("failed to delete batch", "batch", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("batch deleted", "batch", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleScores(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	table, err := h.store.ScoreTable(id)
	if err != nil {
		slog.Error("failed to read score table", "batch", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(table) == 0 {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.MarksFile+`"`)
	if err := report.WriteScores(w, table); err != nil {
		slog.Error("write scores", "batch", id, "error", err)
	}
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	b := h.loadBatch(w, r)
	if b == nil {
		return
	}
	if r.URL.Query().Get("format") == report.FormatCSV {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		if err := report.WritePeers(r.Context(), w, b.Integrity.Peers); err != nil {
			slog.Error("write peers", "batch", b.ID, "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, b.Integrity)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = report.FormatJSON
	}
	contentType, ok := exportTypes[format]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
		return
	}

	exp, err := h.store.ExportBatch(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		slog.Error("failed to export batch", "batch", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	if err := report.WriteExport(w, exp, format); err != nil {
		slog.Error("write export", "batch", id, "error", err)
	}
}

var exportTypes = map[string]string{
	report.FormatJSON: "application/json",
	report.FormatYAML: "application/yaml",
	report.FormatCSV:  "text/csv; charset=utf-8",
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	b := h.loadBatch(w, r)
	if b == nil {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.IntegrityReportPage(b).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleStudentReport(w http.ResponseWriter, r *http.Request) {
	b := h.loadBatch(w, r)
	if b == nil {
		return
	}
	student := chi.URLParam(r, "student")
	for _, s := range b.Students {
		if s.Student != student {
			continue
		}
		if r.URL.Query().Get("format") == report.FormatJSON {
			w.Header().Set("Content-Type", "application/json")
			if err := report.WriteDebug(w, s.Result); err != nil {
				slog.Error("write debug", "batch", b.ID, "student", student, "error", err)
			}
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := views.StudentReportPage(s).Render(r.Context(), w); err != nil {
			slog.Error("render error", "error", err)
		}
		return
	}
	writeError(w, http.StatusNotFound, "student not found")
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
