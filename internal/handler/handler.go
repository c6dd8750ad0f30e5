// Package handler serves the JSON API around grading and AI correction.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pavelanni/corrector/internal/correction"
	"github.com/pavelanni/corrector/internal/grade"
	appI18n "github.com/pavelanni/corrector/internal/i18n"
	"github.com/pavelanni/corrector/internal/model"
	"github.com/pavelanni/corrector/internal/store"
	"github.com/pavelanni/corrector/internal/tracing"
)

// Grader computes grades.
type Grader interface {
	CorrectExam(ctx context.Context, studentID string, examID int64) (model.Grade, error)
	Policy() grade.Policy
}

// Corrector starts AI correction and reports on live batches.
type Corrector interface {
	TriggerCorrection(ctx context.Context, classID, modelName string) (model.TriggerResponse, error)
	Batch(id string) (model.CorrectionBatch, bool)
}

// BatchStore looks up batches recorded by earlier runs.
type BatchStore interface {
	GetBatch(ctx context.Context, id string) (model.CorrectionBatch, error)
}

// Pinger checks a dependency for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the HTTP settings.
type Config struct {
	Lang           string
	AllowedOrigins []string
	// TokenHash is the bcrypt hash of the API bearer token. Empty disables
	// authentication.
	TokenHash string
	// Metrics, when set, serves /metrics and instruments every request.
	Metrics Metrics
}

// Metrics is the part of the metrics package the router needs.
type Metrics interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	grader    Grader
	corrector Corrector
	batches   BatchStore
	health    Pinger
	cfg       Config
}

// New creates a new Handler.
func New(g Grader, c Corrector, batches BatchStore, health Pinger, cfg Config) *Handler {
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Handler{grader: g, corrector: c, batches: batches, health: health, cfg: cfg}
}

// Router builds the full HTTP router with middleware.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.cfg.Metrics != nil {
		r.Use(h.cfg.Metrics.Middleware)
	}
	r.Use(tracing.Middleware)
	if len(h.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
			ExposedHeaders: []string{"Content-Length"},
			MaxAge:         300,
		}))
	}
	r.Use(appI18n.Middleware(h.cfg.Lang))

	r.Get("/healthz", h.handleHealth)
	if h.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.cfg.Metrics.Handler())
	}
	r.Route("/api", func(api chi.Router) {
		api.Use(h.tokenMiddleware)
		h.Routes(api)
	})
	return r
}

// Routes registers the API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/classes/{classID}/ai-correction", h.handleTrigger)
	r.Get("/batches/{batchID}", h.handleBatch)
	r.Get("/students/{studentID}/exams/{examID}/grade", h.handleGrade)
}

type triggerRequest struct {
	Model string `json:"model"`
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classID")

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("bad trigger request", "class", classID, "error", err)
		respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	resp, err := h.corrector.TriggerCorrection(r.Context(), classID, strings.TrimSpace(req.Model))
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, resp)
	case errors.Is(err, correction.ErrInvalidRequest):
		slog.Warn("trigger rejected", "class", classID, "error", err)
		respondError(w, r, http.StatusBadRequest, "InvalidRequest")
	case errors.Is(err, correction.ErrClassNotFound):
		respondError(w, r, http.StatusNotFound, "ClassNotFound")
	case errors.Is(err, correction.ErrEnqueueRejected):
		respondError(w, r, http.StatusServiceUnavailable, "Unavailable")
	default:
		slog.Error("trigger correction", "class", classID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "InternalError")
	}
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	if b, ok := h.corrector.Batch(id); ok {
		respondJSON(w, http.StatusOK, b)
		return
	}
	if h.batches == nil {
		respondError(w, r, http.StatusNotFound, "BatchNotFound")
		return
	}
	b, err := h.batches.GetBatch(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, b)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "BatchNotFound")
	default:
		slog.Error("load batch", "batch", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "InternalError")
	}
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "InvalidRequest")
		return
	}

	g, err := h.grader.CorrectExam(r.Context(), studentID, examID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, grade.View(g, h.grader.Policy().RoundPlaces))
	case errors.Is(err, correction.ErrExamNotFound):
		respondError(w, r, http.StatusNotFound, "ExamNotFound")
	case errors.Is(err, correction.ErrIncompleteCorrection):
		respondError(w, r, http.StatusConflict, "IncompleteCorrection")
	case errors.Is(err, grade.ErrInvalidInput):
		slog.Warn("grade not computable", "student", studentID, "exam", examID, "error", err)
		respondError(w, r, http.StatusUnprocessableEntity, "InvalidGradeInput")
	case errors.Is(err, correction.ErrModelFailure):
		slog.Error("on-demand scoring failed", "student", studentID, "exam", examID, "error", err)
		respondError(w, r, http.StatusBadGateway, "ModelFailure")
	default:
		slog.Error("correct exam", "student", studentID, "exam", examID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "InternalError")
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError writes a localized error message.
func respondError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, map[string]string{"error": appI18n.T(r.Context(), msgID)})
}
