package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/jobs"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/recall"
)

// Engine is the slice of the recall engine the HTTP layer exposes.
type Engine interface {
	StoreMemory(ctx context.Context, turn memory.Turn) (*memory.Event, error)
	RecallMemories(ctx context.Context, q recall.Query) ([]recall.ScoredMemory, error)
	GetMemory(ctx context.Context, namespace, id string) (*memory.Event, error)
	DailyReflection(ctx context.Context, namespace string, date time.Time) (*memory.Reflection, error)
	WeeklyReflection(ctx context.Context, namespace string, date time.Time) (*memory.Reflection, error)
	ListReflections(ctx context.Context, namespace string, kind memory.ReflectionKind, limit int) ([]*memory.Reflection, error)
	AnalyzePatterns(ctx context.Context, namespace string, days int) (*recall.Patterns, error)
	Statistics(ctx context.Context, namespace string) (*recall.Statistics, error)
	Namespaces(ctx context.Context) ([]string, error)
	Cleanup(ctx context.Context, namespace string) (int, error)
	RebuildIndex(ctx context.Context, namespace string) (int, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine Engine
	bus    *jobs.Bus // nil: admin jobs run synchronously
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine Engine, bus *jobs.Bus, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, bus: bus, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/memories", h.storeMemory)
		r.Get("/memories/recall", h.recallMemories)
		r.Get("/memories/{id}", h.getMemory)

		r.Get("/reflections", h.listReflections)
		r.Get("/reflections/daily/{date}", h.dailyReflection)
		r.Get("/reflections/weekly/{date}", h.weeklyReflection)

		r.Get("/patterns", h.patterns)
		r.Get("/stats", h.stats)
		r.Get("/namespaces", h.namespaces)

		r.Post("/admin/cleanup", h.adminCleanup)
		r.Post("/admin/rebuild", h.adminRebuild)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "mnemo"})
}

func (h *Handler) storeMemory(w http.ResponseWriter, r *http.Request) {
	var turn memory.Turn
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if turn.Namespace == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}

	ev, err := h.engine.StoreMemory(r.Context(), turn)
	if err != nil {
		h.logger.Error("store memory failed",
			zap.String("namespace", turn.Namespace), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) recallMemories(w http.ResponseWriter, r *http.Request) {
	q := recall.Query{
		Namespace: r.URL.Query().Get("namespace"),
		Text:      r.URL.Query().Get("q"),
		Emotion:   r.URL.Query().Get("emotion"),
	}
	if q.Namespace == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}
	q.Limit = intParam(r, "limit", 0)
	if v := r.URL.Query().Get("min_salience"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_salience must be in [0,1]"})
			return
		}
		q.MinSalience = f
	}
	if v := r.URL.Query().Get("context"); v != "" {
		q.ContextIDs = strings.Split(v, ",")
	}

	results, err := h.engine.RecallMemories(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"namespace": q.Namespace,
		"count":     len(results),
		"memories":  results,
	})
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}
	ev, err := h.engine.GetMemory(r.Context(), ns, chi.URLParam(r, "id"))
	if err == memory.ErrNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "memory not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) listReflections(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}
	kind := memory.ReflectionKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = memory.ReflectionDaily
	}
	if kind != memory.ReflectionDaily && kind != memory.ReflectionWeekly {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be daily or weekly"})
		return
	}

	refs, err := h.engine.ListReflections(r.Context(), ns, kind, intParam(r, "limit", 0))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (h *Handler) dailyReflection(w http.ResponseWriter, r *http.Request) {
	h.reflection(w, r, memory.ReflectionDaily)
}

func (h *Handler) weeklyReflection(w http.ResponseWriter, r *http.Request) {
	h.reflection(w, r, memory.ReflectionWeekly)
}

func (h *Handler) reflection(w http.ResponseWriter, r *http.Request, kind memory.ReflectionKind) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		return
	}

	var ref *memory.Reflection
	if kind == memory.ReflectionWeekly {
		ref, err = h.engine.WeeklyReflection(r.Context(), ns, date)
	} else {
		ref, err = h.engine.DailyReflection(r.Context(), ns, date)
	}
	if err == memory.ErrNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "reflection not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *Handler) patterns(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}
	p, err := h.engine.AnalyzePatterns(r.Context(), ns, intParam(r, "days", 0))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}
	st, err := h.engine.Statistics(r.Context(), ns)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) namespaces(w http.ResponseWriter, r *http.Request) {
	ns, err := h.engine.Namespaces(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

type adminRequest struct {
	Namespace string `json:"namespace"`
}

// adminCleanup triggers retention cleanup. With a job bus attached the
// work is enqueued for the scheduler; otherwise it runs inline.
func (h *Handler) adminCleanup(w http.ResponseWriter, r *http.Request) {
	h.adminJob(w, r, jobs.KindCleanup, func(ns string) (int, error) {
		return h.engine.Cleanup(r.Context(), ns)
	})
}

func (h *Handler) adminRebuild(w http.ResponseWriter, r *http.Request) {
	h.adminJob(w, r, jobs.KindRebuild, func(ns string) (int, error) {
		return h.engine.RebuildIndex(r.Context(), ns)
	})
}

func (h *Handler) adminJob(w http.ResponseWriter, r *http.Request, kind string, inline func(string) (int, error)) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Namespace == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "namespace is required"})
		return
	}

	if h.bus != nil {
		job := &jobs.Job{Kind: kind, Namespace: req.Namespace}
		if err := h.bus.Publish(r.Context(), job); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "enqueued",
			"job_id": job.ID,
			"kind":   kind,
		})
		return
	}

	n, err := inline(req.Namespace)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "done",
		"kind":   kind,
		"events": n,
	})
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
