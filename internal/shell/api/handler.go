// Package api provides the HTTP API for compiling and retrieving plans.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/artpar/topoplan/internal/core/description"
	"github.com/artpar/topoplan/internal/shell/api/openapi"
	"github.com/artpar/topoplan/internal/shell/api/resources"
	"github.com/artpar/topoplan/internal/shell/compiler"
	"github.com/artpar/topoplan/internal/shell/metrics"
	"github.com/artpar/topoplan/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/manyminds/api2go/jsonapi"
)

const (
	contentTypeJSONAPI = "application/vnd.api+json"

	// maxDescriptionBytes bounds POST bodies.
	maxDescriptionBytes = 4 << 20
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	compiler *compiler.Service
	store    store.Store
	metrics  *metrics.Collector
	openapi  *openapi.Generator
	logger   *slog.Logger
}

// NewHandler creates an API handler. m may be nil to disable /metrics.
func NewHandler(c *compiler.Service, s store.Store, m *metrics.Collector, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		compiler: c,
		store:    s,
		metrics:  m,
		openapi:  newOpenAPI(),
		logger:   l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)
	if h.metrics != nil {
		r.Use(h.metrics.InstrumentHandler)
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Get("/health", h.handleHealth)
	r.Get("/openapi.json", h.openapi.Handler())

	r.Route("/api/v1/plans", func(r chi.Router) {
		r.Post("/", h.handleCreatePlan)
		r.Get("/", h.handleListPlans)
		r.Get("/{id}", h.handleGetPlan)
		r.Delete("/{id}", h.handleDeletePlan)
		r.Get("/{id}/commands/{phase}", h.handleGetSystemCommand)
		r.Get("/{id}/apps/{app}/commands/{phase}", h.handleGetAppCommand)
	})

	return r
}

// newOpenAPI describes the routes served by Routes.
func newOpenAPI() *openapi.Generator {
	g := openapi.NewGenerator(
		openapi.WithTitle("Topoplan API"),
		openapi.WithVersion("1.0.0"),
		openapi.WithDescription("Compiles DAQ system descriptions into deployment plans"),
		openapi.WithServer("/"),
	)
	g.RegisterResource(openapi.ResourceInfo{
		Name:            "plans",
		Model:           resources.Plan{},
		CreateMediaType: "application/yaml",
		SupportsFind:    true,
		SupportsCreate:  true,
		SupportsDelete:  true,
	})
	g.RegisterAction(openapi.Action{
		Method:     http.MethodGet,
		Path:       "/api/v1/plans/{id}/commands/{phase}",
		Summary:    "Get the system command of a phase",
		Tag:        "Plans",
		Responses:  map[int]string{http.StatusOK: "System command", http.StatusNotFound: "Unknown plan or phase"},
		PathParams: []string{"id", "phase"},
	})
	g.RegisterAction(openapi.Action{
		Method:     http.MethodGet,
		Path:       "/api/v1/plans/{id}/apps/{app}/commands/{phase}",
		Summary:    "Get the command payload of an application phase",
		Tag:        "Plans",
		Responses:  map[int]string{http.StatusOK: "Command payload", http.StatusNotFound: "Unknown plan, application or phase"},
		PathParams: []string{"id", "app", "phase"},
	})
	return g
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// =============================================================================
// Plan Handlers
// =============================================================================

// handleCreatePlan compiles the YAML body and stores the plan.
// Variables come from repeated ?var=NAME=value parameters.
func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDescriptionBytes+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Bad Request", "failed to read request body", nil)
		return
	}
	if len(body) > maxDescriptionBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "system description is too large", nil)
		return
	}

	vars, err := parseVariables(r.URL.Query()["var"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Bad Request", err.Error(), &ErrorSource{Parameter: "var"})
		return
	}

	rec, _, err := h.compiler.CompileAndSave(r.Context(), compiler.Request{
		Description: string(body),
		Variables:   vars,
	})
	if err != nil {
		h.writeCompileError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/plans/"+rec.ID)
	h.writeJSONAPI(w, http.StatusCreated, resources.PlanFromRecord(rec, true))
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.DefaultListOptions()
	if v := q.Get("page[size]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := q.Get("page[offset]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	opts.Partition = q.Get("filter[partition]")
	opts = opts.Normalize()

	recs, err := h.store.ListPlans(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list plans", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal Server Error", "failed to list plans", nil)
		return
	}

	data, err := jsonapi.Marshal(resources.PlansFromRecords(recs))
	if err != nil {
		h.logger.Error("failed to encode plans", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal Server Error", "failed to encode plans", nil)
		return
	}
	data, err = withMeta(data, map[string]int{"total": len(recs), "limit": opts.Limit, "offset": opts.Offset})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Internal Server Error", "failed to encode plans", nil)
		return
	}

	w.Header().Set("Content-Type", contentTypeJSONAPI)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadPlan(w, r)
	if !ok {
		return
	}
	h.writeJSONAPI(w, http.StatusOK, resources.PlanFromRecord(rec, true))
}

func (h *Handler) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeletePlan(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Not Found", "plan not found", nil)
			return
		}
		h.logger.Error("failed to delete plan", "plan_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal Server Error", "failed to delete plan", nil)
		return
	}

	h.logger.Info("plan deleted", "plan_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSystemCommand(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadPlan(w, r)
	if !ok {
		return
	}
	phase := chi.URLParam(r, "phase")
	cmd, ok := rec.Plan.SystemCommands()[phase]
	if !ok {
		h.writeError(w, http.StatusNotFound, "Not Found", fmt.Sprintf("phase %q not found", phase), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, cmd)
}

func (h *Handler) handleGetAppCommand(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadPlan(w, r)
	if !ok {
		return
	}
	appName, phase := chi.URLParam(r, "app"), chi.URLParam(r, "phase")

	app, ok := rec.Plan.App(appName)
	if !ok || app.Commands == nil {
		h.writeError(w, http.StatusNotFound, "Not Found", fmt.Sprintf("application %q not found", appName), nil)
		return
	}
	payload, ok := app.Commands.Get(phase)
	if !ok {
		h.writeError(w, http.StatusNotFound, "Not Found", fmt.Sprintf("phase %q not found", phase), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, payload)
}

// loadPlan fetches the plan named by the id URL parameter, writing the error
// response itself when it cannot.
func (h *Handler) loadPlan(w http.ResponseWriter, r *http.Request) (*store.PlanRecord, bool) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.GetPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Not Found", "plan not found", nil)
			return nil, false
		}
		h.logger.Error("failed to get plan", "plan_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal Server Error", "failed to get plan", nil)
		return nil, false
	}
	return rec, true
}

// =============================================================================
// Helpers
// =============================================================================

// parseVariables turns NAME=value pairs into a map.
func parseVariables(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("variable %q must be NAME=value", p)
		}
		vars[name] = value
	}
	return vars, nil
}

// writeCompileError maps a compile failure to its status code.
func (h *Handler) writeCompileError(w http.ResponseWriter, err error) {
	switch {
	case description.IsParseError(err):
		var src *ErrorSource
		var perr *description.ParseError
		if errors.As(err, &perr) && perr.Field != "" {
			src = &ErrorSource{Pointer: perr.Field}
		}
		h.writeError(w, http.StatusBadRequest, "Invalid System Description", err.Error(), src)
	case errors.Is(err, compiler.ErrNoStore):
		h.writeError(w, http.StatusServiceUnavailable, "Service Unavailable", err.Error(), nil)
	case isStoreError(err):
		h.logger.Error("failed to save plan", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal Server Error", "failed to save plan", nil)
	default:
		h.writeError(w, http.StatusUnprocessableEntity, "Compilation Failed", err.Error(), nil)
	}
}

func isStoreError(err error) bool {
	var storeErr *store.StoreError
	return errors.As(err, &storeErr)
}

// withMeta adds a top-level meta object to a marshaled JSON:API document.
func withMeta(doc []byte, meta any) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	m["meta"] = raw
	return json.Marshal(m)
}

func (h *Handler) writeJSONAPI(w http.ResponseWriter, status int, v any) {
	data, err := jsonapi.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode resource", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal Server Error", "failed to encode resource", nil)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSONAPI)
	w.WriteHeader(status)
	w.Write(data)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, title, detail string, src *ErrorSource) {
	w.Header().Set("Content-Type", contentTypeJSONAPI)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Errors: []ErrorObject{{
		Status: strconv.Itoa(status),
		Title:  title,
		Detail: detail,
		Source: src,
	}}})
}
