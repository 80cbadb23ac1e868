package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradebook/internal/commentary"
	"github.com/pavelanni/gradebook/internal/grading"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/report"
	"github.com/pavelanni/gradebook/internal/results"
	"github.com/pavelanni/gradebook/internal/store"
	"github.com/pavelanni/gradebook/internal/upstream"
	"github.com/pavelanni/gradebook/internal/validate"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Drafter drafts report comments.
type Drafter interface {
	Draft(ctx context.Context, d report.Document) (commentary.Draft, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	results *results.Service
	drafter Drafter
	config  model.Config
}

// New creates a new Handler. drafter may be nil, which disables comment drafts.
func New(s *store.Store, svc *results.Service, d Drafter, cfg model.Config) (*Handler, error) {
	if _, err := report.LayoutByName(cfg.Layout); err != nil {
		return nil, err
	}
	if _, err := report.ParseStrategy(cfg.Strategy); err != nil {
		return nil, err
	}
	return &Handler{store: s, results: svc, drafter: d, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/reports/{classID}/{termID}/{studentID}", h.handleReport)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schools/{schoolID}/scales", h.handleListScales)
		r.Get("/scales/{scaleID}", h.handleGetScale)
		r.Get("/scales/{scaleID}/gaps", h.handleScaleGaps)
		r.Get("/classes/{classID}/terms/{termID}/summary", h.handleSummary)
		r.Get("/classes/{classID}/terms/{termID}/results", h.handleListResults)
		r.Get("/classes/{classID}/terms/{termID}/results/{studentID}", h.handleGetResult)
		r.Get("/classes/{classID}/terms/{termID}/broadsheet.xlsx", h.handleBroadsheet)

		r.Group(func(r chi.Router) {
			r.Use(h.requireToken)
			r.Post("/schools/{schoolID}/scales", h.handleCreateScale)
			r.Put("/scales/{scaleID}", h.handleUpdateScale)
			r.Delete("/scales/{scaleID}", h.handleDeleteScale)
			r.Post("/scales/{scaleID}/activate", h.handleActivateScale)
			r.Put("/schools/{schoolID}/scheme", h.handleSetScheme)
			r.Put("/classes/{classID}/terms/{termID}/results/{studentID}", h.handleEnterResult)
			r.Post("/classes/{classID}/terms/{termID}/rank", h.handleRank)
			r.Post("/classes/{classID}/terms/{termID}/publish", h.handlePublish(true))
			r.Post("/classes/{classID}/terms/{termID}/unpublish", h.handlePublish(false))
			r.Put("/terms/{termID}/behavior/{studentID}", h.handleSetBehavior)
			r.Post("/classes/{classID}/terms/{termID}/results/{studentID}/comment-draft", h.handleCommentDraft)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(model.ContextWithBasePath(r.Context(), h.config.BasePath)))
	})
}

// path prepends the base path of the request to an absolute path.
func path(r *http.Request, p string) string {
	return model.BasePathFromContext(r.Context()) + p
}

type envelope struct {
	Success bool                  `json:"success"`
	Data    any                   `json:"data,omitempty"`
	Error   string                `json:"error,omitempty"`
	Fields  []validate.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data}); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps err onto a status code and writes the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := http.StatusInternalServerError, envelope{Error: err.Error()}

	var (
		ve *validate.ValidationError
		nm *grading.NoMatchingGradeError
		uf *upstream.UpstreamFetchError
		re *report.RenderError
		br *badRequestError
	)
	switch {
	case errors.As(err, &br):
		status = http.StatusBadRequest
	case errors.As(err, &ve):
		status, body.Fields = http.StatusUnprocessableEntity, ve.Fields
	case errors.As(err, &nm):
		status = http.StatusConflict
	case errors.Is(err, store.ErrActiveScale):
		status = http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &re):
		body.Error = fmt.Sprintf("%v; try again", err)
	case errors.As(err, &uf):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// badRequestError is a request that could not be parsed at all.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &badRequestError{msg: "invalid JSON: " + err.Error()}
	}
	return nil
}
