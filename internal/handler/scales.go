package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradebook/internal/grading"
	"github.com/pavelanni/gradebook/internal/model"
)

// scaleRequest is the body of the create and update scale endpoints.
type scaleRequest struct {
	Name     string             `json:"name"`
	Ranges   []model.GradeRange `json:"grade_ranges"`
	Activate bool               `json:"activate"`
}

// scaleView is a scale together with the score intervals it leaves uncovered.
type scaleView struct {
	model.GradeScale
	Gaps []grading.Interval `json:"gaps"`
}

func newScaleView(sc model.GradeScale) scaleView {
	return scaleView{GradeScale: sc, Gaps: grading.Gaps(sc.Ranges)}
}

func (h *Handler) handleListScales(w http.ResponseWriter, r *http.Request) {
	scales, err := h.store.ListScales(chi.URLParam(r, "schoolID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]scaleView, 0, len(scales))
	for _, sc := range scales {
		views = append(views, newScaleView(sc))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetScale(w http.ResponseWriter, r *http.Request) {
	sc, err := h.store.GetScale(chi.URLParam(r, "scaleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newScaleView(sc))
}

func (h *Handler) handleScaleGaps(w http.ResponseWriter, r *http.Request) {
	sc, err := h.store.GetScale(chi.URLParam(r, "scaleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grading.Gaps(sc.Ranges))
}

func (h *Handler) handleCreateScale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sc, err := h.results.CreateScale(model.GradeScale{
		SchoolID: chi.URLParam(r, "schoolID"),
		Name:     req.Name,
		Ranges:   req.Ranges,
	}, req.Activate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("created grade scale", "id", sc.ID, "school_id", sc.SchoolID, "name", sc.Name, "active", sc.IsActive)
	writeJSON(w, http.StatusCreated, newScaleView(sc))
}

func (h *Handler) handleUpdateScale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "scaleID")
	sc, err := h.results.UpdateScale(model.GradeScale{ID: id, Name: req.Name, Ranges: req.Ranges}, req.Activate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("updated grade scale", "id", id, "name", sc.Name, "active", sc.IsActive)
	writeJSON(w, http.StatusOK, newScaleView(sc))
}

func (h *Handler) handleActivateScale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scaleID")
	sc, err := h.results.ActivateScale(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("activated grade scale", "id", id, "school_id", sc.SchoolID)
	writeJSON(w, http.StatusOK, newScaleView(sc))
}

func (h *Handler) handleDeleteScale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scaleID")
	if err := h.store.DeleteScale(id); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("deleted grade scale", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetScheme(w http.ResponseWriter, r *http.Request) {
	var sc model.ScoreScheme
	if err := decode(w, r, &sc); err != nil {
		writeError(w, r, err)
		return
	}
	schoolID, termID := chi.URLParam(r, "schoolID"), r.URL.Query().Get("term_id")
	if err := h.results.SetScheme(schoolID, termID, sc); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}
