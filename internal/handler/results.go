package handler

import (
	"bytes"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/sheet"
)

// resultRequest is the body of the result entry endpoint. Identifiers come
// from the URL.
type resultRequest struct {
	Subjects   []model.SubjectImport `json:"subjects"`
	Attendance model.Attendance      `json:"attendance"`
	Conduct    model.Conduct         `json:"conduct"`
}

type behaviorRequest struct {
	CriteriaGrades map[string]string `json:"criteria_grades"`
	Feedback       string            `json:"feedback"`
}

type publishResponse struct {
	Published bool  `json:"published"`
	Changed   int64 `json:"changed"`
}

func (h *Handler) handleEnterResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.results.Enter(model.ResultImport{
		StudentID:  chi.URLParam(r, "studentID"),
		ClassID:    chi.URLParam(r, "classID"),
		TermID:     chi.URLParam(r, "termID"),
		Subjects:   req.Subjects,
		Attendance: req.Attendance,
		Conduct:    req.Conduct,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetResult(chi.URLParam(r, "classID"), chi.URLParam(r, "termID"), chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.ListResults(chi.URLParam(r, "classID"), chi.URLParam(r, "termID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if all == nil {
		all = []model.StudentResult{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) handleRank(w http.ResponseWriter, r *http.Request) {
	sum, err := h.results.Rank(chi.URLParam(r, "classID"), chi.URLParam(r, "termID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.results.Summary(chi.URLParam(r, "classID"), chi.URLParam(r, "termID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handlePublish(publish bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		classID, termID := chi.URLParam(r, "classID"), chi.URLParam(r, "termID")
		var (
			n   int64
			err error
		)
		if publish {
			n, err = h.results.Publish(classID, termID)
		} else {
			n, err = h.results.Unpublish(classID, termID)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, publishResponse{Published: publish, Changed: n})
	}
}

func (h *Handler) handleSetBehavior(w http.ResponseWriter, r *http.Request) {
	var req behaviorRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.results.SetBehavior(chi.URLParam(r, "studentID"), chi.URLParam(r, "termID"), req.CriteriaGrades, req.Feedback)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleBroadsheet serves the ranked class as an XLSX workbook.
func (h *Handler) handleBroadsheet(w http.ResponseWriter, r *http.Request) {
	classID, termID := chi.URLParam(r, "classID"), chi.URLParam(r, "termID")
	exp, err := h.store.ExportClass(classID, termID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := sheet.WriteBroadsheet(&buf, exp); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", sheet.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": "Broadsheet_" + classID + "_" + termID + ".xlsx"}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}
