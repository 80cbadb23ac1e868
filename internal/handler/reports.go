package handler

import (
	"bytes"
	"encoding/hex"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/pavelanni/gradebook/internal/report"
)

// reportOptions reads layout and strategy from the query, falling back to
// the configured defaults.
func (h *Handler) reportOptions(r *http.Request) (report.Options, error) {
	q := r.URL.Query()
	layoutName, strategyName := q.Get("layout"), q.Get("strategy")
	if layoutName == "" {
		layoutName = h.config.Layout
	}
	if strategyName == "" {
		strategyName = h.config.Strategy
	}
	layout, err := report.LayoutByName(layoutName)
	if err != nil {
		return report.Options{}, &badRequestError{msg: err.Error()}
	}
	strategy, err := report.ParseStrategy(strategyName)
	if err != nil {
		return report.Options{}, &badRequestError{msg: err.Error()}
	}
	return report.Options{Layout: layout, Strategy: strategy}, nil
}

// handleReport serves the printable HTML report, or the PDF when the student
// ID carries a .pdf suffix.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	classID, termID := chi.URLParam(r, "classID"), chi.URLParam(r, "termID")
	studentID, asPDF := strings.CutSuffix(chi.URLParam(r, "studentID"), ".pdf")

	opts, err := h.reportOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := h.results.Document(r.Context(), classID, termID, studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if asPDF {
		h.servePDF(w, r, doc, opts)
		return
	}

	q := url.Values{"layout": {opts.Layout.Name}, "strategy": {string(opts.Strategy)}}
	pdfURL := path(r, "/reports/" + url.PathEscape(classID) + "/" + url.PathEscape(termID) + "/" +
		url.PathEscape(studentID) + ".pdf?" + q.Encode())

	var buf bytes.Buffer
	if err := report.RenderHTML(doc, report.HTMLOptions{Options: opts, PDFURL: pdfURL}).Render(r.Context(), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("write report", "error", err)
	}
}

func (h *Handler) servePDF(w http.ResponseWriter, r *http.Request, doc report.Document, opts report.Options) {
	// Stamped with the result's update time: unchanged results keep their ETag.
	opts.GeneratedAt = doc.Result.UpdatedAt

	var buf bytes.Buffer
	pages, err := report.RenderPDF(r.Context(), &buf, doc, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sum := blake2b.Sum256(buf.Bytes())
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	name := report.Filename(doc, opts.Layout)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Report-Pages", strconv.Itoa(pages))
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("write pdf", "error", err)
	}
}

func (h *Handler) handleCommentDraft(w http.ResponseWriter, r *http.Request) {
	if h.drafter == nil {
		writeStatus(w, http.StatusServiceUnavailable, "comment drafting is not configured")
		return
	}
	doc, err := h.results.Document(r.Context(), chi.URLParam(r, "classID"), chi.URLParam(r, "termID"), chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := h.drafter.Draft(r.Context(), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}
