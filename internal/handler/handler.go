package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/penmark/internal/app"
	"github.com/pavelanni/penmark/internal/handler/views"
	"github.com/pavelanni/penmark/internal/i18n"
	"github.com/pavelanni/penmark/internal/model"
)

// DefaultMaxUpload bounds the size of an uploaded work image.
const DefaultMaxUpload = 20 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	app       *app.Controller
	basePath  string
	maxUpload int64
	validate  *validator.Validate
}

// Option configures a Handler.
type Option func(*Handler)

// WithBasePath sets the URL prefix for sub-path deployments.
func WithBasePath(p string) Option {
	return func(h *Handler) { h.basePath = p }
}

// WithMaxUpload sets the maximum accepted image upload in bytes.
func WithMaxUpload(n int64) Option {
	return func(h *Handler) { h.maxUpload = n }
}

// New creates a new Handler.
func New(c *app.Controller, opts ...Option) *Handler {
	h := &Handler{app: c, maxUpload: DefaultMaxUpload, validate: validator.New()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Get("/themes", h.handleThemes)
		r.Post("/grades", h.handleAddGrade)
		r.Post("/grades/{gradeID}/plagiarism", h.handlePlagiarism)
		r.Post("/students", h.handleAddStudent)
		r.Post("/students/{studentID}/image", h.handleAttachImage)
		r.Post("/students/{studentID}/analysis", h.handleAnalysis)
		r.Post("/students/{studentID}/reports", h.handleSaveReport)
		r.Put("/reference-text", h.handleReferenceText)
		r.Put("/theme", h.handleTheme)
	})
	r.Get("/students/{studentID}/report", h.handleStudentReport)
	r.Get("/reports/{reportID}", h.handleSavedReport)
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.basePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type stateResponse struct {
	Document  model.Document                `json:"document"`
	Busy      bool                          `json:"busy"`
	Analyzing string                        `json:"analyzing,omitempty"`
	Theme     model.Theme                   `json:"theme"`
	States    map[string]model.StudentState `json:"states"`
	SaveError string                        `json:"saveError,omitempty"`
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	doc, busy, analyzing := h.app.State()
	resp := stateResponse{
		Document:  doc,
		Busy:      busy,
		Analyzing: analyzing,
		Theme:     model.ThemeOrDefault(doc.CurrentThemeID),
		States:    make(map[string]model.StudentState, len(doc.Students)),
	}
	for _, s := range doc.Students {
		resp.States[s.ID] = s.State()
	}
	if resp.Analyzing != "" {
		resp.States[resp.Analyzing] = model.StateAnalyzing
	}
	if err := h.app.LastSaveError(); err != nil {
		resp.SaveError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleThemes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.Themes)
}

type gradeRequest struct {
	Name string `json:"name" validate:"required"`
}

type studentRequest struct {
	Name    string `json:"name" validate:"required"`
	GradeID string `json:"gradeId" validate:"required"`
}

type referenceTextRequest struct {
	Text string `json:"text"`
}

type themeRequest struct {
	ThemeID string `json:"themeId"`
}

type idResponse struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

func (h *Handler) handleAddGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.app.AddGrade(req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) handleAddStudent(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.app.AddStudent(req.Name, req.GradeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) handleAttachImage(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentID")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, _, err := r.FormFile("image")
	if err != nil {
		slog.Warn("image upload rejected", "student_id", studentID, "error", err)
		writeMessage(w, r, http.StatusBadRequest, "ErrValidation")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrValidation")
		return
	}
	if err := h.app.AttachImageBytes(studentID, data); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	eval, err := h.app.RunAnalysis(r.Context(), chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (h *Handler) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	id, err := h.app.SaveReport(chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	url := model.BasePathFromContext(r.Context()) + "/reports/" + id
	writeJSON(w, http.StatusCreated, idResponse{ID: id, URL: url})
}

func (h *Handler) handleReferenceText(w http.ResponseWriter, r *http.Request) {
	var req referenceTextRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.app.SetReferenceText(req.Text); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.app.SelectTheme(req.ThemeID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type plagiarismResponse struct {
	Result string `json:"result"`
}

func (h *Handler) handlePlagiarism(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.ComparePlagiarism(r.Context(), chi.URLParam(r, "gradeID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plagiarismResponse{Result: result})
}

func (h *Handler) handleStudentReport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.app.Student(chi.URLParam(r, "studentID"))
	if !ok {
		http.Error(w, i18n.T(r.Context(), "ErrNotFound"), http.StatusNotFound)
		return
	}
	grade, _ := h.app.Grade(s.GradeID)
	report := model.SavedReport{
		StudentName: s.Name,
		GradeName:   grade.Name,
		Timestamp:   time.Now().Format("02.01.2006"),
		Evaluation:  s.Evaluation,
		WorkImage:   s.WorkImage,
	}
	h.renderReport(w, r, report)
}

func (h *Handler) handleSavedReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")
	for _, rep := range h.app.Snapshot().SavedReports {
		if rep.ID == id {
			h.renderReport(w, r, rep)
			return
		}
	}
	http.Error(w, i18n.T(r.Context(), "ErrNotFound"), http.StatusNotFound)
}

func (h *Handler) renderReport(w http.ResponseWriter, r *http.Request, rep model.SavedReport) {
	theme := model.ThemeOrDefault(h.app.Snapshot().CurrentThemeID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ReportPage(rep, theme).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Debug("bad request body", "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusBadRequest, "ErrValidation")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		slog.Debug("invalid request", "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusBadRequest, "ErrValidation")
		return false
	}
	return true
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// errorStatus maps application errors to an HTTP status and a message id.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest, "ErrValidation"
	case errors.Is(err, app.ErrNoImage):
		return http.StatusUnprocessableEntity, "ErrNoImage"
	case errors.Is(err, app.ErrBusy):
		return http.StatusConflict, "ErrBusy"
	case errors.Is(err, app.ErrStaleResult):
		return http.StatusConflict, "ErrStaleResult"
	case errors.Is(err, app.ErrNotLoaded):
		return http.StatusServiceUnavailable, "ErrNotLoaded"
	case errors.Is(err, app.ErrAnalysisFailed):
		return http.StatusBadGateway, "ErrAnalysisFailed"
	default:
		return http.StatusInternalServerError, "ErrInternal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: i18n.T(r.Context(), msgID), Detail: err.Error()})
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: i18n.T(r.Context(), msgID)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
