package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/crewhall/skilltest/internal/engine"
	"github.com/crewhall/skilltest/internal/model"
	"github.com/crewhall/skilltest/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	manager  *engine.Manager
	store    *store.Store
	validate *validator.Validate
}

// New creates a new Handler.
func New(m *engine.Manager, s *store.Store) *Handler {
	return &Handler{
		manager:  m,
		store:    s,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/templates", h.handleListTemplates)
	r.Get("/templates/{templateID}", h.handleGetTemplate)

	r.Get("/tests", h.handleListTests)
	r.Post("/tests", h.handleCreateTest)
	r.Get("/tests/{testID}", h.handleGetTest)
	r.Post("/tests/{testID}/start", h.handleStart)
	r.Post("/tests/{testID}/pause", h.handlePause)
	r.Post("/tests/{testID}/save", h.handleSave)
	r.Post("/tests/{testID}/criteria/{criterionID}", h.handleEvaluate)
	r.Post("/tests/{testID}/criteria/{criterionID}/timer/{action}", h.handleCriterionTimer)
	r.Post("/tests/{testID}/complete", h.handleComplete)
	r.Post("/tests/{testID}/back", h.handleBack)
	r.Post("/tests/{testID}/submit", h.handleSubmit)
	r.Post("/tests/{testID}/discard", h.handleDiscard)
	r.Post("/tests/{testID}/retake", h.handleRetake)
	r.Post("/tests/{testID}/email", h.handleEmail)
	r.Post("/tests/{testID}/cancel", h.handleCancel)
}

type errorResponse struct {
	Error       string `json:"error"`
	Retryable   bool   `json:"retryable,omitempty"`
	Unevaluated int    `json:"unevaluated,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps the engine error taxonomy onto HTTP statuses. Persistence
// failures are retryable: local state is intact server-side and the caller
// may simply repeat the request.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid      *engine.InvalidInputError
		illegal      *engine.IllegalTransitionError
		unevaluated  *engine.UnevaluatedError
		confirmation *engine.ConfirmationRequiredError
		integrity    *engine.IntegrityError
		persistence  *engine.PersistenceError
		validation   validator.ValidationErrors
	)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &invalid), errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &unevaluated):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Unevaluated: unevaluated.Count})
	case errors.As(err, &illegal), errors.As(err, &integrity):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &confirmation):
		writeJSON(w, http.StatusPreconditionFailed, errorResponse{Error: err.Error()})
	case errors.As(err, &persistence):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Retryable: true})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (h *Handler) decode(r *http.Request, v any) error {
	// An empty body means "all defaults" for requests that only carry flags.
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &engine.InvalidInputError{Reason: "malformed request body: " + err.Error()}
	}
	return h.validate.Struct(v)
}

// testView is the API representation of a live or completed test.
type testView struct {
	Test     model.TestSession     `json:"test"`
	Tallies  []engine.SectionTally `json:"section_tallies"`
	InReview bool                  `json:"in_review"`
}

func (h *Handler) view(s *engine.Session) testView {
	return testView{
		Test:     s.Snapshot(),
		Tallies:  s.Tallies(),
		InReview: s.InReview(),
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	s, err := h.manager.Get(chi.URLParam(r, "testID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.ListTemplates()
	if err != nil {
		writeError(w, err)
		return
	}
	if templates == nil {
		templates = []model.Template{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (h *Handler) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.store.GetTemplate(chi.URLParam(r, "templateID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.store.ListTests()
	if err != nil {
		writeError(w, err)
		return
	}
	if tests == nil {
		tests = []model.TestSession{}
	}
	writeJSON(w, http.StatusOK, tests)
}

type createTestRequest struct {
	TemplateID    string `json:"template_id" validate:"required"`
	CandidateID   string `json:"candidate_id" validate:"required"`
	CandidateName string `json:"candidate_name"`
	ExaminerID    string `json:"examiner_id"`
	ExaminerName  string `json:"examiner_name"`
	Practice      bool   `json:"practice"`
}

func (h *Handler) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s, err := h.manager.Create(req.TemplateID, engine.SessionSpec{
		CandidateID:   req.CandidateID,
		CandidateName: req.CandidateName,
		ExaminerID:    req.ExaminerID,
		ExaminerName:  req.ExaminerName,
		Practice:      req.Practice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(s))
}

func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "testID")
	if err := h.manager.Start(id); err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Pause(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "testID")
	if err := h.manager.SaveProgress(id); err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

type evaluateRequest struct {
	Pass           *bool   `json:"pass,omitempty"`
	Score          *int    `json:"score,omitempty"`
	ToggleItem     *int    `json:"toggle_item,omitempty"`
	ElapsedSeconds *int    `json:"elapsed_seconds,omitempty"`
	ResetTime      bool    `json:"reset_time,omitempty"`
	Acknowledge    bool    `json:"acknowledge,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req evaluateRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.Evaluate(chi.URLParam(r, "criterionID"), engine.Input{
		Pass:           req.Pass,
		Score:          req.Score,
		ToggleItem:     req.ToggleItem,
		ElapsedSeconds: req.ElapsedSeconds,
		ResetTime:      req.ResetTime,
		Acknowledge:    req.Acknowledge,
		Notes:          req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCriterionTimer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	criterionID := chi.URLParam(r, "criterionID")
	switch action := chi.URLParam(r, "action"); action {
	case "start":
		if err := s.StartCriterionTimer(criterionID); err != nil {
			writeError(w, err)
			return
		}
		seconds, running, err := s.CriterionTimer(criterionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"seconds": seconds, "running": running})
	case "stop":
		result, err := s.StopCriterionTimer(criterionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "reset":
		result, err := s.ResetCriterionTimer(criterionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, &engine.InvalidInputError{CriterionID: criterionID, Reason: "unknown timer action " + action})
	}
}

type completeRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "testID")
	if err := h.manager.Complete(id, req.Force); err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Back(chi.URLParam(r, "testID")); err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}

type submitRequest struct {
	SectionNotes map[string]string `json:"section_notes"`
	Confirm      bool              `json:"confirm"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	test, err := h.manager.Submit(chi.URLParam(r, "testID"), req.SectionNotes, req.Confirm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

type discardRequest struct {
	Confirm bool `json:"confirm"`
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	var req discardRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.manager.Discard(chi.URLParam(r, "testID"), req.Confirm); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRetake(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Retake(chi.URLParam(r, "testID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(s))
}

func (h *Handler) handleEmail(w http.ResponseWriter, r *http.Request) {
	msg, err := h.manager.Email(chi.URLParam(r, "testID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Cancel(chi.URLParam(r, "testID")); err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(s))
}
