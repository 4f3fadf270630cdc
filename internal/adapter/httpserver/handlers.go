package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Patrickjoshanedez/capstone-docs/internal/config"
	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
	"github.com/Patrickjoshanedez/capstone-docs/internal/usecase"
)

// Server bundles the services the handlers dispatch to.
type Server struct {
	Cfg     config.Config
	Subs    usecase.SubmissionService
	Results usecase.ResultService
	Titles  usecase.TitleCheckService
}

// NewServer constructs a Server.
func NewServer(cfg config.Config, subs usecase.SubmissionService, results usecase.ResultService, titles usecase.TitleCheckService) *Server {
	return &Server{Cfg: cfg, Subs: subs, Results: results, Titles: titles}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// mimeDOCX is the OOXML word-processing MIME type.
const mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

func allowedMIME(m string) bool {
	switch m {
	case "text/plain", "application/pdf", mimeDOCX:
		return true
	}
	return false
}

// annotationView, eventView, and submissionView are the JSON shapes exposed
// by the API.
type annotationView struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Page      int       `json:"page"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type resultView struct {
	Status        string                 `json:"status"`
	Score         *float64               `json:"score,omitempty"`
	Matches       []domain.MatchedSource `json:"matches,omitempty"`
	CheckedAt     *time.Time             `json:"checked_at,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
}

type submissionView struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	Slot        string           `json:"slot"`
	Version     int              `json:"version"`
	UploaderID  string           `json:"uploader_id"`
	Filename    string           `json:"filename"`
	MIME        string           `json:"mime"`
	Size        int64            `json:"size"`
	Status      string           `json:"status"`
	Remarks     string           `json:"remarks,omitempty"`
	ReviewNote  string           `json:"review_note,omitempty"`
	IsLate      bool             `json:"is_late"`
	Originality resultView       `json:"originality"`
	Annotations []annotationView `json:"annotations,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type eventView struct {
	ActorID   string    `json:"actor_id"`
	Event     string    `json:"event"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toResultView(res domain.OriginalityResult) resultView {
	v := resultView{Status: string(res.Status), FailureReason: res.FailureReason}
	if res.Status == domain.CheckCompleted {
		score := res.Score
		v.Score = &score
		v.Matches = res.Matches
		v.CheckedAt = res.CheckedAt
	}
	return v
}

func toView(sub domain.Submission) submissionView {
	v := submissionView{
		ID:          sub.ID,
		ProjectID:   sub.ProjectID,
		Slot:        string(sub.Slot),
		Version:     sub.Version,
		UploaderID:  sub.UploaderID,
		Filename:    sub.Filename,
		MIME:        sub.MIME,
		Size:        sub.Size,
		Status:      string(sub.Status),
		Remarks:     sub.Remarks,
		ReviewNote:  sub.ReviewNote,
		IsLate:      sub.IsLate,
		Originality: toResultView(sub.Originality),
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
	for _, a := range sub.Annotations {
		v.Annotations = append(v.Annotations, annotationView{
			ID: a.ID, AuthorID: a.AuthorID, Page: a.Page, Content: a.Content, CreatedAt: a.CreatedAt,
		})
	}
	return v
}

// UploadHandler handles multipart upload of one document version.
func (s *Server) UploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadBytes()
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code:    "PAYLOAD_TOO_LARGE",
					Message: "document too large",
					Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file is required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read file: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if int64(len(data)) > maxBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
				Code:    "PAYLOAD_TOO_LARGE",
				Message: "document too large",
				Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB},
			}})
			return
		}

		// Declared content types are not trusted; sniff the bytes.
		detected := mimetype.Detect(data)
		mime := detected.String()
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = strings.TrimSpace(mime[:i])
		}
		if !allowedMIME(mime) {
			writeError(w, r,
				fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, mime),
				map[string]any{"mime": mime, "filename": header.Filename})
			return
		}

		id := IdentityFrom(r)
		sub, queued, err := s.Subs.Upload(r.Context(), usecase.UploadInput{
			ProjectID:  r.FormValue("project_id"),
			Slot:       r.FormValue("slot"),
			UploaderID: id.UserID,
			Filename:   header.Filename,
			MIME:       mime,
			Data:       data,
			Remarks:    r.FormValue("remarks"),
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"submission":   toView(sub),
			"check_queued": queued,
		})
	}
}

// GetSubmissionHandler returns one submission with annotations.
func (s *Server) GetSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.Subs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toView(sub))
	}
}

// LatestHandler returns the current version of a lineage.
func (s *Server) LatestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := domain.ParseSlot(chi.URLParam(r, "slot"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		sub, err := s.Subs.Latest(r.Context(), domain.Lineage{
			ProjectID: chi.URLParam(r, "projectID"),
			Slot:      slot,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toView(sub))
	}
}

// ResultHandler returns the originality-check state of one submission.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Results.Result(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toResultView(res))
	}
}

// HistoryHandler returns the submission's event trail.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := s.Subs.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]eventView, 0, len(events))
		for _, e := range events {
			out = append(out, eventView{ActorID: e.ActorID, Event: e.Event, Note: e.Note, CreatedAt: e.CreatedAt})
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": out})
	}
}

// ReviewHandler applies a faculty decision.
func (s *Server) ReviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Decision string `json:"decision" validate:"required"`
			Note     string `json:"note" validate:"max=5000"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		sub, err := s.Subs.Review(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r).UserID,
			domain.ReviewDecision(req.Decision), req.Note)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toView(sub))
	}
}

// LockHandler freezes an approved submission.
func (s *Server) LockHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.Subs.Lock(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r).UserID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toView(sub))
	}
}

// UnlockHandler reopens a locked submission; the reason is mandatory.
func (s *Server) UnlockHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Reason string `json:"reason" validate:"required,max=5000"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: unlock requires a reason", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		sub, err := s.Subs.Unlock(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r).UserID, req.Reason)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, toView(sub))
	}
}

// RecheckHandler re-enqueues the originality check of the latest version.
func (s *Server) RecheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.Subs.Recheck(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r).UserID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, toView(sub))
	}
}

// AnnotateHandler pins a note to a page.
func (s *Server) AnnotateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Page    int    `json:"page" validate:"required,min=1"`
			Content string `json:"content" validate:"required,max=5000"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		a, err := s.Subs.Annotate(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r).UserID, req.Page, req.Content)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, annotationView{
			ID: a.ID, AuthorID: a.AuthorID, Page: a.Page, Content: a.Content, CreatedAt: a.CreatedAt,
		})
	}
}

// RemoveAnnotationHandler deletes an annotation (author or elevated only).
func (s *Server) RemoveAnnotationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r)
		err := s.Subs.RemoveAnnotation(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "annotationID"), id.UserID, id.Elevated())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// WorklistHandler lists submissions by review status, for faculty queues.
func (s *Server) WorklistHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = string(domain.StatusPending)
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		subs, err := s.Subs.Worklist(r.Context(), domain.ReviewStatus(status), limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]submissionView, 0, len(subs))
		for _, sub := range subs {
			out = append(out, toView(sub))
		}
		writeJSON(w, http.StatusOK, map[string]any{"submissions": out})
	}
}

// TitleCheckHandler runs the synchronous title-duplicate check.
func (s *Server) TitleCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Title    string   `json:"title" validate:"required,max=500"`
			Keywords []string `json:"keywords" validate:"max=50,dive,max=100"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		matches, err := s.Titles.Check(r.Context(), req.Title, req.Keywords)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		type matchView struct {
			ID    string  `json:"id"`
			Title string  `json:"title"`
			Score float64 `json:"score"`
		}
		out := make([]matchView, 0, len(matches))
		for _, m := range matches {
			out = append(out, matchView{ID: m.ID, Title: m.Title, Score: m.Score})
		}
		writeJSON(w, http.StatusOK, map[string]any{"matches": out, "duplicate": len(out) > 0})
	}
}

func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}
