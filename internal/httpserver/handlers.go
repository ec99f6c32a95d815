package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/jellydator/validation"

	"github.com/dmitrymomot/mailflow"
	"github.com/dmitrymomot/mailflow/pkg/emailjob"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/stats"
	"github.com/dmitrymomot/mailflow/pkg/storage"
	"github.com/dmitrymomot/mailflow/pkg/template"
)

const maxRequestBytes = 32 << 20

type attachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
	Content     []byte `json:"content"` // base64
}

type envelope struct {
	ScheduledFor *time.Time          `json:"scheduled_for,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	From         mailer.Address      `json:"from"`
	ReplyTo      string              `json:"reply_to,omitempty"`
	To           []mailer.Address    `json:"to"`
	CC           []mailer.Address    `json:"cc,omitempty"`
	BCC          []mailer.Address    `json:"bcc,omitempty"`
	Attachments  []attachmentRequest `json:"attachments,omitempty"`
	MaxAttempts  int                 `json:"max_attempts,omitempty"`
}

func (e envelope) attachments() []mailer.Attachment {
	if len(e.Attachments) == 0 {
		return nil
	}
	out := make([]mailer.Attachment, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		out = append(out, mailer.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
			Content:     a.Content,
		})
	}
	return out
}

type sendEmailRequest struct {
	envelope
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (r sendEmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Subject, validation.Required),
		validation.Field(&r.HTML, validation.When(r.Text == "", validation.Required.Error("html or text is required"))),
		validation.Field(&r.MaxAttempts, validation.Min(0)),
	)
}

type sendTemplateRequest struct {
	envelope
	Variables    map[string]string `json:"variables"`
	TemplateType string            `json:"template_type"`
	Language     string            `json:"language,omitempty"`
}

func (r sendTemplateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TemplateType, validation.Required),
		validation.Field(&r.MaxAttempts, validation.Min(0)),
	)
}

func (s *Server) sendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.svc.SendEmail(r.Context(), mailflow.EmailData{
		ScheduledFor: req.ScheduledFor,
		Metadata:     req.Metadata,
		From:         req.From,
		ReplyTo:      req.ReplyTo,
		Subject:      req.Subject,
		HTML:         req.HTML,
		Text:         req.Text,
		To:           req.To,
		CC:           req.CC,
		BCC:          req.BCC,
		Attachments:  req.attachments(),
		MaxAttempts:  req.MaxAttempts,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) sendTemplateEmail(w http.ResponseWriter, r *http.Request) {
	var req sendTemplateRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.svc.SendTemplateEmail(r.Context(), req.To, template.Type(req.TemplateType), req.Variables, mailflow.TemplateOptions{
		ScheduledFor: req.ScheduledFor,
		Metadata:     req.Metadata,
		From:         req.From,
		Language:     req.Language,
		ReplyTo:      req.ReplyTo,
		CC:           req.CC,
		BCC:          req.BCC,
		Attachments:  req.attachments(),
		MaxAttempts:  req.MaxAttempts,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getEmail(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) emailEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.JobEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []*emailjob.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) cancelEmail(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.CancelJob(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("reason"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listEmails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := emailjob.Filter{
		CreatedFrom:  from,
		CreatedTo:    to,
		Recipient:    q.Get("recipient"),
		TemplateType: q.Get("template_type"),
		Limit:        100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	for _, st := range q["status"] {
		status := emailjob.Status(strings.ToLower(st))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+st)
			return
		}
		f.Statuses = append(f.Statuses, status)
	}

	jobs, err := s.svc.ListJobs(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*emailjob.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) emailStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.svc.GetEmailStats(r.Context(), stats.Filter{
		From:         from,
		To:           to,
		Recipient:    q.Get("recipient"),
		TemplateType: q.Get("template_type"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(time.RFC3339, from); err != nil {
			return start, end, errors.New("from must be an RFC 3339 timestamp")
		}
	}
	if to != "" {
		if end, err = time.Parse(time.RFC3339, to); err != nil {
			return start, end, errors.New("to must be an RFC 3339 timestamp")
		}
	}
	return start, end, nil
}

type validatable interface {
	Validate() error
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v validatable) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Details: err})
		return false
	}
	return true
}

type errorResponse struct {
	Details any      `json:"details,omitempty"`
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

// fail maps service errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var missing *template.MissingVariablesError
	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "missing template variables", Missing: missing.Missing})
	case errors.Is(err, emailjob.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "email not found")
	case errors.Is(err, template.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "template not found")
	case errors.Is(err, emailjob.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mailer.ErrInvalidEmail), errors.Is(err, mailer.ErrInvalidAddress), errors.Is(err, emailjob.ErrInvalidJob):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, storage.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "attachment too large")
	default:
		s.log.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
